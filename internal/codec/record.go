package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// RecordSize is the wire size of one record: symbol(4) side(1) qty(4) price(4) seq(4)
const RecordSize = 17

// Field offsets within a record
const (
	offSymbol   = 0
	offSide     = 4
	offQuantity = 5
	offPrice    = 9
	offSequence = 13
)

// Symbol is the raw 4-byte instrument token. It is not guaranteed to be
// valid or NUL-terminated text; use String for display only.
type Symbol [4]byte

// NewSymbol builds a symbol token from text, truncating or NUL-padding to 4 bytes
func NewSymbol(s string) Symbol {
	var sym Symbol
	copy(sym[:], s)
	return sym
}

// String renders the token for display. Trailing NULs are trimmed and
// non-printable bytes are shown as '.'.
func (s Symbol) String() string {
	end := len(s)
	for end > 0 && s[end-1] == 0 {
		end--
	}

	var b strings.Builder
	for _, c := range s[:end] {
		if c < 0x20 || c > 0x7e {
			b.WriteByte('.')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Side is the one-byte buy/sell discriminator
type Side byte

const (
	SideBuy  Side = 'B'
	SideSell Side = 'S'
)

// Valid reports whether the side is one of the two known values
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(s))
	}
}

// Record is one decoded market-data record
type Record struct {
	Symbol   Symbol
	Side     Side
	Quantity int32
	Price    int32 // fixed-point units defined by the feed
	Sequence int32
}

func (r Record) String() string {
	return fmt.Sprintf("seq=%d %s %s qty=%d price=%d",
		r.Sequence, r.Symbol, r.Side, r.Quantity, r.Price)
}

// Codec encodes and decodes records using the feed's byte order
type Codec struct {
	Order binary.ByteOrder
}

// Default uses network (big-endian) order, which is what the feed producer writes
var Default = Codec{Order: binary.BigEndian}

// ParseByteOrder maps a config value to a byte order
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "big", "big-endian", "network":
		return binary.BigEndian, nil
	case "little", "little-endian":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q", s)
	}
}

// DecodeRecord decodes exactly one record. Any other length is rejected so a
// partial byte run can never produce a Record.
func (c Codec) DecodeRecord(b []byte) (Record, error) {
	if len(b) != RecordSize {
		return Record{}, fmt.Errorf("record must be %d bytes, got %d", RecordSize, len(b))
	}

	var r Record
	copy(r.Symbol[:], b[offSymbol:offSide])
	r.Side = Side(b[offSide])
	r.Quantity = int32(c.Order.Uint32(b[offQuantity:offPrice]))
	r.Price = int32(c.Order.Uint32(b[offPrice:offSequence]))
	r.Sequence = int32(c.Order.Uint32(b[offSequence:RecordSize]))
	return r, nil
}

// Decode splits buf into whole records in stream order. consumed is the number
// of bytes used by whole records and trailing the length of the incomplete
// remainder, which the caller must keep and prepend to its next read.
func (c Codec) Decode(buf []byte) (records []Record, consumed, trailing int) {
	for consumed+RecordSize <= len(buf) {
		// Length is checked by the loop condition
		r, _ := c.DecodeRecord(buf[consumed : consumed+RecordSize])
		records = append(records, r)
		consumed += RecordSize
	}
	return records, consumed, len(buf) - consumed
}

// AppendRecord appends the wire form of r to dst
func (c Codec) AppendRecord(dst []byte, r Record) []byte {
	var b [RecordSize]byte
	copy(b[offSymbol:offSide], r.Symbol[:])
	b[offSide] = byte(r.Side)
	c.Order.PutUint32(b[offQuantity:offPrice], uint32(r.Quantity))
	c.Order.PutUint32(b[offPrice:offSequence], uint32(r.Price))
	c.Order.PutUint32(b[offSequence:RecordSize], uint32(r.Sequence))
	return append(dst, b[:]...)
}

// Encode writes records back to back
func (c Codec) Encode(records ...Record) []byte {
	buf := make([]byte, 0, len(records)*RecordSize)
	for _, r := range records {
		buf = c.AppendRecord(buf, r)
	}
	return buf
}

// Decode decodes buf with the Default codec
func Decode(buf []byte) (records []Record, consumed, trailing int) {
	return Default.Decode(buf)
}
