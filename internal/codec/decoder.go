package codec

import "fmt"

// FramingError reports bytes left over at end of stream that never formed a
// whole record
type FramingError struct {
	Trailing []byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("incomplete record at end of stream: %d of %d bytes", len(e.Trailing), RecordSize)
}

// Decoder decodes a record stream that arrives in arbitrary fragments. The
// incomplete tail of each read is retained and prepended to the next one.
type Decoder struct {
	codec   Codec
	pending []byte
}

// NewDecoder creates a stateful decoder
func NewDecoder(c Codec) *Decoder {
	return &Decoder{codec: c}
}

// Feed decodes every whole record available after appending p to the
// retained bytes
func (d *Decoder) Feed(p []byte) []Record {
	buf := p
	if len(d.pending) > 0 {
		buf = append(d.pending, p...)
	}

	records, consumed, trailing := d.codec.Decode(buf)
	if trailing > 0 {
		// Copy so the caller may reuse p
		d.pending = append(make([]byte, 0, RecordSize), buf[consumed:]...)
	} else {
		d.pending = d.pending[:0]
	}
	return records
}

// Pending returns the number of retained bytes
func (d *Decoder) Pending() int {
	return len(d.pending)
}

// Flush ends the stream. It returns a *FramingError if a partial record is
// still retained, and resets the decoder.
func (d *Decoder) Flush() error {
	if len(d.pending) == 0 {
		return nil
	}
	err := &FramingError{Trailing: append([]byte(nil), d.pending...)}
	d.pending = d.pending[:0]
	return err
}
