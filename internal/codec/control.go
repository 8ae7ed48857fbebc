package codec

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// MessageType is the first byte of a control message
type MessageType byte

const (
	MsgSubscribe  MessageType = 1
	MsgRetransmit MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MsgSubscribe:
		return "SUBSCRIBE"
	case MsgRetransmit:
		return "RETRANSMIT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// RequestFormat selects the layout of retransmit requests
type RequestFormat int

const (
	// FormatWide carries the full 32-bit sequence after the type byte
	FormatWide RequestFormat = iota
	// FormatLegacy carries the sequence in a single byte (0..255)
	FormatLegacy
)

func (f RequestFormat) String() string {
	if f == FormatLegacy {
		return "legacy"
	}
	return "wide"
}

// ParseRequestFormat maps a config value to a request format
func ParseRequestFormat(s string) (RequestFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "wide":
		return FormatWide, nil
	case "legacy":
		return FormatLegacy, nil
	default:
		return 0, fmt.Errorf("unknown request format %q", s)
	}
}

// ErrSequenceOutOfRange is returned when a sequence does not fit the legacy one-byte field
var ErrSequenceOutOfRange = errors.New("sequence out of range for request format")

// ErrUnknownMessageType is returned by ReadRequest for an unrecognised type byte
var ErrUnknownMessageType = errors.New("unknown message type")

// Request is a decoded control message
type Request struct {
	Type     MessageType
	Sequence int32
}

// SubscribeRequest returns the "start live stream" message
func (c Codec) SubscribeRequest() []byte {
	return []byte{byte(MsgSubscribe), 0}
}

// RetransmitRequest returns the request for a single sequence number
func (c Codec) RetransmitRequest(seq int32, f RequestFormat) ([]byte, error) {
	if f == FormatLegacy {
		if seq < 0 || seq > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d", ErrSequenceOutOfRange, seq)
		}
		return []byte{byte(MsgRetransmit), byte(seq)}, nil
	}

	msg := make([]byte, 5)
	msg[0] = byte(MsgRetransmit)
	c.Order.PutUint32(msg[1:], uint32(seq))
	return msg, nil
}

// ReadRequest reads one control message from r. io.ReadFull keeps fragmented
// TCP reads from splitting a request.
func (c Codec) ReadRequest(r io.Reader, f RequestFormat) (Request, error) {
	var typ [1]byte
	if _, err := io.ReadFull(r, typ[:]); err != nil {
		return Request{}, err
	}

	req := Request{Type: MessageType(typ[0])}
	switch req.Type {
	case MsgSubscribe:
		var pad [1]byte
		if _, err := io.ReadFull(r, pad[:]); err != nil {
			return Request{}, fmt.Errorf("failed to read subscribe request: %w", err)
		}
	case MsgRetransmit:
		if f == FormatLegacy {
			var seq [1]byte
			if _, err := io.ReadFull(r, seq[:]); err != nil {
				return Request{}, fmt.Errorf("failed to read retransmit request: %w", err)
			}
			req.Sequence = int32(seq[0])
			break
		}
		var seq [4]byte
		if _, err := io.ReadFull(r, seq[:]); err != nil {
			return Request{}, fmt.Errorf("failed to read retransmit request: %w", err)
		}
		req.Sequence = int32(c.Order.Uint32(seq[:]))
	default:
		return req, fmt.Errorf("%w %s", ErrUnknownMessageType, req.Type)
	}
	return req, nil
}
