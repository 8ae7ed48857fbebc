// Package recovery requests missing records from the feed one sequence
// number at a time.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/transport"
	"go.uber.org/zap"
)

// DefaultBufferSize matches the feed's largest response burst
const DefaultBufferSize = 2048

// SendError reports a failed control message write. Sequence is only set
// for retransmit requests.
type SendError struct {
	Request  codec.MessageType
	Sequence int32
	Err      error
}

func (e *SendError) Error() string {
	if e.Request == codec.MsgRetransmit {
		return fmt.Sprintf("failed to send retransmit request for sequence %d: %v", e.Sequence, e.Err)
	}
	return fmt.Sprintf("failed to send %s request: %v", e.Request, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ReceiveError reports a failed read while waiting for a retransmitted record
type ReceiveError struct {
	Sequence int32
	Err      error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("failed to receive retransmission for sequence %d: %v", e.Sequence, e.Err)
}

func (e *ReceiveError) Unwrap() error {
	return e.Err
}

// Mismatch is a response whose embedded sequence differs from the request
type Mismatch struct {
	Requested int32
	Actual    int32
}

// Observer is notified as recovery responses arrive
type Observer interface {
	RecordReceived(requested int32, rec codec.Record)
	SequenceMismatch(m Mismatch)
}

// Result collects what one recovery pass obtained
type Result struct {
	Records      map[int32]codec.Record
	Mismatches   []Mismatch
	SendFailures []*SendError
	Framing      *codec.FramingError
	Requested    int
}

// Exchange runs the synchronous request/response recovery protocol
type Exchange struct {
	codec    codec.Codec
	format   codec.RequestFormat
	bufSize  int
	logger   *zap.Logger
	observer Observer
}

// NewExchange creates a new recovery exchange. observer may be nil.
func NewExchange(c codec.Codec, format codec.RequestFormat, bufSize int, observer Observer, logger *zap.Logger) *Exchange {
	if bufSize < codec.RecordSize {
		bufSize = DefaultBufferSize
	}
	return &Exchange{
		codec:    c,
		format:   format,
		bufSize:  bufSize,
		logger:   logger,
		observer: observer,
	}
}

// Recover requests each missing sequence in order, waiting for the response
// before sending the next request. A failed send is recorded and skipped; a
// failed receive aborts the pass and is returned with the partial Result.
func (e *Exchange) Recover(ctx context.Context, conn transport.Conn, missing []int32) (*Result, error) {
	result := &Result{Records: make(map[int32]codec.Record)}
	dec := codec.NewDecoder(e.codec)
	buf := make([]byte, e.bufSize)

	for _, seq := range missing {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Requested++
		if err := e.send(ctx, conn, seq); err != nil {
			sendErr := &SendError{Request: codec.MsgRetransmit, Sequence: seq, Err: err}
			result.SendFailures = append(result.SendFailures, sendErr)
			e.logger.Warn("retransmit request failed, skipping",
				zap.Int32("sequence", seq),
				zap.Error(err),
			)
			continue
		}

		records, err := e.receive(ctx, conn, dec, buf)
		if err != nil {
			e.logger.Error("retransmission read failed, aborting recovery",
				zap.Int32("sequence", seq),
				zap.Int("remaining", len(missing)-result.Requested),
				zap.Error(err),
			)
			return result, &ReceiveError{Sequence: seq, Err: err}
		}

		for _, rec := range records {
			e.store(result, seq, rec)
		}
	}

	if err := dec.Flush(); err != nil {
		errors.As(err, &result.Framing)
		e.logger.Warn("incomplete retransmitted record left at end of recovery", zap.Error(err))
	}

	return result, nil
}

func (e *Exchange) send(ctx context.Context, conn transport.Conn, seq int32) error {
	msg, err := e.codec.RetransmitRequest(seq, e.format)
	if err != nil {
		return err
	}
	_, err = conn.Write(ctx, msg)
	return err
}

// receive reads until at least one whole record is decoded. Bytes of a
// partial record stay in dec for the next read.
func (e *Exchange) receive(ctx context.Context, conn transport.Conn, dec *codec.Decoder, buf []byte) ([]codec.Record, error) {
	for {
		n, err := conn.Read(ctx, buf)
		if n > 0 {
			if records := dec.Feed(buf[:n]); len(records) > 0 {
				return records, nil
			}
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, io.EOF
		}
	}
}

func (e *Exchange) store(result *Result, requested int32, rec codec.Record) {
	if rec.Sequence != requested {
		m := Mismatch{Requested: requested, Actual: rec.Sequence}
		result.Mismatches = append(result.Mismatches, m)
		e.logger.Warn("retransmitted sequence mismatch",
			zap.Int32("requested", requested),
			zap.Int32("actual", rec.Sequence),
		)
		if e.observer != nil {
			e.observer.SequenceMismatch(m)
		}
	}

	result.Records[rec.Sequence] = rec
	e.logger.Info("missed record received",
		zap.Int32("sequence", rec.Sequence),
		zap.String("symbol", rec.Symbol.String()),
	)
	if e.observer != nil {
		e.observer.RecordReceived(requested, rec)
	}
}
