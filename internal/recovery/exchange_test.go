package recovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/transport/transporttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingObserver struct {
	received   []int32
	mismatches []Mismatch
}

func (o *recordingObserver) RecordReceived(requested int32, rec codec.Record) {
	o.received = append(o.received, rec.Sequence)
}

func (o *recordingObserver) SequenceMismatch(m Mismatch) {
	o.mismatches = append(o.mismatches, m)
}

func rec(seq int32) codec.Record {
	return codec.Record{Symbol: codec.NewSymbol("AAPL"), Side: codec.SideBuy, Quantity: 10, Price: 100, Sequence: seq}
}

// echoFeed answers each wide retransmit request with the record it names,
// optionally remapped
func echoFeed(remap map[int32]int32) func(p []byte) []transporttest.Read {
	return func(p []byte) []transporttest.Read {
		req, err := codec.Default.ReadRequest(bytes.NewReader(p), codec.FormatWide)
		if err != nil {
			return nil
		}
		seq := req.Sequence
		if to, ok := remap[seq]; ok {
			seq = to
		}
		return []transporttest.Read{{Data: codec.Default.Encode(rec(seq))}}
	}
}

func newExchange(obs Observer) *Exchange {
	return NewExchange(codec.Default, codec.FormatWide, 0, obs, zap.NewNop())
}

func TestRecover_RequestsEachSequence(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = echoFeed(nil)
	obs := &recordingObserver{}

	result, err := newExchange(obs).Recover(context.Background(), conn, []int32{3, 7, 9})
	require.NoError(t, err)

	assert.Len(t, result.Records, 3)
	assert.Equal(t, 3, result.Requested)
	assert.Empty(t, result.Mismatches)
	assert.Equal(t, []int32{3, 7, 9}, obs.received)

	written := conn.Written()
	require.Len(t, written, 3)
	assert.Equal(t, []byte{2, 0, 0, 0, 3}, written[0])
	assert.Equal(t, []byte{2, 0, 0, 0, 9}, written[2])
}

func TestRecover_NothingMissing(t *testing.T) {
	conn := transporttest.NewConn()
	result, err := newExchange(nil).Recover(context.Background(), conn, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Empty(t, conn.Written())
}

func TestRecover_IndexesByEmbeddedSequence(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = echoFeed(map[int32]int32{3: 30, 5: 50})
	obs := &recordingObserver{}

	result, err := newExchange(obs).Recover(context.Background(), conn, []int32{3, 4, 5})
	require.NoError(t, err)

	assert.Contains(t, result.Records, int32(30))
	assert.Contains(t, result.Records, int32(4))
	assert.Contains(t, result.Records, int32(50))
	assert.NotContains(t, result.Records, int32(3))

	want := []Mismatch{{Requested: 3, Actual: 30}, {Requested: 5, Actual: 50}}
	assert.Equal(t, want, result.Mismatches)
	assert.Equal(t, want, obs.mismatches)
}

func TestRecover_SendFailureContinues(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = echoFeed(nil)
	conn.WriteErr = func(p []byte) error {
		if p[4] == 2 {
			return errors.New("broken pipe")
		}
		return nil
	}

	result, err := newExchange(nil).Recover(context.Background(), conn, []int32{1, 2, 3})
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	assert.NotContains(t, result.Records, int32(2))
	require.Len(t, result.SendFailures, 1)
	assert.Equal(t, int32(2), result.SendFailures[0].Sequence)
}

func TestRecover_LegacyOutOfRangeIsSendFailure(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = func(p []byte) []transporttest.Read {
		return []transporttest.Read{{Data: codec.Default.Encode(rec(int32(p[1])))}}
	}

	ex := NewExchange(codec.Default, codec.FormatLegacy, 0, nil, zap.NewNop())
	result, err := ex.Recover(context.Background(), conn, []int32{4, 300, 5})
	require.NoError(t, err)

	assert.Len(t, result.Records, 2)
	require.Len(t, result.SendFailures, 1)
	assert.ErrorIs(t, result.SendFailures[0], codec.ErrSequenceOutOfRange)
	assert.Len(t, conn.Written(), 2)
}

func TestRecover_ReceiveFailureAborts(t *testing.T) {
	calls := 0
	conn := transporttest.NewConn()
	conn.OnWrite = func(p []byte) []transporttest.Read {
		calls++
		if calls == 2 {
			return []transporttest.Read{{Err: io.ErrUnexpectedEOF}}
		}
		return echoFeed(nil)(p)
	}

	result, err := newExchange(nil).Recover(context.Background(), conn, []int32{1, 2, 3, 4})

	var recvErr *ReceiveError
	require.True(t, errors.As(err, &recvErr))
	assert.Equal(t, int32(2), recvErr.Sequence)
	assert.Len(t, result.Records, 1)
	assert.Len(t, conn.Written(), 2, "no requests after the failed read")
}

func TestRecover_ClosedStreamIsReceiveFailure(t *testing.T) {
	// No responses at all: the first read sees end of stream
	conn := transporttest.NewConn()

	_, err := newExchange(nil).Recover(context.Background(), conn, []int32{5, 6})

	var recvErr *ReceiveError
	require.True(t, errors.As(err, &recvErr))
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, conn.Written(), 1)
}

func TestRecover_FragmentedResponse(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = func(p []byte) []transporttest.Read {
		data := codec.Default.Encode(rec(int32(p[4])))
		return []transporttest.Read{{Data: data[:5]}, {Data: data[5:12]}, {Data: data[12:]}}
	}

	result, err := newExchange(nil).Recover(context.Background(), conn, []int32{8, 9})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	assert.Contains(t, result.Records, int32(9))
}

func TestRecover_MultipleRecordsInResponse(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = func(p []byte) []transporttest.Read {
		return []transporttest.Read{{Data: codec.Default.Encode(rec(6), rec(7))}}
	}
	obs := &recordingObserver{}

	result, err := newExchange(obs).Recover(context.Background(), conn, []int32{6})
	require.NoError(t, err)
	assert.Len(t, result.Records, 2)
	assert.Equal(t, []Mismatch{{Requested: 6, Actual: 7}}, result.Mismatches)
}

func TestRecover_Cancelled(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = echoFeed(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newExchange(nil).Recover(ctx, conn, []int32{1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, conn.Written())
}

func TestRecover_TrailingBytesReported(t *testing.T) {
	conn := transporttest.NewConn()
	conn.OnWrite = func(p []byte) []transporttest.Read {
		return []transporttest.Read{{Data: append(codec.Default.Encode(rec(1)), 0xaa, 0xbb)}}
	}

	result, err := newExchange(nil).Recover(context.Background(), conn, []int32{1})
	require.NoError(t, err)
	require.NotNil(t, result.Framing)
	assert.Equal(t, []byte{0xaa, 0xbb}, result.Framing.Trailing)
}
