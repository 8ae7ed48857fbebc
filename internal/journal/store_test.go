package journal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), msg.TopicReconstructedTicks)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func rec(seq int32) codec.Record {
	return codec.Record{Symbol: codec.NewSymbol("MSFT"), Side: codec.SideBuy, Quantity: 50, Price: 100, Sequence: seq}
}

func sampleReport() *session.Report {
	return &session.Report{
		SessionID: "sess-1",
		Started:   time.UnixMilli(1000),
		Finished:  time.UnixMilli(2000),
		Live:      []codec.Record{rec(1), rec(2), rec(4)},
		Gaps:      []int32{3, 5},
		Recovered: map[int32]codec.Record{3: rec(3)},
	}
}

type fakeProducer struct {
	mu      sync.Mutex
	fail    map[int32]bool
	records []msg.TickMsg
	keys    []string
}

func (f *fakeProducer) ProduceJSON(ctx context.Context, topic string, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tick := v.(msg.TickMsg)
	if f.fail[tick.Sequence] {
		return errors.New("broker unavailable")
	}
	f.records = append(f.records, tick)
	f.keys = append(f.keys, key)
	return nil
}

func TestRecordSession_QueuesMergedStream(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	res, err := store.RecordSession(ctx, sampleReport())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 4, res.Queued)

	events, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 4)

	var seqs []int32
	for _, e := range events {
		seqs = append(seqs, e.Sequence)
		assert.Equal(t, "sess-1", e.Key)
		assert.Equal(t, msg.TopicReconstructedTicks, e.Topic)
	}
	assert.Equal(t, []int32{1, 2, 3, 4}, seqs)

	var tick msg.TickMsg
	require.NoError(t, json.Unmarshal([]byte(events[2].PayloadJSON), &tick))
	assert.Equal(t, msg.SourceRecovered, tick.Source)
	assert.Equal(t, "MSFT", tick.Symbol)
	assert.Equal(t, "B", tick.Side)

	sum, ok, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, sum.LiveCount)
	assert.Equal(t, []int32{3, 5}, sum.Gaps)
	assert.Equal(t, []int32{5}, sum.Outstanding)
	assert.Equal(t, 1, sum.Recovered)
}

func TestRecordSession_Idempotent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.RecordSession(ctx, sampleReport())
	require.NoError(t, err)

	res, err := store.RecordSession(ctx, sampleReport())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Zero(t, res.Queued)

	events, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, events, 4)
}

func TestRecordSession_NoData(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	res, err := store.RecordSession(ctx, &session.Report{SessionID: "empty", NoData: true})
	require.NoError(t, err)
	assert.Zero(t, res.Queued)

	sum, ok, err := store.GetSession(ctx, "empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, sum.Gaps)
	assert.Empty(t, sum.Outstanding)

	_, err = store.RecordSession(ctx, &session.Report{})
	assert.Error(t, err)
}

func TestGetSession_Unknown(t *testing.T) {
	_, ok, err := openStore(t).GetSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPublisher_Flush(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.RecordSession(ctx, sampleReport())
	require.NoError(t, err)

	producer := &fakeProducer{}
	published, err := NewPublisher(store, producer, zap.NewNop()).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, published)
	assert.Equal(t, []string{"sess-1", "sess-1", "sess-1", "sess-1"}, producer.keys)

	events, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPublisher_FlushLeavesFailedRecords(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	_, err := store.RecordSession(ctx, sampleReport())
	require.NoError(t, err)

	producer := &fakeProducer{fail: map[int32]bool{2: true}}
	pub := NewPublisher(store, producer, zap.NewNop())

	published, err := pub.Flush(ctx)
	assert.Error(t, err)
	assert.Equal(t, 3, published)

	events, err := store.ListUnpublished(ctx, 100)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int32(2), events[0].Sequence)

	// Broker recovers; the remaining record goes out on the next flush
	producer.fail = nil
	published, err = pub.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}
