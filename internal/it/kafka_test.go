package it

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/journal"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	"github.com/ismaiel54/tick-gapfill/internal/verify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafka_PublishedSessionVerifies(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("skipping integration test; set INTEGRATION=1 to run")
	}

	srv := startFeed(t, feedConfig(), 4, 5, 11)
	rep, _, err := runSession(t, srv, session.Config{Codec: codec.Default})
	require.NoError(t, err)
	require.Empty(t, rep.Outstanding())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	topic := "it.ticks." + rep.SessionID[:8]
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), topic)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RecordSession(ctx, rep)
	require.NoError(t, err)

	kcfg := msg.LoadConfig()
	kcfg.Topic = topic
	kcfg.Group = "it-" + rep.SessionID

	producer, err := msg.NewProducer(kcfg, zap.NewNop())
	require.NoError(t, err)
	defer producer.Close()
	if err := producer.Ping(ctx); err != nil {
		t.Skipf("kafka not reachable: %v", err)
	}

	published, err := journal.NewPublisher(store, producer, zap.NewNop()).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 14, published)

	consumer, err := msg.NewConsumer(kcfg, []string{topic}, zap.NewNop())
	require.NoError(t, err)
	defer consumer.Close()

	tracker := verify.NewTracker()
	seen := 0
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	_ = consumer.Run(consumeCtx, func(ctx context.Context, rec msg.Record) error {
		tick, err := msg.DecodeTick(rec.Value)
		if err != nil {
			return nil
		}
		tracker.Add(tick)
		if seen++; seen == published {
			stop()
		}
		return nil
	})

	results := tracker.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].OK(), "missing=%v duplicates=%v", results[0].Missing, results[0].Duplicates)
	assert.Equal(t, 3, results[0].Recovered)
}
