//go:build integration
// +build integration

package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntegration_PublishSessionToKafka(t *testing.T) {
	if os.Getenv("INTEGRATION") != "1" {
		t.Skip("Skipping integration test. Set INTEGRATION=1 to run.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := openStore(t)
	rep := sampleReport()
	rep.SessionID = "it-" + time.Now().Format("150405.000000")
	_, err := store.RecordSession(ctx, rep)
	require.NoError(t, err)

	cfg := msg.LoadConfig()
	producer, err := msg.NewProducer(cfg, zap.NewNop())
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.Ping(ctx))

	published, err := NewPublisher(store, producer, zap.NewNop()).Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, published)

	// Republishing a journaled session queues nothing new
	res, err := store.RecordSession(ctx, rep)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}
