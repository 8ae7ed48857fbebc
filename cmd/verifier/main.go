package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/logging"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/verify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	kcfg := msg.LoadConfig()
	var (
		duration time.Duration
		brokers  string
	)

	cmd := &cobra.Command{
		Use:          "verifier",
		Short:        "Consume published reconstructed streams and check each session is gap-free and duplicate-free",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokers != "" {
				kcfg.Brokers = msg.SplitBrokers(brokers)
			}
			return run(cmd.Context(), kcfg, duration)
		},
	}

	f := cmd.Flags()
	f.DurationVar(&duration, "duration", 30*time.Second, "how long to consume before judging")
	f.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default from KAFKA_BROKERS)")
	f.StringVar(&kcfg.Topic, "topic", kcfg.Topic, "topic carrying reconstructed ticks")
	f.StringVar(&kcfg.Group, "group", kcfg.Group, "consumer group")

	return cmd
}

func run(ctx context.Context, kcfg *msg.Config, duration time.Duration) error {
	logger, err := logging.NewLogger("verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return err
	}
	defer logger.Sync()

	logger.Info("starting verifier",
		zap.Duration("duration", duration),
		zap.Strings("brokers", kcfg.Brokers),
		zap.String("topic", kcfg.Topic),
	)

	consumer, err := msg.NewConsumer(kcfg, []string{kcfg.Topic}, logger)
	if err != nil {
		logger.Error("failed to create consumer", zap.Error(err))
		return err
	}
	defer consumer.Close()

	tracker := verify.NewTracker()

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, rec msg.Record) error {
		tick, err := msg.DecodeTick(rec.Value)
		if err != nil {
			logger.Warn("skipping malformed tick", zap.Int64("offset", rec.Offset), zap.Error(err))
			return nil
		}
		tracker.Add(tick)
		return nil
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("consumer error", zap.Error(err))
	}

	results := tracker.Results()
	failed := 0

	fmt.Println("\n=== Verification Results ===")
	fmt.Printf("Sessions consumed: %d\n", len(results))
	for _, r := range results {
		status := "PASS"
		if !r.OK() {
			status = "FAIL"
			failed++
		}
		fmt.Printf("  %s %s ticks=%d recovered=%d max_seq=%d missing=%v duplicates=%v\n",
			status, r.SessionID, r.Ticks, r.Recovered, r.MaxSeq, r.Missing, r.Duplicates)
	}

	if failed > 0 {
		fmt.Printf("\nVERIFICATION FAILED: %d session(s) with gaps or duplicates\n", failed)
		return fmt.Errorf("%d session(s) failed verification", failed)
	}

	fmt.Println("\nVERIFICATION PASSED: every session is complete and duplicate-free")
	return nil
}
