package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/config"
	"github.com/ismaiel54/tick-gapfill/internal/journal"
	"github.com/ismaiel54/tick-gapfill/internal/logging"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/ismaiel54/tick-gapfill/internal/observability"
	"github.com/ismaiel54/tick-gapfill/internal/report"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig("gapfill")
	var (
		printStream bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "gapfill",
		Short: "Drain a market-data feed, then request retransmission of every missed record",
		Long: "gapfill subscribes to the feed, reads the live stream until the feed closes it,\n" +
			"computes the missing sequence numbers and recovers each one over a second connection.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, printStream, metricsAddr)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.FeedHost, "host", cfg.FeedHost, "feed host")
	f.IntVar(&cfg.FeedPort, "port", cfg.FeedPort, "feed port")
	f.StringVar(&cfg.ByteOrder, "byte-order", cfg.ByteOrder, "record integer byte order: big or little")
	f.StringVar(&cfg.RequestFormat, "request-format", cfg.RequestFormat, "retransmit request layout: wide or legacy")
	f.IntVar(&cfg.ReadBufferSize, "read-buffer", cfg.ReadBufferSize, "bytes per transport read")
	f.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "per-read timeout")
	f.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "pause between the live stream closing and recovery")
	f.BoolVar(&cfg.PublishEnabled, "publish", cfg.PublishEnabled, "publish the reconstructed stream to Kafka")
	f.StringVar(&cfg.KafkaBrokers, "brokers", cfg.KafkaBrokers, "comma-separated Kafka brokers")
	f.StringVar(&cfg.PublishTopic, "topic", cfg.PublishTopic, "Kafka topic for reconstructed ticks")
	f.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal path; empty disables journaling")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	f.BoolVar(&printStream, "print-stream", false, "print the reconstructed stream in the summary")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve /healthz and /metrics on this address while running")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, printStream bool, metricsAddr string) error {
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return err
	}
	defer logger.Sync()

	sessionCfg, err := cfg.SessionConfig()
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gapfill",
		zap.String("feed_addr", cfg.FeedAddr()),
		zap.Stringer("request_format", sessionCfg.RequestFormat),
		zap.String("byte_order", cfg.ByteOrder),
		zap.Duration("settle_delay", sessionCfg.SettleDelay),
		zap.Bool("publish", cfg.PublishEnabled),
	)

	reg := prometheus.NewRegistry()
	metrics := observability.NewSessionMetrics(reg)

	if metricsAddr != "" {
		health := observability.NewHealthChecker(logger)
		go func() {
			if err := health.StartHTTPServer(metricsAddr, reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			health.Shutdown(shutdownCtx)
		}()
	}

	console := report.NewConsole(os.Stdout)
	console.Stream = printStream
	reporter := report.Multi{console, report.NewMetrics(metrics)}

	orch := session.New(sessionCfg, cfg.Dialer(), reporter, logger)
	rep, runErr := orch.Run(ctx)

	if rep.Reported() && cfg.JournalPath != "" {
		if err := persist(ctx, cfg, rep, logger); err != nil {
			logger.Error("failed to persist session", zap.Error(err))
			if runErr == nil {
				return err
			}
		}
	}

	if runErr != nil {
		countFailure(metrics, rep)
		return runErr
	}
	return nil
}

// countFailure records a session that ended before reporting. Reported
// sessions were already counted by the metrics reporter.
func countFailure(metrics *observability.SessionMetrics, rep *session.Report) {
	if !rep.Reported() {
		metrics.Sessions.WithLabelValues("failed").Inc()
	}
}

// persist journals the session and, when publishing is enabled, drains the
// outbox to Kafka
func persist(ctx context.Context, cfg *config.Config, rep *session.Report, logger *zap.Logger) error {
	store, err := journal.Open(cfg.JournalPath, cfg.PublishTopic)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer store.Close()

	res, err := store.RecordSession(ctx, rep)
	if err != nil {
		return err
	}
	logger.Info("session journaled",
		zap.String("session_id", rep.SessionID),
		zap.String("path", cfg.JournalPath),
		zap.Int("queued", res.Queued),
	)

	if !cfg.PublishEnabled {
		return nil
	}

	kcfg := msg.LoadConfig()
	kcfg.Brokers = cfg.Brokers()
	kcfg.Topic = cfg.PublishTopic
	producer, err := msg.NewProducer(kcfg, logger)
	if err != nil {
		return err
	}
	defer producer.Close()

	published, err := journal.NewPublisher(store, producer, logger).Flush(ctx)
	logger.Info("outbox flushed", zap.Int("published", published))
	return err
}
