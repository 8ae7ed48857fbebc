package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/chaos"
	"github.com/ismaiel54/tick-gapfill/internal/config"
	"github.com/ismaiel54/tick-gapfill/internal/feed"
	"github.com/ismaiel54/tick-gapfill/internal/logging"
	"github.com/ismaiel54/tick-gapfill/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.LoadConfig("feed-sim")
	feedCfg := feed.LoadConfig()
	chaosCfg := chaos.LoadConfig()
	var dropSeqs string

	cmd := &cobra.Command{
		Use:          "feed-sim",
		Short:        "Simulated exchange feed that streams records and answers retransmit requests",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dropSeqs != "" {
				seqs, err := chaos.ParseSequences(dropSeqs)
				if err != nil {
					return err
				}
				chaosCfg.DropSeqs = seqs
				chaosCfg.Enabled = true
			}
			return run(cmd.Context(), cfg, feedCfg, chaosCfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&feedCfg.ListenAddr, "listen", feedCfg.ListenAddr, "feed listen address")
	f.IntVar(&feedCfg.RecordCount, "records", feedCfg.RecordCount, "number of records in the stream")
	f.StringSliceVar(&feedCfg.Symbols, "symbols", feedCfg.Symbols, "symbols to draw records from")
	f.Int64Var(&feedCfg.Seed, "seed", feedCfg.Seed, "stream generator seed")
	f.StringVar(&feedCfg.ByteOrder, "byte-order", feedCfg.ByteOrder, "record integer byte order: big or little")
	f.StringVar(&feedCfg.RequestFormat, "request-format", feedCfg.RequestFormat, "retransmit request layout: wide or legacy")
	f.IntVar(&feedCfg.WriteChunk, "write-chunk", feedCfg.WriteChunk, "split the live stream into writes of this many bytes")
	f.BoolVar(&chaosCfg.Enabled, "chaos", chaosCfg.Enabled, "enable loss and delay injection")
	f.StringVar(&chaosCfg.Profile, "chaos-profile", chaosCfg.Profile, `chaos profile, e.g. "drop-pct=20,delay=5-50,drop-seq=3;7"`)
	f.StringVar(&dropSeqs, "drop-seqs", "", "comma-separated sequences withheld from the live stream (implies --chaos)")
	f.IntVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC health port")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP health and metrics port")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, feedCfg *feed.Config, chaosCfg *chaos.Config) error {
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return err
	}
	defer logger.Sync()

	logger.Info("starting feed simulator",
		zap.String("listen", feedCfg.ListenAddr),
		zap.Int("records", feedCfg.RecordCount),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Bool("chaos_enabled", chaosCfg.Enabled),
		zap.String("chaos_profile", chaosCfg.Profile),
		zap.Int32s("drop_seqs", chaosCfg.DropSeqs),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewFeedMetrics(reg)

	srv, err := feed.NewServer(feedCfg, chaos.New(chaosCfg, logger), metrics, logger)
	if err != nil {
		logger.Error("failed to create feed server", zap.Error(err))
		return err
	}

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.SetComponentReady("feed", false)

	// Start gRPC health server
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Error("failed to listen on gRPC port", zap.Error(err))
		return err
	}
	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	// Start HTTP health server
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr(), reg); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
	}()

	// Start feed
	feedListener, err := srv.Listen(feedCfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen on feed address", zap.Error(err))
		grpcServer.Stop()
		return err
	}
	healthChecker.SetComponentReady("feed", true)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	feedErrCh := make(chan error, 1)
	go func() {
		feedErrCh <- srv.Serve(ctx, feedListener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
		runErr = err
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
		runErr = err
	case err := <-feedErrCh:
		logger.Error("feed server stopped", zap.Error(err))
		runErr = err
	}

	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health checker shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("feed simulator stopped")
	return runErr
}
