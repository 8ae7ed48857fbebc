// Package session drives the two-phase gap-fill protocol: drain the live
// stream on one connection, then request every missing sequence number on a
// second one.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/gaps"
	"github.com/ismaiel54/tick-gapfill/internal/recovery"
	"github.com/ismaiel54/tick-gapfill/internal/transport"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds the tunables of one session
type Config struct {
	Codec         codec.Codec
	RequestFormat codec.RequestFormat
	// BufferSize is the size of each transport read
	BufferSize int
	// SettleDelay is the pause between closing the live stream and reconnecting
	SettleDelay time.Duration
}

// Orchestrator runs sessions against a feed
type Orchestrator struct {
	cfg      Config
	dialer   transport.Dialer
	reporter Reporter
	logger   *zap.Logger
	clock    clockwork.Clock
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces the clock used for the settle delay
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// New creates a new Orchestrator. reporter must not be nil.
func New(cfg Config, dialer transport.Dialer, reporter Reporter, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.Codec.Order == nil {
		cfg.Codec = codec.Default
	}
	if cfg.BufferSize < codec.RecordSize {
		cfg.BufferSize = recovery.DefaultBufferSize
	}

	o := &Orchestrator{
		cfg:      cfg,
		dialer:   dialer,
		reporter: reporter,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one session. The returned Report is never nil; the error is
// non-nil only when a fatal error ended the session.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		SessionID: uuid.NewString(),
		Started:   o.clock.Now(),
		Recovered: make(map[int32]codec.Record),
	}
	logger := o.logger.With(zap.String("session_id", rep.SessionID))

	err := o.run(ctx, rep, logger)
	o.enter(rep, StateDone, logger)
	rep.Finished = o.clock.Now()

	if err != nil {
		logger.Error("session failed", zap.Error(err))
		o.reporter.Error(err)
		return rep, err
	}

	logger.Info("session completed",
		zap.Int("live", len(rep.Live)),
		zap.Int("gaps", len(rep.Gaps)),
		zap.Int("recovered", len(rep.Recovered)),
		zap.Int("outstanding", len(rep.Outstanding())),
		zap.Duration("elapsed", rep.Finished.Sub(rep.Started)),
	)
	return rep, nil
}

func (o *Orchestrator) run(ctx context.Context, rep *Report, logger *zap.Logger) error {
	o.enter(rep, StateConnecting1, logger)
	conn, err := o.dialer.Dial(ctx)
	if err != nil {
		return &PhaseError{Phase: StateConnecting1, Err: err}
	}

	o.enter(rep, StateDraining, logger)
	set, err := o.drain(ctx, conn, rep, logger)

	o.enter(rep, StateDisconnected1, logger)
	o.close(conn, logger)
	if err != nil {
		return &PhaseError{Phase: StateDraining, Err: err}
	}

	missing, err := gaps.FindMissing(set)
	if errors.Is(err, gaps.ErrEmptyInput) {
		rep.NoData = true
		logger.Warn("no data received on live stream, skipping recovery")
		o.reporter.Error(fmt.Errorf("no data received: %w", err))
		o.report(rep, logger)
		return nil
	}
	if err != nil {
		return &PhaseError{Phase: StateDisconnected1, Err: err}
	}

	rep.Gaps = missing
	logger.Info("gap list computed",
		zap.Int32("max_sequence", set.Max()),
		zap.Int("missing", len(missing)),
		zap.Int32s("sequences", missing),
	)
	if len(missing) == 0 {
		o.reporter.GapList(missing)
		o.report(rep, logger)
		return nil
	}

	o.enter(rep, StateDelay, logger)
	if err := o.settle(ctx); err != nil {
		return &PhaseError{Phase: StateDelay, Err: err}
	}

	o.enter(rep, StateConnecting2, logger)
	conn, err = o.dialer.Dial(ctx)
	if err != nil {
		// Live records stay in rep for the caller; nothing is reported
		return &PhaseError{Phase: StateConnecting2, Err: err}
	}
	// Gap list goes out only once the recovery connection is open
	o.reporter.GapList(missing)

	o.enter(rep, StateRecovering, logger)
	ex := recovery.NewExchange(o.cfg.Codec, o.cfg.RequestFormat, o.cfg.BufferSize, o.reporter, logger)
	result, recErr := ex.Recover(ctx, conn, missing)
	o.merge(rep, result)

	o.enter(rep, StateDisconnected2, logger)
	o.close(conn, logger)

	// Partial results are still reported after a failed recovery read
	o.report(rep, logger)
	if recErr != nil {
		return &PhaseError{Phase: StateRecovering, Err: recErr}
	}
	return nil
}

// drain subscribes and reads until the feed ends the stream. A reader task
// hands each read to a decoder task over a channel holding at most one
// buffer, which keeps records in stream order.
func (o *Orchestrator) drain(ctx context.Context, conn transport.Conn, rep *Report, logger *zap.Logger) (*gaps.SequenceSet, error) {
	if _, err := conn.Write(ctx, o.cfg.Codec.SubscribeRequest()); err != nil {
		return nil, &recovery.SendError{Request: codec.MsgSubscribe, Err: err}
	}
	logger.Info("subscribed to live stream")

	set := gaps.NewSequenceSet()
	dec := codec.NewDecoder(o.cfg.Codec)
	chunks := make(chan []byte, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(chunks)
		buf := make([]byte, o.cfg.BufferSize)
		for {
			n, err := conn.Read(gctx, buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			if err == nil && n > 0 {
				continue
			}

			// The feed has no end-of-stream message; any failed read ends the drain
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil && !errors.Is(err, io.EOF) {
				logger.Info("live stream read ended with error", zap.Error(err))
			}
			return nil
		}
	})
	g.Go(func() error {
		for chunk := range chunks {
			for _, r := range dec.Feed(chunk) {
				rep.Live = append(rep.Live, r)
				if !set.Add(r.Sequence) {
					logger.Warn("ignoring record with invalid sequence",
						zap.Int32("sequence", r.Sequence),
						zap.String("symbol", r.Symbol.String()),
					)
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := dec.Flush(); err != nil {
		var framing *codec.FramingError
		if errors.As(err, &framing) {
			rep.Framing = append(rep.Framing, framing)
		}
		logger.Warn("live stream ended inside a record", zap.Error(err))
		o.reporter.Error(err)
	}

	logger.Info("live stream drained",
		zap.Int("records", len(rep.Live)),
		zap.Int("distinct_sequences", set.Len()),
		zap.Int32("max_sequence", set.Max()),
	)
	return set, nil
}

func (o *Orchestrator) settle(ctx context.Context) error {
	if o.cfg.SettleDelay <= 0 {
		return nil
	}
	select {
	case <-o.clock.After(o.cfg.SettleDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) merge(rep *Report, result *recovery.Result) {
	if result == nil {
		return
	}
	for seq, rec := range result.Records {
		rep.Recovered[seq] = rec
	}
	rep.Mismatches = append(rep.Mismatches, result.Mismatches...)
	rep.SendFailures = append(rep.SendFailures, result.SendFailures...)
	rep.Requested += result.Requested
	if result.Framing != nil {
		rep.Framing = append(rep.Framing, result.Framing)
	}
	for _, sendErr := range result.SendFailures {
		o.reporter.Error(sendErr)
	}
	if result.Framing != nil {
		o.reporter.Error(result.Framing)
	}
}

func (o *Orchestrator) report(rep *Report, logger *zap.Logger) {
	o.enter(rep, StateReporting, logger)
	o.reporter.Summary(rep)
}

func (o *Orchestrator) enter(rep *Report, s State, logger *zap.Logger) {
	rep.Trace = append(rep.Trace, s)
	logger.Debug("session state", zap.Stringer("state", s))
}

func (o *Orchestrator) close(conn transport.Conn, logger *zap.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn("failed to close connection", zap.Error(err))
	}
}
