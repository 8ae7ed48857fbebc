package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/ismaiel54/tick-gapfill/internal/chaos"
	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server is a simulated exchange feed. A subscribe request is answered with
// the whole record stream, after which the server closes the connection.
// Retransmit requests are answered with the stored record, one per request,
// until the client closes.
type Server struct {
	codec   codec.Codec
	format  codec.RequestFormat
	chunk   int
	records []codec.Record
	bySeq   map[int32]codec.Record
	chaos   *chaos.Chaos
	metrics *observability.FeedMetrics
	logger  *zap.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a feed server for cfg. chaos and metrics may be nil.
func NewServer(cfg *Config, ch *chaos.Chaos, metrics *observability.FeedMetrics, logger *zap.Logger) (*Server, error) {
	c, format, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid feed config: %w", err)
	}
	if metrics == nil {
		metrics = observability.NewFeedMetrics(nil)
	}

	records := GenerateRecords(cfg.RecordCount, cfg.Symbols, cfg.Seed)
	bySeq := make(map[int32]codec.Record, len(records))
	for _, r := range records {
		bySeq[r.Sequence] = r
	}

	return &Server{
		codec:   c,
		format:  format,
		chunk:   cfg.WriteChunk,
		records: records,
		bySeq:   bySeq,
		chaos:   ch,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Records returns the full stream the server holds
func (s *Server) Records() []codec.Record {
	return s.records
}

// Listen opens the feed listener on addr. The address is available from
// Addr as soon as Listen returns, before Serve is started.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.setAddr(ln.Addr())
	return ln, nil
}

// Addr returns the listener address recorded by Listen or Serve, or nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) setAddr(addr net.Addr) {
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

// Serve accepts connections on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.setAddr(ln.Addr())

	s.logger.Info("feed listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("records", len(s.records)),
		zap.Stringer("request_format", s.format),
	)

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { ln.Close() })
	defer stop()

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to accept connection: %w", err)
			}
			g.Go(func() error {
				s.handle(gctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	logger := s.logger.With(zap.String("remote", conn.RemoteAddr().String()))
	first := true
	for {
		req, err := s.codec.ReadRequest(conn, s.format)
		if err != nil {
			if errors.Is(err, codec.ErrUnknownMessageType) {
				s.metrics.UnknownRequests.Inc()
				logger.Warn("unknown request", zap.Error(err))
			} else if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("request read ended", zap.Error(err))
			}
			return
		}
		if first {
			s.metrics.Connections.WithLabelValues(req.Type.String()).Inc()
			first = false
		}

		switch req.Type {
		case codec.MsgSubscribe:
			if err := s.stream(ctx, conn, logger); err != nil {
				logger.Warn("live stream aborted", zap.Error(err))
			}
			return
		case codec.MsgRetransmit:
			if err := s.retransmit(ctx, conn, req.Sequence, logger); err != nil {
				logger.Warn("retransmit failed", zap.Int32("sequence", req.Sequence), zap.Error(err))
				return
			}
		}
	}
}

// stream writes every record not withheld by loss injection
func (s *Server) stream(ctx context.Context, conn net.Conn, logger *zap.Logger) error {
	var buf []byte
	sent, dropped := 0, 0
	for _, r := range s.records {
		if s.chaos != nil && s.chaos.MaybeDrop("stream", r.Sequence) {
			s.metrics.RecordsDropped.Inc()
			dropped++
			continue
		}
		buf = s.codec.AppendRecord(buf, r)
		sent++
	}

	if err := s.write(ctx, conn, buf); err != nil {
		return err
	}
	s.metrics.RecordsStreamed.Add(float64(sent))

	logger.Info("live stream complete",
		zap.Int("sent", sent),
		zap.Int("dropped", dropped),
	)
	return nil
}

func (s *Server) write(ctx context.Context, conn net.Conn, buf []byte) error {
	step := s.chunk
	if step <= 0 {
		step = codec.RecordSize
	}
	for len(buf) > 0 {
		if s.chaos != nil {
			if err := s.chaos.MaybeDelay(ctx, "stream"); err != nil {
				return err
			}
		}
		n := min(step, len(buf))
		if _, err := conn.Write(buf[:n]); err != nil {
			return fmt.Errorf("failed to write stream: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

func (s *Server) retransmit(ctx context.Context, conn net.Conn, seq int32, logger *zap.Logger) error {
	r, ok := s.bySeq[seq]
	if !ok {
		// Unknown sequences get no answer; the client's read timeout ends the wait
		s.metrics.RetransmitsUnknown.Inc()
		logger.Warn("retransmit for unknown sequence", zap.Int32("sequence", seq))
		return nil
	}

	if s.chaos != nil {
		if err := s.chaos.MaybeDelay(ctx, "retransmit"); err != nil {
			return err
		}
	}
	if _, err := conn.Write(s.codec.AppendRecord(nil, r)); err != nil {
		return fmt.Errorf("failed to write retransmit response: %w", err)
	}
	s.metrics.RetransmitsServed.Inc()
	logger.Debug("retransmit served", zap.Int32("sequence", seq))
	return nil
}
