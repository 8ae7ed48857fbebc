package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Chaos provides deterministic loss and delay injection for the feed
type Chaos struct {
	cfg      *Config
	logger   *zap.Logger
	rng      *rand.Rand
	mu       sync.Mutex
	start    time.Time
	dropSeqs map[int32]struct{}
}

// New creates a new Chaos instance
func New(cfg *Config, logger *zap.Logger) *Chaos {
	c := &Chaos{
		cfg:      cfg,
		logger:   logger,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		start:    time.Now(),
		dropSeqs: make(map[int32]struct{}),
	}

	// Apply profile if set
	if cfg.Profile != "" {
		p, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if p.DropPct > 0 {
				cfg.DropPct = p.DropPct
			}
			if p.DelayMin > 0 || p.DelayMax > 0 {
				cfg.DelayMsMin = p.DelayMin
				cfg.DelayMsMax = p.DelayMax
			}
			cfg.DropSeqs = append(cfg.DropSeqs, p.DropSeqs...)
		}
	}

	for _, seq := range cfg.DropSeqs {
		c.dropSeqs[seq] = struct{}{}
	}

	return c
}

// Enabled checks if chaos is currently active
func (c *Chaos) Enabled() bool {
	if !c.cfg.Enabled {
		return false
	}

	// Check if window expired
	if c.cfg.WindowMs > 0 {
		elapsed := time.Since(c.start).Milliseconds()
		if elapsed > int64(c.cfg.WindowMs) {
			return false
		}
	}

	return true
}

// MaybeDelay injects a random delay if chaos is enabled
func (c *Chaos) MaybeDelay(ctx context.Context, op string) error {
	if !c.Enabled() {
		return nil
	}

	if c.cfg.DelayMsMin == 0 && c.cfg.DelayMsMax == 0 {
		return nil
	}

	c.mu.Lock()
	var delayMs int
	if c.cfg.DelayMsMin >= c.cfg.DelayMsMax {
		delayMs = c.cfg.DelayMsMin
	} else {
		delayMs = c.cfg.DelayMsMin + c.rng.Intn(c.cfg.DelayMsMax-c.cfg.DelayMsMin+1)
	}
	c.mu.Unlock()

	if delayMs > 0 {
		c.logger.Debug("chaos delay injected",
			zap.String("op", op),
			zap.Int("delay_ms", delayMs),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
			return nil
		}
	}

	return nil
}

// MaybeDrop returns true if the record with this sequence should be dropped
func (c *Chaos) MaybeDrop(op string, seq int32) bool {
	if !c.Enabled() {
		return false
	}

	_, drop := c.dropSeqs[seq]
	if !drop && c.cfg.DropPct > 0 {
		c.mu.Lock()
		drop = c.rng.Intn(100) < c.cfg.DropPct
		c.mu.Unlock()
	}

	if drop {
		c.logger.Info("chaos drop injected",
			zap.String("op", op),
			zap.Int32("sequence", seq),
		)
	}

	return drop
}
