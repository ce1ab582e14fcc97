package cache

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wppcrm/internal/bus"
	"go.uber.org/zap"
)

// DefaultSweepInterval is the budget check period.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper runs the budget sweep once on start, on every tick, and once on stop.
type Sweeper struct {
	cache    *Cache
	interval time.Duration
	bus      *bus.Bus
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper for c.
func NewSweeper(c *Cache, interval time.Duration, b *bus.Bus, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{cache: c, interval: interval, bus: b, logger: logger}
}

// Start sweeps immediately and then on every interval.
func (s *Sweeper) Start(ctx context.Context) {
	s.sweep()
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and runs a final sweep.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.sweep()
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep() {
	res, err := s.cache.Sweep()
	if err != nil {
		s.logger.Error("cache sweep failed", zap.Error(err))
		return
	}
	if res.Dropped > 0 {
		s.logger.Info("cache budget exceeded, all entries dropped",
			zap.Int("entries", res.Entries),
			zap.Int("bytes", res.Bytes),
			zap.Int("dropped", res.Dropped))
	}
	s.bus.Emit(bus.CacheSwept, res)
}
