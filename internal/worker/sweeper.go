package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/nightowl/internal/config"
)

// SweepFunc assigns what it can and reports how many orders it placed.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper periodically retries dispatch for orders left in the pool.
type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	enabled  bool
	logger   *zap.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSweeper builds a Sweeper running sweep every cfg.Dispatch.SweepInterval.
func NewSweeper(sweep SweepFunc, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		sweep:    sweep,
		interval: cfg.Dispatch.SweepInterval,
		enabled:  cfg.Dispatch.AutoAssign && cfg.Dispatch.SweepInterval > 0,
		logger:   logger,
	}
}

func (s *Sweeper) start(context.Context) error {
	if !s.enabled {
		s.logger.Info("dispatch sweep disabled")

		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(runCtx)
	}()
	s.logger.Info("dispatch sweep started", zap.Duration("interval", s.interval))

	return nil
}

func (s *Sweeper) stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) {
	n, err := s.sweep(ctx)
	if err != nil {
		s.logger.Error("dispatch sweep failed", zap.Error(err))

		return
	}
	if n > 0 {
		s.logger.Info("dispatch sweep assigned orders", zap.Int("count", n))
	}
}
