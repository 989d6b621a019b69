package pool

import (
	"context"
	"pastebin/cfg"
	"pastebin/svc/util"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

type Refiller interface {
	AvailableCount(ctx context.Context) (int64, error)
	Refill(ctx context.Context) error
}

// Scheduler checks the pool on a fixed interval and refills it when it drops
// below the low-water mark. A failed check waits ErrorBackoff instead.
type Scheduler struct {
	pool         Refiller
	lowWater     int64
	interval     time.Duration
	initialDelay time.Duration
	backoff      time.Duration
	primed       atomic.Bool
}

func NewScheduler(p Refiller, c cfg.PoolCfg) *Scheduler {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Minute
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	return &Scheduler{
		pool:         p,
		lowWater:     int64(c.LowWater),
		interval:     c.CheckInterval,
		initialDelay: c.InitialDelay,
		backoff:      c.ErrorBackoff,
	}
}

// Prime runs the startup refill once. Call it before serving so the first
// requests do not find an empty pool.
func (s *Scheduler) Prime(ctx context.Context) error {
	if !s.primed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.pool.Refill(ctx); err != nil {
		return errors.Wrap(err, "initial pool fill")
	}
	n, err := s.pool.AvailableCount(ctx)
	if err == nil {
		util.Info().Int64("available", n).Msg("token pool primed")
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	util.Info().
		Dur("interval", s.interval).
		Dur("initial_delay", s.initialDelay).
		Int64("low_water", s.lowWater).
		Msg("pool refill scheduler started")
	if err := s.Prime(ctx); err != nil {
		util.Error().Err(err).Msg("pool priming failed")
	}
	wait := s.initialDelay
	for {
		if !sleepCtx(ctx, wait) {
			util.Info().Msg("pool refill scheduler stopped")
			return nil
		}
		if err := s.tick(ctx); err != nil {
			if ctx.Err() != nil {
				util.Info().Msg("pool refill scheduler stopped")
				return nil
			}
			util.Error().Err(err).Dur("backoff", s.backoff).Msg("pool check failed")
			wait = s.backoff
			continue
		}
		wait = s.interval
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	n, err := s.pool.AvailableCount(ctx)
	if err != nil {
		return err
	}
	if n >= s.lowWater {
		util.Debug().Int64("available", n).Msg("pool level ok")
		return nil
	}
	util.Info().Int64("available", n).Int64("low_water", s.lowWater).Msg("pool below low water, refilling")
	return s.pool.Refill(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
