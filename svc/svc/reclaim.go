package svc

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"time"

	"github.com/pkg/errors"
)

type ExpiredStore interface {
	FindExpiredAfter(ctx context.Context, before time.Time, after domain.ExpiryCursor, limit int) ([]*domain.Paste, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

type ContentRemover interface {
	Delete(ctx context.Context, token string) error
}

type CacheRemover interface {
	Remove(ctx context.Context, token string)
}

// Reclaimer periodically removes expired pastes from the cache, the content
// store and the metadata store, oldest first. A paste whose metadata delete
// fails is skipped for the rest of the run and picked up by the next one.
type Reclaimer struct {
	meta    ExpiredStore
	content ContentRemover
	cache   CacheRemover
	c       cfg.CleanupCfg
	now     func() time.Time
}

func NewReclaimer(meta ExpiredStore, content ContentRemover, c CacheRemover, conf cfg.CleanupCfg, opts ...ReclaimerOption) *Reclaimer {
	if meta == nil || content == nil || c == nil {
		panic("reclaimer: nil dependency (meta, content, or cache)")
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = 100
	}
	if conf.Interval <= 0 {
		conf.Interval = time.Hour
	}
	r := &Reclaimer{meta: meta, content: content, cache: c, c: conf, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

type ReclaimerOption func(*Reclaimer)

func WithReclaimClock(now func() time.Time) ReclaimerOption {
	return func(r *Reclaimer) { r.now = now }
}

// Run waits the initial delay, then reclaims on every interval until ctx is
// cancelled.
func (r *Reclaimer) Run(ctx context.Context) error {
	runID := util.NewRequestID()
	ctx = util.SetRequestID(ctx, runID)
	util.Info().
		Str("request_id", runID).
		Dur("interval", r.c.Interval).
		Dur("initial_delay", r.c.InitialDelay).
		Msg("reclaimer started")
	wait := r.c.InitialDelay
	for {
		if !sleep(ctx, wait) {
			util.Info().Str("request_id", runID).Msg("reclaimer shutting down")
			return nil
		}
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			util.Error().
				Err(err).
				Str("request_id", util.GetRequestID(ctx)).
				Msg("reclaim run failed")
		}
		wait = r.c.Interval
	}
}

// RunOnce drains expired pastes in batches and returns how many metadata
// records it removed. Batches are paged by cursor so a row that cannot be
// deleted is visited once per run.
func (r *Reclaimer) RunOnce(ctx context.Context) (int, error) {
	metrics.ReclaimCycles.Inc()
	start := time.Now()
	before := r.now()
	var cursor domain.ExpiryCursor
	total, skipped := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := r.meta.FindExpiredAfter(ctx, before, cursor, r.c.BatchSize)
		if err != nil {
			return total, errors.Wrap(err, "find expired")
		}
		if len(batch) == 0 {
			break
		}
		removed := 0
		for _, p := range batch {
			if ctx.Err() != nil {
				return total + removed, ctx.Err()
			}
			if r.reclaim(ctx, p) {
				removed++
			}
		}
		total += removed
		skipped += len(batch) - removed
		cursor = domain.CursorAt(batch[len(batch)-1])
		util.Debug().Int("batch", len(batch)).Int("removed", removed).Msg("reclaim batch done")
		if len(batch) < r.c.BatchSize {
			break
		}
		if !sleep(ctx, r.c.BatchPause) {
			return total, ctx.Err()
		}
	}
	if skipped > 0 {
		util.Warn().Int("skipped", skipped).Msg("expired pastes left for the next run")
	}
	if total > 0 {
		util.Info().
			Int("deleted", total).
			Dur("took", time.Since(start)).
			Str("request_id", util.GetRequestID(ctx)).
			Msg("reclaim completed")
	}
	return total, nil
}

func (r *Reclaimer) reclaim(ctx context.Context, p *domain.Paste) bool {
	r.cache.Remove(ctx, p.Token)
	if err := r.content.Delete(ctx, p.Token); err != nil {
		metrics.ReclaimFailures.WithLabelValues("content").Inc()
		util.Warn().Err(err).Str("token", p.Token).Msg("reclaim content delete failed")
	}
	if _, err := r.meta.DeleteByID(ctx, p.ID); err != nil {
		metrics.ReclaimFailures.WithLabelValues("metadata").Inc()
		util.Warn().Err(err).Str("token", p.Token).Str("id", p.ID).Msg("reclaim metadata delete failed, skipping")
		return false
	}
	metrics.Reclaimed.Inc()
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
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
