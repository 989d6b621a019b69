package pool

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const defaultRefillTimeout = 30 * time.Second

// Queue is the shared FIFO of ready tokens. Pop and push must be atomic on
// the backing store since several processes may share one queue.
type Queue interface {
	ListPopLeft(ctx context.Context, key string) (string, bool, error)
	ListPushRight(ctx context.Context, key string, values ...string) (int64, error)
	ListLength(ctx context.Context, key string) (int64, error)
}

type Generator interface {
	GenerateBatch(ctx context.Context, count int) ([]domain.PoolToken, error)
}

// Allocator hands out one token per call from the shared queue and keeps the
// queue topped up from the Generator. At most one refill runs per process.
type Allocator struct {
	queue         Queue
	gen           Generator
	key           string
	lowWater      int
	batchSize     int
	refillTimeout time.Duration

	refillMu     sync.Mutex
	asyncPending atomic.Bool

	lifeMu   sync.Mutex
	closed   bool
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWg     sync.WaitGroup
}

func NewAllocator(q Queue, gen Generator, c cfg.PoolCfg) *Allocator {
	if q == nil || gen == nil {
		panic("allocator: nil dependency (queue or generator)")
	}
	if c.Key == "" {
		c.Key = "hash_pool"
	}
	if c.LowWater <= 0 {
		c.LowWater = 500
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Allocator{
		queue:         q,
		gen:           gen,
		key:           c.Key,
		lowWater:      c.LowWater,
		batchSize:     c.BatchSize,
		refillTimeout: defaultRefillTimeout,
		bgCtx:         bgCtx,
		bgCancel:      bgCancel,
	}
}

func (a *Allocator) LowWater() int { return a.lowWater }

// Acquire pops the next token. An empty queue triggers one synchronous refill
// and a single retry; a queue left below the low-water mark triggers a
// background refill that the caller does not wait for.
func (a *Allocator) Acquire(ctx context.Context) (string, error) {
	token, ok, err := a.queue.ListPopLeft(ctx, a.key)
	if err != nil {
		util.Warn().Err(err).Str("key", a.key).Msg("token pop failed, attempting refill")
	}
	if err != nil || !ok {
		util.Warn().Str("key", a.key).Msg("token pool is empty, refilling synchronously")
		if rerr := a.Refill(ctx); rerr != nil {
			util.Error().Err(rerr).Msg("synchronous pool refill failed")
		}
		token, ok, err = a.queue.ListPopLeft(ctx, a.key)
		if err != nil {
			metrics.PoolExhausted.Inc()
			return "", errors.Wrapf(domain.ErrPoolExhausted, "pop after refill: %v", err)
		}
		if !ok {
			metrics.PoolExhausted.Inc()
			return "", domain.ErrPoolExhausted
		}
	}
	a.checkLowWater(ctx)
	return token, nil
}

func (a *Allocator) checkLowWater(ctx context.Context) {
	n, err := a.queue.ListLength(ctx, a.key)
	if err != nil {
		util.Warn().Err(err).Msg("pool length check failed")
		return
	}
	metrics.PoolAvailable.Set(float64(n))
	if n < int64(a.lowWater) {
		a.refillAsync()
	}
}

// AvailableCount is the current queue length.
func (a *Allocator) AvailableCount(ctx context.Context) (int64, error) {
	n, err := a.queue.ListLength(ctx, a.key)
	if err != nil {
		return 0, errors.Wrap(err, "pool length")
	}
	metrics.PoolAvailable.Set(float64(n))
	return n, nil
}

// Refill tops the queue up to the batch size when it sits below the low-water
// mark. It never waits for the refill lock: a concurrent caller that finds the
// lock taken returns nil immediately.
func (a *Allocator) Refill(ctx context.Context) error {
	if !a.refillMu.TryLock() {
		util.Debug().Msg("refill already in progress, skipping")
		metrics.PoolRefills.WithLabelValues("skipped").Inc()
		return nil
	}
	defer a.refillMu.Unlock()

	current, err := a.queue.ListLength(ctx, a.key)
	if err != nil {
		metrics.PoolRefills.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "read pool size")
	}
	if current >= int64(a.lowWater) {
		util.Debug().Int64("available", current).Msg("pool has enough tokens, skipping refill")
		metrics.PoolRefills.WithLabelValues("skipped").Inc()
		return nil
	}
	need := a.batchSize - int(current)
	if need <= 0 {
		return nil
	}
	util.Info().Int("count", need).Int64("available", current).Msg("refilling token pool")
	tokens, err := a.gen.GenerateBatch(ctx, need)
	if err != nil {
		metrics.PoolRefills.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "generate batch")
	}
	values := make([]string, len(tokens))
	for i, t := range tokens {
		values[i] = t.Token
	}
	total, err := a.queue.ListPushRight(ctx, a.key, values...)
	if err != nil {
		metrics.PoolRefills.WithLabelValues("failed").Inc()
		return errors.Wrap(err, "push tokens")
	}
	metrics.PoolRefills.WithLabelValues("ok").Inc()
	metrics.PoolAvailable.Set(float64(total))
	util.Info().Int("added", len(values)).Int64("total", total).Msg("token pool refilled")
	return nil
}

func (a *Allocator) refillAsync() {
	if !a.asyncPending.CompareAndSwap(false, true) {
		return
	}
	a.lifeMu.Lock()
	if a.closed {
		a.lifeMu.Unlock()
		a.asyncPending.Store(false)
		return
	}
	a.bgWg.Add(1)
	a.lifeMu.Unlock()
	go func() {
		defer a.bgWg.Done()
		defer a.asyncPending.Store(false)
		defer func() {
			if r := recover(); r != nil {
				util.Error().Interface("panic", r).Msg("background refill panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(a.bgCtx, a.refillTimeout)
		defer cancel()
		if err := a.Refill(ctx); err != nil {
			util.Error().Err(err).Msg("background refill failed")
		}
	}()
}

// Close cancels background refills and waits for them to return.
func (a *Allocator) Close() {
	a.lifeMu.Lock()
	if a.closed {
		a.lifeMu.Unlock()
		return
	}
	a.closed = true
	a.lifeMu.Unlock()
	a.bgCancel()
	a.bgWg.Wait()
}
