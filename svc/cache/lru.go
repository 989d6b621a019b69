package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Local is an in-process KV backed by an LRU for string keys and plain slices
// for lists. It serves single-instance deployments without Redis and tests;
// lists are not shared across processes.
type Local struct {
	c     *lru.Cache[string, item]
	lists map[string][]string
	mu    sync.Mutex
	now   func() time.Time
}
type item struct {
	value string
	exp   time.Time
}

var _ KV = (*Local)(nil)

func NewLocal(size int) (*Local, error) {
	if size <= 0 {
		return nil, errors.New("cache size must be positive")
	}
	if size > 1000000 {
		return nil, errors.New("cache size too large")
	}
	c, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	return &Local{c: c, lists: make(map[string][]string), now: time.Now}, nil
}

// SetClock replaces the time source used for expiry checks.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
func (l *Local) GetString(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	it, ok := l.live(key)
	if !ok {
		return "", false, nil
	}
	return it.value, true, nil
}
func (l *Local) SetString(ctx context.Context, key, value string, ttl TTL) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := ttl.deadline(l.now())
	if !ok {
		l.c.Remove(key)
		return nil
	}
	l.c.Add(key, item{value: value, exp: exp})
	return nil
}
func (l *Local) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		l.c.Remove(k)
		delete(l.lists, k)
	}
	return nil
}
func (l *Local) Incr(ctx context.Context, key string, ttl TTL) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	if it, ok := l.live(key); ok {
		v, err := strconv.ParseInt(it.value, 10, 64)
		if err != nil {
			return 0, errors.New("value is not an integer")
		}
		n = v
	}
	n++
	exp, ok := ttl.deadline(l.now())
	if !ok {
		l.c.Remove(key)
		return n, nil
	}
	l.c.Add(key, item{value: strconv.FormatInt(n, 10), exp: exp})
	return n, nil
}
func (l *Local) ListPopLeft(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.lists[key]
	if len(list) == 0 {
		return "", false, nil
	}
	head := list[0]
	list[0] = ""
	if len(list) == 1 {
		delete(l.lists, key)
	} else {
		l.lists[key] = list[1:]
	}
	return head, true, nil
}
func (l *Local) ListPushRight(ctx context.Context, key string, values ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(values) > 0 {
		l.lists[key] = append(l.lists[key], values...)
	}
	return int64(len(l.lists[key])), nil
}
func (l *Local) ListLength(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.lists[key])), nil
}

// live returns the entry for key if present and unexpired. Caller holds mu.
func (l *Local) live(key string) (item, bool) {
	it, ok := l.c.Get(key)
	if !ok {
		return item{}, false
	}
	if !it.exp.IsZero() && !l.now().Before(it.exp) {
		l.c.Remove(key)
		return item{}, false
	}
	return it, true
}
