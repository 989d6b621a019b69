package cache

import (
	"context"
	"time"
)

// TTL describes how long a key lives. Absolute pins expiry to an instant;
// Sliding pushes expiry to now+Sliding on every write to the key. The zero
// value means no expiry.
type TTL struct {
	Absolute time.Time
	Sliding  time.Duration
}

func ExpireAt(t time.Time) TTL       { return TTL{Absolute: t} }
func SlidingFor(d time.Duration) TTL { return TTL{Sliding: d} }

// deadline resolves the expiry instant for a write at now. ok is false when
// the key should not be kept at all.
func (t TTL) deadline(now time.Time) (exp time.Time, ok bool) {
	switch {
	case !t.Absolute.IsZero():
		return t.Absolute, t.Absolute.After(now)
	case t.Sliding > 0:
		return now.Add(t.Sliding), true
	default:
		return time.Time{}, true
	}
}

// KV is the distributed key-value store shared by every instance. List
// operations must be atomic on the backing store; the allocation queue relies
// on that for cross-process uniqueness.
type KV interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string, ttl TTL) error
	Remove(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string, ttl TTL) (int64, error)
	ListPopLeft(ctx context.Context, key string) (string, bool, error)
	ListPushRight(ctx context.Context, key string, values ...string) (int64, error)
	ListLength(ctx context.Context, key string) (int64, error)
}
