package cache

import (
	"context"
	"pastebin/cfg"
	"pastebin/metrics"
	"pastebin/pkg/domain"
	"pastebin/svc/util"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Paste is a read-through cache for paste metadata plus a separately keyed
// view counter. Every method is best-effort: backing store failures are
// logged and degrade to a miss or a no-op.
type Paste struct {
	kv         KV
	keyPrefix  string
	viewPrefix string
	viewTTL    time.Duration
}

func NewPaste(kv KV, c cfg.CacheCfg) *Paste {
	if kv == nil {
		panic("paste cache: nil kv")
	}
	p := &Paste{
		kv:         kv,
		keyPrefix:  c.KeyPrefix,
		viewPrefix: c.ViewCountPrefix,
		viewTTL:    c.ViewCountTTL,
	}
	if p.keyPrefix == "" {
		p.keyPrefix = "paste:"
	}
	if p.viewPrefix == "" {
		p.viewPrefix = "views:"
	}
	if p.viewTTL <= 0 {
		p.viewTTL = time.Hour
	}
	return p
}
func (c *Paste) pasteKey(token string) string { return c.keyPrefix + token }
func (c *Paste) viewKey(token string) string  { return c.viewPrefix + token }

func (c *Paste) Get(ctx context.Context, token string) *domain.Paste {
	raw, ok, err := c.kv.GetString(ctx, c.pasteKey(token))
	if err != nil {
		util.Warn().Err(err).Str("token", token).Msg("cache get failed")
		metrics.CacheMisses.Inc()
		return nil
	}
	if !ok {
		util.Debug().Str("token", token).Msg("cache miss")
		metrics.CacheMisses.Inc()
		return nil
	}
	var p domain.Paste
	if err := msgpack.Unmarshal([]byte(raw), &p); err != nil {
		util.Warn().Err(err).Str("token", token).Msg("undecodable cache entry, treating as miss")
		metrics.CacheMisses.Inc()
		return nil
	}
	metrics.CacheHits.Inc()
	return &p
}

// Set caches p until p.ExpiresAt exactly, so a cached entry never outlives
// the paste it describes.
func (c *Paste) Set(ctx context.Context, p *domain.Paste) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		util.Warn().Err(err).Str("token", p.Token).Msg("encode cache entry failed")
		return
	}
	if err := c.kv.SetString(ctx, c.pasteKey(p.Token), string(data), ExpireAt(p.ExpiresAt)); err != nil {
		util.Warn().Err(err).Str("token", p.Token).Msg("cache set failed")
		return
	}
	util.Debug().Str("token", p.Token).Time("expires_at", p.ExpiresAt).Msg("paste cached")
}
func (c *Paste) Remove(ctx context.Context, token string) {
	if err := c.kv.Remove(ctx, c.pasteKey(token), c.viewKey(token)); err != nil {
		util.Warn().Err(err).Str("token", token).Msg("cache remove failed")
	}
}
func (c *Paste) Exists(ctx context.Context, token string) bool {
	_, ok, err := c.kv.GetString(ctx, c.pasteKey(token))
	if err != nil {
		util.Warn().Err(err).Str("token", token).Msg("cache exists check failed")
		return false
	}
	return ok
}

// IncrementViewCount bumps the analytics counter. The durable metadata record
// stays authoritative for view counts.
func (c *Paste) IncrementViewCount(ctx context.Context, token string) {
	n, err := c.kv.Incr(ctx, c.viewKey(token), SlidingFor(c.viewTTL))
	if err != nil {
		util.Warn().Err(err).Str("token", token).Msg("cache view increment failed")
		return
	}
	util.Debug().Str("token", token).Int64("views", n).Msg("cache view count incremented")
}
func (c *Paste) ViewCount(ctx context.Context, token string) int64 {
	raw, ok, err := c.kv.GetString(ctx, c.viewKey(token))
	if err != nil {
		util.Warn().Err(err).Str("token", token).Msg("cache view count read failed")
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
