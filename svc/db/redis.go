package db

import (
	"context"
	"crypto/tls"
	"pastebin/cfg"
	"pastebin/svc/cache"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis is the shared KV used for the paste cache and the token allocation
// queue. Every call runs under its own timeout.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

var _ cache.KV = (*Redis)(nil)

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if opt.TLSConfig != nil {
		opt.TLSConfig.MinVersion = tls.VersionTLS12
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	timeout := c.RedisTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{
		client:  client,
		timeout: timeout,
	}, nil
}
func (r *Redis) GetString(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "get")
	}
	return v, true, nil
}
func (r *Redis) SetString(ctx context.Context, key, value string, ttl cache.TTL) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	switch {
	case !ttl.Absolute.IsZero():
		if !ttl.Absolute.After(time.Now()) {
			return errors.Wrap(r.client.Del(ctx, key).Err(), "drop expired key")
		}
		return errors.Wrap(r.client.SetArgs(ctx, key, value, redis.SetArgs{ExpireAt: ttl.Absolute}).Err(), "set")
	case ttl.Sliding > 0:
		return errors.Wrap(r.client.Set(ctx, key, value, ttl.Sliding).Err(), "set")
	default:
		return errors.Wrap(r.client.Set(ctx, key, value, 0).Err(), "set")
	}
}
func (r *Redis) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "delete")
	}
	return nil
}

// Incr increments key and refreshes its expiry in one MULTI/EXEC round trip.
func (r *Redis) Incr(ctx context.Context, key string, ttl cache.TTL) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		switch {
		case !ttl.Absolute.IsZero():
			pipe.ExpireAt(ctx, key, ttl.Absolute)
		case ttl.Sliding > 0:
			pipe.Expire(ctx, key, ttl.Sliding)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "incr")
	}
	return incr.Val(), nil
}
func (r *Redis) ListPopLeft(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "lpop")
	}
	return v, true, nil
}
func (r *Redis) ListPushRight(ctx context.Context, key string, values ...string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if len(values) == 0 {
		n, err := r.client.LLen(ctx, key).Result()
		return n, errors.Wrap(err, "llen")
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := r.client.RPush(ctx, key, args...).Result()
	if err != nil {
		return 0, errors.Wrap(err, "rpush")
	}
	return n, nil
}
func (r *Redis) ListLength(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, errors.Wrap(err, "llen")
	}
	return n, nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
