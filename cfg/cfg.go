package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port           string
	Environment    string
	LogLevel       string
	BaseURL        string
	DatabasePath   string
	BlobPath       string
	BlobBucket     string
	RedisURL       string
	RedisUsername  string
	RedisPassword  Secret
	RedisTimeout   time.Duration
	LocalCacheSize int
	DBMaxOpenConns int
	DBMaxIdleConns int
	DBQueryTimeout time.Duration
	ContextTimeout time.Duration
	MetricsUser    string
	MetricsPass    Secret
	MaxPasteSize   int64
	DefaultTTL     time.Duration
	MinTTL         time.Duration
	MaxTTL         time.Duration
	TokenLength    int
	Pool           PoolCfg
	Cache          CacheCfg
	Cleanup        CleanupCfg
}

type PoolCfg struct {
	Key           string
	LowWater      int
	BatchSize     int
	CheckInterval time.Duration
	InitialDelay  time.Duration
	ErrorBackoff  time.Duration
}

type CacheCfg struct {
	KeyPrefix       string
	ViewCountPrefix string
	ViewCountTTL    time.Duration
}

type CleanupCfg struct {
	Interval     time.Duration
	InitialDelay time.Duration
	BatchSize    int
	BatchPause   time.Duration
}

// LoadDotEnv loads the first env file found in paths. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return errors.Wrapf(err, "load env file %s", p)
		}
		return nil
	}
	return nil
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.BaseURL = strings.TrimRight(getEnv("BASE_URL", ""), "/")
	c.DatabasePath = getEnv("DATABASE_PATH", "pastebin.db")
	c.BlobPath = getEnv("BLOB_PATH", "pastebin-content.db")
	c.BlobBucket = getEnv("BLOB_BUCKET", "pastebin-content")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.Pool.Key = getEnv("POOL_KEY", "hash_pool")
	c.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "paste:")
	c.Cache.ViewCountPrefix = getEnv("VIEW_COUNT_PREFIX", "views:")

	var err error
	ints := []struct {
		dst      *int
		key      string
		fallback int
	}{
		{&c.LocalCacheSize, "LOCAL_CACHE_SIZE", 10000},
		{&c.DBMaxOpenConns, "DB_MAX_OPEN_CONNS", 25},
		{&c.DBMaxIdleConns, "DB_MAX_IDLE_CONNS", 10},
		{&c.TokenLength, "TOKEN_LENGTH", 8},
		{&c.Pool.LowWater, "POOL_LOW_WATER", 500},
		{&c.Pool.BatchSize, "POOL_BATCH_SIZE", 1000},
		{&c.Cleanup.BatchSize, "CLEANUP_BATCH_SIZE", 100},
	}
	for _, it := range ints {
		if *it.dst, err = getInt(it.key, it.fallback); err != nil {
			return nil, err
		}
	}
	durations := []struct {
		dst      *time.Duration
		key      string
		fallback time.Duration
	}{
		{&c.RedisTimeout, "REDIS_TIMEOUT", 5 * time.Second},
		{&c.DBQueryTimeout, "DB_QUERY_TIMEOUT", 5 * time.Second},
		{&c.ContextTimeout, "CONTEXT_TIMEOUT", 10 * time.Second},
		{&c.DefaultTTL, "DEFAULT_TTL", 24 * time.Hour},
		{&c.MinTTL, "MIN_TTL", time.Hour},
		{&c.MaxTTL, "MAX_TTL", 30 * 24 * time.Hour},
		{&c.Pool.CheckInterval, "POOL_CHECK_INTERVAL", 30 * time.Second},
		{&c.Pool.InitialDelay, "POOL_INITIAL_DELAY", 5 * time.Second},
		{&c.Pool.ErrorBackoff, "POOL_ERROR_BACKOFF", 60 * time.Second},
		{&c.Cache.ViewCountTTL, "VIEW_COUNT_TTL", time.Hour},
		{&c.Cleanup.Interval, "CLEANUP_INTERVAL", 60 * time.Minute},
		{&c.Cleanup.InitialDelay, "CLEANUP_INITIAL_DELAY", 30 * time.Second},
		{&c.Cleanup.BatchPause, "CLEANUP_BATCH_PAUSE", time.Second},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}
	c.MaxPasteSize, err = getInt64("MAX_PASTE_SIZE", 512*1024)
	if err != nil {
		return nil, err
	}
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	if c.BlobPath == "" {
		return errors.New("BLOB_PATH is required")
	}
	if c.BlobBucket == "" {
		return errors.New("BLOB_BUCKET is required")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
	}
	if c.LocalCacheSize <= 0 {
		return errors.New("LOCAL_CACHE_SIZE must be positive")
	}
	if c.TokenLength < 6 || c.TokenLength > 12 {
		return errors.New("TOKEN_LENGTH must be between 6 and 12")
	}
	if c.Pool.Key == "" {
		return errors.New("POOL_KEY is required")
	}
	if c.Pool.LowWater <= 0 {
		return errors.New("POOL_LOW_WATER must be positive")
	}
	if c.Pool.BatchSize <= c.Pool.LowWater {
		return errors.New("POOL_BATCH_SIZE must be greater than POOL_LOW_WATER")
	}
	if c.Pool.CheckInterval <= 0 || c.Pool.ErrorBackoff <= 0 {
		return errors.New("POOL_CHECK_INTERVAL and POOL_ERROR_BACKOFF must be positive")
	}
	if c.Pool.InitialDelay < 0 || c.Cleanup.InitialDelay < 0 {
		return errors.New("initial delays cannot be negative")
	}
	if c.Cache.KeyPrefix == "" || c.Cache.ViewCountPrefix == "" {
		return errors.New("CACHE_KEY_PREFIX and VIEW_COUNT_PREFIX are required")
	}
	if c.Cache.KeyPrefix == c.Cache.ViewCountPrefix {
		return errors.New("CACHE_KEY_PREFIX and VIEW_COUNT_PREFIX must differ")
	}
	if c.Cache.ViewCountTTL <= 0 {
		return errors.New("VIEW_COUNT_TTL must be positive")
	}
	if c.Cleanup.Interval <= 0 {
		return errors.New("CLEANUP_INTERVAL must be positive")
	}
	if c.Cleanup.BatchSize <= 0 {
		return errors.New("CLEANUP_BATCH_SIZE must be positive")
	}
	if c.Cleanup.BatchPause < 0 {
		return errors.New("CLEANUP_BATCH_PAUSE cannot be negative")
	}
	if c.MaxPasteSize <= 0 {
		return errors.New("MAX_PASTE_SIZE must be positive")
	}
	if c.MaxPasteSize > 10*1024*1024 {
		return errors.New("MAX_PASTE_SIZE cannot exceed 10MB")
	}
	if c.MinTTL <= 0 || c.MaxTTL < c.MinTTL {
		return errors.New("MIN_TTL must be positive and not exceed MAX_TTL")
	}
	if c.DefaultTTL < c.MinTTL || c.DefaultTTL > c.MaxTTL {
		return fmt.Errorf("DEFAULT_TTL must be within [%s, %s]", c.MinTTL, c.MaxTTL)
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required in production")
		}
	}
	return nil
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
