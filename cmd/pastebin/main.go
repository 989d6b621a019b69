package main

import (
	"context"
	"os"
	"os/signal"
	"pastebin/cfg"
	"pastebin/svc/api"
	"pastebin/svc/blob"
	"pastebin/svc/cache"
	"pastebin/svc/db"
	"pastebin/svc/pool"
	"pastebin/svc/svc"
	"pastebin/svc/util"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck())
	}

	if err := cfg.LoadDotEnv(".env", "../.env"); err != nil {
		util.Fatal().Err(err).Msg("failed to load .env")
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting pastebin API")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer sqlDB.Close()
	util.Info().Str("path", c.DatabasePath).Msg("database initialized")

	content, err := blob.OpenBolt(c.BlobPath, c.BlobBucket)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to open content store")
	}
	defer content.Close()
	util.Info().Str("path", c.BlobPath).Str("bucket", c.BlobBucket).Msg("content store initialized")

	deps := api.Deps{Database: sqlDB, Content: content}
	var kv cache.KV
	if c.RedisURL != "" {
		rdb, err := db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("CRITICAL: Redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode), falling back to in-process cache")
		} else {
			defer rdb.Close()
			kv = rdb
			deps.Cache = rdb
			util.Info().Msg("redis connected")
		}
	}
	if kv == nil {
		local, err := cache.NewLocal(c.LocalCacheSize)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create local cache")
		}
		kv = local
		util.Warn().
			Int("size", c.LocalCacheSize).
			Msg("using in-process cache; the token queue is not shared with other instances")
	}

	pasteCache := cache.NewPaste(kv, c.Cache)
	alloc := pool.NewAllocator(kv, pool.NewStore(sqlDB, c.TokenLength), c.Pool)
	scheduler := pool.NewScheduler(alloc, c.Pool)
	pasteSvc := svc.NewPaste(sqlDB, content, pasteCache, alloc, c)
	reclaimer := svc.NewReclaimer(sqlDB, content, pasteCache, c.Cleanup)
	server := api.NewServer(c, pasteSvc, alloc, deps)

	if err := scheduler.Prime(ctx); err != nil {
		util.Warn().Err(err).Msg("token pool could not be primed, requests will refill on demand")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return reclaimer.Run(gctx) })
	g.Go(func() error { return sqlDB.RunWALMaintenance(gctx) })
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")

	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("shutdown with error")
	}
	alloc.Close()
	pasteSvc.Shutdown()
	util.Info().Msg("Shutdown complete")
}

// healthcheck is the container probe: exit 0 when the metadata store answers.
func healthcheck() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "pastebin.db"
	}
	sqlDB, err := db.NewSQLite(dbPath)
	if err != nil {
		return 1
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
