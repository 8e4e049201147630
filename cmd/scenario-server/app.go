package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medsim/scenario/internal/config"
	"github.com/medsim/scenario/internal/domain/timeline"
	"github.com/medsim/scenario/internal/platform/cache"
	"github.com/medsim/scenario/internal/platform/db"
)

// app holds the wiring shared by the server and the CLI commands.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *cache.Redis
	svc      *timeline.Service
	resolver *timeline.Resolver
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

// loadApp reads the configuration and opens the store and the graph cache.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg, os.Stderr))
}

func openApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var store timeline.Store
	if cfg.UsesPostgres() {
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		store = timeline.NewPGStore(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	} else {
		store = timeline.NewMemoryStore().Store()
		logger.Warn().Msg("using in-memory storage, scenarios are lost on exit")
	}

	a.svc = timeline.NewService(store, logger)
	a.resolver = timeline.NewResolver(a.svc)

	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = r
		a.svc.SetCache(r)
		logger.Info().Msg("graph cache: redis")
	} else {
		a.svc.SetCache(cache.NewLocal(cfg.CacheTTL))
		logger.Debug().Msg("graph cache: in-process")
	}
	return a, nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    cfg.DBMaxConns,
		MinConns:    cfg.DBMinConns,
		Schema:      cfg.DBSchema,
	})
}

// healthChecks lists the dependencies reported by GET /health.
func (a *app) healthChecks() []db.HealthCheck {
	var checks []db.HealthCheck
	if a.pool != nil {
		checks = append(checks, db.PoolCheck(a.pool))
	}
	if a.redis != nil {
		checks = append(checks, db.HealthCheck{Name: "cache", Ping: a.redis.Ping})
	}
	return checks
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func requirePostgres(cfg *config.Config) error {
	if !cfg.UsesPostgres() {
		return fmt.Errorf("this command needs STORAGE_BACKEND=%s", config.BackendPostgres)
	}
	return nil
}
