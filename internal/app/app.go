// Package app wires the ledger to its configured backends.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"capledger.org/internal/audit"
	"capledger.org/internal/cache"
	"capledger.org/internal/config"
	"capledger.org/internal/httpapi"
	"capledger.org/internal/ledger"
	"capledger.org/internal/migrate"
	"capledger.org/internal/obs"
	"capledger.org/internal/store/pg"
)

// App holds the ledger service and the connections behind it.
type App struct {
	Ledger *ledger.Service
	PG     *pg.Store
	Redis  *redis.Client

	closers []func() error
}

// Build connects PostgreSQL and Redis when configured and falls back to the
// in-memory store and no cache otherwise.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	log := obs.Logger()
	a := &App{}

	var (
		store   ledger.Store
		emitter audit.Emitter = audit.LogEmitter{}
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err := pg.Open(ctx, cfg.Postgres.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		a.PG = pgStore
		a.closers = append(a.closers, pgStore.Close)

		if cfg.Postgres.AutoMigrate {
			if err := migrate.NewManager(pgStore.DB()).Up(ctx); err != nil {
				_ = a.Close()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			log.Info().Msg("migrations applied")
		}
		store = pgStore
		emitter = audit.Multi{audit.LogEmitter{}, pgStore}
		log.Info().Msg("ledger store: postgres")
	} else {
		store = ledger.NewInMemory()
		log.Warn().Msg("PG_DSN not set, ledger store: in-memory")
	}

	opts := []ledger.Option{ledger.WithAudit(emitter)}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, ledger.WithStatsCache(cache.NewRedisStats(rdb, cfg.Cache.StatsTTL)))
	}

	a.Ledger = ledger.NewService(store, opts...)
	return a, nil
}

// ReadyProbe checks every connection the app opened.
func (a *App) ReadyProbe() httpapi.ReadyProbe {
	rp := httpapi.ReadyProbe{Redis: a.Redis}
	if a.PG != nil {
		rp.DB = a.PG.DB()
	}
	return rp
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
