package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/parcelhub/ledger/internal/ledger"
	"github.com/parcelhub/ledger/internal/ledger/memory"
	"github.com/parcelhub/ledger/internal/platform/cache"
	"github.com/parcelhub/ledger/internal/platform/db"
	"github.com/parcelhub/ledger/internal/shared"
	"github.com/parcelhub/ledger/migrations"
)

// LedgerRuntime bundles the ledger service with the connections it owns.
type LedgerRuntime struct {
	Service *ledger.Service
	Pool    *pgxpool.Pool
	Redis   *redis.Client

	logger *slog.Logger
}

// LedgerParams configures OpenLedger.
type LedgerParams struct {
	Logger     *slog.Logger
	Publisher  ledger.Publisher
	Registerer prometheus.Registerer
	// Migrate applies embedded migrations before the service starts.
	Migrate bool
}

// OpenLedger connects the configured store and builds the ledger service.
// The memory store skips Postgres and Redis entirely.
func OpenLedger(ctx context.Context, cfg *Config, params LedgerParams) (*LedgerRuntime, error) {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lc, err := cfg.LedgerConfig()
	if err != nil {
		return nil, err
	}
	opts := []ledger.Option{ledger.WithLogger(logger)}
	if params.Publisher != nil {
		opts = append(opts, ledger.WithPublisher(params.Publisher))
	}
	if params.Registerer != nil {
		opts = append(opts, ledger.WithMetrics(ledger.NewMetrics(params.Registerer)))
	}

	rt := &LedgerRuntime{logger: logger}
	if cfg.UsesMemoryStore() {
		logger.Warn("ledger running on the in-memory store")
		rt.Service = ledger.NewService(memory.New(), lc, opts...)
		return rt, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions())
	if err != nil {
		return nil, err
	}
	rt.Pool = pool
	if params.Migrate {
		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", slog.Any("files", applied))
		}
	}

	rt.Redis, err = cache.New(ctx, cfg.CacheOptions())
	if err != nil {
		pool.Close()
		return nil, err
	}

	opts = append(opts,
		ledger.WithAudit(shared.NewAuditLogger(pool)),
		ledger.WithSignalDeduper(shared.NewIdempotencyStore(pool)),
		ledger.WithStatsCache(ledger.NewStatsCache(rt.Redis, cfg.StatsCacheTTL)),
		ledger.WithLocker(shared.NewRedisLock(rt.Redis)),
	)
	rt.Service = ledger.NewService(ledger.NewRepository(pool), lc, opts...)
	return rt, nil
}

// Ping reports whether the backing stores answer.
func (r *LedgerRuntime) Ping(ctx context.Context) error {
	if r.Pool != nil {
		if err := r.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if r.Redis != nil {
		if err := r.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases pooled connections.
func (r *LedgerRuntime) Close() {
	if r.Redis != nil {
		if err := r.Redis.Close(); err != nil {
			r.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
