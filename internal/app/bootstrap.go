package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/schoolledger/schoolledger/internal/audit"
	"github.com/schoolledger/schoolledger/internal/billing"
	"github.com/schoolledger/schoolledger/internal/expenses"
	"github.com/schoolledger/schoolledger/internal/extrabilling"
	"github.com/schoolledger/schoolledger/internal/observability"
	"github.com/schoolledger/schoolledger/internal/platform/cache"
	"github.com/schoolledger/schoolledger/internal/platform/db"
	"github.com/schoolledger/schoolledger/internal/promotion"
	"github.com/schoolledger/schoolledger/internal/reports"
	"github.com/schoolledger/schoolledger/internal/shared"
	"github.com/schoolledger/schoolledger/internal/store"
	"github.com/schoolledger/schoolledger/report"
)

// Runtime holds the connections and services shared by the server, the
// worker and the admin commands.
type Runtime struct {
	KV      store.KV
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	Cache   *cache.Cache
	Metrics *observability.Metrics
	Audit   *shared.AuditLogger
	PDF     *report.Client

	Idempotency *shared.IdempotencyStore

	Billing      *billing.Service
	Promotion    *promotion.Service
	Expenses     *expenses.Service
	ExtraBilling *extrabilling.Service
	Reports      *reports.Service
	AuditTrail   *audit.Service
}

// OpenStore connects the configured backend. Redis is also dialled for the
// report cache when the store lives elsewhere; a missing Redis then only
// disables caching.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.KV, *redis.Client, *pgxpool.Pool, error) {
	switch cfg.StoreDriver {
	case StoreRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, nil, nil, err
		}
		return store.NewRedisKV(client, cfg.StorePrefix), client, nil, nil
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{
			MaxConns:        cfg.PGMaxConns,
			MaxConnIdleTime: 5 * time.Minute,
			ApplicationName: "schoolledger",
		})
		if err != nil {
			return nil, nil, nil, err
		}
		kv := store.NewPostgresKV(pool, cfg.StorePrefix)
		if err := kv.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return kv, optionalRedis(ctx, cfg, logger), pool, nil
	case StoreMemory:
		return store.NewMemoryKV(), optionalRedis(ctx, cfg, logger), nil, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func optionalRedis(ctx context.Context, cfg *Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, report cache disabled", slog.Any("error", err))
		return nil
	}
	return client
}

// NewRuntime opens the store and builds every service over it.
func NewRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	kv, client, pool, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt := BuildRuntime(cfg, logger, kv, client)
	rt.Pool = pool
	return rt, nil
}

// BuildRuntime wires services over an already opened store. client may be nil.
func BuildRuntime(cfg *Config, logger *slog.Logger, kv store.KV, client *redis.Client) *Runtime {
	rt := &Runtime{
		KV:      kv,
		Redis:   client,
		Cache:   cache.NewCache(client, cfg.StorePrefix, cfg.ReportCacheTTL),
		Metrics: observability.NewMetrics(),
		Audit:   shared.NewAuditLogger(kv, cfg.AuditRetention),
		PDF:     report.NewClient(cfg.GotenbergURL),

		Idempotency: shared.NewIdempotencyStore(kv, cfg.IdempotencyTTL),
	}

	students := billing.NewRepository(kv)
	charges := extrabilling.NewRepository(kv)
	spend := expenses.NewRepository(kv)

	rt.Billing = billing.NewService(students, rt.Audit, logger).
		WithCache(rt.Cache).
		WithMetrics(rt.Metrics)
	rt.Promotion = promotion.NewService(promotion.NewRepository(kv), students, rt.Audit, logger).
		WithCache(rt.Cache).
		WithMetrics(rt.Metrics)
	rt.Expenses = expenses.NewService(spend, rt.Audit, logger).
		WithCache(rt.Cache)
	rt.ExtraBilling = extrabilling.NewService(charges, students, rt.Audit, logger).
		WithCache(rt.Cache).
		WithMetrics(rt.Metrics)
	rt.Reports = reports.NewService(students, charges, spend, logger).
		WithCache(rt.Cache).
		WithPDF(rt.PDF).
		WithLocale(cfg.ReportLocale)
	rt.AuditTrail = audit.NewService(rt.Audit)
	return rt
}

// Close releases the connections opened by NewRuntime.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
