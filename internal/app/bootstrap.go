// Package app assembles the checkout service from configuration. Both the API
// and the reconcile worker build the same object graph here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/toko-checkout/internal/cache"
	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/coupon"
	dbgen "github.com/noah-isme/toko-checkout/internal/db/gen"
	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/reconcile"
	"github.com/noah-isme/toko-checkout/internal/resilience"
	"github.com/noah-isme/toko-checkout/internal/shipping"
)

// Dependencies is the wired service graph shared by cmd/api and cmd/worker.
type Dependencies struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Queries      *dbgen.Queries
	TaskClient   *asynq.Client
	Inspector    *asynq.Inspector
	LimiterStore limiter.Store

	Carts    *cart.Store
	Coupons  *coupon.Service
	Shipping *shipping.Store
	Orders   *order.Store
	Attempts *payment.AttemptStore
	Gateways *payment.Registry
	Breakers []*resilience.Breaker
	Enqueuer reconcile.Enqueuer
	Checkout *checkout.Orchestrator
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() error {
	var errs []error
	if d.Inspector != nil {
		errs = append(errs, d.Inspector.Close())
	}
	if d.TaskClient != nil {
		errs = append(errs, d.TaskClient.Close())
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
	return errors.Join(errs...)
}

// Options tune process-specific wiring.
type Options struct {
	ApplicationName string
	// MeterProvider receives Redis client metrics. Nil leaves Redis
	// uninstrumented for metrics; tracing is always on.
	MeterProvider metric.MeterProvider
	Log           zerolog.Logger
}

// Build connects to Postgres and Redis and wires the domain services.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*Dependencies, error) {
	pool, err := NewPool(ctx, cfg, opts.ApplicationName)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{Pool: pool, Queries: dbgen.New(pool)}

	rdb, err := NewRedis(ctx, cfg.RedisURL, opts.MeterProvider, opts.Log)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Redis = rdb

	store, err := NewLimiterStore(rdb)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.LimiterStore = store

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("parse redis uri for tasks: %w", err)
	}
	deps.TaskClient = asynq.NewClient(redisOpt)
	deps.Inspector = asynq.NewInspector(redisOpt)

	gateways, breakers, err := NewGateways(cfg, opts.Log)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Gateways = gateways
	deps.Breakers = breakers

	jsonCache := cache.NewJSON(rdb, cfg.CacheTTL)
	log := opts.Log
	deps.Carts = &cart.Store{Q: deps.Queries}
	deps.Coupons = &coupon.Service{Q: deps.Queries, Cache: jsonCache, Log: log.With().Str("component", "coupon").Logger()}
	deps.Shipping = &shipping.Store{Q: deps.Queries, Cache: jsonCache, Log: log.With().Str("component", "shipping").Logger()}
	deps.Orders = &order.Store{Pool: pool, Q: deps.Queries}
	deps.Attempts = &payment.AttemptStore{Q: deps.Queries}
	deps.Enqueuer = reconcile.Enqueuer{
		Client:    deps.TaskClient,
		Inspector: deps.Inspector,
		Queue:     cfg.ReconcileQueue,
		MaxRetry:  cfg.ReconcileMaxRetry,
		Delay:     cfg.ReconcileDelay,
	}
	deps.Checkout = &checkout.Orchestrator{
		Carts:           deps.Carts,
		Coupons:         deps.Coupons,
		Shipping:        deps.Shipping,
		Orders:          deps.Orders,
		Attempts:        deps.Attempts,
		Gateways:        gateways,
		Reconciler:      deps.Enqueuer,
		Locker:          lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockTTL},
		InitiateTimeout: cfg.GatewayInitiateTimeout,
		VerifyTimeout:   cfg.GatewayVerifyTimeout,
		LockTTL:         cfg.LockTTL,
		CallbackURL:     cfg.PaymentCallbackURL,
		Log:             log.With().Str("component", "checkout").Logger(),
	}
	return deps, nil
}

// NewPool opens a traced pgx pool and pings it.
func NewPool(ctx context.Context, cfg *config.Config, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if applicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if cfg.DBMaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
	}
	if cfg.DBMinConns > 0 {
		poolConfig.MinConns = int32(cfg.DBMinConns)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis opens an instrumented Redis client and pings it.
func NewRedis(ctx context.Context, url string, mp metric.MeterProvider, log zerolog.Logger) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		log.Error().Err(err).Msg("instrument redis tracing")
	}
	if mp != nil {
		if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(mp)); err != nil {
			log.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewLimiterStore wires a rate limiter store backed by Redis.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "checkout:limiter"})
}

// NewGateways registers every gateway with credentials present and returns
// the breakers guarding them. A deployment without any gateway can still
// price carts.
func NewGateways(cfg *config.Config, log zerolog.Logger) (*payment.Registry, []*resilience.Breaker, error) {
	var (
		gateways []payment.Gateway
		breakers []*resilience.Breaker
	)
	if cfg.PaystackSecretKey != "" {
		breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
			WithTarget("paystack").
			WithLogger(log)
		ps, err := payment.NewPaystack(payment.PaystackConfig{
			SecretKey:   cfg.PaystackSecretKey,
			BaseURL:     cfg.PaystackBaseURL,
			Timeout:     cfg.GatewayCallTimeout,
			MaxAttempts: cfg.GatewayMaxAttempts,
			RetryBase:   cfg.GatewayRetryBase,
			Breaker:     breaker,
		})
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, ps)
		breakers = append(breakers, breaker)
	}
	if cfg.StripeSecretKey != "" {
		st, err := payment.NewStripe(payment.StripeConfig{
			APIKey:        cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
		if err != nil {
			return nil, nil, err
		}
		gateways = append(gateways, st)
	}
	return payment.NewRegistry(gateways...), breakers, nil
}
