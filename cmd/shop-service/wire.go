// cmd/shop-service/wire.go
package main

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/errsink"
	"storefront/internal/pkg/httpclient"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/metrics"
	"storefront/internal/pkg/mq"
	"storefront/internal/pkg/ratelimit"
	"storefront/internal/pkg/redis"
	"storefront/internal/pkg/sweeper"
	"storefront/internal/service/shop/application"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
	"storefront/internal/service/shop/infrastructure"
	"storefront/internal/service/shop/infrastructure/adapter"
	"storefront/internal/service/shop/infrastructure/memory"
	"storefront/internal/service/shop/infrastructure/tax"
	"storefront/internal/service/shop/interfaces"
	"storefront/internal/zookeeper"
)

type repositories struct {
	tenants  domain.TenantRepository
	products domain.ProductRepository
	carts    domain.CartRepository
	orders   domain.OrderRepository
	tx       domain.TxRunner
}

// closers 按注册的逆序执行。
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func openRepositories(cfg Config, done *closers) (repositories, error) {
	if cfg.Storage.Driver == "memory" {
		zlog.Warn().Msg("using in-memory storage, data is lost on restart")
		return repositories{
			tenants:  memory.NewTenantRepository(),
			products: memory.NewProductRepository(),
			carts:    memory.NewCartRepository(),
			orders:   memory.NewOrderRepository(),
			tx:       memory.TxRunner{},
		}, nil
	}

	dsn := cfg.Storage.DSN
	if cfg.Storage.Driver == "mysql" {
		dsn = cfg.Infra.MySQL.DSN
	}
	db, err := infrastructure.Open(cfg.Storage.Driver, dsn)
	if err != nil {
		return repositories{}, err
	}
	if sqlDB, err := db.DB(); err == nil {
		done.add(func() { _ = sqlDB.Close() })
	}
	if err := infrastructure.Migrate(db); err != nil {
		return repositories{}, err
	}
	return repositories{
		tenants:  infrastructure.NewGormTenantRepository(db),
		products: infrastructure.NewGormProductRepository(db),
		carts:    infrastructure.NewGormCartRepository(db),
		orders:   infrastructure.NewGormOrderRepository(db),
		tx:       infrastructure.NewGormTxRunner(db),
	}, nil
}

func seedTenants(ctx context.Context, tenants domain.TenantRepository, seeds []TenantSeed, clk clock.Clock) error {
	for _, s := range seeds {
		t := &domain.Tenant{
			ID: s.ID, Slug: s.Slug, Name: s.Name, Email: s.Email,
			EcommerceEnabled: s.EcommerceEnabled, OrderCodePrefix: s.OrderCodePrefix,
			CreatedAt: clk.Now(),
		}
		if err := tenants.Save(ctx, t); err != nil {
			return err
		}
		zlog.Info().Str("tenant", s.ID).Bool("ecommerce", s.EcommerceEnabled).Msg("tenant seeded")
	}
	return nil
}

// wire 组装所有依赖并注册路由。没有配置的外部组件（Redis/ZooKeeper/Kafka）退化为进程内实现或关闭对应功能。
func wire(app bootstrap.AppCtx, cfg Config) (cleanup func(context.Context), err error) {
	var done closers
	defer func() {
		if err != nil {
			done.run()
		}
	}()

	clk := clock.NewSystem()
	m := metrics.New()
	sink := errsink.New(clk)
	m.Registry.MustRegister(sink)

	repos, err := openRepositories(cfg, &done)
	if err != nil {
		return nil, err
	}
	if err := seedTenants(app.Ctx, repos.tenants, cfg.Tenants, clk); err != nil {
		return nil, err
	}

	limiterOpts := []ratelimit.Option{ratelimit.WithMetrics(m.RateLimitDecisions)}
	if len(cfg.Infra.Redis.Addrs) > 0 {
		rc, err := redis.NewClient(cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return nil, err
		}
		done.add(func() { _ = rc.Close() })
		repos.products = infrastructure.NewCachedProductRepository(repos.products, rc.GetClient(), cfg.ProductCache.TTL)
		if cfg.RateLimiting.Backend == "redis" {
			store, err := ratelimit.NewRedisStore(rc)
			if err != nil {
				return nil, err
			}
			limiterOpts = append(limiterOpts, ratelimit.WithStore(store))
		}
	}
	limiter := ratelimit.New(cfg.RateLimiting, limiterOpts...)

	lockOpts := []keyedmutex.Option{keyedmutex.WithMetrics(m.LockWait, m.LocksHeld)}
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		done.add(conn.Close)
		locker, err := zookeeper.NewLocker(conn, cfg.Infra.Zookeeper.LockRoot)
		if err != nil {
			return nil, err
		}
		lockOpts = append(lockOpts, keyedmutex.WithBackend(locker))
	}
	locks := keyedmutex.New(lockOpts...)

	var notifier port.Notifier
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, adapter.EmailTopic)
		done.add(func() { _ = writer.Close() })
		notifier = adapter.NewNotificationKafkaAdapter(writer, cfg.Notification.From)
	} else {
		zlog.Warn().Msg("kafka is not configured, order confirmations are disabled")
	}

	taxes, err := tax.NewRegistry(cfg.Tax)
	if err != nil {
		return nil, err
	}
	paypal := adapter.NewPayPalHTTPAdapter(httpclient.NewClient(app.Tracer), cfg.PayPal, clk)
	flags := adapter.NewTenantFeatureFlags(repos.tenants, cfg.Features)

	hub := interfaces.NewHub()
	go hub.Run(app.Ctx)

	gate := application.NewTenantGate(repos.tenants, flags, app.Tracer)
	catalog := application.NewProductService(gate, repos.products, locks, clk, app.Tracer)
	carts := application.NewCartService(gate, repos.carts, repos.products, taxes, locks, clk, cfg.Cart, app.Tracer)
	orders := application.NewOrderService(gate, repos.orders, repos.products, repos.carts, repos.tx, locks,
		application.NewOrderNumberGenerator(repos.orders, clk), taxes, notifier, hub, m.OrdersCreated, clk, cfg.Currency, app.Tracer)
	payments := application.NewPaymentService(gate, orders, paypal, sink, app.Tracer)

	handler := interfaces.NewShopHandler(gate, catalog, carts, orders, payments, hub, limiter, sink, locks, m, app.Tracer, cfg.AdminToken)
	if err := handler.TrustProxies(cfg.TrustedProxies...); err != nil {
		return nil, err
	}
	handler.RegisterRoutes(app.Mux)
	if cfg.AdminToken == "" {
		zlog.Warn().Msg("admin token is not set, /admin routes are unauthenticated")
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = sweeper.New(m.SweepRemoved, application.SweepJobs(cfg.Sweep, carts, orders, locks, limiter)...).Run(app.Ctx)
	}()

	zlog.Info().Str("storage", cfg.Storage.Driver).Str("rate_limit_backend", cfg.RateLimiting.Backend).
		Bool("distributed_locks", len(cfg.Infra.Zookeeper.Servers) > 0).Msg("✅ shop-service wired")

	return func(ctx context.Context) {
		select {
		case <-sweepDone:
		case <-ctx.Done():
		}
		done.run()
	}, nil
}

var _ port.Notifier = (*adapter.NotificationKafkaAdapter)(nil)
