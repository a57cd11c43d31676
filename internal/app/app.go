package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"creditgrid/internal/clients"
	"creditgrid/internal/config"
	"creditgrid/internal/dircache"
	"creditgrid/internal/forward"
	httpserver "creditgrid/internal/http"
	"creditgrid/internal/http/handlers"
	"creditgrid/internal/identity"
	"creditgrid/internal/ledger"
	"creditgrid/internal/meter"
	"creditgrid/internal/pricing"
	"creditgrid/internal/route"
	"creditgrid/internal/storage"
	"creditgrid/internal/storage/memory"
	"creditgrid/internal/storage/postgres"
	libdb "creditgrid/libs/db"
	libredis "creditgrid/libs/redis"
)

const migrateTimeout = 30 * time.Second

// App wires the billing core dependencies.
type App struct {
	server  *httpserver.Server
	sweeper *ledger.Sweeper
	store   storage.Store
	broker  *clients.BrokerClient
	redis   *redis.Client
	logger  *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	var connectors forward.ConnectorSource = store
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = libredis.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			store.Close()
			return nil, err
		}
		cacheTTL := time.Duration(cfg.Billing.CacheTTLSeconds) * time.Second
		connectors = dircache.New(redisClient, store, cacheTTL, logger)
	}

	ledgerSvc := ledger.New(store, ledger.Config{
		VATPercent:  cfg.Billing.VATPercent,
		TaxAccount:  cfg.Billing.TaxAccount,
		CreditQuota: cfg.Billing.CreditQuota,
		RefundQuota: cfg.Billing.RefundQuota,
		TTLSeconds:  cfg.Billing.TransactionTTL,
	}, logger)
	meterSvc := meter.New(store, logger)
	pricingSvc := pricing.New(
		ledgerSvc,
		store,
		pricing.FlatSharePricer{Price: cfg.Billing.SharePrice},
		cfg.Billing.VATPercent,
		logger,
	)
	resolver := route.NewResolver(store)
	idResolver := identity.NewTokenResolver(cfg.Identity.Secret)
	broker := clients.NewBrokerClient(cfg.Broker.URL, logger)

	pipeline := forward.New(
		resolver,
		ledgerSvc,
		meterSvc,
		pricingSvc,
		store,
		connectors,
		idResolver,
		broker,
		forward.Config{
			HeartbeatToken: cfg.Billing.HeartbeatToken,
			SizePricePerKB: cfg.Billing.SizePricePerKB,
		},
		logger,
	)

	hb := cfg.Billing.HeartbeatToken
	routes := httpserver.Routes{
		Hold:    handlers.NewHoldHandler(ledgerSvc, hb, logger),
		Ack:     handlers.NewAckHandler(ledgerSvc, hb, logger),
		Confirm: handlers.NewConfirmHandler(ledgerSvc, hb, logger),
		Refund:  handlers.NewRefundHandler(ledgerSvc, hb, logger),
		Pay:     handlers.NewPayHandler(ledgerSvc, logger),
		Sweep:   handlers.NewSweepHandler(ledgerSvc, logger),
		Send:     handlers.NewSendHandler(pipeline, logger),
		Forward:  handlers.NewForwardHandler(pipeline, logger),
		Cron:     handlers.NewCronHandler(pipeline, logger),
		Purchase: handlers.NewPurchaseHandler(pricingSvc, logger),
		Health:   handlers.NewHealthHandler(store),
		Metrics:  promhttp.Handler(),
	}

	server := httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(routes), logger)
	sweepInterval := time.Duration(cfg.Billing.SweepIntervalSeconds) * time.Second
	sweeper := ledger.NewSweeper(ledgerSvc, sweepInterval, logger)

	return &App{
		server:  server,
		sweeper: sweeper,
		store:   store,
		broker:  broker,
		redis:   redisClient,
		logger:  logger,
	}, nil
}

func newStore(cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	if cfg.UseMemoryStore() {
		logger.Warn("using in-process store, state is not durable")
		return memory.New(), nil
	}

	sqlDB, err := libdb.NewPostgresDB(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	pg := postgres.New(sqlDB, logger)

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

// Run starts the sweeper and the HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.sweeper.Run(ctx)
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("failed to close broker connection", zap.Error(err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", zap.Error(err))
	}
}
