package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	dashboardapp "github.com/erp/console/internal/application/dashboard"
	scopeapp "github.com/erp/console/internal/application/scope"
	sessionapp "github.com/erp/console/internal/application/session"
	"github.com/erp/console/internal/domain/readmodel"
	"github.com/erp/console/internal/domain/session"
	"github.com/erp/console/internal/infrastructure/apiclient"
	"github.com/erp/console/internal/infrastructure/cache"
	"github.com/erp/console/internal/infrastructure/config"
	"github.com/erp/console/internal/infrastructure/logger"
	"github.com/erp/console/internal/infrastructure/scheduler"
	"github.com/erp/console/internal/infrastructure/storage"
	"github.com/erp/console/internal/infrastructure/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting ERP Console",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("backend", cfg.API.BaseURL),
	)

	ctx := context.Background()

	// Initialize telemetry
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	cacheMetrics, err := telemetry.NewCacheMetrics(meterProvider)
	if err != nil {
		log.Fatal("Failed to create cache metrics", zap.Error(err))
	}

	// Durable preference storage: file-backed when a path is configured
	var durable storage.KeyValueStore
	if cfg.Storage.Path != "" {
		durable, err = storage.NewFileStore(cfg.Storage.Path, storage.WithFileStoreLogger(log))
		if err != nil {
			log.Fatal("Failed to open durable store", zap.Error(err))
		}
		log.Info("Durable store opened", zap.String("path", cfg.Storage.Path))
	} else {
		durable = storage.NewMemoryStore()
		log.Warn("No storage path configured, preferences will not survive restarts")
	}
	defer func() {
		if err := durable.Close(); err != nil {
			log.Error("Error closing durable store", zap.Error(err))
		}
	}()

	// Preferences and session state go through the tiered store: the durable
	// tier is authoritative, the in-memory tier is the fast path.
	prefs := storage.NewPreferenceStore(durable, storage.NewMemoryStore(), log)

	// Optional ephemeral cache tier shared by all read-model caches
	var entryStore cache.EntryStore
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisEntryStore(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatal("Failed to connect to Redis cache tier", zap.Error(err))
		}
		defer func() {
			if err := redisStore.Close(); err != nil {
				log.Error("Error closing Redis cache tier", zap.Error(err))
			}
		}()
		entryStore = redisStore
		log.Info("Redis cache tier connected", zap.String("addr", cfg.Redis.Addr()))
	}

	// Backend API client: credential verifier and project directory
	client := apiclient.NewClient(apiclient.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
	}, apiclient.WithDurableStore(prefs), apiclient.WithLogger(log))

	// Session and scope managers
	sessions := sessionapp.NewManager(client, prefs, sessionapp.ManagerConfig{
		InitTimeout: cfg.Session.InitTimeout,
	}, log)
	scopes := scopeapp.NewManager(client, prefs, log)

	// Scope follows the session: authenticated activates, anything else that
	// ends the session deactivates.
	sessions.OnStatusChange(func(snapshot session.Session) {
		switch snapshot.Status {
		case session.StatusAuthenticated:
			if err := scopes.Activate(ctx, snapshot.Profile); err != nil {
				log.Error("Failed to activate scope", zap.Error(err))
			}
		case session.StatusUnauthenticated, session.StatusExpired:
			if scopes.Active() {
				scopes.Deactivate()
			}
		}
	})

	// Read-model caches and dashboard bindings
	cacheCfg := cache.Config{
		TTL:             cfg.Cache.TTL,
		MaxStaleAge:     cfg.Cache.MaxStaleAge,
		RefreshTimeout:  cfg.Cache.RefreshTimeout,
		CleanupInterval: cfg.Cache.CleanupInterval,
		Enabled:         cfg.Cache.Enabled,
	}

	salesCache := newDashboardCache[readmodel.SalesSummary](cacheCfg, log, entryStore, cacheMetrics)
	wastageCache := newDashboardCache[readmodel.WastageSummary](cacheCfg, log, entryStore, cacheMetrics)
	pettyCashCache := newDashboardCache[[]readmodel.PettyCashBalance](cacheCfg, log, entryStore, cacheMetrics)
	branchCache := newDashboardCache[[]readmodel.Branch](cacheCfg, log, entryStore, cacheMetrics)
	orderCache := newDashboardCache[[]readmodel.RecentOrder](cacheCfg, log, entryStore, cacheMetrics)
	stockCache := newDashboardCache[[]readmodel.StockWarning](cacheCfg, log, entryStore, cacheMetrics)
	defer func() {
		for _, c := range []interface{ Close() error }{
			salesCache, wastageCache, pettyCashCache, branchCache, orderCache, stockCache,
		} {
			if err := c.Close(); err != nil {
				log.Error("Error closing cache", zap.Error(err))
			}
		}
	}()

	bindingCfg := dashboardapp.BindingConfig{LoadTimeout: cfg.Cache.RefreshTimeout}
	bindings := struct {
		Sales     *dashboardapp.Binding[readmodel.SalesSummary]
		Wastage   *dashboardapp.Binding[readmodel.WastageSummary]
		PettyCash *dashboardapp.Binding[[]readmodel.PettyCashBalance]
		Branches  *dashboardapp.Binding[[]readmodel.Branch]
		Orders    *dashboardapp.Binding[[]readmodel.RecentOrder]
		Stock     *dashboardapp.Binding[[]readmodel.StockWarning]
	}{
		Sales:     dashboardapp.NewBinding(readmodel.LogicalSalesSummary, salesCache, client.SalesSummary, sessions, scopes, bindingCfg, log),
		Wastage:   dashboardapp.NewBinding(readmodel.LogicalWastage, wastageCache, client.WastageSummary, sessions, scopes, bindingCfg, log),
		PettyCash: dashboardapp.NewBinding(readmodel.LogicalPettyCash, pettyCashCache, client.PettyCashBalances, sessions, scopes, bindingCfg, log),
		Branches:  dashboardapp.NewBinding(readmodel.LogicalBranchList, branchCache, client.Branches, sessions, scopes, bindingCfg, log),
		Orders:    dashboardapp.NewBinding(readmodel.LogicalRecentOrders, orderCache, client.RecentOrders, sessions, scopes, bindingCfg, log),
		Stock:     dashboardapp.NewBinding(readmodel.LogicalStockWarnings, stockCache, client.StockWarnings, sessions, scopes, bindingCfg, log),
	}
	// Session/scope transitions drive cache invalidation
	subscriber := dashboardapp.NewInvalidationSubscriber(log,
		salesCache, wastageCache, pettyCashCache, branchCache, orderCache, stockCache)
	subscriber.Register(sessions, scopes)

	// Restore the previous session, bounded by the init timeout. The ready
	// channel is closed immediately since all local stores are already open.
	ready := make(chan struct{})
	close(ready)

	initCtx, cancel := context.WithTimeout(ctx, cfg.Session.InitTimeout+5*time.Second)
	if err := sessions.Initialize(initCtx, ready); err != nil {
		log.Info("No session restored", zap.Error(err))
	}
	cancel()
	log.Info("Console core initialized", zap.String("status", string(sessions.Status())))

	// A restored session starts the first dashboard loads right away so the
	// UI has data by the time it attaches.
	if sessions.Status() == session.StatusAuthenticated {
		log.Info("Priming dashboard caches")
		bindings.Sales.Read(ctx)
		bindings.Wastage.Read(ctx)
		bindings.PettyCash.Read(ctx)
		bindings.Branches.Read(ctx)
		bindings.Orders.Read(ctx)
		bindings.Stock.Read(ctx)
	}

	// Background maintenance: session keep-alive and project reconciliation
	refresher := scheduler.NewPeriodicRefresher(sessions, scopes, client, scheduler.Config{
		SessionInterval:   cfg.Session.RefreshInterval,
		ReconcileInterval: cfg.Session.ReconcileInterval,
		CallTimeout:       cfg.API.Timeout,
	}, log)
	if err := refresher.Start(); err != nil {
		log.Fatal("Failed to start background refresher", zap.Error(err))
	}
	defer refresher.Stop()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}
	log.Info("Console stopped")
}

// newDashboardCache builds one read-model cache with the shared tiers attached
func newDashboardCache[T any](
	cfg cache.Config,
	log *zap.Logger,
	store cache.EntryStore,
	metrics cache.Metrics,
) *cache.KeyedTTLCache[T] {
	opts := []cache.Option[T]{
		cache.WithConfig[T](cfg),
		cache.WithLogger[T](log),
		cache.WithMetrics[T](metrics),
	}
	if store != nil {
		opts = append(opts, cache.WithEntryStore[T](store))
	}
	return cache.New(opts...)
}
