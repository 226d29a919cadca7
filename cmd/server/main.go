package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dexgate/dexgate/internal/audit"
	"github.com/dexgate/dexgate/internal/breaker"
	"github.com/dexgate/dexgate/internal/config"
	"github.com/dexgate/dexgate/internal/executor"
	"github.com/dexgate/dexgate/internal/handler"
	"github.com/dexgate/dexgate/internal/market"
	"github.com/dexgate/dexgate/internal/middleware"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/monitor"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/provider"
	"github.com/dexgate/dexgate/internal/reliable"
	"github.com/dexgate/dexgate/internal/repository"
	"github.com/dexgate/dexgate/internal/risk"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/dexgate/dexgate/internal/sentiment"
	"github.com/dexgate/dexgate/internal/service"
	"github.com/dexgate/dexgate/internal/signer"
	"github.com/dexgate/dexgate/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Server.LogLevel)

	// Persistence: Postgres > Memory.
	var positions store.PositionStore
	var orders store.OrderStore
	if cfg.Database.DSN != "" {
		db, err := store.NewDB(cfg.Database.DSN)
		if err == nil {
			logger.Info("connected to PostgreSQL")
			positions = store.NewPostgresPositionStore(db)
			orders = store.NewPostgresOrderStore(db)
		} else {
			logger.Error("failed to connect to DB, falling back to memory", "error", err)
		}
	}
	if positions == nil {
		positions = store.NewMemoryPositionStore()
		orders = store.NewMemoryOrderStore()
	}

	// Usage counters: Redis > Memory.
	var usageRepo risk.UsageRepo
	var idemStore middleware.IdempotencyStore
	var auditRedis *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			logger.Info("connected to Redis")
			usageRepo = redisClient
			auditRedis = redisClient
			idemStore = repository.NewRedisIdempotencyStore(
				redisClient.Redis(), time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
		} else {
			logger.Error("failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if usageRepo == nil {
		usageRepo = risk.NewMemoryUsageStore()
		idemStore = middleware.NewInMemIdempotencyStore()
	}

	// Provider registry and health probing.
	registry := provider.NewRegistry(
		provider.WithDecayAlpha(cfg.Health.DecayAlpha),
		provider.WithHealthyThresholds(cfg.Health.MinSuccessRate, cfg.Health.MaxLatencyMs),
		provider.WithConcurrency(cfg.Health.ProviderConcurrency),
	)
	for _, p := range cfg.Providers {
		registry.Register(p)
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("no RPC providers configured; all upstream calls will fail")
	}

	rpcClient := rpc.NewClient()
	healthMonitor := provider.NewHealthMonitor(registry,
		func(ctx context.Context, p model.Provider) (uint64, error) {
			return rpcClient.GetSlot(ctx, p)
		},
		time.Duration(cfg.Health.ProbeIntervalSeconds)*time.Second)
	healthMonitor.Start()

	// Reliable call layer: breakers keyed per call class and provider.
	breakers := breaker.NewGroup(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryTimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	})
	caller := reliable.NewCaller(registry, breakers, rpcClient, reliable.Config{
		MaxRetries: cfg.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
		Multiplier: cfg.Retry.Multiplier,
	})

	// Audit trail.
	emitterOpts := audit.Options{
		ListKey: cfg.Redis.AuditListKey,
		ListMax: cfg.Redis.AuditListMax,
	}
	if auditRedis != nil {
		emitterOpts.Redis = auditRedis.Redis()
	}
	emitter := audit.NewEmitter(emitterOpts)
	emitter.Start()

	// Risk engine.
	riskEngine := risk.NewEngine(risk.Config{
		MaxOrderValue:       decimal.NewFromFloat(cfg.Risk.MaxOrderValue),
		MaxPositionPct:      decimal.NewFromFloat(cfg.Risk.MaxPositionPct),
		TreasuryValue:       decimal.NewFromFloat(cfg.Risk.TreasuryValue),
		MaxOpenPositions:    cfg.Risk.MaxOpenPositions,
		MaxDailyValue:       decimal.NewFromFloat(cfg.Risk.MaxDailyValue),
		MaxDailyOrders:      cfg.Risk.MaxDailyOrders,
		DailyLossHalt:       decimal.NewFromFloat(cfg.Risk.DailyLossHalt),
		BlacklistedTokenIDs: cfg.Risk.BlacklistedTokenIDs,
	}, usageRepo, positions)

	// Transaction signing sidecar; paper trading never signs.
	var txSigner signer.Signer = signer.Static{}
	if !cfg.Execution.PaperTrading && cfg.Signer.BaseURL != "" {
		txSigner = signer.NewRemote(cfg.Signer.BaseURL, time.Duration(cfg.Signer.TimeoutMs)*time.Millisecond)
	}
	if cfg.Execution.PaperTrading {
		logger.Warn("paper trading mode: no transactions will be sent")
	}

	// Execution router.
	router := executor.NewRouter(caller, txSigner, riskEngine, orders, positions, emitter, executor.Config{
		PaperTrading: cfg.Execution.PaperTrading,
		Schedule: executor.ScheduleConfig{
			TWAPSlices:       cfg.Execution.TWAPSlices,
			TWAPInterval:     time.Duration(cfg.Execution.TWAPIntervalSeconds) * time.Second,
			VWAPSlices:       cfg.Execution.VWAPSlices,
			VWAPBudget:       time.Duration(cfg.Execution.VWAPBudgetSeconds) * time.Second,
			IcebergSlices:    cfg.Execution.IcebergSlices,
			IcebergJitterPct: cfg.Execution.IcebergJitterPct,
		},
		SlippageAbortBps: cfg.Execution.SlippageAbortBps,
	})

	// Market stream on the primary provider feeds the monitor's price
	// checks; quotes are the fallback when the stream is cold.
	var sampler *market.Sampler
	if len(cfg.Providers) > 0 {
		sampler = market.NewSampler(cfg.Providers[0], nil)
		sampler.Start()
		router.SetVolumeSource(sampler.VolumeBuckets)
	}
	priceFn := func(ctx context.Context, tokenID string) (decimal.Decimal, error) {
		if sampler != nil {
			if price, ok := sampler.LastPrice(tokenID); ok {
				return price, nil
			}
			sampler.Subscribe([]string{tokenID})
		}
		quote, err := caller.GetQuote(ctx, rpc.QuoteRequest{TokenID: tokenID, Side: string(model.SideSell)})
		if err != nil {
			return decimal.Zero, err
		}
		return quote.Price, nil
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	positionMonitor := monitor.New(positions, router, riskEngine, priceFn, emitter, monitor.Config{
		TickInterval:  time.Duration(cfg.Monitor.TickIntervalSeconds) * time.Second,
		MaxConcurrent: cfg.Monitor.MaxConcurrent,
	})
	if err := positionMonitor.Recover(rootCtx); err != nil {
		logger.Error("position recovery failed", "error", err)
	}
	positionMonitor.Start(rootCtx)

	sentimentClient := sentiment.NewClient(cfg.Sentiment.BaseURL, time.Duration(cfg.Sentiment.TimeoutMs)*time.Millisecond)

	engine := service.NewEngine(rootCtx, orders, positions, router, positionMonitor, riskEngine, caller, sentimentClient, emitter)

	orderHandler := handler.NewOrderHandler(engine)
	positionHandler := handler.NewPositionHandler(engine)
	adminHandler := handler.NewAdminHandler(engine, registry)

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "dexgate"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg))
	v1.Use(middleware.RateLimitMiddleware(cfg.Auth.RateLimitRPS, cfg.Auth.RateBurst))
	v1.Use(middleware.IdempotencyMiddleware(idemStore))
	{
		v1.POST("/orders", orderHandler.PlaceOrder)
		v1.GET("/orders", orderHandler.ListOrders)
		v1.GET("/orders/:id", orderHandler.GetOrder)
		v1.DELETE("/orders/:id", orderHandler.CancelOrder)

		v1.GET("/positions", positionHandler.ListPositions)
		v1.GET("/positions/:id", positionHandler.GetPosition)
		v1.GET("/positions/:id/events", positionHandler.GetPositionEvents)
		v1.POST("/positions/:id/close", positionHandler.ClosePosition)

		v1.GET("/providers", adminHandler.GetProviders)
		v1.GET("/killswitch", adminHandler.GetKillSwitch)
		v1.POST("/killswitch", adminHandler.EngageKillSwitch)
		v1.DELETE("/killswitch", adminHandler.ReleaseKillSwitch)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("dexgate started", "port", cfg.Server.Port, "paper_trading", cfg.Execution.PaperTrading)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rootCancel()
	positionMonitor.Stop()
	healthMonitor.Stop()
	if sampler != nil {
		sampler.Stop()
	}
	emitter.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	logger.Info("server exiting")
}
