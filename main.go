package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/treumlabs/risk-engine/internal/api/rest"
	"github.com/treumlabs/risk-engine/internal/infrastructure/cache"
	"github.com/treumlabs/risk-engine/internal/infrastructure/config"
	"github.com/treumlabs/risk-engine/internal/infrastructure/database"
	"github.com/treumlabs/risk-engine/internal/infrastructure/events"
	"github.com/treumlabs/risk-engine/internal/infrastructure/repository"
	"github.com/treumlabs/risk-engine/internal/infrastructure/telemetry"
	"github.com/treumlabs/risk-engine/internal/metrics"
	"github.com/treumlabs/risk-engine/internal/service/alerting"
	assessmentsvc "github.com/treumlabs/risk-engine/internal/service/assessment"
	compliancesvc "github.com/treumlabs/risk-engine/internal/service/compliance"
	limitsvc "github.com/treumlabs/risk-engine/internal/service/limits"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting risk engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = cfg.Version
	telCfg.Environment = cfg.Environment
	telCfg.Enabled = cfg.Telemetry.Enabled
	telCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telCfg.SamplingRate = cfg.Telemetry.SamplingRate

	provider, err := telemetry.Initialize(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry, err := metrics.NewRegistry("riskengine")
	if err != nil {
		return fmt.Errorf("initializing metrics registry: %w", err)
	}

	pool, err := database.NewConnectionPool(&cfg.Database, logger.Named("database"))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	registry.SetDBPoolSize(int64(cfg.Database.MaxOpenConns))

	assessRepo := repository.NewAssessmentRepository(pool.Pool())
	limitRepo := repository.NewLimitRepository(pool.Pool())
	alertRepo := repository.NewAlertRepository(pool.Pool())
	checkRepo := repository.NewComplianceRepository(pool.Pool())

	publisher := events.NewAlertPublisher(logger.Named("events"))
	defer publisher.Close()

	alertEngine := alerting.NewEngine(alertRepo, publisher, logger.Named("alerting"), alerting.Config{
		ScanInterval:     cfg.Alerting.ScanInterval,
		DefaultAlertTTL:  cfg.Alerting.DefaultAlertTTL,
		EscalateCritical: cfg.Alerting.EscalateCritical,
		EscalateHigh:     cfg.Alerting.EscalateHigh,
		EscalateWarning:  cfg.Alerting.EscalateWarning,
	})

	tracker := limitsvc.NewTracker(limitRepo, alertEngine, logger.Named("limits"),
		limitsvc.WithMaxRetries(cfg.Limits.MaxCASRetries))

	complianceEngine := compliancesvc.NewEngine(logger.Named("compliance"), compliancesvc.DefaultRules())

	orchestratorOpts := []assessmentsvc.Option{
		assessmentsvc.WithCheckStore(checkRepo),
	}
	var snapshotCache *cache.SnapshotCache
	if redisCache, err := cache.NewRedisCache(&cfg.Redis, logger.Named("cache")); err != nil {
		// The engine runs without Redis; evaluators just see whatever
		// history the caller supplies, and metrics snapshots are off.
		logger.Warn("redis unavailable, history and snapshot caches disabled", zap.Error(err))
	} else {
		defer redisCache.Close()
		historyCache := cache.NewHistoryCache(redisCache, registry, logger.Named("cache"), cfg.Redis.CacheTTL)
		orchestratorOpts = append(orchestratorOpts, assessmentsvc.WithHistorySource(historyCache))
		snapshotCache = cache.NewSnapshotCache(redisCache, logger.Named("cache"))
	}

	orchestrator := assessmentsvc.NewOrchestrator(
		assessRepo,
		complianceEngine,
		tracker,
		alertEngine,
		logger.Named("assessment"),
		registry,
		assessmentsvc.Config{
			EvaluatorTimeout:  cfg.Assessment.EvaluatorTimeout,
			EscalateScore:     cfg.Assessment.EscalateScore,
			DegradedPenalty:   cfg.Assessment.DegradedPenalty,
			HighRiskCountries: cfg.Assessment.HighRiskCountries,
		},
		orchestratorOpts...,
	)

	alertStream := events.NewWebSocketTransport(publisher, logger.Named("websocket"), events.DefaultWebSocketConfig())

	handlerDeps := rest.HandlerDeps{
		Assessments: orchestrator,
		AssessStore: assessRepo,
		Alerts:      alertEngine,
		AlertStore:  alertRepo,
		Limits:      tracker,
		Checks:      checkRepo,
		DB:          pool.Pool(),
		Version:     cfg.Version,
	}
	if snapshotCache != nil {
		handlerDeps.Snapshots = snapshotCache
	}
	handler := rest.NewHandler(handlerDeps, logger.Named("api"))

	serverCfg := rest.DefaultServerConfig()
	serverCfg.Port = cfg.Server.Port
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	server := rest.NewServer(serverCfg, handler, alertStream, logger.Named("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return alertEngine.Run(gctx) })
	g.Go(func() error { return publishPoolMetrics(gctx, pool, registry) })

	return g.Wait()
}

// publishPoolMetrics mirrors connection pool state onto the scrape
// endpoint every fifteen seconds.
func publishPoolMetrics(ctx context.Context, pool *database.ConnectionPool, registry *metrics.Registry) error {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			stats := pool.Stats()
			rest.UpdateDBPoolMetrics(
				stats.ActiveConnections,
				stats.IdleConnections,
				stats.ActiveConnections+stats.IdleConnections,
				stats.TotalConnections,
			)
			registry.SetDBPoolSize(stats.ActiveConnections + stats.IdleConnections)
		}
	}
}
