package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clinicore/compliance-engine/internal/api/rest"
	"github.com/clinicore/compliance-engine/internal/infrastructure/cache"
	"github.com/clinicore/compliance-engine/internal/infrastructure/config"
	"github.com/clinicore/compliance-engine/internal/infrastructure/database"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
	"github.com/clinicore/compliance-engine/internal/infrastructure/repository"
	"github.com/clinicore/compliance-engine/internal/infrastructure/telemetry"
	"github.com/clinicore/compliance-engine/internal/metrics"
	auditsvc "github.com/clinicore/compliance-engine/internal/service/audit"
	compliancesvc "github.com/clinicore/compliance-engine/internal/service/compliance"
	consentsvc "github.com/clinicore/compliance-engine/internal/service/consent"
	retentionsvc "github.com/clinicore/compliance-engine/internal/service/retention"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		migrateOnly = flag.Bool("migrate", false, "Run database migrations and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *migrateOnly {
		if err := runMigrations(cfg); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations completed successfully")
		return
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.InitTracing(ctx, "compliance-engine", cfg.Version, cfg.Telemetry)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	engineMetrics := metrics.New(registry)

	publisher := events.NewPublisher(logger.Named("events"), cfg.Engine.NotifyBuffer)
	defer publisher.Close()

	auditRepo := repository.NewAuditRepository(pool)
	consentRepo := repository.NewConsentRepository(pool)
	retentionRepo := repository.NewRetentionRepository(pool)

	trail := auditsvc.NewTrail(logger.Named("audit"), auditRepo, publisher, engineMetrics)

	var consentCache consentsvc.ValidityCache
	if cfg.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		consentCache = cache.NewConsentCache(client, cfg.Redis.CacheTTL)
	}

	consentService := consentsvc.NewService(
		logger.Named("consent"), consentRepo, consentCache, publisher, engineMetrics)

	engine := compliancesvc.NewEngine(
		logger.Named("engine"), trail, publisher, engineMetrics,
		compliancesvc.EngineConfig{
			ParallelEvaluation: cfg.Engine.ParallelEvaluation,
			EvaluationTimeout:  cfg.Engine.EvaluationTimeout,
		})
	if err := engine.Reload(compliancesvc.DefaultRules()); err != nil {
		logger.Fatal("failed to load default rules", zap.Error(err))
	}

	reporter := compliancesvc.NewReporter(logger.Named("reporter"), trail)

	manager, err := retentionsvc.NewManager(
		logger.Named("retention"), retentionRepo, trail, publisher, engineMetrics,
		retentionsvc.ManagerConfig{
			BatchSize:        cfg.Retention.BatchSize,
			ActionsPerSecond: cfg.Retention.ActionsPerSecond,
			PseudonymSalt:    cfg.Retention.PseudonymSalt,
		})
	if err != nil {
		logger.Fatal("failed to create retention manager", zap.Error(err))
	}

	scheduler := retentionsvc.NewScheduler(manager, cfg.Retention.Schedule, logger.Named("scheduler"))
	if err := scheduler.Start(ctx); err != nil {
		logger.Fatal("failed to start retention scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	mux := http.NewServeMux()
	apiHandler := rest.NewHandler(logger.Named("api"), engine, reporter, consentService, manager, trail)
	apiHandler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("compliance engine started",
		zap.Int("rules", len(engine.Rules())),
		zap.Int("retention_policies", len(manager.Policies())),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}

func runMigrations(cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
