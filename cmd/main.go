package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inference-ops-service/internal/api"
	"inference-ops-service/internal/monitoring"
	"inference-ops-service/internal/rollback"
	"inference-ops-service/internal/snapshot"
	"inference-ops-service/internal/worker"
	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/db"
	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/provider"
)

func main() {
	if err := logger.Init(os.Getenv("GO_ENV")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", logger.Err(err))
	}

	logger.Info("Configuration loaded",
		logger.String("environment", cfg.Environment),
		logger.String("port", cfg.Port),
		logger.Duration("monitor_interval", cfg.MonitorInterval),
	)

	services := map[string]api.HealthChecker{}

	redisClient, err := db.NewRedisConnection(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", logger.Err(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Error closing Redis connection", logger.Err(err))
		}
	}()
	services["redis"] = redisClient
	logger.Info("Connected to Redis")

	minioClient, err := db.NewMinioClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to MinIO", logger.Err(err))
	}
	services["minio"] = minioClient
	logger.Info("Connected to MinIO", logger.String("bucket", cfg.SnapshotBucket))

	var recorder rollback.ExecutionRecorder
	if cfg.PostgresEnabled {
		dbConn, err := db.NewPostgresConnection(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer func() {
			if err := dbConn.Close(); err != nil {
				logger.Error("Error closing database connection", logger.Err(err))
			}
		}()

		execRecorder := db.NewExecutionRecorder(dbConn)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = execRecorder.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			logger.Fatal("Failed to prepare rollback tables", logger.Err(err))
		}
		recorder = execRecorder
		services["database"] = api.HealthCheckFunc(dbConn.PingContext)
		logger.Info("Connected to PostgreSQL")
	}

	bus := events.NewBus()
	if cfg.RabbitMQURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", logger.Err(err))
		}
		detach := publisher.Attach(bus)
		defer func() {
			detach()
			if err := publisher.Close(); err != nil {
				logger.Error("Error closing RabbitMQ connection", logger.Err(err))
			}
		}()
		logger.Info("Publishing events to RabbitMQ", logger.String("exchange", events.ExchangeName))
	}

	gateway := provider.NewClient(cfg.ProviderAPIURL, cfg.ProviderAPIKey)

	monitor := monitoring.NewMonitor(gateway, bus, monitoring.Options{
		Thresholds:        cfg.Thresholds,
		HistoryRetention:  cfg.HistoryRetention,
		MaxHistoryEntries: cfg.MaxHistoryEntries,
		Cache:             redisClient,
	})

	snapshots := snapshot.NewStore(gateway, bus, snapshot.Options{
		Thresholds: cfg.Thresholds,
		Archive:    db.NewSnapshotArchive(minioClient.Client, cfg.SnapshotBucket),
	})
	planner := rollback.NewPlanner(snapshots)
	preflight := rollback.NewPreflightChecker(gateway, planner, cfg.Thresholds)
	executor := rollback.NewExecutor(gateway, planner, bus, rollback.ExecutorOptions{
		ReadyAttempts: cfg.RestartReadyAttempts,
		ReadyInterval: cfg.RestartReadyInterval,
		Recorder:      recorder,
	})

	restoreState(monitor, snapshots, redisClient)

	workerPool := worker.NewWorkerPool(cfg, monitor)
	workerPool.Start()
	defer workerPool.Stop()

	apiServer := api.NewServer(cfg, api.Dependencies{
		Monitor:   monitor,
		Snapshots: snapshots,
		Planner:   planner,
		Preflight: preflight,
		Executor:  executor,
		Bus:       bus,
		Services:  services,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     apiServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Starting inference ops service",
			logger.String("port", cfg.Port),
			logger.String("address", fmt.Sprintf("http://localhost:%s", cfg.Port)),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down inference ops service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", logger.Err(err))
	}
	rollbackCtx, rollbackCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer rollbackCancel()
	if err := executor.Shutdown(rollbackCtx); err != nil {
		logger.Error("Rollbacks did not stop in time", logger.Err(err))
	}

	logger.Info("Inference ops service stopped")
}

// restoreState reloads archived snapshots and resumes monitoring of the
// endpoints that were monitored before the restart, then picks up any others
// the provider reports.
func restoreState(monitor *monitoring.Monitor, snapshots *snapshot.Store, cache *db.RedisClient) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if n, err := snapshots.Restore(ctx); err != nil {
		logger.Error("Failed to restore snapshots", logger.Err(err))
	} else {
		logger.Info("Snapshots restored", logger.Int("count", n))
	}

	ids, err := cache.CachedEndpointIDs(ctx)
	if err != nil {
		logger.Error("Failed to read cached endpoints", logger.Err(err))
	}
	alerts := 0
	for _, id := range ids {
		// read before AddEndpoint, which overwrites the cached record
		cached, err := cache.LoadMonitoring(ctx, id)
		if err != nil {
			logger.Warn("Could not read cached monitoring state", logger.String("endpoint_id", id), logger.Err(err))
		}
		if _, err := monitor.AddEndpoint(ctx, id); err != nil {
			logger.Warn("Could not resume monitoring", logger.String("endpoint_id", id), logger.Err(err))
			continue
		}
		if cached != nil {
			alerts += monitor.RestoreAlerts(id, cached.Alerts)
		}
	}

	added, err := monitor.DiscoverEndpoints(ctx)
	if err != nil {
		logger.Error("Endpoint discovery failed", logger.Err(err))
		return
	}
	logger.Info("Monitoring resumed",
		logger.Int("resumed", len(ids)),
		logger.Int("alerts_restored", alerts),
		logger.Int("discovered", added))
}
