// Package main - botflow application entry point
// Hexagonal wiring: adapters are built here and injected into core services
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"botflow/internal/adapters/backend"
	"botflow/internal/adapters/gateway"
	"botflow/internal/adapters/handler"
	"botflow/internal/adapters/repository"
	"botflow/internal/adapters/websocket"
	"botflow/internal/config"
	"botflow/internal/core/ports"
	"botflow/internal/core/services"
	"botflow/internal/logging"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fmt.Println("=== botflow - Flow Engine & Polling Coordinator ===")

	// 1. Load Configuration from Environment
	fmt.Println("[1/7] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Logs tee into the operator log stream
	hub := websocket.NewLogHub(cfg.App.MeshSecret)
	logging.Setup(cfg.App.LogFormat, cfg.App.LogLevel, hub)
	slog.Info("Config loaded",
		"instance_id", cfg.Coordinator.InstanceID,
		"backend_url", cfg.Backend.BaseURL,
		"lease_backend", cfg.Coordinator.LeaseBackend,
		"session_backend", cfg.Flow.SessionBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	// 2. Connect to MariaDB with Retry Logic (audit + activity log)
	var (
		mariadbRepo *repository.MariaDBRepository
		messages    ports.MessageLog
		activity    ports.ActivityLog
		activityAPI handler.ActivityReader
	)
	if cfg.DB.Enabled {
		fmt.Println("[2/7] Connecting to MariaDB...")
		db := connectMariaDB(cfg.DB, 5, 2*time.Second)
		defer db.Close()
		mariadbRepo = repository.NewMariaDBRepository(db)
		if err := mariadbRepo.EnsureSchema(ctx); err != nil {
			log.Fatalf("❌ Failed to prepare MariaDB schema: %v", err)
		}
		messages, activity, activityAPI = mariadbRepo, mariadbRepo, mariadbRepo
		fmt.Println("✓ MariaDB connection established")
	} else {
		fmt.Println("[2/7] MariaDB disabled, inbound audit log off")
	}

	// 3. Connect to Redis with Retry Logic
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		fmt.Println("[3/7] Connecting to Redis...")
		rdb = connectRedis(cfg.Redis, 5, 2*time.Second)
		defer rdb.Close()
		fmt.Println("✓ Redis connection established")
	} else {
		fmt.Println("[3/7] Redis not required by configuration")
	}

	// ==================================================================
	// Repositories and Gateways
	// ==================================================================
	fmt.Println("[4/7] Initializing repositories...")

	backendClient := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.Token, cfg.Backend.Timeout)

	var scenarios ports.ScenarioRepository = backendClient.Scenarios()
	if cfg.Flow.ScenarioDir != "" {
		fileRepo, err := repository.NewFileScenarioRepository(cfg.Flow.ScenarioDir)
		if err != nil {
			log.Fatalf("❌ Failed to load scenarios from %s: %v", cfg.Flow.ScenarioDir, err)
		}
		scenarios = fileRepo
	}

	var sessions ports.SessionStore = backendClient.Sessions()
	if cfg.Flow.SessionBackend == "redis" {
		sessions = repository.NewRedisSessionStore(rdb)
	}

	var leases ports.LeaseStore
	if cfg.Coordinator.LeaseBackend == "redis" {
		leases = repository.NewRedisLeaseStore(rdb, repository.DefaultLeaseKey)
	} else {
		slog.Warn("In-memory lease: only safe with a single instance")
		leases = repository.NewMemoryLeaseStore(time.Now)
	}

	var dedup ports.DedupRepository
	if rdb != nil {
		dedup = repository.NewRedisDedupRepository(rdb)
	}

	tgGateway := gateway.NewTelegramGateway(gateway.TelegramConfig{
		APIEndpoint: cfg.Telegram.APIEndpoint,
		Timeout:     cfg.Telegram.Timeout,
		RatePerSec:  cfg.Telegram.RatePerSec,
		RateBurst:   cfg.Telegram.RateBurst,
		PollLimit:   gateway.DefaultTelegramConfig().PollLimit,
	})
	fmt.Println("✓ Repositories initialized")

	// ==================================================================
	// Core Services
	// ==================================================================
	fmt.Println("[5/7] Initializing services...")

	interpreter := services.NewInterpreter(scenarios, sessions, backendClient, activity,
		services.WithMaxSteps(cfg.Flow.MaxSteps),
	)
	ingester := services.NewIngester(tgGateway, messages, backendClient, dedup, interpreter)

	pause := services.NewPauseSwitch()
	campaigns := services.NewCampaignDispatcher(backendClient, backendClient, backendClient, cfg.App.ManagerName)
	publisher := services.NewPublisher(backendClient, backendClient, tgGateway)

	coordinatorCfg := services.CoordinatorConfig{
		InstanceID:        cfg.Coordinator.InstanceID,
		LeaseTTL:          cfg.Coordinator.LeaseTTL,
		PollInterval:      cfg.Coordinator.PollInterval,
		IdleInterval:      cfg.Coordinator.IdleInterval,
		StandbyInterval:   cfg.Coordinator.StandbyInterval,
		ErrorInterval:     cfg.Coordinator.ErrorInterval,
		BroadcastInterval: cfg.Coordinator.BroadcastInterval,
		BackoffBase:       cfg.Coordinator.BackoffBase,
		BackoffMax:        cfg.Coordinator.BackoffMax,
	}
	coordinator := services.NewCoordinator(coordinatorCfg, leases, backendClient, tgGateway, ingester, activity, pause,
		campaigns, publisher,
	)
	fmt.Println("✓ Services initialized")

	// ==================================================================
	// Background Workers
	// ==================================================================
	fmt.Println("[6/7] Starting background workers...")

	coordinatorDone := make(chan struct{})
	if cfg.Coordinator.Enabled {
		go func() {
			defer close(coordinatorDone)
			coordinator.Run(ctx)
		}()
	} else {
		slog.Warn("Polling disabled, this instance only serves webhooks and the operator API")
		close(coordinatorDone)
	}

	var watchdog *services.Watchdog
	if cfg.Watchdog.Enabled && messages != nil {
		wcfg := services.DefaultWatchdogConfig()
		wcfg.Schedule = cfg.Watchdog.Schedule
		wcfg.ThresholdPct = cfg.Watchdog.ThresholdPct
		wcfg.Retention = cfg.Watchdog.Retention
		watchdog = services.NewWatchdog(wcfg, messages)
		if err := watchdog.Start(ctx); err != nil {
			log.Fatalf("❌ Failed to start watchdog: %v", err)
		}
	}

	// ==================================================================
	// HTTP Server
	// ==================================================================
	fmt.Println("[7/7] Initializing HTTP handlers...")

	if cfg.App.AdminToken == "" {
		slog.Warn("ADMIN_TOKEN is empty, operator API is unauthenticated")
	}
	if cfg.App.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	webhookHandler := handler.NewWebhookHandler(ctx, backendClient, ingester, cfg.Telegram.WebhookSecret)
	dashboardHandler := handler.NewDashboardHandler(handler.DashboardDeps{
		Coordinator:       coordinator,
		Pause:             pause,
		Leases:            leases,
		Sessions:          sessions,
		Activity:          activityAPI,
		LogClients:        hub.ClientCount,
		LeaseTTL:          cfg.Coordinator.LeaseTTL,
		WatchdogThreshold: cfg.Watchdog.ThresholdPct,
	})
	router := handler.NewRouter(handler.RouterDeps{
		Dashboard:  dashboardHandler,
		Webhook:    webhookHandler,
		LogStream:  hub.ServeWS,
		AdminToken: cfg.App.AdminToken,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ HTTP server failed: %v", err)
		}
	}()

	fmt.Println("\n✅ botflow ready. Press Ctrl+C to stop")

	// ==================================================================
	// Graceful Shutdown
	// ==================================================================
	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	if watchdog != nil {
		watchdog.Stop()
	}
	webhookHandler.Wait()
	<-coordinatorDone
	slog.Info("Shutdown complete")
}

// connectMariaDB attempts to connect to MariaDB with retry logic
// Retries are necessary because Docker containers may still be initializing
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: Failed to configure DB driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}

		err = db.Ping()
		if err == nil {
			db.SetMaxOpenConns(10)
			db.SetConnMaxLifetime(5 * time.Minute)
			return db
		}

		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	var err error

	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("❌ Cannot connect to Redis after %d attempts: %v", maxRetries, err)
	return nil // unreachable
}
