package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"

	"github.com/shortify-systems/sentinel/internal/alertstate"
	"github.com/shortify-systems/sentinel/internal/analyzer"
	"github.com/shortify-systems/sentinel/internal/archive"
	"github.com/shortify-systems/sentinel/internal/auth"
	"github.com/shortify-systems/sentinel/internal/bus"
	"github.com/shortify-systems/sentinel/internal/config"
	"github.com/shortify-systems/sentinel/internal/firewall"
	"github.com/shortify-systems/sentinel/internal/logging"
	"github.com/shortify-systems/sentinel/internal/logquery"
	"github.com/shortify-systems/sentinel/internal/messaging"
	natsclient "github.com/shortify-systems/sentinel/internal/messaging/nats"
	"github.com/shortify-systems/sentinel/internal/notify"
	"github.com/shortify-systems/sentinel/internal/pipeline"
	"github.com/shortify-systems/sentinel/internal/repository"
	"github.com/shortify-systems/sentinel/internal/reputation"
	"github.com/shortify-systems/sentinel/internal/response"
	"github.com/shortify-systems/sentinel/internal/server"
	"github.com/shortify-systems/sentinel/internal/telemetry"
	"github.com/shortify-systems/sentinel/internal/threshold"
	"github.com/shortify-systems/sentinel/internal/tracking"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	// Redis backs the tracking windows, the alert cooldown, and the
	// reputation cache. Nothing works without it.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	pingCancel()

	// Persistence for alerts and orchestration run audits. Falls back to
	// the in-memory store when the database is disabled.
	var repo repository.Repository
	if cfg.Database.Enabled {
		connString := cfg.Database.Postgres.ConnString()

		logger.Info("running database migrations")
		m, err := migrate.New("file://migrations", connString)
		if err != nil {
			log.Fatalf("Failed to initialize migrations: %v", err)
		}
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		pgRepo, err := repository.NewPostgresRepository(context.Background(), connString)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		defer pgRepo.Close()
		repo = pgRepo
	} else {
		logger.Warn("database disabled, alerts and runs are held in memory")
		repo = repository.NewMemoryRepository()
	}

	// Message bus. Optional; without it the service runs HTTP-only.
	var busClient messaging.Client
	if cfg.NATS.Enabled {
		nc, err := natsclient.NewClient(natsclient.Config{
			URL:           cfg.NATS.URL,
			Name:          "sentinel",
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       5 * time.Second,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		busClient = nc
	}

	// Event archive.
	var archiver archive.Archiver = archive.NopArchiver{}
	if cfg.Archive.Enabled {
		client, err := archive.NewClient(archive.Config{
			URL:           cfg.Archive.URL,
			Username:      cfg.Archive.Username,
			Password:      cfg.Archive.Password,
			TLSSkipVerify: true,
			IndexPrefix:   cfg.Archive.IndexPrefix,
			ShardCount:    1,
			ReplicaCount:  0,
		})
		if err != nil {
			log.Fatalf("Failed to create archive client: %v", err)
		}
		initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := client.Initialize(initCtx); err != nil {
			initCancel()
			log.Fatalf("Failed to initialize archive: %v", err)
		}
		initCancel()
		archiver = client
	}

	// Blocking control plane.
	var fw firewall.Client = firewall.NopClient{}
	if cfg.Firewall.URL != "" {
		fw = firewall.NewHTTPClient(cfg.Firewall.URL, cfg.Firewall.APIKey)
	} else {
		logger.Warn("no firewall configured, block actions will be skipped")
	}

	// Notification fan-out. The log channel is always present so every
	// notification leaves a trace even with no external channel configured.
	channels := []notify.Channel{notify.NewLogChannel(log.Printf)}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURL, 10*time.Second))
	}
	if cfg.Notify.SlackURL != "" {
		channels = append(channels, notify.NewSlackChannel(cfg.Notify.SlackURL, 10*time.Second))
	}
	if busClient != nil {
		channels = append(channels, notify.NewBusChannel(busClient))
	}
	notifier := notify.NewMultiChannel(channels...)

	// Core detection path.
	store := tracking.NewStore(redisClient)
	eval := threshold.NewEvaluator(store, threshold.Config{
		CountThresholdShort: int64(cfg.Thresholds.CountShort),
		CountThresholdLong:  int64(cfg.Thresholds.CountLong),
	})
	cooldown := alertstate.NewTracker(redisClient, cfg.Thresholds.Cooldown)
	repCache := reputation.NewCache(redisClient, logger.Logger)

	var busPublisher messaging.Publisher
	var tel telemetry.Publisher = telemetry.NopPublisher{}
	var logs *logquery.Service
	if busClient != nil {
		busPublisher = busClient
		tel = telemetry.NewBusPublisher(busClient, logger.Logger)
		logs = logquery.NewService(busClient, 30*time.Second, logger.Logger)
	}

	p := pipeline.New(store, eval, cooldown, busPublisher, notifier, repo, archiver, logger.Logger)

	var orchestratorLogs response.LogQuerier
	if logs != nil {
		orchestratorLogs = logs
	}
	orchestrator := response.NewOrchestrator(store, repCache, fw, notifier, orchestratorLogs, repo, logger.Logger)

	// Bus consumers.
	var busHandler *bus.Handler
	if busClient != nil {
		busHandler = bus.NewHandler(busClient, p, orchestrator, logger.Logger)
		if err := busHandler.Start(context.Background()); err != nil {
			log.Fatalf("Failed to start bus handler: %v", err)
		}
	}

	// Periodic abuse sweep over the archived logs.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	if cfg.Analyzer.Enabled && logs != nil {
		sweeper := analyzer.New(logs, busPublisher, notifier, tel, analyzer.Config{
			Window:          cfg.Analyzer.Interval,
			VolumeThreshold: cfg.Analyzer.VolumeThreshold,
		}, logger.Logger)
		go sweeper.Run(sweepCtx, cfg.Analyzer.Interval)
	}

	// HTTP API.
	validator := auth.NewValidator(cfg.Auth.JWTSecret)
	if !validator.Enabled() {
		logger.Warn("no JWT secret configured, read API is unauthenticated")
	}
	apiHandler := server.NewHandler(p, store, repCache, repo, logger.Logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(apiHandler, validator),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("sentinel listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	sweepCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	if busHandler != nil {
		if err := busHandler.Stop(); err != nil {
			logger.Error("bus handler stop failed", "error", err)
		}
	}
	if busClient != nil {
		if err := busClient.Drain(); err != nil {
			logger.Error("bus drain failed", "error", err)
		}
	}

	logger.Info("sentinel stopped")
}
