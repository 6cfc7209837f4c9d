package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saaga0h/room-release/internal/ghost"
	"github.com/saaga0h/room-release/internal/history"
	"github.com/saaga0h/room-release/internal/release"
	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/config"
	"github.com/saaga0h/room-release/pkg/graph"
	"github.com/saaga0h/room-release/pkg/health"
	"github.com/saaga0h/room-release/pkg/httpx"
	"github.com/saaga0h/room-release/pkg/mqtt"
	"github.com/saaga0h/room-release/pkg/notify"
	"github.com/saaga0h/room-release/pkg/postgres"
	"github.com/saaga0h/room-release/pkg/redis"
	"github.com/saaga0h/room-release/pkg/xapi"
)

func main() {
	// Load configuration with hierarchy: defaults → file → env → flags
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.NewConfig()
	if path := config.ConfigFileFromArgs(os.Args[1:]); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	cfg.LoadFromFlags()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting room release agent",
		"service_name", cfg.ServiceName,
		"mqtt_broker", cfg.MQTTAddress(),
		"devices", len(cfg.Devices),
		"graph", cfg.GraphEnabled,
		"history", cfg.HistoryEnabled,
		"test_mode", cfg.TestMode,
		"log_level", cfg.LogLevel)

	// Set up context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	clk := clock.Real()
	scheduler := cron.New()

	// Outbound HTTP shared by the device, Graph and notification clients
	httpOpts := httpx.DefaultOptions()
	httpOpts.Timeout = time.Duration(cfg.HTTPTimeoutMs) * time.Millisecond
	httpOpts.RateLimit = cfg.HTTPRateLimit
	httpOpts.MaxRetries = cfg.HTTPMaxRetries
	transport := httpx.NewClient(httpOpts, logger)

	xapiClient := xapi.NewClient(ctx, cfg.WebexAPIURL, xapi.Credentials{
		AccessToken:  cfg.WebexToken,
		RefreshToken: cfg.WebexRefreshToken,
		ClientID:     cfg.WebexClientID,
		ClientSecret: cfg.WebexClientSecret,
	}, transport, logger)

	mqttClient := mqtt.NewClient(cfg, logger)

	var redisClient redis.Client
	if cfg.GhostStore == "redis" {
		redisClient = redis.NewClient(cfg, logger)
		defer redisClient.Close()
	}

	ghosts := setupGhostTracking(ctx, cfg, transport, redisClient, clk, scheduler, logger)

	var channels []notify.Channel
	if cfg.WebexNotify {
		token := cfg.WebexBotToken
		if token == "" {
			token = cfg.WebexToken
		}
		channels = append(channels, notify.NewWebexChannel(ctx, cfg.WebexAPIURL, token, cfg.WebexNotifyRoom, cfg.WebexNotifyEmail, transport, logger))
	}
	if cfg.WebhookNotify {
		channels = append(channels, notify.NewWebhookChannel(cfg.WebhookURL, transport, logger))
	}
	dispatcher := notify.NewDispatcher(logger, channels...)

	reporters := []release.Reporter{release.NewContextPublisher(mqttClient, logger)}
	var recorder *history.Recorder
	if cfg.HistoryEnabled {
		db := postgres.NewClient(cfg, logger)
		if err := db.Connect(ctx); err != nil {
			logger.Error("Release history disabled, Postgres unavailable", "error", err)
		} else {
			defer db.Disconnect()
			recorder = history.NewRecorder(db, logger)
			if err := recorder.EnsureSchema(ctx); err != nil {
				logger.Error("Failed to prepare release history schema", "error", err)
			}
			reporters = append(reporters, recorder)
		}
	}

	executor := release.NewExecutor(release.ExecutorParams{
		Ghosts:    ghosts,
		Notifier:  dispatcher,
		Reporters: reporters,
		Clock:     clk,
		TestMode:  cfg.TestMode,
		Logger:    logger,
	})

	manager := release.NewManager(ctx, release.ManagerParams{
		Devices:   func(id string) release.Device { return xapiClient.Device(id) },
		Options:   release.NewOptions(cfg, logger),
		Clock:     clk,
		Releaser:  executor,
		Mailboxes: cfg.GraphMailboxes,
		Allowed:   cfg.Devices,
		Logger:    logger,
	})

	agent := release.NewAgent(mqttClient, manager, scheduler, cfg.Devices, logger)

	// Start health check server
	healthChecker := health.NewChecker(mqttClient, redisClient, manager, logger)
	httpServer := startHealthServer(cfg.HealthPort, healthChecker, manager, recorder, logger)

	// Start agent in a goroutine
	agentErr := make(chan error, 1)
	go func() {
		if err := agent.Start(ctx); err != nil {
			logger.Error("Agent error", "error", err)
			agentErr <- err
		}
	}()

	// Wait for shutdown signal or agent error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received (SIGTERM/SIGINT)")
	case err := <-agentErr:
		logger.Error("Agent failed", "error", err)
	}

	// Graceful shutdown
	logger.Info("Initiating graceful shutdown")
	cancel()

	if err := agent.Stop(); err != nil {
		logger.Error("Error stopping agent", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down health server", "error", err)
	}

	logger.Info("Room release agent shutdown complete")
}

// setupGhostTracking returns nil when tracking is off or its store
// cannot be opened.
func setupGhostTracking(ctx context.Context, cfg *config.Config, transport *http.Client, redisClient redis.Client, clk clock.Clock, scheduler *cron.Cron, logger *slog.Logger) release.GhostHandler {
	if !cfg.GraphEnabled {
		return nil
	}
	opts := ghost.NewOptions(cfg)

	var store ghost.Store
	switch cfg.GhostStore {
	case "file":
		fs, err := ghost.OpenFileStore(cfg.GhostFile)
		if err != nil {
			logger.Error("Ghost tracking disabled", "error", err)
			return nil
		}
		store = fs
	default:
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx); err != nil {
			logger.Error("Ghost tracking disabled", "error", fmt.Errorf("%w: %v", ghost.ErrStoreUnavailable, err))
			return nil
		}
		store = ghost.NewRedisStore(redisClient, logger)
	}

	calendar := graph.NewClient(ctx, graph.Options{
		APIURL:       cfg.GraphAPIURL,
		AuthURL:      cfg.GraphAuthURL,
		Tenant:       cfg.GraphTenant,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
	}, transport, logger)

	pruner := ghost.NewPruner(store, clk, opts.MaxWindow(), logger)
	if _, err := pruner.Schedule(scheduler, cfg.GhostPruneSchedule); err != nil {
		logger.Error("Ghost store pruning not scheduled", "error", err)
	}

	logger.Info("Ghost tracking enabled",
		"store", cfg.GhostStore,
		"strikes", opts.Strikes,
		"end_booking", opts.EndBooking,
		"mailboxes", len(cfg.GraphMailboxes))
	return ghost.NewTracker(calendar, store, clk, opts, logger)
}

func startHealthServer(port int, checker *health.Checker, manager *release.Manager, recorder *history.Recorder, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HandlerFunc())
	mux.HandleFunc("/health/detailed", checker.DetailedHandlerFunc())
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, manager.Statuses())
	})
	mux.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if recorder == nil {
			http.Error(w, "release history is not enabled", http.StatusNotFound)
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		entries, err := recorder.Recent(r.Context(), r.URL.Query().Get("device"), limit)
		if err != nil {
			logger.Error("Failed to read release history", "error", err)
			http.Error(w, "failed to read release history", http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health server error", "error", err)
		}
	}()

	return server
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
