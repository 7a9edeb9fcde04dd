package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/cache"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/decision"
	"github.com/promptgate/promptgate/internal/dlp"
	"github.com/promptgate/promptgate/internal/gateway"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/policy"
	"github.com/promptgate/promptgate/internal/store"
	"github.com/promptgate/promptgate/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("PromptGate %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Perform health check and exit
	if *healthCheck {
		performHealthCheck()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PromptGate",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// Connect storage
	db, err := store.New(&store.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log.WithComponent("store").Logger)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Optional Redis policy cache
	var policySource decision.PolicySource
	if cfg.Redis.Enabled {
		policyCache, err := cache.New(&cache.Config{
			RedisURL: cfg.Redis.URL,
			TTL:      cfg.Policy.CacheTTL,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer policyCache.Close()
		policySource = func(ctx context.Context, tenantID string) ([]policy.PolicyRecord, error) {
			return policyCache.GetEnabledPolicies(ctx, tenantID, db.FetchEnabledPolicies)
		}
	}

	// WebSocket hub for the live event feed
	var wsHub *websocket.Hub
	if cfg.WebSocket.Enabled {
		wsHub = websocket.NewHub(&websocket.HubConfig{
			BroadcastDecisions:   cfg.WebSocket.Events.BroadcastDecisions,
			BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: true,
			AuthEnabled:          cfg.WebSocket.Auth.Enabled,
			Username:             cfg.WebSocket.Auth.Username,
			Password:             cfg.WebSocket.Auth.Password,
		}, log.WithComponent("websocket").Logger)
	}

	// Classification and policy evaluation
	profiles := dlp.NewProfileRegistry()
	classifier := dlp.NewClassifier(profiles, log.WithComponent("dlp").Logger)
	engine := policy.NewEngine(log.WithComponent("policy").Logger)

	var feed decision.EventFeed
	if wsHub != nil {
		feed = wsHub
	}
	decisions := decision.New(db, policySource, engine, classifier, feed, decision.Config{
		TenantName:      cfg.Policy.TenantName,
		SampleMaxLength: cfg.DLP.SampleMaxLength,
		ApprovalTTL:     cfg.Policy.ApprovalTTL,
		DefaultProfile:  cfg.DLP.DefaultProfile,
	}, log.WithComponent("decision").WithTenant(cfg.Policy.TenantName).Logger)

	server, err := gateway.New(cfg, log, decisions, classifier, profiles, wsHub)
	if err != nil {
		log.Fatal("Failed to create gateway server", zap.Error(err))
	}

	// Reload on config file changes
	if err := config.Watch(cfg, func(newCfg *config.Config) {
		log.Info("Configuration reloaded",
			zap.String("default_profile", newCfg.DLP.DefaultProfile))
	}); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	// Start server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	// Setup graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

// performHealthCheck performs a health check against the running server
func performHealthCheck() {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
