package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/dlpexport"
	"github.com/promptgate/promptgate/internal/logger"
	"github.com/promptgate/promptgate/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		tenantName = flag.String("tenant", "", "Tenant name (defaults to the configured tenant)")
		sinceArg   = flag.String("since", "", "Export decisions created after this RFC3339 timestamp")
		output     = flag.String("output", "decisions.parquet", "Output Parquet file")
		limit      = flag.Int("limit", 0, "Maximum rows to export (0 = no limit)")
		batchSize  = flag.Int("batch-size", 1000, "Rows fetched per batch")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	var since time.Time
	if *sinceArg != "" {
		since, err = time.Parse(time.RFC3339, *sinceArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid --since value: %v\n", err)
			os.Exit(1)
		}
	}

	tenant := *tenantName
	if tenant == "" {
		tenant = cfg.Policy.TenantName
	}

	log.Info("Starting decision export",
		zap.String("tenant", tenant),
		zap.String("output", *output),
		zap.Time("since", since))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

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

	tenantID, err := db.ResolveTenantID(ctx, tenant)
	if err != nil {
		log.Fatal("Failed to resolve tenant", zap.Error(err))
	}

	exporter := dlpexport.New(db, dlpexport.Config{
		TenantID:  tenantID,
		Since:     since,
		Output:    *output,
		Limit:     *limit,
		BatchSize: *batchSize,
	}, log.WithComponent("export").Logger)

	result, err := exporter.Run(ctx)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	fmt.Printf("Exported %d rows to %s in %s\n", result.Rows, result.Output, result.Duration.Round(time.Millisecond))
}
