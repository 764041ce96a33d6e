package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"atomicswap/internal/api"
	"atomicswap/internal/chain"
	"atomicswap/internal/config"
	"atomicswap/internal/database"
	"atomicswap/internal/service"
	"atomicswap/internal/worker"
)

func main() {
	// Initialize logger
	logger, err := initLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting atomic swap coordinator")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("chain_mode", cfg.ChainMode),
		zap.String("storage", cfg.Storage),
		zap.String("reveal_mode", cfg.Swap.RevealMode),
		zap.Int("num_assets", len(cfg.Assets)))

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	// Chain adapters
	chainCtx, stopChains := context.WithCancel(context.Background())
	defer stopChains()

	var adapters []chain.Adapter
	switch cfg.ChainMode {
	case config.ChainModeSimulated:
		adapters, err = newSimulatedAdapters(chainCtx, cfg, logger)
	default:
		adapters, err = newLiveAdapters(cfg, logger)
	}
	if err != nil {
		logger.Fatal("Failed to initialize chain adapters", zap.Error(err))
	}

	// Initialize services
	fees := service.NewFeeLedger(cfg, logger)
	var quotes *service.QuoteClient
	if cfg.Quote.Endpoint != "" {
		if quotes, err = service.NewQuoteClient(cfg.Quote.Endpoint, cfg.Quote.Timeout); err != nil {
			logger.Fatal("Failed to create quote client", zap.Error(err))
		}
	}

	workerManager, err := worker.NewWorkerManager(store, cfg, adapters, fees, logger)
	if err != nil {
		logger.Fatal("Failed to initialize worker manager", zap.Error(err))
	}
	swapService := service.NewSwapService(store, workerManager, fees, quotes, cfg, logger)

	logger.Info("Services initialized")

	// Initialize API handlers
	apiHandler := api.NewHandler(swapService, workerManager, store, logger)
	router := api.SetupRouter(apiHandler, logger)

	// Create HTTP server. No write timeout: the event stream is long-lived.
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start HTTP server in goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", serverAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	// Start workers; this also resumes swaps left running by a previous process
	if err := workerManager.Start(); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	logger.Info("Service initialized successfully",
		zap.String("status", "ready"),
		zap.Int("port", cfg.Server.Port))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Wait for interrupt signal or server error
	select {
	case err := <-serverErrors:
		logger.Error("HTTP server error", zap.Error(err))
	case sig := <-quit:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("Shutting down service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
		httpServer.Close()
	} else {
		logger.Info("HTTP server stopped gracefully")
	}

	// Workers stop after the API so no new swap is accepted mid-shutdown
	if err := workerManager.Shutdown(10 * time.Second); err != nil {
		logger.Error("Worker shutdown error", zap.Error(err))
	}
	stopChains()

	logger.Info("Service stopped successfully")
}

// openStore connects to PostgreSQL and applies the schema, or returns the
// in-memory store
func openStore(cfg *config.Config, logger *zap.Logger) (database.Store, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("Using in-memory store; swaps will not survive a restart")
		return database.NewMemoryStore(), nil
	}

	db, err := database.Connect(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected successfully")

	if err := database.RunMigrations(db, cfg.Database.MigrationPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	return db, nil
}

func initLogger() (*zap.Logger, error) {
	env := os.Getenv("ENV")
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
