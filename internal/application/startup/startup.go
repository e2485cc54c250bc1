// Package startup prepares the application server
package startup

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ShopCurated/curator-go/internal/application/container"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/database"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/presentation/http/server"
	"github.com/ShopCurated/curator-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the complete startup sequence
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	log.Println("\033[32m" + `
   ▄▄▄▄ ▄  ▄ ▄▄▄▄  ▄▄▄▄ ▄▄▄▄▄ ▄▄▄▄  ▄▄▄▄
  ██    ██ ██ ██▄█ ██▄██  ██  ██  ██ ██▄█
  ▀█▄▄█ ▀█▄█▀ ██ █ ██ ██  ██  ▀█▄▄█▀ ██ █
` + "\033[97m" + `
  made by ShopCurated
` + "\033[0m")

	// Step 1: Initialize structured logging
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    config.LogToFile,
		OutputToConsole: true,
		LogDirectory:    config.LogDirectory,
		JSONFormat:      true,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[logging.Channel]slog.Level),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.Startup().Info("Channeled logging initialized")

	// Step 2: Open the persistent store
	logger.Startup().Info("Opening persistent store...", "url", config.DatabaseURL)
	driverName, dataSourceName := database.DriverForURL(config.DatabaseURL)
	if driverName == "libsql" {
		dataSourceName = database.WithAuthToken(dataSourceName, config.DatabaseAuthToken)
	}

	db, err := database.NewConnectionWithLogger(driverName, dataSourceName, database.PoolConfig{
		MaxOpenConns:    config.DBMaxOpenConns,
		MaxIdleConns:    config.DBMaxIdleConns,
		ConnMaxLifetime: config.DBConnMaxLifetime,
		ConnMaxIdleTime: config.DBConnMaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open persistent store: %w", err)
	}

	persistent, err := kv.NewSQLStore(db)
	if err != nil {
		return fmt.Errorf("failed to prepare key-value schema: %w", err)
	}
	logger.Startup().Info("Persistent store ready", "driver", driverName)

	// Step 3: Create dependency injection container
	logger.Startup().Info("Initializing dependency injection container...")
	appContainer := container.NewContainer(persistent, logger)
	logger.Startup().Info("Dependency injection container created with singleton services")

	// Step 4: Start the retention pruner
	if err := appContainer.Pruner.Start(); err != nil {
		return fmt.Errorf("failed to start retention pruner: %w", err)
	}
	logger.Startup().Info("Retention pruner scheduled", "schedule", config.PruneSchedule)

	// Step 5: Start HTTP server
	port := config.Port
	httpServer := server.New(port, appContainer)

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.System().Info("Starting HTTP server", "address", ":"+port)
		if err := httpServer.Start(); err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
		}
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"port", port,
		"backend", config.BackendBaseURL)

	// Wait for shutdown signal
	<-gracefulShutdown
	logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")

	shutdownStart := time.Now()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Shutdown().Info("Stopping HTTP server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	// Cancel workflows, stop the pruner, and wait for in-flight telemetry.
	logger.Shutdown().Info("Stopping background services...")
	appContainer.Shutdown()

	logger.Shutdown().Info("Closing persistent store...")
	if err := db.Close(); err != nil {
		logger.Shutdown().Error("Error closing persistent store", "error", err.Error())
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
