package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finops-copilot/internal/api"
	"finops-copilot/internal/config"
	"finops-copilot/internal/core"
	"finops-copilot/internal/logging"
	"finops-copilot/internal/objstore"
	"finops-copilot/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	logger, err := logging.New(config.AppConfig.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	// Initialize object storage
	var objects objstore.ObjectStore
	if config.AppConfig.GCSBucket != "" {
		logger.Info("Using GCS object storage", zap.String("bucket", config.AppConfig.GCSBucket))
		gcs, err := objstore.NewGCSStore(context.Background(), config.AppConfig.GCSBucket, logger)
		if err != nil {
			logger.Fatal("Failed to initialize object storage", zap.Error(err))
		}
		defer gcs.Close()
		objects = gcs
	} else {
		logger.Warn("GCS_BUCKET not set, using in-memory object storage (uploads do not survive a restart)")
		objects = objstore.NewMemoryStore()
	}

	// Initialize LLM service and relevance classifier
	llmService := core.NewLLMService(logger)
	defer llmService.Close()

	classifier := core.NewRelevanceClassifier(
		config.AppConfig.RelevanceAPIKey,
		config.AppConfig.RelevanceBaseURL,
		config.AppConfig.RelevanceModel,
		logger,
	)

	// Initialize Chat service
	chatService := core.NewChatService(dbStore, objects, classifier, llmService, logger)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(chatService, dbStore, objects, logger)
	router := api.NewRouter(apiHandler, config.AppConfig.StaticDir, config.AppConfig.DebugEndpoints)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting gracefully")
}
