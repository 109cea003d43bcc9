package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/docuchat/docuchat/internal/api"
	"github.com/docuchat/docuchat/internal/auth"
	"github.com/docuchat/docuchat/internal/config"
	"github.com/docuchat/docuchat/internal/core"
	"github.com/docuchat/docuchat/internal/extract"
	"github.com/docuchat/docuchat/internal/llm"
	"github.com/docuchat/docuchat/internal/logger"
	"github.com/docuchat/docuchat/internal/objstore"
	"github.com/docuchat/docuchat/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	// Initialize object store for uploaded files
	objects, err := objstore.New(cfg.StorageDir)
	if err != nil {
		zlog.Fatal("Failed to initialize object store", zap.Error(err))
	}

	// Provider adapter and core services
	openaiClient := llm.NewOpenAI(cfg.EmbeddingModel, cfg.ChatModel)
	ragService := core.NewRAGService(dbStore, dbStore, openaiClient, zlog)
	ingestService := core.NewIngestService(dbStore, openaiClient, cfg.EmbedConcurrency, zlog)
	documentService := core.NewDocumentService(dbStore, objects, extract.New(nil), ingestService, zlog)
	chatService := core.NewChatService(dbStore, dbStore, ragService, openaiClient, zlog)

	// API handler and router
	tokens := auth.NewManager(cfg.JWTSecret, 24*time.Hour)
	apiHandler := api.NewAPIHandler(tokens, dbStore, dbStore, ragService, documentService, chatService, zlog)
	router := api.NewRouter(apiHandler, zlog)

	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // embedding + completion calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		zlog.Info("Starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Could not listen", zap.String("addr", serverAddr), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("Shutting down server")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Fatal("Server forced to shutdown", zap.Error(err))
	}

	zlog.Info("Server exiting gracefully")
}
