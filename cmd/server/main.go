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

	"offsync/internal/api"
	"offsync/internal/config"
	"offsync/internal/conflict"
	"offsync/internal/logger"
	"offsync/internal/queue"
	"offsync/internal/storage"
	"offsync/internal/sync"
	"offsync/internal/transport"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting offsync service")

	// Init State Store
	store, err := storage.NewStore(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer store.Close()

	// Init Operation Queue
	q, err := queue.New(context.Background(), store, cfg.Sync.MaxQueueSize)
	if err != nil {
		logger.Log.Fatal("Failed to init operation queue", zap.Error(err))
	}

	// Init Transport
	remote := transport.New(cfg.Remote, cfg.Sync, store)
	remote.Start()
	defer remote.Stop()

	// Init Sync Engine
	resolver := conflict.NewResolver(conflict.Merge(nil))
	engine := sync.NewEngine(cfg.Sync, q, resolver, remote, nil)
	engine.Start()
	defer engine.Stop()

	// Init Scheduler
	scheduler := sync.NewScheduler(cfg.Scheduler, engine)
	scheduler.Start()
	defer scheduler.Stop()

	// Init API
	handler := api.NewHandler(engine)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	engine.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
