package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"futures-rollover-bot/internal/catalog"
	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/credentials"
	"futures-rollover-bot/internal/database"
	"futures-rollover-bot/internal/engine"
	"futures-rollover-bot/internal/logger"
	"futures-rollover-bot/internal/models"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"futures-rollover-bot/internal/scheduler"
	"futures-rollover-bot/internal/server"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(&cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Wire the stores and the execution engine
	cat := catalog.NewCatalog(db, log)
	reg := registry.NewRegistry(db, log)
	creds := credentials.NewStore(db, &cfg.Fyers, log)
	jobQueue := queue.NewQueue(db, &cfg.Queue, log)
	exec := engine.NewEngine(reg, cat, creds, log)

	locks := queue.NewStrategyLocks()
	pool := queue.NewPool(jobQueue, &cfg.Queue, locks, log)
	pool.Register(models.JobKindTrade, exec.HandleTrade)
	pool.Register(models.JobKindRollover, exec.HandleRollover)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Start the API server, the worker pools and the scheduler
	apiServer := server.NewServer(&cfg.Server, jobQueue, reg, log)
	apiServer.Start()

	sched := scheduler.NewScheduler(&cfg, jobQueue, reg, creds, cat, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	wg.Wait()
	log.Info("Bot has been shut down.")
}
