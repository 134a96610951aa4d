package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"panelsync/internal/bootstrap"
	"panelsync/internal/config"
	"panelsync/internal/events"
	"panelsync/internal/lock"
	"panelsync/internal/middleware"
	"panelsync/internal/orchestrator"
	"panelsync/internal/panel"
	"panelsync/internal/protocol"
	"panelsync/internal/recon"
	"panelsync/internal/repository"
	"panelsync/internal/router"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to migrate database schema", zap.Error(err))
	}

	// --- Payment Confirmation Deduper (Redis with in-memory fallback) ---
	deduper, dedupeErr := middleware.NewConfirmationDeduper(
		cfg.Redis.Addr,
		cfg.Redis.Pass,
		cfg.Redis.DB,
		24*time.Hour,
	)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for payment dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Repositories ---
	repos := &orchestrator.Repos{
		Account: repository.NewAccountRepository(db),
		Wallet:  repository.NewWalletRepository(db),
		Panel:   repository.NewPanelRepository(db),
		Plan:    repository.NewPlanRepository(db),
		User:    repository.NewUserRepository(db),
	}

	// --- Protocol encoders ---
	registry := protocol.Default()

	// --- Reconciliation engine ---
	locks := lock.NewKeyedMutex()
	health := recon.NewHealthTracker(cfg.Recon.FailureThreshold)
	bus := events.NewBus()
	engine := recon.New(cfg.Recon, repos.Account, repos.Panel, panel.New, health, bus, locks, logger)
	if err := engine.Start(); err != nil {
		logger.Fatal("Failed to start reconciliation engine", zap.Error(err))
	}

	// --- Orchestrator ---
	orch := orchestrator.New(cfg.Provision, repos, registry, panel.New, engine, locks, logger)

	// Auto-renewal consumes lifecycle events off the bus.
	eventsCtx, cancelEvents := context.WithCancel(context.Background())
	go orch.ConsumeEvents(eventsCtx, bus.Subscribe(64))

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, orch, repos, engine, deduper, logger, cfg.API.Key, cfg.API.HashFile)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting panelsync server", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	cronCtx := engine.Stop()
	<-cronCtx.Done()

	cancelEvents()
	bus.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}
