package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/credits-backend/internal/services"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.AppEnv)

	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}()

	sweeper := services.NewSubscriptionSweeper(services.NewRepository(database.DB))

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	// Expire cancelled subscriptions whose paid period is over, at minute 5 of every hour
	_, err := scheduler.AddFunc("5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		slog.Info("starting subscription expiry sweep", "action", "subscription_sweep")
		if _, err := sweeper.Run(ctx); err != nil {
			return
		}
		slog.Info("finished subscription expiry sweep", "action", "subscription_sweep")
	})
	if err != nil {
		slog.Error("failed to add subscription expiry job", "error", err)
		os.Exit(1)
	}

	scheduler.Start()
	slog.Info("cron jobs started", "jobs", len(scheduler.Entries()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down cron...")
	ctx := scheduler.Stop()
	select {
	case <-ctx.Done():
		slog.Info("cron jobs stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("cron jobs forced to stop after timeout")
	}
}
