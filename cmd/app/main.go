package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"statarb/internal/app"
)

func main() {
	// 1. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Run every task until SIGINT/SIGTERM
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Engine stopped with error", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	slog.Info("Shutting down gracefully...")
}
