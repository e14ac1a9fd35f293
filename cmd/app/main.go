package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"rail_sniper/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Graceful shutdown: in-flight polls abandon cleanly; an in-flight
	// order attempt still runs to its terminal state.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := bootstrap.Status.Run(ctx); err != nil {
			slog.Error("Status feed failed", slog.Any("error", err))
		}
	}()

	slog.InfoContext(ctx, "✨ Monitoring engine operational. Press Ctrl+C to exit.")
	bootstrap.Scheduler.Run(ctx, bootstrap.Config.MonitorTargets())

	slog.InfoContext(ctx, "👋 All target loops finished, shutting down")
}
