package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonhpyo/MyHTS/internal/app"
	"github.com/jonhpyo/MyHTS/internal/infra"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs, then OS config dir)")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = infra.ResolveConfigPath()
	}
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		slog.Error("❌ Failed to load config", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}

	logger, err := infra.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("❌ Invalid logging config", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap := app.NewBootstrap(cfg)
	if err := bootstrap.Initialize(ctx); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	bootstrap.Banner(os.Stdout)

	err = bootstrap.Run(ctx)
	bootstrap.Close()
	if err != nil {
		slog.Error("❌ Server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("👋 Shutdown complete")
}
