package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/logger"
	"storybook-server/internal/reader"
)

func main() {
	cfg, err := config.LoadReader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Логи читалки не должны смешиваться с выводом страниц.
	if cfg.Logger.OutputPath == "" {
		cfg.Logger.OutputPath = "stderr"
	}
	log := logger.MustNew(cfg.Logger)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reader.NewRootCommand(cfg, log).ExecuteContext(ctx); err != nil {
		log.Debug("Reader exited with error", zap.Error(err))
		os.Exit(1)
	}
}
