package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/inject"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/weights"
	"github.com/samber/do"
)

func main() {
	logger := log.NewTimestamped(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.NewContext(ctx, logger)

	provisioner := do.MustInvoke[*weights.Provisioner](inject.Setup(ctx, cfg))
	m, err := provisioner.Provision(ctx)
	if err != nil {
		logger.Error("failed to provision weights", "err", err)
		os.Exit(1)
	}
	logger.Info("manifest written", "model", m.Model, "variant", m.Variant, "files", len(m.Files))
}
