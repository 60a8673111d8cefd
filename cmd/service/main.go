package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/diffusion"
	"github.com/dmorgan81/sdturbo/internal/inject"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/server"
	"github.com/dmorgan81/sdturbo/internal/service"
	"github.com/samber/do"
)

func main() {
	logger := log.NewTimestamped(os.Stderr)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateService()
	}
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.NewContext(ctx, logger)

	injector := inject.Setup(ctx, cfg)
	defer func() { _ = injector.Shutdown() }()

	// The model loads here, before the first request is accepted.
	svc, err := do.Invoke[*service.Service](injector)
	if err != nil {
		logger.Error("failed to start inference service", "err", err)
		os.Exit(1)
	}
	info := do.MustInvoke[*diffusion.Model](injector).Info
	logger.Info("model loaded", "model", info.Model, "variant", info.Variant, "revision", info.Revision, "weights_dir", info.WeightsDir)

	if err := server.ListenAndServe(ctx, cfg.Port, svc.Routes()); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
