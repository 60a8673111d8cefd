package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/handler"
	"github.com/dmorgan81/sdturbo/internal/inject"
	"github.com/dmorgan81/sdturbo/internal/keepwarm"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/schedule"
	"github.com/samber/do"
)

func main() {
	once := flag.Bool("once", false, "Run a single warm-up and exit")
	flag.Parse()

	_, inLambda := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	logger := log.NewTimestamped(os.Stderr)
	if inLambda {
		logger = log.New(os.Stderr)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	if inLambda {
		ctx := log.NewContext(context.Background(), logger)
		injector := inject.Setup(ctx, cfg)
		handler, err := do.Invoke[*handler.Handler](injector)
		if err != nil {
			logger.Error("failed to build handler", "err", err)
			os.Exit(1)
		}
		lambda.StartWithOptions(handler.Handle, lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
			_ = injector.Shutdown()
		}))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.NewContext(ctx, logger)

	injector := inject.Setup(ctx, cfg)
	keeper, err := do.Invoke[*keepwarm.Keeper](injector)
	if err != nil {
		logger.Error("failed to build warm-keeper", "err", err)
		os.Exit(1)
	}

	if *once {
		if _, err := keeper.Run(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := schedule.Run(ctx, cfg.Schedule, func(ctx context.Context) error {
		_, err := keeper.Run(ctx)
		return err
	}); err != nil {
		logger.Error("scheduler failed", "err", err)
		os.Exit(1)
	}
}
