package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/gallery"
	"github.com/dmorgan81/sdturbo/internal/inject"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/server"
	"github.com/dmorgan81/sdturbo/internal/store"
	"github.com/samber/do"
)

func main() {
	port := flag.String("port", "8080", "port at which to listen for HTTP connections")
	flag.Parse()

	logger := log.NewTimestamped(os.Stderr)

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateGallery()
	}
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = log.NewContext(ctx, logger)

	if cfg.Bucket == "" && cfg.PublicURL == "" {
		cfg.PublicURL = "/files"
	}

	injector := inject.Setup(ctx, cfg)
	g, err := do.Invoke[*gallery.Gallery](injector)
	if err != nil {
		logger.Error("failed to build gallery", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", g.Routes())
	if cfg.Bucket == "" {
		files := &store.FileStore{Dir: cfg.StoreDir}
		mux.Handle("GET /files/", http.StripPrefix("/files", files.Handler()))
	}

	if err := server.ListenAndServe(ctx, *port, mux); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
