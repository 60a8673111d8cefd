package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dmorgan81/sdturbo/internal/log"
	"golang.org/x/sync/errgroup"
)

const ShutdownTimeout = 60 * time.Second

// ListenAndServe serves handler on port until ctx is done, then drains
// in-flight requests.
func ListenAndServe(ctx context.Context, port string, handler http.Handler) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	return Serve(ctx, ln, handler)
}

// Serve returns only after every in-flight request has completed or
// ShutdownTimeout has elapsed.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	logger := log.FromContextOrDiscard(ctx).WithGroup("server")
	logger.Info("starting server", "addr", ln.Addr().String())

	server := &http.Server{
		Handler:           log.Middleware(logger, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to gracefully shutdown: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
