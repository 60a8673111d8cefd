package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/robfig/cron/v3"
)

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}

type Job func(context.Context) error

// Run invokes job on every tick of spec (standard five-field cron syntax)
// until ctx is done. Overlapping ticks are skipped.
func Run(ctx context.Context, spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logger := log.FromContextOrDiscard(ctx).WithGroup("cron").With("schedule", spec)
	cl := cronLogger{logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddFunc(spec, func() {
		logger.Info("running scheduled job")
		if err := job(ctx); err != nil {
			logger.Error("scheduled job failed", "err", err)
			return
		}
		logger.Info("finished scheduled job")
	}); err != nil {
		return err
	}

	c.Start()
	logger.Info("cron scheduler started")

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("cron scheduler stopped")
	return nil
}
