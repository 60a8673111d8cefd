package keepwarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmorgan81/sdturbo/internal/client"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/prompt"
	"github.com/samber/do"
)

type Service interface {
	Health(context.Context) (client.HealthStatus, error)
	GenerateImage(context.Context, string) ([]byte, error)
}

type Result struct {
	HealthTimestamp time.Time `json:"health_timestamp,omitempty"`
	ImageBytes      int       `json:"image_bytes"`
	CompletedAt     time.Time `json:"completed_at"`
}

// Keeper exercises the health endpoint and then the full authenticated
// generation path so the platform keeps a container around.
type Keeper struct {
	service    Service
	randomizer *prompt.Randomizer
	now        func() time.Time
}

func NewKeeper(i *do.Injector) (*Keeper, error) {
	c, err := do.Invoke[*client.Client](i)
	if err != nil {
		return nil, err
	}
	r, err := do.Invoke[*prompt.Randomizer](i)
	if err != nil {
		return nil, err
	}
	return &Keeper{
		service:    c,
		randomizer: r,
		now:        time.Now,
	}, nil
}

// Run calls health, then generate, strictly in that order. A failing step is
// logged and does not stop the next one; all step errors are returned joined.
func (k *Keeper) Run(ctx context.Context) (Result, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("keeper")
	var result Result

	healthErr := step(ctx, "health", func(ctx context.Context) error {
		status, err := k.service.Health(ctx)
		if err != nil {
			return err
		}
		result.HealthTimestamp = status.Timestamp
		logger.Info("health check", "status", status.Status, "timestamp", status.Timestamp.Format(time.RFC3339Nano))
		return nil
	})

	generateErr := step(ctx, "generate", func(ctx context.Context) error {
		data, err := k.service.GenerateImage(ctx, k.randomizer.Randomize(ctx))
		if err != nil {
			return err
		}
		result.ImageBytes = len(data)
		return nil
	})

	result.CompletedAt = k.now().UTC()
	if err := errors.Join(healthErr, generateErr); err != nil {
		logger.Warn("warm-up finished with failed steps", "completed_at", result.CompletedAt.Format(time.RFC3339Nano),
			"health_ok", healthErr == nil, "generate_ok", generateErr == nil)
		return result, err
	}
	logger.Info("generate endpoint tested successfully", "completed_at", result.CompletedAt.Format(time.RFC3339Nano), "bytes", result.ImageBytes)
	return result, nil
}

func step(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
		if err != nil {
			log.FromContextOrDiscard(ctx).WithGroup("keeper").Error("step failed", "step", name, "err", err)
		}
	}()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
