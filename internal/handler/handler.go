package handler

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/dmorgan81/sdturbo/internal/keepwarm"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/do"
)

type Runner interface {
	Run(context.Context) (keepwarm.Result, error)
}

type Output keepwarm.Result

// Handler is invoked by the hourly EventBridge rule.
type Handler struct {
	keeper Runner
}

func NewHandler(i *do.Injector) (*Handler, error) {
	keeper, err := do.Invoke[*keepwarm.Keeper](i)
	if err != nil {
		return nil, err
	}
	return &Handler{keeper: keeper}, nil
}

func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) (Output, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("id", event.ID, "time", event.Time)
	logger.Info("handling scheduled invocation", "source", event.Source)

	result, err := h.keeper.Run(log.NewContext(ctx, logger))
	return Output(result), err
}
