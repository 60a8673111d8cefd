package diffusion

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/weights"
	"github.com/samber/do"
)

const LoadTimeout = 5 * time.Minute

var ErrEmptyPrompt = errors.New("prompt is required")

type Info struct {
	Model      string `json:"model"`
	Variant    string `json:"variant,omitempty"`
	Revision   string `json:"revision,omitempty"`
	WeightsDir string `json:"weights_dir,omitempty"`
}

// Model is the loaded pipeline of one container. The injector creates it
// once; handlers only read it.
type Model struct {
	Info     Info
	pipeline Pipeline
}

func NewModel(i *do.Injector) (*Model, error) {
	cfg := do.MustInvoke[*config.Config](i)
	manifest, err := weights.ReadManifest(cfg.WeightsDir)
	if err != nil {
		return nil, err
	}
	pipeline, err := do.Invoke[Pipeline](i)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), LoadTimeout)
	defer cancel()
	return Load(ctx, cfg.WeightsDir, manifest, pipeline)
}

// Load binds the provisioned weights in dir to pipeline. It fails when the
// pipeline cannot serve them.
func Load(ctx context.Context, dir string, manifest weights.Manifest, pipeline Pipeline) (*Model, error) {
	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("loading model: %w", err)
	}
	info := Info{
		Model:      manifest.Model,
		Variant:    manifest.Variant,
		Revision:   manifest.Revision,
		WeightsDir: dir,
	}
	if err := pipeline.Load(ctx, info); err != nil {
		return nil, fmt.Errorf("loading model %s: %w", info.Model, err)
	}
	return &Model{Info: info, pipeline: pipeline}, nil
}

// Generate always samples with the turbo constants.
func (m *Model) Generate(ctx context.Context, prompt string) (image.Image, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	log.FromContextOrDiscard(ctx).Info("generating image", "model", m.Info.Model, "prompt", prompt)
	return m.pipeline.Generate(ctx, Params{
		Prompt:        prompt,
		Steps:         TurboSteps,
		GuidanceScale: TurboGuidanceScale,
		Model:         m.Info.Model,
		Revision:      m.Info.Revision,
		WeightsDir:    m.Info.WeightsDir,
	})
}

func (m *Model) HealthCheck() error {
	if m.pipeline == nil {
		return fmt.Errorf("model %s has no pipeline", m.Info.Model)
	}
	return nil
}
