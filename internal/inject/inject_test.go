package inject

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/dmorgan81/sdturbo/internal/client"
	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/diffusion"
	"github.com/dmorgan81/sdturbo/internal/gallery"
	"github.com/dmorgan81/sdturbo/internal/keepwarm"
	"github.com/dmorgan81/sdturbo/internal/service"
	"github.com/dmorgan81/sdturbo/internal/store"
	"github.com/dmorgan81/sdturbo/internal/weights"
	"github.com/samber/do"
)

type countingPipeline struct {
	loads []diffusion.Info
	calls int
	err   error
}

func (p *countingPipeline) Load(_ context.Context, info diffusion.Info) error {
	p.loads = append(p.loads, info)
	return p.err
}

func (p *countingPipeline) Generate(context.Context, diffusion.Params) (image.Image, error) {
	p.calls++
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func writeManifest(t *testing.T, dir string) {
	t.Helper()
	data, err := json.Marshal(weights.Manifest{
		Model: "stabilityai/sdxl-turbo",
		Files: []weights.File{{Path: "model_index.json", Size: 2}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, weights.ManifestName), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestServiceWiring(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	injector := Setup(context.Background(), &config.Config{WeightsDir: dir, APIKey: "secret123"})
	pipeline := &countingPipeline{}
	do.OverrideValue[diffusion.Pipeline](injector, pipeline)

	first, err := do.Invoke[*service.Service](injector)
	if err != nil {
		t.Fatalf("Invoke service: %v", err)
	}
	second := do.MustInvoke[*service.Service](injector)
	if first != second {
		t.Errorf("expected a single service per injector")
	}
	if do.MustInvoke[*diffusion.Model](injector) != do.MustInvoke[*diffusion.Model](injector) {
		t.Errorf("expected the model to be loaded once")
	}
	if len(pipeline.loads) != 1 || pipeline.loads[0].WeightsDir != dir || pipeline.loads[0].Model != "stabilityai/sdxl-turbo" {
		t.Errorf("expected one load of the provisioned weights, got %+v", pipeline.loads)
	}
}

func TestServiceWiringBackendRejectsModel(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir)
	injector := Setup(context.Background(), &config.Config{WeightsDir: dir, APIKey: "secret123"})
	do.OverrideValue[diffusion.Pipeline](injector, &countingPipeline{err: diffusion.ErrModelMismatch})

	if _, err := do.Invoke[*service.Service](injector); err == nil {
		t.Errorf("expected startup to fail when the backend cannot load the model")
	}
}

func TestServiceWiringNotProvisioned(t *testing.T) {
	injector := Setup(context.Background(), &config.Config{WeightsDir: t.TempDir(), APIKey: "secret123"})
	do.OverrideValue[diffusion.Pipeline](injector, &countingPipeline{})

	if _, err := do.Invoke[*service.Service](injector); err == nil {
		t.Errorf("expected error without provisioned weights")
	}
}

func TestKeeperAndGalleryWiring(t *testing.T) {
	cfg := &config.Config{
		APIKey:      "secret123",
		WarmPrompts: []string{"a red apple"},
		HealthURL:   "http://localhost:8000/health",
		GenerateURL: "http://localhost:8000/generate-image",
		StoreDir:    t.TempDir(),
		PublicURL:   "http://localhost:8080",
	}
	injector := Setup(context.Background(), cfg)

	c := do.MustInvoke[*client.Client](injector)
	if c.APIKey != "secret123" || c.HealthURL != cfg.HealthURL {
		t.Errorf("unexpected client %+v", c)
	}
	if _, err := do.Invoke[*keepwarm.Keeper](injector); err != nil {
		t.Errorf("Invoke keeper: %v", err)
	}
	if _, err := do.Invoke[*gallery.Gallery](injector); err != nil {
		t.Errorf("Invoke gallery: %v", err)
	}
	if _, ok := do.MustInvoke[store.Uploader](injector).(*store.FileStore); !ok {
		t.Errorf("expected file store without a bucket")
	}
	if _, ok := do.MustInvoke[store.Invalidator](injector).(store.NopInvalidator); !ok {
		t.Errorf("expected nop invalidator without a distribution")
	}
}
