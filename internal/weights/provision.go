package weights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// DefaultFiles lists the diffusers components needed to load an SDXL
// pipeline for the given weight variant.
func DefaultFiles(variant string) []string {
	weight := func(dir, name string) string {
		if variant == "" {
			return dir + "/" + name + ".safetensors"
		}
		return dir + "/" + name + "." + variant + ".safetensors"
	}
	tokenizer := func(dir string) []string {
		return lo.Map([]string{"merges.txt", "special_tokens_map.json", "tokenizer_config.json", "vocab.json"},
			func(f string, _ int) string { return dir + "/" + f })
	}

	files := []string{
		"model_index.json",
		"scheduler/scheduler_config.json",
		"text_encoder/config.json",
		weight("text_encoder", "model"),
		"text_encoder_2/config.json",
		weight("text_encoder_2", "model"),
		"unet/config.json",
		weight("unet", "diffusion_pytorch_model"),
		"vae/config.json",
		weight("vae", "diffusion_pytorch_model"),
	}
	files = append(files, tokenizer("tokenizer")...)
	return append(files, tokenizer("tokenizer_2")...)
}

type Provisioner struct {
	Client      *http.Client
	Endpoint    string
	Token       string
	Model       string
	Variant     string
	Revision    string
	Dir         string
	Files       []string
	Concurrency int
}

func NewProvisioner(i *do.Injector) (*Provisioner, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &Provisioner{
		Client:      do.MustInvoke[*http.Client](i),
		Endpoint:    cfg.HubEndpoint,
		Token:       cfg.HubToken,
		Model:       cfg.ModelID,
		Variant:     cfg.ModelVariant,
		Revision:    "main",
		Dir:         cfg.WeightsDir,
		Files:       DefaultFiles(cfg.ModelVariant),
		Concurrency: cfg.ProvisionConcurrency,
	}, nil
}

// Provision downloads every file into Dir and writes the manifest last.
// Files recorded by a previous manifest with an unchanged size on disk are
// kept as they are.
func (p *Provisioner) Provision(ctx context.Context) (Manifest, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("provisioner").With("model", p.Model, "variant", p.Variant)
	logger.Info("provisioning weights", "dir", p.Dir, "files", len(p.Files))

	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return Manifest{}, err
	}
	previous, _ := ReadManifest(p.Dir)

	var (
		mu    sync.Mutex
		files []File
	)
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(max(p.Concurrency, 1))
	for _, name := range p.Files {
		name := name
		group.Go(func() error {
			f, ok := p.reuse(previous, name)
			if ok {
				logger.Info("already present", "file", name)
			} else {
				var err error
				if f, err = p.download(ctx, name); err != nil {
					return fmt.Errorf("downloading %s: %w", name, err)
				}
				logger.Info("downloaded", "file", name, "size", f.Size)
			}
			mu.Lock()
			files = append(files, f)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Manifest{}, err
	}

	sort.Slice(files, func(a, b int) bool { return files[a].Path < files[b].Path })
	m := Manifest{
		Model:     p.Model,
		Variant:   p.Variant,
		Revision:  p.Revision,
		Files:     files,
		FetchedAt: time.Now().UTC(),
	}
	if err := writeManifest(p.Dir, m); err != nil {
		return Manifest{}, err
	}
	logger.Info("weights provisioned")
	return m, nil
}

func (p *Provisioner) reuse(previous Manifest, name string) (File, bool) {
	if previous.Model != p.Model || previous.Variant != p.Variant || previous.Revision != p.Revision {
		return File{}, false
	}
	f, ok := previous.lookup(name)
	if !ok {
		return File{}, false
	}
	info, err := os.Stat(filepath.Join(p.Dir, filepath.FromSlash(name)))
	return f, err == nil && info.Size() == f.Size
}

func (p *Provisioner) url(name string) string {
	return p.Endpoint + "/" + path.Join(p.Model, "resolve", p.Revision, name)
}

func (p *Provisioner) download(ctx context.Context, name string) (File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url(name), nil)
	if err != nil {
		return File{}, err
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return File{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	dst := filepath.Join(p.Dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return File{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return File{}, err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return File{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return File{}, err
	}

	return File{
		Path:   strings.TrimPrefix(name, "/"),
		Size:   size,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
