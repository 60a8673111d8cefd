package weights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func hubServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Authorization") != "Bearer hf_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "missing.json") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("content of " + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProvisioner(srv *httptest.Server, dir string, files ...string) *Provisioner {
	return &Provisioner{
		Client:      srv.Client(),
		Endpoint:    srv.URL,
		Token:       "hf_test",
		Model:       "stabilityai/sdxl-turbo",
		Variant:     "fp16",
		Revision:    "main",
		Dir:         dir,
		Files:       files,
		Concurrency: 2,
	}
}

func TestProvision(t *testing.T) {
	var hits atomic.Int32
	srv := hubServer(t, &hits)
	dir := t.TempDir()

	p := newTestProvisioner(srv, dir, "model_index.json", "unet/diffusion_pytorch_model.fp16.safetensors")
	m, err := p.Provision(context.Background())
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if len(m.Files) != 2 {
		t.Fatalf("expected 2 files in manifest, got %d", len(m.Files))
	}

	want := "content of /stabilityai/sdxl-turbo/resolve/main/unet/diffusion_pytorch_model.fp16.safetensors"
	data, err := os.ReadFile(filepath.Join(dir, "unet", "diffusion_pytorch_model.fp16.safetensors"))
	if err != nil {
		t.Fatalf("reading weight file: %v", err)
	}
	if string(data) != want {
		t.Errorf("unexpected file content %q", data)
	}

	sum := sha256.Sum256([]byte(want))
	f, ok := m.lookup("unet/diffusion_pytorch_model.fp16.safetensors")
	if !ok || f.SHA256 != hex.EncodeToString(sum[:]) || f.Size != int64(len(want)) {
		t.Errorf("unexpected manifest entry %+v", f)
	}

	read, err := ReadManifest(dir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if read.Model != "stabilityai/sdxl-turbo" || len(read.Files) != 2 {
		t.Errorf("unexpected manifest on disk %+v", read)
	}
}

func TestProvisionSkipsPresentFiles(t *testing.T) {
	var hits atomic.Int32
	srv := hubServer(t, &hits)
	dir := t.TempDir()

	p := newTestProvisioner(srv, dir, "model_index.json", "vae/config.json")
	if _, err := p.Provision(context.Background()); err != nil {
		t.Fatalf("first Provision: %v", err)
	}
	first := hits.Load()

	if _, err := p.Provision(context.Background()); err != nil {
		t.Fatalf("second Provision: %v", err)
	}
	if hits.Load() != first {
		t.Errorf("expected no downloads on second run, got %d more", hits.Load()-first)
	}

	if err := os.WriteFile(filepath.Join(dir, "vae", "config.json"), []byte("truncated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Provision(context.Background()); err != nil {
		t.Fatalf("third Provision: %v", err)
	}
	if hits.Load() != first+1 {
		t.Errorf("expected the changed file to be fetched again, got %d downloads", hits.Load()-first)
	}
}

func TestProvisionFailure(t *testing.T) {
	var hits atomic.Int32
	srv := hubServer(t, &hits)
	dir := t.TempDir()

	p := newTestProvisioner(srv, dir, "model_index.json", "missing.json")
	if _, err := p.Provision(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := ReadManifest(dir); !errors.Is(err, ErrNotProvisioned) {
		t.Errorf("expected ErrNotProvisioned after failed run, got %v", err)
	}
}

func TestDefaultFiles(t *testing.T) {
	files := DefaultFiles("fp16")
	for _, want := range []string{
		"model_index.json",
		"unet/diffusion_pytorch_model.fp16.safetensors",
		"text_encoder_2/model.fp16.safetensors",
		"tokenizer_2/vocab.json",
	} {
		found := false
		for _, f := range files {
			if f == want {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %s in default files", want)
		}
	}
}
