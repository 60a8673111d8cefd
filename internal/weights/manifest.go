package weights

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
)

const ManifestName = "manifest.json"

var ErrNotProvisioned = errors.New("model weights not provisioned")

type File struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest is written by the provisioner after every file is on disk.
type Manifest struct {
	Model     string    `json:"model"`
	Variant   string    `json:"variant"`
	Revision  string    `json:"revision"`
	Files     []File    `json:"files"`
	FetchedAt time.Time `json:"fetched_at"`
}

func (m Manifest) Validate() error {
	if m.Model == "" {
		return fmt.Errorf("manifest has no model")
	}
	if len(m.Files) == 0 {
		return fmt.Errorf("manifest for %s lists no files", m.Model)
	}
	return nil
}

func (m Manifest) lookup(path string) (File, bool) {
	return lo.Find(m.Files, func(f File) bool { return f.Path == path })
}

func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, fmt.Errorf("%w: no %s in %s", ErrNotProvisioned, ManifestName, dir)
	}
	if err != nil {
		return Manifest{}, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing %s: %w", ManifestName, err)
	}
	return m, m.Validate()
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, ManifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, ManifestName))
}
