package store

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/lo"
)

type UploadParams struct {
	Name         string
	Data         []byte
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

type Object struct {
	Key          string
	LastModified time.Time
	Metadata     map[string]string
}

type Lister interface {
	// List returns objects whose key ends with suffix, newest first.
	List(ctx context.Context, suffix string) ([]Object, error)
}

const metaSuffix = ".meta"

// FileStore keeps objects in a local directory, metadata in a JSON sidecar.
type FileStore struct {
	Dir string
}

func (s *FileStore) Upload(ctx context.Context, params UploadParams) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("file")
	log.Info("writing", "file", params.Name, "dir", s.Dir)

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, params.Name), params.Data, 0o644); err != nil {
		return err
	}
	meta, err := json.Marshal(params.Metadata)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, params.Name+metaSuffix), meta, 0o644)
}

func (s *FileStore) List(ctx context.Context, suffix string) ([]Object, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries = lo.Filter(entries, func(e os.DirEntry, _ int) bool {
		return !e.IsDir() && strings.HasSuffix(e.Name(), suffix)
	})
	objs := make([]Object, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		obj := Object{Key: e.Name(), LastModified: info.ModTime()}
		if data, err := os.ReadFile(filepath.Join(s.Dir, e.Name()+metaSuffix)); err == nil {
			_ = json.Unmarshal(data, &obj.Metadata)
		}
		objs = append(objs, obj)
	}
	sortNewestFirst(objs)
	return objs, nil
}

// Handler serves stored objects by name. Metadata sidecars and directory
// listings are not exposed.
func (s *FileStore) Handler() http.Handler {
	files := http.FileServer(http.Dir(s.Dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if name == "/" || strings.HasSuffix(r.URL.Path, "/") || strings.HasSuffix(name, metaSuffix) {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}

func sortNewestFirst(objs []Object) {
	sort.SliceStable(objs, func(a, b int) bool {
		return objs[a].LastModified.After(objs[b].LastModified)
	})
}
