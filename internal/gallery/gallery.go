package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmorgan81/sdturbo/internal/client"
	"github.com/dmorgan81/sdturbo/internal/feed"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/page"
	"github.com/dmorgan81/sdturbo/internal/store"
	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	MaxRequestBytes = 64 << 10

	imageCacheControl = "public, max-age=31536000, immutable"
	feedCacheControl  = "public, max-age=60"
)

type Generator interface {
	GenerateImage(context.Context, string) ([]byte, error)
}

type GenerateRequest struct {
	Text string `json:"text"`
}

type GenerateResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Gallery publishes generated images and serves what has been published.
type Gallery struct {
	generator   Generator
	uploader    store.Uploader
	lister      store.Lister
	invalidator store.Invalidator
	feed        *feed.Generator
	templator   *page.Templator
	publicURL   string
	newName     func() string
	now         func() time.Time
}

func NewGallery(i *do.Injector) (*Gallery, error) {
	generator, err := do.Invoke[*client.Client](i)
	if err != nil {
		return nil, err
	}
	return &Gallery{
		generator:   generator,
		uploader:    do.MustInvoke[store.Uploader](i),
		lister:      do.MustInvoke[store.Lister](i),
		invalidator: do.MustInvoke[store.Invalidator](i),
		feed:        do.MustInvoke[*feed.Generator](i),
		templator:   do.MustInvoke[*page.Templator](i),
		publicURL:   do.MustInvokeNamed[string](i, "public_url"),
		newName:     func() string { return uuid.NewString() + ".jpg" },
		now:         time.Now,
	}, nil
}

func (g *Gallery) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/generate-image", g.Generate)
	mux.HandleFunc("GET /api/get-images", g.Images)
	mux.HandleFunc("GET /feed.xml", g.Feed)
	mux.HandleFunc("GET /{$}", g.Index)
	return mux
}

func (g *Gallery) Generate(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContextOrDiscard(r.Context()).WithGroup("gallery")

	var req GenerateRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes)).Decode(&req)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, GenerateResponse{Error: "request too large"})
		return
	}
	if err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, GenerateResponse{Error: "text is required"})
		return
	}

	url, err := g.publish(r.Context(), req.Text)
	if err != nil {
		logger.Error("failed to process request", "prompt", req.Text, "err", err)
		writeJSON(w, http.StatusInternalServerError, GenerateResponse{Error: "Failed to process request"})
		return
	}
	writeJSON(w, http.StatusOK, GenerateResponse{Success: true, ImageURL: url})
}

func (g *Gallery) publish(ctx context.Context, prompt string) (string, error) {
	img, err := g.generator.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}

	name := g.newName()
	if err := g.uploader.Upload(ctx, store.UploadParams{
		Name:         name,
		Data:         img,
		ContentType:  "image/jpeg",
		CacheControl: imageCacheControl,
		Metadata: map[string]string{
			"prompt": prompt,
			"date":   g.now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return "", err
	}

	if err := g.refreshFeed(ctx); err != nil {
		log.FromContextOrDiscard(ctx).Error("failed to refresh feed", "err", err)
	}
	return g.url(name), nil
}

func (g *Gallery) refreshFeed(ctx context.Context) error {
	rss, err := g.feed.Generate(ctx)
	if err != nil {
		return err
	}
	if err := g.uploader.Upload(ctx, store.UploadParams{
		Name:         feed.Name,
		Data:         rss,
		ContentType:  "application/rss+xml",
		CacheControl: feedCacheControl,
	}); err != nil {
		return err
	}
	return g.invalidator.Invalidate(ctx, []string{"/" + feed.Name})
}

func (g *Gallery) Images(w http.ResponseWriter, r *http.Request) {
	objs, err := g.lister.List(r.Context(), ".jpg")
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("failed to list images", "err", err)
		writeJSON(w, http.StatusInternalServerError, GenerateResponse{Error: "Failed to list images"})
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(objs, func(o store.Object, _ int) string {
		return g.url(o.Key)
	}))
}

func (g *Gallery) Feed(w http.ResponseWriter, r *http.Request) {
	rss, err := g.feed.Generate(r.Context())
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("failed to generate feed", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write(rss)
}

func (g *Gallery) Index(w http.ResponseWriter, r *http.Request) {
	objs, err := g.lister.List(r.Context(), ".jpg")
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("failed to list images", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	html, err := g.templator.Template(r.Context(), page.Params{
		Images: lo.Map(objs, func(o store.Object, _ int) page.Image {
			return page.Image{URL: g.url(o.Key), Prompt: o.Metadata["prompt"]}
		}),
	})
	if err != nil {
		log.FromContextOrDiscard(r.Context()).Error("failed to render page", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func (g *Gallery) url(key string) string {
	return g.publicURL + "/" + key
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
