package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dmorgan81/sdturbo/internal/diffusion"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/do"
)

const (
	APIKeyHeader  = "X-API-Key"
	StatusHealthy = "Healthy"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Service is built once per container and shared by every request.
type Service struct {
	model  *diffusion.Model
	apiKey string
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewService(i *do.Injector) (*Service, error) {
	key, err := do.InvokeNamed[string](i, "api_key")
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, errors.New("API key is not configured")
	}
	model, err := do.Invoke[*diffusion.Model](i)
	if err != nil {
		return nil, err
	}
	return &Service{
		model:  model,
		apiKey: key,
		now:    time.Now,
	}, nil
}

func (s *Service) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /generate-image", s.GenerateImage)
	mux.HandleFunc("GET /health", s.Health)
	return mux
}

// GenerateImage rejects the request before touching the model unless the
// presented key equals the configured one.
func (s *Service) GenerateImage(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContextOrDiscard(r.Context()).WithGroup("generate")

	if r.Header.Get(APIKeyHeader) != s.apiKey {
		logger.Info("rejected request with invalid api key")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	prompt := r.URL.Query().Get("prompt")
	if prompt == "" {
		http.Error(w, diffusion.ErrEmptyPrompt.Error(), http.StatusBadRequest)
		return
	}

	img, err := s.model.Generate(r.Context(), prompt)
	if err != nil {
		logger.Error("inference failed", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data, err := diffusion.EncodeJPEG(img, diffusion.JPEGQuality)
	if err != nil {
		logger.Error("encoding jpeg failed", "err", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: s.timestamp().Format(time.RFC3339Nano),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// timestamp never goes backwards, even if the wall clock does.
func (s *Service) timestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}
