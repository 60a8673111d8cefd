package keepwarm

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmorgan81/sdturbo/internal/client"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/prompt"
)

type fakeService struct {
	calls       []string
	healthErr   error
	generateErr error
	panicHealth bool
}

func (s *fakeService) Health(context.Context) (client.HealthStatus, error) {
	s.calls = append(s.calls, "health")
	if s.panicHealth {
		panic("boom")
	}
	if s.healthErr != nil {
		return client.HealthStatus{}, s.healthErr
	}
	return client.HealthStatus{Status: "Healthy", Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (s *fakeService) GenerateImage(_ context.Context, p string) ([]byte, error) {
	s.calls = append(s.calls, "generate:"+p)
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return []byte{0xff, 0xd8, 0xff, 0xd9}, nil
}

func newTestKeeper(s Service) *Keeper {
	return &Keeper{
		service:    s,
		randomizer: prompt.New([]string{"a red apple"}, 1),
		now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC) },
	}
}

func TestRunOrder(t *testing.T) {
	s := &fakeService{}
	result, err := newTestKeeper(s).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"health", "generate:a red apple"}
	if strings.Join(s.calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, s.calls)
	}
	if result.ImageBytes != 4 {
		t.Errorf("expected 4 image bytes, got %d", result.ImageBytes)
	}
	if result.HealthTimestamp.IsZero() || result.CompletedAt.IsZero() {
		t.Errorf("expected timestamps in result %+v", result)
	}
}

func TestRunContinuesAfterHealthFailure(t *testing.T) {
	s := &fakeService{healthErr: errors.New("connection refused")}
	result, err := newTestKeeper(s).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "health") {
		t.Fatalf("expected health error, got %v", err)
	}
	if len(s.calls) != 2 {
		t.Errorf("expected generate to still run, got calls %v", s.calls)
	}
	if result.ImageBytes == 0 {
		t.Errorf("expected generate result despite health failure")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	s := &fakeService{panicHealth: true, generateErr: client.ErrUnauthorized}
	_, err := newTestKeeper(s).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Errorf("expected panic to surface as error, got %v", err)
	}
	if !errors.Is(err, client.ErrUnauthorized) {
		t.Errorf("expected generate error to be joined, got %v", err)
	}
}

func TestRunLogsEachFailureOnce(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.NewContext(context.Background(), log.New(&buf))

	s := &fakeService{healthErr: errors.New("connection refused")}
	if _, err := newTestKeeper(s).Run(ctx); err == nil {
		t.Fatalf("expected health error")
	}
	if n := strings.Count(buf.String(), "connection refused"); n != 1 {
		t.Errorf("expected failure logged once, got %d times:\n%s", n, buf.String())
	}
}

func TestRunAgainstHTTPService(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		switch r.URL.Path {
		case "/health":
			_, _ = w.Write([]byte(`{"status":"Healthy","timestamp":"2024-05-01T12:00:00Z"}`))
		case "/generate-image":
			if r.Header.Get("X-API-Key") != "secret123" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8})
		}
	}))
	defer srv.Close()

	c := &client.Client{
		HTTP:        srv.Client(),
		HealthURL:   srv.URL + "/health",
		GenerateURL: srv.URL + "/generate-image",
		APIKey:      "secret123",
		Timeout:     time.Second,
	}
	if _, err := newTestKeeper(c).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Join(order, ",") != "/health,/generate-image" {
		t.Errorf("unexpected call order %v", order)
	}
}
