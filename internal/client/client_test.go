package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmorgan81/sdturbo/internal/service"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(service.APIKeyHeader) != "" {
			t.Errorf("health must be called without api key")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"Healthy","timestamp":"2024-05-01T12:00:00.123456+00:00"}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), HealthURL: srv.URL, APIKey: "secret123", Timeout: time.Second}
	status, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Status != "Healthy" {
		t.Errorf("unexpected status %q", status.Status)
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	if !status.Timestamp.Equal(want) {
		t.Errorf("expected %s, got %s", want, status.Timestamp)
	}
}

func TestHealthMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), HealthURL: srv.URL}
	if _, err := c.Health(context.Background()); err == nil {
		t.Errorf("expected error for malformed body")
	}
}

func TestGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(service.APIKeyHeader) != "secret123" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("prompt") != "a red apple" {
			http.Error(w, "bad prompt", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), GenerateURL: srv.URL + "/generate-image", APIKey: "secret123"}
	data, err := c.GenerateImage(context.Background(), "a red apple")
	if err != nil {
		t.Fatalf("GenerateImage: %v", err)
	}
	if len(data) != 3 {
		t.Errorf("unexpected body %v", data)
	}

	c.APIKey = "wrong"
	_, err = c.GenerateImage(context.Background(), "a red apple")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Body != "Unauthorized" {
		t.Errorf("expected StatusError with body, got %v", err)
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := &Client{HTTP: srv.Client(), HealthURL: srv.URL, Timeout: 50 * time.Millisecond}
	start := time.Now()
	if _, err := c.Health(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout was not applied")
	}
}
