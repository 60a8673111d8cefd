package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmorgan81/sdturbo/internal/config"
	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/dmorgan81/sdturbo/internal/service"
	"github.com/samber/do"
)

var ErrUnauthorized = errors.New("unauthorized")

type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Code == http.StatusUnauthorized
}

type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Client talks to the inference service. Every call is bounded by Timeout.
type Client struct {
	HTTP        *http.Client
	HealthURL   string
	GenerateURL string
	APIKey      string
	Timeout     time.Duration
}

func NewClient(i *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}
	key, err := do.InvokeNamed[string](i, "api_key")
	if err != nil {
		return nil, err
	}
	return &Client{
		HTTP:        do.MustInvoke[*http.Client](i),
		HealthURL:   cfg.HealthURL,
		GenerateURL: cfg.GenerateURL,
		APIKey:      key,
		Timeout:     cfg.RequestTimeout,
	}, nil
}

func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	log.FromContextOrDiscard(ctx).Info("checking health", "url", c.HealthURL)

	body, err := c.get(ctx, c.HealthURL, nil)
	if err != nil {
		return HealthStatus{}, err
	}

	var status HealthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return HealthStatus{}, fmt.Errorf("decoding health response: %w", err)
	}
	return status, nil
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	log.FromContextOrDiscard(ctx).Info("requesting image", "url", c.GenerateURL, "prompt", prompt)

	u, err := url.Parse(c.GenerateURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("prompt", prompt)
	u.RawQuery = q.Encode()

	return c.get(ctx, u.String(), http.Header{
		service.APIKeyHeader: []string{c.APIKey},
		"Accept":             []string{"image/jpeg"},
	})
}

func (c *Client) get(ctx context.Context, u string, header http.Header) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
