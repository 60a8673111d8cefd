package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

const (
	DefaultModelID      = "stabilityai/sdxl-turbo"
	DefaultModelVariant = "fp16"
	DefaultSchedule     = "0 * * * *"
)

// Config is read once per process from the environment.
type Config struct {
	APIKey      string
	APIKeyParam string

	Port         string
	InferenceURL     string
	InferenceLoadURL string
	InferenceKey     string

	WeightsDir           string
	ModelID              string
	ModelVariant         string
	HubEndpoint          string
	HubToken             string
	ProvisionConcurrency int

	HealthURL      string
	GenerateURL    string
	RequestTimeout time.Duration
	PromptsParam   string
	WarmPrompts    []string
	Schedule       string

	Bucket       string
	Distribution string
	PublicURL    string
	StoreDir     string
}

// Load reads the environment, preloading a .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		APIKey:       os.Getenv("API_KEY"),
		APIKeyParam:  os.Getenv("API_KEY_PARAM"),
		Port:         getenv("PORT", "8000"),
		InferenceURL: os.Getenv("INFERENCE_URL"),
		InferenceKey: os.Getenv("INFERENCE_KEY"),
		WeightsDir:   getenv("WEIGHTS_DIR", "/weights"),
		ModelID:      getenv("MODEL_ID", DefaultModelID),
		ModelVariant: getenv("MODEL_VARIANT", DefaultModelVariant),
		HubEndpoint:  strings.TrimSuffix(getenv("HF_ENDPOINT", "https://huggingface.co"), "/"),
		HubToken:     os.Getenv("HF_TOKEN"),
		PromptsParam: os.Getenv("PROMPTS_PARAM"),
		Schedule:     getenv("WARM_SCHEDULE", DefaultSchedule),
		Bucket:       os.Getenv("BUCKET"),
		Distribution: os.Getenv("DISTRIBUTION"),
		PublicURL:    strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/"),
		StoreDir:     getenv("STORE_DIR", "gallery"),
	}

	if v := os.Getenv("WARM_PROMPTS"); v != "" {
		cfg.WarmPrompts = strings.Split(v, ";")
	}

	if n, err := strconv.Atoi(os.Getenv("PROVISION_CONCURRENCY")); err == nil && n > 0 {
		cfg.ProvisionConcurrency = n
	} else {
		cfg.ProvisionConcurrency = 4
	}

	if d, err := time.ParseDuration(os.Getenv("REQUEST_TIMEOUT")); err == nil && d > 0 {
		cfg.RequestTimeout = d
	} else {
		cfg.RequestTimeout = 60 * time.Second
	}

	base := strings.TrimSuffix(os.Getenv("SERVICE_URL"), "/")
	cfg.HealthURL = getenv("HEALTH_URL", lo.Ternary(base != "", base+"/health", ""))
	cfg.GenerateURL = getenv("GENERATE_URL", lo.Ternary(base != "", base+"/generate-image", ""))

	cfg.InferenceLoadURL = getenv("INFERENCE_LOAD_URL", sibling(cfg.InferenceURL, "load"))

	return cfg, nil
}

// ValidateService checks what the inference service needs to start.
func (c *Config) ValidateService() error {
	if c.InferenceURL == "" {
		return fmt.Errorf("INFERENCE_URL is required")
	}
	return nil
}

// ValidateClient checks what callers of the inference service need.
func (c *Config) ValidateClient() error {
	if c.HealthURL == "" {
		return fmt.Errorf("HEALTH_URL or SERVICE_URL is required")
	}
	if c.GenerateURL == "" {
		return fmt.Errorf("GENERATE_URL or SERVICE_URL is required")
	}
	return nil
}

// ValidateGallery checks what the gallery needs to publish images.
func (c *Config) ValidateGallery() error {
	if c.Bucket != "" && c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required when BUCKET is set")
	}
	return c.ValidateClient()
}

// sibling resolves name next to the last path element of raw, so
// http://gpu/generate becomes http://gpu/load.
func sibling(raw, name string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.ResolveReference(&url.URL{Path: name}).String()
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
