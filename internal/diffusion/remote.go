package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"

	"github.com/dmorgan81/sdturbo/internal/log"
	"github.com/samber/do"
)

var ErrModelMismatch = errors.New("inference backend serves a different model")

// RemotePipeline runs inference on a GPU backend that accepts diffusers
// pipeline arguments as JSON and answers with an encoded image. The backend
// reads weights from the directory named in each request.
type RemotePipeline struct {
	Client  *http.Client
	URL     string
	LoadURL string
	Key     string
}

func NewRemotePipeline(i *do.Injector) (Pipeline, error) {
	return &RemotePipeline{
		Client:  do.MustInvoke[*http.Client](i),
		URL:     do.MustInvokeNamed[string](i, "inference_url"),
		LoadURL: do.MustInvokeNamed[string](i, "inference_load_url"),
		Key:     do.MustInvokeNamed[string](i, "inference_key"),
	}, nil
}

// Load asks the backend to load info and checks that the model it reports
// back is the one requested.
func (p *RemotePipeline) Load(ctx context.Context, info Info) error {
	logger := log.FromContextOrDiscard(ctx).WithGroup("pipeline").With("url", p.LoadURL)
	logger.Info("loading model", "model", info.Model, "revision", info.Revision, "weights_dir", info.WeightsDir)

	resp, err := p.post(ctx, p.LoadURL, "application/json", info)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var loaded Info
	if err := json.NewDecoder(resp.Body).Decode(&loaded); err != nil {
		return fmt.Errorf("decoding backend model info: %w", err)
	}
	if loaded.Model != info.Model || (loaded.Revision != "" && loaded.Revision != info.Revision) {
		return fmt.Errorf("%w: want %s@%s, got %s@%s", ErrModelMismatch,
			info.Model, info.Revision, loaded.Model, loaded.Revision)
	}
	logger.Info("model loaded")
	return nil
}

func (p *RemotePipeline) Generate(ctx context.Context, params Params) (image.Image, error) {
	logger := log.FromContextOrDiscard(ctx).WithGroup("pipeline").With("url", p.URL)
	logger.Info("running inference", "model", params.Model, "steps", params.Steps, "guidance_scale", params.GuidanceScale)

	resp, err := p.post(ctx, p.URL, "image/png, image/jpeg", params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, format, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decoding backend image: %w", err)
	}
	logger.Info("received image", "format", format, "bounds", img.Bounds().String())
	return img, nil
}

// post returns the response only for a 2xx status; the caller closes it.
func (p *RemotePipeline) post(ctx context.Context, url, accept string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("inference backend returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return resp, nil
}
