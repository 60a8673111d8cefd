package diffusion

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"

	// decoders for backend responses
	_ "image/png"
)

// Turbo-distilled models sample in a single step without classifier-free
// guidance.
const (
	TurboSteps         = 1
	TurboGuidanceScale = 0.0

	JPEGQuality = 90
)

// Params carries the model identity alongside the sampling arguments so a
// backend never answers with weights other than the provisioned ones.
type Params struct {
	Prompt        string  `json:"prompt"`
	Steps         int     `json:"num_inference_steps"`
	GuidanceScale float64 `json:"guidance_scale"`

	Model      string `json:"model"`
	Revision   string `json:"revision,omitempty"`
	WeightsDir string `json:"weights_dir"`
}

type Pipeline interface {
	// Load makes the backend serve the model described by info, failing if
	// it cannot.
	Load(context.Context, Info) error
	Generate(context.Context, Params) (image.Image, error)
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
