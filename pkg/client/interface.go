package client

import (
	"context"
)

// VisionClient sends one image with a text prompt to a multimodal model and
// returns the model's free-text reply.
type VisionClient interface {
	QueryImage(ctx context.Context, model, prompt, imgB64 string) (string, error)
	Backend() string
}
