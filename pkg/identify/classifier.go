// Package identify turns a vision model into a coin classifier: it builds the
// prompt around the measured diameter, performs single attempts against a
// client.VisionClient, extracts the structured answer, and fingerprints it for
// consensus voting.
package identify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/menta2k/coin-id/pkg/client"
	"github.com/menta2k/coin-id/pkg/consensus"
)

// ErrClassifierUnavailable wraps transport or service failures of the model.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// Classifier performs one identification attempt per Classify call.
type Classifier struct {
	client client.VisionClient
	model  string
	prompt string
	image  string
	logger *slog.Logger
}

// NewClassifier binds a client, model, prompt and base64 image together.
func NewClassifier(c client.VisionClient, model, prompt, imgB64 string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client: c,
		model:  model,
		prompt: prompt,
		image:  imgB64,
		logger: logger,
	}
}

// Classify queries the model once. Failures are returned inside the attempt.
func (c *Classifier) Classify(ctx context.Context) consensus.Attempt {
	seq := consensus.SeqFromContext(ctx)

	raw, err := c.client.QueryImage(ctx, c.model, c.prompt, c.image)
	if err != nil {
		c.logger.Warn("classification attempt failed",
			"attempt", seq, "backend", c.client.Backend(), "model", c.model, "error", err)
		return consensus.Attempt{Err: fmt.Errorf("%w: %w", ErrClassifierUnavailable, err)}
	}

	rec, err := ParseStructured(raw)
	if err != nil {
		c.logger.Info("classification attempt unparseable",
			"attempt", seq, "error", err, "response_len", len(raw))
		return consensus.Attempt{Raw: raw, Err: err}
	}

	c.logger.Debug("classification attempt parsed", "attempt", seq, "fields", len(rec))
	return consensus.Attempt{Raw: raw, Record: rec}
}

// TestVision asks the model for a plain description of the image.
func (c *Classifier) TestVision(ctx context.Context) (string, error) {
	return c.client.QueryImage(ctx, c.model, SimpleTestPrompt, c.image)
}
