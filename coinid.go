// Package coinid identifies coins from photos with a multimodal vision model.
//
// A photo is preprocessed, encoded, and sent to the model together with a
// prompt that embeds the physically measured diameter. Because a single model
// answer is not trustworthy, the model is asked repeatedly and an answer is
// only confirmed once it recurs (see pkg/consensus).
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//		"log"
//
//		coinid "github.com/menta2k/coin-id"
//		"github.com/menta2k/coin-id/pkg/calibration"
//		"github.com/menta2k/coin-id/pkg/ollama"
//	)
//
//	func main() {
//		vc, err := ollama.NewClient("http://localhost:11434")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		id, err := coinid.New(vc, coinid.Config{Model: "gemma3:12b"}, nil)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		cal := calibration.NewState()
//		if err := cal.Calibrate(calibration.EuroTwo); err != nil {
//			log.Fatal(err)
//		}
//
//		report, err := id.IdentifyFile(context.Background(), "coin.jpg", cal.Measure())
//		if err != nil {
//			log.Fatal(err)
//		}
//		fmt.Println(report.Identification.Title(), report.Confirmed)
//	}
//
// The package consists of these main components:
//
//  1. Calibration (pkg/calibration): screen scale and diameter measurement
//  2. Consensus (pkg/consensus): repeated sampling and voting
//  3. Identify (pkg/identify): prompt, response parsing and fingerprints
//  4. Processing (pkg/processing) and Framing (pkg/framing): image preparation
//  5. Backends (pkg/ollama, pkg/llamacpp, pkg/langchain): vision model clients
package coinid

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/client"
	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/identify"
	"github.com/menta2k/coin-id/pkg/links"
	"github.com/menta2k/coin-id/pkg/processing"
	"github.com/menta2k/coin-id/pkg/types"
)

// Version of the coin identification library
const Version = "1.0.0"

// Config tunes an Identifier.
type Config struct {
	// Model is passed to the backend unchanged.
	Model string
	// Prompt is a template for identify.BuildPrompt, empty for the default.
	Prompt string
	// Image controls preprocessing and encoding of the photo.
	Image types.ImageOptions
	// MinImageSize rejects photos with a smaller side, 0 for the default.
	MinImageSize int
	// Consensus options, defaults are 5 attempts and a threshold of 2.
	Consensus []consensus.Option
}

// DefaultImageOptions matches the preprocessing of the hosted app: contrast
// boosted by 1.8, JPEG at quality 90, long side at most 1024 px.
func DefaultImageOptions() types.ImageOptions {
	return types.ImageOptions{
		Format:         "jpg",
		MaxDim:         1024,
		Quality:        90,
		Filters:        []string{processing.FilterContrast},
		ContrastFactor: processing.DefaultContrastFactor,
	}
}

// Identifier provides a high-level interface for coin identification
type Identifier struct {
	client    client.VisionClient
	processor *processing.Processor
	resolver  *consensus.Resolver
	model     string
	prompt    string
	image     types.ImageOptions
	logger    *slog.Logger
}

// Report is the outcome of one identification run.
type Report struct {
	RunID       string                  `json:"run_id"`
	Backend     string                  `json:"backend"`
	Model       string                  `json:"model"`
	Measurement calibration.Measurement `json:"measurement"`
	// Confirmed is true when the identification reached consensus. Otherwise
	// Identification holds the unverified best guess, if any.
	Confirmed      bool                 `json:"confirmed"`
	Identification types.Identification `json:"identification"`
	Links          []links.Link         `json:"links,omitempty"`
	Result         consensus.Result     `json:"result"`
	StartedAt      time.Time            `json:"started_at"`
	Duration       time.Duration        `json:"duration"`

	// Prepared is the image as sent to the model.
	Prepared image.Image `json:"-"`
}

// Found reports whether any attempt produced an identification.
func (r *Report) Found() bool {
	return r.Result.Best() != nil
}

// New creates an Identifier around a vision client.
func New(c client.VisionClient, cfg Config, logger *slog.Logger) (*Identifier, error) {
	if c == nil {
		return nil, fmt.Errorf("vision client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	resolver, err := consensus.NewResolver(cfg.Consensus...)
	if err != nil {
		return nil, err
	}
	if err := processing.ValidateFilters(cfg.Image.Filters); err != nil {
		return nil, err
	}

	return &Identifier{
		client:    c,
		processor: processing.NewProcessor().WithMinSize(cfg.MinImageSize),
		resolver:  resolver,
		model:     cfg.Model,
		prompt:    cfg.Prompt,
		image:     withImageDefaults(cfg.Image),
		logger:    logger,
	}, nil
}

// withImageDefaults fills unset fields from DefaultImageOptions. A nil
// filter list means the defaults, an empty one means no filters. MaxDim is
// kept as given, 0 sends the original size.
func withImageDefaults(o types.ImageOptions) types.ImageOptions {
	def := DefaultImageOptions()
	if o.Format == "" {
		o.Format = def.Format
	}
	if o.Quality <= 0 {
		o.Quality = def.Quality
	}
	if o.Filters == nil {
		o.Filters = def.Filters
	}
	if o.ContrastFactor <= 0 {
		o.ContrastFactor = def.ContrastFactor
	}
	return o
}

// Processor exposes the image processor used for loading and saving.
func (id *Identifier) Processor() *processing.Processor {
	return id.processor
}

// Prepare validates and preprocesses img and returns it with its base64 payload.
func (id *Identifier) Prepare(img image.Image) (image.Image, string, error) {
	if err := id.processor.ValidateImage(img); err != nil {
		return nil, "", err
	}
	prepared, err := id.processor.Preprocess(img, id.image)
	if err != nil {
		return nil, "", fmt.Errorf("preprocess: %w", err)
	}
	b64, err := id.processor.PrepareImageForModel(prepared, id.image.Format, id.image.MaxDim, id.image.Quality)
	if err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return prepared, b64, nil
}

// Identify runs the consensus loop for img at the measured diameter. Only
// image preparation errors are returned; model failures end up in the report.
func (id *Identifier) Identify(ctx context.Context, img image.Image, m calibration.Measurement) (*Report, error) {
	prepared, b64, err := id.Prepare(img)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := id.logger.With("run_id", runID, "backend", id.client.Backend(), "model", id.model)
	prompt := identify.BuildPrompt(id.prompt, m)
	classifier := identify.NewClassifier(id.client, id.model, prompt, b64, logger)

	logger.Info("identification started", "diameter", m.String(), "max_attempts", id.resolver.Options().MaxAttempts)
	started := time.Now()
	result := id.resolver.Resolve(ctx, classifier, identify.Fingerprint)

	report := &Report{
		RunID:       runID,
		Backend:     id.client.Backend(),
		Model:       id.model,
		Measurement: m,
		Confirmed:   result.Confirmed(),
		Result:      result,
		StartedAt:   started,
		Duration:    time.Since(started),
		Prepared:    prepared,
	}
	if best := result.Best(); best != nil {
		report.Identification = types.FromFields(best.Record)
		report.Links = links.Build(report.Identification, m.DiameterMM)
	}

	logger.Info("identification finished",
		"state", result.State.String(),
		"agreement", result.AgreementCount,
		"attempts", len(result.Attempts),
		"failed", result.FailedAttempts(),
		"identification", report.Identification.Title(),
		"duration", report.Duration)
	return report, nil
}

// IdentifyFile loads a photo from a path or http(s) URL and identifies it.
func (id *Identifier) IdentifyFile(ctx context.Context, source string, m calibration.Measurement) (*Report, error) {
	img, err := id.processor.LoadImageSmart(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	return id.Identify(ctx, img, m)
}

// IdentifyBytes decodes an encoded photo and identifies it.
func (id *Identifier) IdentifyBytes(ctx context.Context, data []byte, m calibration.Measurement) (*Report, error) {
	img, err := id.processor.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return id.Identify(ctx, img, m)
}

// TestVision asks the model to describe img, to check that it sees images at all.
func (id *Identifier) TestVision(ctx context.Context, img image.Image) (string, error) {
	_, b64, err := id.Prepare(img)
	if err != nil {
		return "", err
	}
	return identify.NewClassifier(id.client, id.model, "", b64, id.logger).TestVision(ctx)
}
