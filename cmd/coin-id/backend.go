package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	coinid "github.com/menta2k/coin-id"
	"github.com/menta2k/coin-id/internal/config"
	"github.com/menta2k/coin-id/pkg/client"
	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/langchain"
	"github.com/menta2k/coin-id/pkg/llamacpp"
	"github.com/menta2k/coin-id/pkg/ollama"
)

// newVisionClient creates the client for the configured backend.
func newVisionClient(ctx context.Context, cfg *config.Config) (client.VisionClient, error) {
	cl := cfg.Classifier
	timeout := time.Duration(cl.TimeoutSeconds) * time.Second

	switch cl.Backend {
	case config.BackendOllama:
		c, err := ollama.NewClient(cl.URL,
			ollama.WithTemperature(cl.Temperature),
			ollama.WithTimeout(timeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil

	case config.BackendLlamaCpp:
		c, err := llamacpp.NewClient(cl.URL,
			llamacpp.WithAPIKey(cfg.APIKey()),
			llamacpp.WithTemperature(cl.Temperature),
			llamacpp.WithHTTPClient(&http.Client{Timeout: timeout}))
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil

	case config.BackendGoogleAI, config.BackendOpenAI, config.BackendAnthropic:
		lc := langchain.Config{
			Provider:    cl.Backend,
			APIKey:      cfg.APIKey(),
			Model:       cl.Model,
			Temperature: cl.Temperature,
		}
		// An OpenAI-compatible server can stand in for the hosted API.
		if cl.Backend == config.BackendOpenAI && cl.URL != config.Default().Classifier.URL {
			lc.BaseURL = cl.URL
		}
		c, err := langchain.New(ctx, lc)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", cl.Backend, err)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("unknown backend: %s", cl.Backend)
	}
}

// newIdentifier wires the configured backend into a coin identifier.
func newIdentifier(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...consensus.Option) (*coinid.Identifier, error) {
	vc, err := newVisionClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	prompt := ""
	if cfg.Classifier.PromptFile != "" {
		data, err := os.ReadFile(cfg.Classifier.PromptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		prompt = string(data)
	}

	return coinid.New(vc, coinid.Config{
		Model:        cfg.Classifier.Model,
		Prompt:       prompt,
		Image:        cfg.ImageOptions(),
		MinImageSize: cfg.Image.MinImageSize,
		Consensus:    append(cfg.ConsensusOptions(), extra...),
	}, logger)
}
