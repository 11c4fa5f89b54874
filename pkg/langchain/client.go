// Package langchain implements client.VisionClient for hosted multimodal models
// through langchaingo: Google AI (Gemini and Gemma), OpenAI and Anthropic.
package langchain

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Supported providers.
const (
	ProviderGoogleAI  = "googleai"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config selects and authenticates a provider.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
}

// Client wraps a langchaingo model.
type Client struct {
	llm         llms.Model
	provider    string
	temperature float64
}

// New creates a client for the configured provider.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var model llms.Model
	var err error

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key required", provider)
	}

	switch provider {
	case ProviderGoogleAI:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create googleai model: %w", err)
		}

	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}

	return NewWithModel(model, provider, cfg.Temperature), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(model llms.Model, provider string, temperature float64) *Client {
	return &Client{llm: model, provider: provider, temperature: temperature}
}

// Backend names the backend for logs.
func (c *Client) Backend() string {
	return "langchain/" + c.provider
}

// QueryImage sends the image followed by the prompt as one human message.
func (c *Client) QueryImage(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	msg := llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(http.DetectContentType(imgBytes), imgBytes),
			llms.TextPart(prompt),
		},
	}

	opts := []llms.CallOption{llms.WithTemperature(c.temperature)}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}

	resp, err := c.llm.GenerateContent(ctx, []llms.MessageContent{msg}, opts...)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("%s generate: no response choices", c.provider)
	}
	return resp.Choices[0].Content, nil
}
