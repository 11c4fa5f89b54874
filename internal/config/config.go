package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/menta2k/coin-id/internal/logging"
	"github.com/menta2k/coin-id/pkg/calibration"
	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/processing"
	"github.com/menta2k/coin-id/pkg/types"
)

// Backends accepted in classifier.backend.
const (
	BackendOllama    = "ollama"
	BackendLlamaCpp  = "llamacpp"
	BackendGoogleAI  = "googleai"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
)

// Config holds the application configuration
type Config struct {
	Classifier  ClassifierConfig  `json:"classifier"`
	Image       ImageConfig       `json:"image"`
	Calibration CalibrationConfig `json:"calibration"`
	Storage     StorageConfig     `json:"storage"`
	Bot         BotConfig         `json:"bot"`
	Logging     LoggingConfig     `json:"logging"`

	// Secrets come from the environment or .env only, never from the file.
	Secrets Secrets `json:"-"`
}

// ClassifierConfig selects the vision backend and the consensus policy
type ClassifierConfig struct {
	Backend     string  `json:"backend"`
	URL         string  `json:"url,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	// TimeoutSeconds bounds one model call.
	TimeoutSeconds int `json:"timeout_seconds"`
	// PromptFile replaces the built-in prompt template when set.
	PromptFile  string `json:"prompt_file,omitempty"`
	MaxAttempts int    `json:"max_attempts"`
	Threshold   int    `json:"threshold"`
	Parallelism int    `json:"parallelism"`
	Exhaustive  bool   `json:"exhaustive"`
}

// ImageConfig holds configuration for image preparation
type ImageConfig struct {
	Format         string   `json:"format"`
	MaxDim         int      `json:"max_dim"`
	Quality        int      `json:"quality"`
	Filters        []string `json:"filters"`
	ContrastFactor float64  `json:"contrast_factor"`
	SharpenSigma   float64  `json:"sharpen_sigma"`
	MinImageSize   int      `json:"min_image_size"`
}

// CalibrationConfig holds the starting state of new sessions and the circle
// limits offered to the user
type CalibrationConfig struct {
	// DefaultScale is the pixels per inch new sessions measure with until calibrated.
	DefaultScale      float64 `json:"default_scale"`
	DefaultCircleSize int     `json:"default_circle_size"`
	MinCircleSize     int     `json:"min_circle_size"`
	MaxCircleSize     int     `json:"max_circle_size"`
}

// StorageConfig selects the session store
type StorageConfig struct {
	// Driver is sqlite or memory.
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// BotConfig holds configuration for the Telegram front end
type BotConfig struct {
	PollTimeout int  `json:"poll_timeout"`
	Debug       bool `json:"debug"`
}

// LoggingConfig holds configuration for log output
type LoggingConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// Secrets are provider credentials.
type Secrets struct {
	GoogleAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	LlamaCppAPIKey  string
	TelegramToken   string
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			Backend:        BackendOllama,
			URL:            "http://localhost:11434",
			Model:          "gemma3:12b",
			Temperature:    0.7,
			TimeoutSeconds: 300,
			MaxAttempts:    consensus.DefaultMaxAttempts,
			Threshold:      consensus.DefaultThreshold,
			Parallelism:    1,
		},
		Image: ImageConfig{
			Format:         "jpg",
			MaxDim:         1024,
			Quality:        90,
			Filters:        []string{processing.FilterContrast},
			ContrastFactor: processing.DefaultContrastFactor,
			SharpenSigma:   1.0,
			MinImageSize:   processing.DefaultMinImageSize,
		},
		Calibration: CalibrationConfig{
			DefaultScale:      calibration.DefaultScale,
			DefaultCircleSize: calibration.DefaultCircleSize,
			MinCircleSize:     100,
			MaxCircleSize:     800,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir(), "sessions.db"),
		},
		Bot: BotConfig{
			PollTimeout: 60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .env, the config file if it exists, and COINID_* overrides, then validates.
// An empty path uses GetConfigPath.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = GetConfigPath()
	}

	cfg, err := LoadFromFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
	} else if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a JSON file. Fields missing from
// the file keep their defaults.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides settings from COINID_* variables and reads credentials.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("COINID_BACKEND", &c.Classifier.Backend)
	str("COINID_URL", &c.Classifier.URL)
	str("COINID_MODEL", &c.Classifier.Model)
	str("COINID_PROMPT_FILE", &c.Classifier.PromptFile)
	str("COINID_DB", &c.Storage.Path)
	str("COINID_STORAGE", &c.Storage.Driver)
	str("COINID_LOG_LEVEL", &c.Logging.Level)
	str("COINID_LOG_FILE", &c.Logging.File)

	for key, dst := range map[string]*int{
		"COINID_ATTEMPTS":    &c.Classifier.MaxAttempts,
		"COINID_THRESHOLD":   &c.Classifier.Threshold,
		"COINID_PARALLELISM": &c.Classifier.Parallelism,
		"COINID_MAX_DIM":     &c.Image.MaxDim,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}

	for key, dst := range map[string]*float64{
		"COINID_TEMPERATURE":   &c.Classifier.Temperature,
		"COINID_DEFAULT_SCALE": &c.Calibration.DefaultScale,
	} {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
	}
	if v, ok := os.LookupEnv("COINID_EXHAUSTIVE"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("COINID_EXHAUSTIVE: %w", err)
		}
		c.Classifier.Exhaustive = b
	}

	str("GOOGLE_API_KEY", &c.Secrets.GoogleAPIKey)
	str("OPENAI_API_KEY", &c.Secrets.OpenAIAPIKey)
	str("ANTHROPIC_API_KEY", &c.Secrets.AnthropicAPIKey)
	str("LLAMACPP_API_KEY", &c.Secrets.LlamaCppAPIKey)
	str("TELEGRAM_TOKEN", &c.Secrets.TelegramToken)
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	cl := c.Classifier
	switch cl.Backend {
	case BackendOllama, BackendLlamaCpp:
		if cl.URL == "" {
			return fmt.Errorf("classifier.url is required for the %s backend", cl.Backend)
		}
	case BackendGoogleAI, BackendOpenAI, BackendAnthropic:
	default:
		return fmt.Errorf("classifier.backend must be one of %s", strings.Join(Backends(), ", "))
	}

	if cl.Model == "" {
		return fmt.Errorf("classifier.model is required")
	}

	if cl.Temperature < 0 || cl.Temperature > 2 {
		return fmt.Errorf("classifier.temperature must be between 0 and 2")
	}

	if cl.MaxAttempts < 1 {
		return fmt.Errorf("classifier.max_attempts must be positive")
	}

	if cl.Threshold < 2 || cl.Threshold > cl.MaxAttempts {
		return fmt.Errorf("classifier.threshold must be between 2 and max_attempts (%d)", cl.MaxAttempts)
	}

	if cl.Parallelism < 1 {
		return fmt.Errorf("classifier.parallelism must be positive")
	}

	switch strings.ToLower(c.Image.Format) {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("image.format must be jpg or png")
	}

	if c.Image.Quality < 1 || c.Image.Quality > 100 {
		return fmt.Errorf("image.quality must be between 1 and 100")
	}

	if c.Image.MaxDim < 0 {
		return fmt.Errorf("image.max_dim cannot be negative")
	}

	if c.Image.MinImageSize < 1 {
		return fmt.Errorf("image.min_image_size must be positive")
	}

	if err := processing.ValidateFilters(c.Image.Filters); err != nil {
		return fmt.Errorf("image.filters: %w", err)
	}

	cal := c.Calibration
	if cal.MinCircleSize < 1 || cal.MaxCircleSize < cal.MinCircleSize {
		return fmt.Errorf("calibration circle limits must satisfy 1 <= min <= max")
	}

	if math.IsNaN(cal.DefaultScale) || math.IsInf(cal.DefaultScale, 0) || cal.DefaultScale <= 0 {
		return fmt.Errorf("calibration.default_scale must be positive")
	}

	if cal.DefaultCircleSize < cal.MinCircleSize || cal.DefaultCircleSize > cal.MaxCircleSize {
		return fmt.Errorf("calibration.default_circle_size must be between %d and %d", cal.MinCircleSize, cal.MaxCircleSize)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// Backends lists the supported classifier backends.
func Backends() []string {
	return []string{BackendOllama, BackendLlamaCpp, BackendGoogleAI, BackendOpenAI, BackendAnthropic}
}

// APIKey returns the credential for the configured backend.
func (c *Config) APIKey() string {
	switch c.Classifier.Backend {
	case BackendGoogleAI:
		return c.Secrets.GoogleAPIKey
	case BackendOpenAI:
		return c.Secrets.OpenAIAPIKey
	case BackendAnthropic:
		return c.Secrets.AnthropicAPIKey
	case BackendLlamaCpp:
		return c.Secrets.LlamaCppAPIKey
	}
	return ""
}

// ImageOptions converts the image section for the identifier.
func (c *Config) ImageOptions() types.ImageOptions {
	return types.ImageOptions{
		Format:         c.Image.Format,
		MaxDim:         c.Image.MaxDim,
		Quality:        c.Image.Quality,
		Filters:        append([]string{}, c.Image.Filters...),
		ContrastFactor: c.Image.ContrastFactor,
		SharpenSigma:   c.Image.SharpenSigma,
	}
}

// ConsensusOptions converts the classifier section into resolver options.
func (c *Config) ConsensusOptions() []consensus.Option {
	opts := []consensus.Option{
		consensus.WithMaxAttempts(c.Classifier.MaxAttempts),
		consensus.WithThreshold(c.Classifier.Threshold),
		consensus.WithParallelism(c.Classifier.Parallelism),
	}
	if c.Classifier.Exhaustive {
		opts = append(opts, consensus.WithExhaustive())
	}
	return opts
}

// NewCalibration returns the uncalibrated state a new session starts with.
func (c *Config) NewCalibration() *calibration.State {
	return calibration.New(c.Calibration.DefaultCircleSize, c.Calibration.DefaultScale)
}

// ClampCircle limits px to the configured circle range.
func (c *Config) ClampCircle(px int) int {
	return max(c.Calibration.MinCircleSize, min(px, c.Calibration.MaxCircleSize))
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "coin-id", "config.json")
}

func dataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "coin-id")
	}
	return "."
}
