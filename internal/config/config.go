package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Backend names accepted by AI_BACKEND.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
	BackendArk    = "ark"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config aggregates the service configuration.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Store  StoreConfig
	Safety SafetyConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Addr string `env:"-"`
}

// LogConfig selects zerolog level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// AIConfig describes the generation backend and its fixed parameters.
type AIConfig struct {
	Backend     string        `env:"AI_BACKEND" envDefault:"remote"`
	BaseURL     string        `env:"AI_BASE_URL" envDefault:"http://localhost:4891/v1"`
	APIKey      string        `env:"AI_API_KEY"`
	Model       string        `env:"AI_MODEL" envDefault:"Llama 3 8B Instruct"`
	MaxTokens   int           `env:"AI_MAX_TOKENS" envDefault:"150"`
	Temperature float64       `env:"AI_TEMPERATURE" envDefault:"0.7"`
	WordLimit   int           `env:"AI_WORD_LIMIT" envDefault:"100"`
	Timeout     time.Duration `env:"AI_TIMEOUT" envDefault:"60s"`

	LocalModelPath string `env:"AI_LOCAL_MODEL_PATH"`
	LocalBinary    string `env:"AI_LOCAL_BINARY" envDefault:"llama-cli"`

	ArkAPIKey    string `env:"ARK_API_KEY"`
	ArkAccessKey string `env:"ARK_ACCESS_KEY"`
	ArkSecretKey string `env:"ARK_SECRET_KEY"`
	ArkModel     string `env:"ARK_MODEL"`
	ArkBaseURL   string `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	ArkRegion    string `env:"ARK_REGION" envDefault:"cn-beijing"`
}

// StoreConfig selects the conversation store.
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"STORE_DSN" envDefault:"solace.db"`
}

// SafetyConfig points at an optional safety vocabulary override.
type SafetyConfig struct {
	File string `env:"SAFETY_CONFIG_FILE"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	addr, err := listenAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.AI.Backend = strings.ToLower(strings.TrimSpace(cfg.AI.Backend))
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	if err := cfg.AI.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// listenAddr accepts "8080", ":8080" or "127.0.0.1:8080".
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}
	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}
	if strings.Contains(port, ":") {
		return port, nil
	}
	return ":" + port, nil
}

// Validate checks the backend selection and generation parameters.
func (c AIConfig) Validate() error {
	switch c.Backend {
	case BackendRemote:
		if strings.TrimSpace(c.BaseURL) == "" {
			return fmt.Errorf("AI_BASE_URL is required for the remote backend")
		}
	case BackendLocal:
		if strings.TrimSpace(c.LocalModelPath) == "" {
			return fmt.Errorf("AI_LOCAL_MODEL_PATH is required for the local backend")
		}
	case BackendArk:
		if !c.ArkEnabled() {
			return fmt.Errorf("ark backend needs ARK_MODEL and ARK_API_KEY or an AK/SK pair")
		}
	default:
		return fmt.Errorf("invalid AI_BACKEND value %q", c.Backend)
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid AI_MAX_TOKENS value %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("invalid AI_TEMPERATURE value %v", c.Temperature)
	}
	if c.WordLimit <= 0 {
		return fmt.Errorf("invalid AI_WORD_LIMIT value %d", c.WordLimit)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid AI_TIMEOUT value %s", c.Timeout)
	}
	return nil
}

// ArkEnabled reports whether the Ark credentials and model are present.
func (c AIConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewArkChatModel creates the Ark chat model used by the eino backend.
func (c AIConfig) NewArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing")
	}

	temperature := float32(c.Temperature)
	maxTokens := c.MaxTokens

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
}

// Validate checks the store driver.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case StoreMemory:
		return nil
	case StoreSQLite:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("STORE_DSN is required for the sqlite store")
		}
		return nil
	default:
		return fmt.Errorf("invalid STORE_DRIVER value %q", c.Driver)
	}
}
