// Package config provides configuration loading for the module creator.
// Supports a .env file, YAML files, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/module-creator/internal/domain"
	"github.com/spherical/module-creator/internal/llm"
	"github.com/spherical/module-creator/internal/pdf"
)

// Config holds all configuration for the module creator.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Extractor     ExtractorConfig     `yaml:"extractor"`
	Events        EventsConfig        `yaml:"events"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds completion service settings. APIKey is only ever read
// from the environment.
type LLMConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"-"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
}

// PipelineConfig holds generation pipeline settings.
type PipelineConfig struct {
	StageTimeout        time.Duration `yaml:"stage_timeout"`
	ParallelStructuring bool          `yaml:"parallel_structuring"`
	JSONMode            bool          `yaml:"json_mode"`
}

// ExtractorConfig selects the text extraction backend.
type ExtractorConfig struct {
	Backend           string `yaml:"backend"` // fitz or pdfcpu
	ValidateStructure bool   `yaml:"validate_structure"`
}

// EventsConfig holds progress event settings.
type EventsConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis pub/sub settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from an optional YAML file, applies .env and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     0, // SSE streams stay open
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadBytes:   32 << 20,
		},
		LLM: LLMConfig{
			Endpoint:          llm.DefaultEndpoint,
			Model:             llm.DefaultModel,
			RequestsPerSecond: 2,
			MaxRetries:        0,
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
		},
		Pipeline: PipelineConfig{
			StageTimeout:        90 * time.Second,
			ParallelStructuring: false,
			JSONMode:            true,
		},
		Extractor: ExtractorConfig{
			Backend: pdf.BackendFitz,
		},
		Events: EventsConfig{
			Redis: RedisConfig{
				Channel: "module-creator.progress",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "module-creator",
		},
	}
}

// Validate checks the configuration for errors. Every failure is a
// configuration error so startup can fail fast.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return domain.ConfigError("OPENAI_API_KEY environment variable not set", nil)
	}

	if c.LLM.Endpoint == "" {
		return domain.ConfigError("llm endpoint is empty", nil)
	}

	if c.LLM.Model == "" {
		return domain.ConfigError("llm model is empty", nil)
	}

	if c.LLM.MaxRetries < 0 {
		return domain.ConfigError(fmt.Sprintf("invalid max_retries: %d", c.LLM.MaxRetries), nil)
	}

	if c.LLM.RequestsPerSecond < 0 {
		return domain.ConfigError(fmt.Sprintf("invalid requests_per_second: %v", c.LLM.RequestsPerSecond), nil)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}

	if c.Server.MaxUploadBytes <= 0 {
		return domain.ConfigError("max_upload_bytes must be positive", nil)
	}

	if c.Pipeline.StageTimeout < 0 {
		return domain.ConfigError("stage_timeout must not be negative", nil)
	}

	if c.Extractor.Backend != pdf.BackendFitz && c.Extractor.Backend != pdf.BackendPDFCPU {
		return domain.ConfigError(fmt.Sprintf("invalid extractor backend: %s", c.Extractor.Backend), nil)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")

	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}

	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("STAGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.StageTimeout = d
		}
	}

	if v := os.Getenv("PARALLEL_STRUCTURING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pipeline.ParallelStructuring = b
		}
	}

	if v := os.Getenv("EXTRACTOR_BACKEND"); v != "" {
		cfg.Extractor.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		// Parse redis://host:port format
		cfg.Events.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
