// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (TRIPDESK_* overrides, DATABASE_URL)
//  2. Config file (./config.yaml or /etc/tripdesk/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can check with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidContextBudget indicates the context budget is out of range.
	ErrInvalidContextBudget = errors.New("invalid context budget")

	// ErrInvalidConfidence indicates the routing confidence threshold is out of range.
	ErrInvalidConfidence = errors.New("invalid confidence threshold")

	// ErrInvalidPostgres indicates a PostgreSQL connection setting is invalid.
	ErrInvalidPostgres = errors.New("invalid PostgreSQL configuration")

	// ErrInvalidServer indicates an HTTP server setting is invalid.
	ErrInvalidServer = errors.New("invalid server configuration")

	// ErrInvalidCacheDir indicates the policy document directory is invalid.
	ErrInvalidCacheDir = errors.New("invalid cache data directory")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration.
	Provider    string  `mapstructure:"provider"`
	ModelName   string  `mapstructure:"model_name"`
	RouterModel string  `mapstructure:"router_model"`
	Temperature float64 `mapstructure:"temperature"`

	// Ollama configuration (only used when provider is "ollama").
	OllamaHost string `mapstructure:"ollama_host"`

	// Routing configuration.
	DefaultAgent        string  `mapstructure:"default_agent"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`

	// Retrieval configuration.
	EmbedderModel  string `mapstructure:"embedder_model"`
	RetrievalTopK  int    `mapstructure:"retrieval_top_k"`
	ContextBudget  int    `mapstructure:"context_budget"`
	MaxHistory     int    `mapstructure:"max_history_messages"`
	CacheDataDir   string `mapstructure:"cache_data_dir"`
	MaxCachedDocs  int    `mapstructure:"max_cached_docs"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP server configuration.
	ListenAddr      string   `mapstructure:"listen_addr"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
	RateLimitPerSec float64  `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int      `mapstructure:"rate_limit_burst"`

	// Logging configuration.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tripdesk")

	setDefaults(v)

	v.SetEnvPrefix("TRIPDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("router_model", "gemini-2.5-flash-lite")
	v.SetDefault("temperature", 0.3)

	v.SetDefault("ollama_host", "http://localhost:11434")

	v.SetDefault("default_agent", "travel_support")
	v.SetDefault("confidence_threshold", 0.0)

	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("retrieval_top_k", 5)
	v.SetDefault("context_budget", 12000)
	v.SetDefault("max_history_messages", 20)
	v.SetDefault("cache_data_dir", "data/policies")
	v.SetDefault("max_cached_docs", 3)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "tripdesk")
	v.SetDefault("postgres_password", "tripdesk_dev_password")
	v.SetDefault("postgres_db_name", "tripdesk")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("rate_limit_per_sec", 10.0)
	v.SetDefault("rate_limit_burst", 30)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// FullModelName returns the provider-qualified generation model name for
// Genkit, e.g. "googleai/gemini-2.5-flash" or "ollama/llama3.3".
func (c *Config) FullModelName() string {
	return c.qualify(c.ModelName)
}

// FullRouterModelName returns the provider-qualified classification model name.
// An empty router_model falls back to the generation model.
func (c *Config) FullRouterModelName() string {
	if c.RouterModel == "" {
		return c.FullModelName()
	}
	return c.qualify(c.RouterModel)
}

func (c *Config) qualify(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + name
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name
	default:
		return ProviderGoogleAI + "/" + name
	}
}
