// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override, REPPY_* prefix for most settings)
//  2. Config file (~/.reppy/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model selection, temperature, max tokens, embedder
//   - Prompts: template directory and hot reload
//   - Qdrant: vector store connection and search tuning (see qdrant section)
//   - Express: relational data API connection (see express section)
//   - Storage: PostgreSQL session store (see storage.go)
//   - Server: HTTP listen address, CORS, rate limiting
//   - Observability: OTLP trace export
//
// Security: sensitive fields (passwords, API keys) are masked in MarshalJSON.
// Validation: range checks in validation.go return sentinel errors for errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required AI provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidMaxTurns indicates the agent max turns value is out of range.
	ErrInvalidMaxTurns = errors.New("invalid max turns")

	// ErrInvalidPromptDir indicates the prompt directory is invalid.
	ErrInvalidPromptDir = errors.New("invalid prompt directory")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidQdrantURL indicates the Qdrant URL is invalid.
	ErrInvalidQdrantURL = errors.New("invalid Qdrant URL")

	// ErrInvalidQdrantCollection indicates the Qdrant collection name is invalid.
	ErrInvalidQdrantCollection = errors.New("invalid Qdrant collection")

	// ErrInvalidScoreThreshold indicates the vector score threshold is out of range.
	ErrInvalidScoreThreshold = errors.New("invalid score threshold")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidExpressURL indicates the Express API base URL is invalid.
	ErrInvalidExpressURL = errors.New("invalid Express API URL")

	// ErrInvalidRouterMode indicates the router mode is not supported.
	ErrInvalidRouterMode = errors.New("invalid router mode")

	// ErrInvalidMaxRegenerations indicates the pipeline regeneration limit is out of range.
	ErrInvalidMaxRegenerations = errors.New("invalid max regenerations")

	// ErrInvalidServerPort indicates the HTTP server port is out of range.
	ErrInvalidServerPort = errors.New("invalid server port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Router mode identifiers used in RouterConfig.Mode.
const (
	RouterModePattern = "pattern"
	RouterModeLLM     = "llm"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to 768 dimensions via
	// OutputDimensionality; the Qdrant collection is created with the
	// dimension configured in qdrant.vector_size.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultVectorSize is the default embedding dimension stored in Qdrant.
	DefaultVectorSize = 768
)

// QdrantConfig holds vector store connection and search settings.
type QdrantConfig struct {
	URL            string  `mapstructure:"url" json:"url"`
	APIKey         string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Collection     string  `mapstructure:"collection" json:"collection"`
	VectorSize     int     `mapstructure:"vector_size" json:"vector_size"`
	Distance       string  `mapstructure:"distance" json:"distance"`
	TopK           int     `mapstructure:"top_k" json:"top_k"`
	ScoreThreshold float32 `mapstructure:"score_threshold" json:"score_threshold"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// MarshalJSON masks the API key.
func (q QdrantConfig) MarshalJSON() ([]byte, error) {
	type alias QdrantConfig
	a := alias(q)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal qdrant config: %w", err)
	}
	return data, nil
}

// ExpressConfig holds the connection settings for the Express relational API,
// the service of record for user profiles, routines and performance data.
type ExpressConfig struct {
	BaseURL        string `mapstructure:"base_url" json:"base_url"`
	APIKey         string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries" json:"max_retries"`
}

// MarshalJSON masks the API key.
func (e ExpressConfig) MarshalJSON() ([]byte, error) {
	type alias ExpressConfig
	a := alias(e)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal express config: %w", err)
	}
	return data, nil
}

// RouterConfig controls how incoming messages are mapped to prompt keys.
type RouterConfig struct {
	// Mode selects the routing strategy: "pattern" (keyword scoring, no LLM
	// call) or "llm" (classification prompt with pattern fallback).
	Mode string `mapstructure:"mode" json:"mode"`

	// Model optionally names a lighter model for classification calls.
	// Empty means the main executor model.
	Model string `mapstructure:"model" json:"model"`

	// CacheSize bounds the LRU cache of LLM routing decisions.
	CacheSize int `mapstructure:"cache_size" json:"cache_size"`
}

// ServerConfig holds HTTP server settings for serve mode.
type ServerConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	CORSOrigins    []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy     bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Real-IP/X-Forwarded-For (set behind reverse proxy)
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`
}

// ObservabilityConfig holds OTLP trace export settings.
type ObservabilityConfig struct {
	Enabled      bool   `mapstructure:"enabled" json:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`     // "gemini" (default), "openai"
	ModelName   string  `mapstructure:"model_name" json:"model_name"` // e.g. "gemini-2.5-flash", "gpt-4o"
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	MaxTurns    int     `mapstructure:"max_turns" json:"max_turns"`

	// Prompt templates
	PromptDir   string `mapstructure:"prompt_dir" json:"prompt_dir"`
	WatchPrompt bool   `mapstructure:"watch_prompts" json:"watch_prompts"`

	// Embeddings
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Pipeline
	MaxRegenerations int `mapstructure:"max_regenerations" json:"max_regenerations"`

	// Component sections
	Qdrant        QdrantConfig        `mapstructure:"qdrant" json:"qdrant"`
	Express       ExpressConfig       `mapstructure:"express" json:"express"`
	Router        RouterConfig        `mapstructure:"router" json:"router"`
	Server        ServerConfig        `mapstructure:"server" json:"server"`
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`

	// Session store (optional; serve mode records conversations when enabled)
	SessionStore     bool   `mapstructure:"session_store" json:"session_store"`
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".reppy")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env cover it.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
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

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("max_turns", 5)

	// Prompt defaults
	v.SetDefault("prompt_dir", "prompts")
	v.SetDefault("watch_prompts", false)

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	// Pipeline defaults
	v.SetDefault("max_regenerations", 2)

	// Qdrant defaults
	v.SetDefault("qdrant.url", "http://localhost:6333")
	v.SetDefault("qdrant.collection", "exercises")
	v.SetDefault("qdrant.vector_size", DefaultVectorSize)
	v.SetDefault("qdrant.distance", "Cosine")
	v.SetDefault("qdrant.top_k", 5)
	v.SetDefault("qdrant.score_threshold", 0.35)
	v.SetDefault("qdrant.timeout_seconds", 10)

	// Express API defaults
	v.SetDefault("express.base_url", "http://localhost:3000")
	v.SetDefault("express.timeout_seconds", 15)
	v.SetDefault("express.max_retries", 3)

	// Router defaults
	v.SetDefault("router.mode", RouterModePattern)
	v.SetDefault("router.model", "")
	v.SetDefault("router.cache_size", 512)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:4200"})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_limit_rps", 10)
	v.SetDefault("server.rate_limit_burst", 20)

	// Observability defaults
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.otlp_endpoint", "localhost:4318")
	v.SetDefault("observability.service_name", "reppy")
	v.SetDefault("observability.environment", "dev")

	// Session store defaults (disabled unless explicitly enabled)
	v.SetDefault("session_store", false)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "reppy")
	v.SetDefault("postgres_password", "reppy_dev_password")
	v.SetDefault("postgres_db_name", "reppy")
	v.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment overrides explicitly.
// Secrets stay out of the config file:
//   - GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit plugins,
//     validated for presence in cfg.Validate()
//   - QDRANT_API_KEY and EXPRESS_API_KEY are bound here
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "REPPY_PROVIDER")
	mustBind("model_name", "REPPY_MODEL_NAME")
	mustBind("prompt_dir", "REPPY_PROMPT_DIR")
	mustBind("watch_prompts", "REPPY_WATCH_PROMPTS")
	mustBind("embedder_model", "REPPY_EMBEDDER_MODEL")

	mustBind("qdrant.url", "QDRANT_URL")
	mustBind("qdrant.api_key", "QDRANT_API_KEY")
	mustBind("qdrant.collection", "REPPY_QDRANT_COLLECTION")

	mustBind("express.base_url", "EXPRESS_API_URL")
	mustBind("express.api_key", "EXPRESS_API_KEY")

	mustBind("router.mode", "REPPY_ROUTER_MODE")
	mustBind("router.model", "REPPY_ROUTER_MODEL")

	mustBind("server.host", "REPPY_SERVER_HOST")
	mustBind("server.port", "REPPY_SERVER_PORT")
	mustBind("server.cors_origins", "REPPY_CORS_ORIGINS")
	mustBind("server.trust_proxy", "REPPY_TRUST_PROXY")

	mustBind("observability.enabled", "REPPY_OTEL_ENABLED")
	mustBind("observability.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	mustBind("session_store", "REPPY_SESSION_STORE")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// This defends against accidental logging of real secrets. It is not a
// cryptographic control; if logs are compromised, rotate the secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - Qdrant.APIKey (via QdrantConfig.MarshalJSON)
//   - Express.APIKey (via ExpressConfig.MarshalJSON)
//
// When adding new sensitive fields, update this method or the nested struct's
// MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	return c.qualifyModel(c.ModelName)
}

// FullRouterModelName returns the provider-qualified classification model,
// or "" when router.model is unset and the main model should be used.
func (c *Config) FullRouterModelName() string {
	if c.Router.Model == "" {
		return ""
	}
	return c.qualifyModel(c.Router.Model)
}

func (c *Config) qualifyModel(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	switch c.Provider {
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + name
	default:
		return ProviderGoogleAI + "/" + name
	}
}

// ListenAddr returns the host:port pair for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
