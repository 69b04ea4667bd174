package config

import (
	"errors"
	"testing"
)

// validBaseConfig returns a Config with all required fields set.
func validBaseConfig() *Config {
	return &Config{
		Provider:         ProviderGemini,
		ModelName:        "gemini-2.5-flash",
		Temperature:      0.7,
		MaxTokens:        4096,
		MaxTurns:         5,
		PromptDir:        "prompts",
		EmbedderModel:    DefaultEmbedderModel,
		MaxRegenerations: 2,
		Qdrant: QdrantConfig{
			URL:            "http://localhost:6333",
			Collection:     "exercises",
			VectorSize:     DefaultVectorSize,
			Distance:       "Cosine",
			TopK:           5,
			ScoreThreshold: 0.35,
		},
		Express: ExpressConfig{
			BaseURL:    "http://localhost:3000",
			MaxRetries: 3,
		},
		Router: RouterConfig{
			Mode:      RouterModePattern,
			CacheSize: 512,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

func TestValidateSuccess(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")

	cfg := validBaseConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error with valid config: %v", err)
	}
}

func TestValidateNilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() on nil config = %v, want ErrConfigNil", err)
	}
}

func TestValidateMissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	cfg := validBaseConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() without GEMINI_API_KEY = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateOpenAIProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")

	cfg := validBaseConfig()
	cfg.Provider = ProviderOpenAI
	cfg.ModelName = "gpt-4o"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error for openai provider: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "")
	if err := cfg.Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("Validate() without OPENAI_API_KEY = %v, want ErrMissingAPIKey", err)
	}
}

func TestValidateFieldErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "unsupported provider",
			mutate:  func(c *Config) { c.Provider = "anthropic" },
			wantErr: ErrInvalidProvider,
		},
		{
			name:    "empty model name",
			mutate:  func(c *Config) { c.ModelName = "" },
			wantErr: ErrInvalidModelName,
		},
		{
			name:    "temperature too high",
			mutate:  func(c *Config) { c.Temperature = 2.5 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.Temperature = -0.1 },
			wantErr: ErrInvalidTemperature,
		},
		{
			name:    "zero max tokens",
			mutate:  func(c *Config) { c.MaxTokens = 0 },
			wantErr: ErrInvalidMaxTokens,
		},
		{
			name:    "zero max turns",
			mutate:  func(c *Config) { c.MaxTurns = 0 },
			wantErr: ErrInvalidMaxTurns,
		},
		{
			name:    "empty prompt dir",
			mutate:  func(c *Config) { c.PromptDir = "" },
			wantErr: ErrInvalidPromptDir,
		},
		{
			name:    "empty embedder model",
			mutate:  func(c *Config) { c.EmbedderModel = "" },
			wantErr: ErrInvalidEmbedderModel,
		},
		{
			name:    "max regenerations too high",
			mutate:  func(c *Config) { c.MaxRegenerations = 10 },
			wantErr: ErrInvalidMaxRegenerations,
		},
		{
			name:    "empty qdrant url",
			mutate:  func(c *Config) { c.Qdrant.URL = "" },
			wantErr: ErrInvalidQdrantURL,
		},
		{
			name:    "malformed qdrant url",
			mutate:  func(c *Config) { c.Qdrant.URL = "not a url" },
			wantErr: ErrInvalidQdrantURL,
		},
		{
			name:    "empty qdrant collection",
			mutate:  func(c *Config) { c.Qdrant.Collection = "" },
			wantErr: ErrInvalidQdrantCollection,
		},
		{
			name:    "score threshold out of range",
			mutate:  func(c *Config) { c.Qdrant.ScoreThreshold = 1.5 },
			wantErr: ErrInvalidScoreThreshold,
		},
		{
			name:    "top-k too large",
			mutate:  func(c *Config) { c.Qdrant.TopK = 100 },
			wantErr: ErrInvalidTopK,
		},
		{
			name:    "empty express url",
			mutate:  func(c *Config) { c.Express.BaseURL = "" },
			wantErr: ErrInvalidExpressURL,
		},
		{
			name:    "unknown router mode",
			mutate:  func(c *Config) { c.Router.Mode = "hybrid" },
			wantErr: ErrInvalidRouterMode,
		},
		{
			name:    "server port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: ErrInvalidServerPort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-api-key")

			cfg := validBaseConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// Postgres settings are only validated with the session store enabled.
func TestValidatePostgresOnlyWhenSessionStore(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")

	cfg := validBaseConfig()
	cfg.PostgresHost = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() should ignore postgres fields when session_store is off, got %v", err)
	}

	cfg.SessionStore = true
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidPostgresHost) {
		t.Errorf("Validate() = %v, want ErrInvalidPostgresHost", err)
	}
}

func TestValidateSessionStoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.PostgresPort = 0 },
			wantErr: ErrInvalidPostgresPort,
		},
		{
			name:    "empty db name",
			mutate:  func(c *Config) { c.PostgresDBName = "" },
			wantErr: ErrInvalidPostgresDBName,
		},
		{
			name:    "empty password",
			mutate:  func(c *Config) { c.PostgresPassword = "" },
			wantErr: ErrInvalidPostgresPassword,
		},
		{
			name:    "short password",
			mutate:  func(c *Config) { c.PostgresPassword = "short" },
			wantErr: ErrInvalidPostgresPassword,
		},
		{
			name:    "deprecated ssl mode",
			mutate:  func(c *Config) { c.PostgresSSLMode = "prefer" },
			wantErr: ErrInvalidPostgresSSLMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-api-key")

			cfg := validBaseConfig()
			cfg.SessionStore = true
			cfg.PostgresHost = "localhost"
			cfg.PostgresPort = 5432
			cfg.PostgresUser = "reppy"
			cfg.PostgresPassword = "test_password"
			cfg.PostgresDBName = "reppy"
			cfg.PostgresSSLMode = "disable"
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
