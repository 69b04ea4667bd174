package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider and API key. Genkit plugins read the key from the
	// environment themselves; we only fail fast on absence.
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q is not supported, must be one of: gemini, googleai, openai",
			ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	if c.MaxTurns < 1 || c.MaxTurns > 25 {
		return fmt.Errorf("%w: must be between 1 and 25, got %d", ErrInvalidMaxTurns, c.MaxTurns)
	}

	// 3. Prompts and embeddings
	if c.PromptDir == "" {
		return fmt.Errorf("%w: prompt_dir cannot be empty", ErrInvalidPromptDir)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 4. Pipeline
	if c.MaxRegenerations < 0 || c.MaxRegenerations > 5 {
		return fmt.Errorf("%w: must be between 0 and 5, got %d", ErrInvalidMaxRegenerations, c.MaxRegenerations)
	}

	// 5. Qdrant
	if err := validateQdrant(&c.Qdrant); err != nil {
		return err
	}

	// 6. Express API
	if c.Express.BaseURL == "" {
		return fmt.Errorf("%w: express.base_url cannot be empty", ErrInvalidExpressURL)
	}
	if _, err := url.ParseRequestURI(c.Express.BaseURL); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidExpressURL, c.Express.BaseURL, err)
	}

	// 7. Router
	if c.Router.Mode != RouterModePattern && c.Router.Mode != RouterModeLLM {
		return fmt.Errorf("%w: %q is not supported, must be %q or %q",
			ErrInvalidRouterMode, c.Router.Mode, RouterModePattern, RouterModeLLM)
	}

	// 8. Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidServerPort, c.Server.Port)
	}

	// 9. Session store (only validated when enabled)
	if c.SessionStore {
		if err := c.validatePostgres(); err != nil {
			return err
		}
	}

	return nil
}

func validateQdrant(q *QdrantConfig) error {
	if q.URL == "" {
		return fmt.Errorf("%w: qdrant.url cannot be empty", ErrInvalidQdrantURL)
	}
	if _, err := url.ParseRequestURI(q.URL); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidQdrantURL, q.URL, err)
	}

	if q.Collection == "" {
		return fmt.Errorf("%w: qdrant.collection cannot be empty", ErrInvalidQdrantCollection)
	}

	if q.ScoreThreshold < 0.0 || q.ScoreThreshold > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidScoreThreshold, q.ScoreThreshold)
	}

	if q.TopK < 1 || q.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, q.TopK)
	}

	return nil
}

func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set when session_store is enabled",
			ErrInvalidPostgresPassword)
	}

	if c.PostgresPassword == "reppy_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
