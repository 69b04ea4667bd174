package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reppyfit/reppy/internal/jsonx"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
)

// RoutingPromptKey is the template used for intent classification.
const RoutingPromptKey = "action_routing"

// classifyInstruction is the user turn sent alongside the rendered routing
// prompt. The conversation history itself lives in the system prompt.
const classifyInstruction = "Classify the intent of the latest message in the conversation history."

// intentToPrompt maps classification labels to prompt keys.
var intentToPrompt = map[string]string{
	"GENERATE_ROUTINE": PromptGenerateProgram,
	"UPDATE_ROUTINE":   PromptUpdateRoutine,
	"CHAT_RESPONSE":    PromptChatResponse,
}

// TextGenerator produces a completion for a system and user prompt pair.
// A non-empty modelName overrides the generator's default model. The agent
// executor satisfies this with a tool-free, low-temperature call.
type TextGenerator interface {
	GenerateText(ctx context.Context, modelName, system, user string) (string, error)
}

// LLMRouter classifies intent with a model call. Decisions are cached per
// input, and any failure (missing template, model error, unparseable
// response) falls back to the pattern router.
type LLMRouter struct {
	generator TextGenerator
	modelName string
	prompts   *prompt.Loader
	fallback  *PatternRouter
	cache     *lru.Cache[string, Decision]
	logger    log.Logger
}

// NewLLMRouter creates an LLM router. modelName names the classification
// model; empty means the generator's default. cacheSize bounds the decision
// cache; values below 1 disable caching.
func NewLLMRouter(generator TextGenerator, modelName string, prompts *prompt.Loader, fallback *PatternRouter, cacheSize int, logger log.Logger) (*LLMRouter, error) {
	var cache *lru.Cache[string, Decision]
	if cacheSize > 0 {
		var err error
		cache, err = lru.New[string, Decision](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating router cache: %w", err)
		}
	}

	return &LLMRouter{
		generator: generator,
		modelName: modelName,
		prompts:   prompts,
		fallback:  fallback,
		cache:     cache,
		logger:    logger.With("component", "llm_router"),
	}, nil
}

// Route classifies the input and maps the intent to a prompt key.
func (r *LLMRouter) Route(ctx context.Context, input string, reqContext map[string]any) (*Decision, error) {
	cacheKey := strings.TrimSpace(strings.ToLower(input))
	if r.cache != nil {
		if cached, ok := r.cache.Get(cacheKey); ok {
			d := cached
			d.Method = MethodCache
			return &d, nil
		}
	}

	decision, err := r.classify(ctx, input, reqContext)
	if err != nil {
		r.logger.Warn("llm routing failed, using pattern fallback", "error", err)
		return r.fallback.Route(ctx, input, reqContext)
	}

	if r.cache != nil {
		r.cache.Add(cacheKey, *decision)
	}
	return decision, nil
}

func (r *LLMRouter) classify(ctx context.Context, input string, reqContext map[string]any) (*Decision, error) {
	tpl, err := r.prompts.Load(RoutingPromptKey)
	if err != nil {
		return nil, fmt.Errorf("loading routing prompt: %w", err)
	}

	history := conversationHistory(input, reqContext)
	system, rendered := tpl.Render(map[string]any{
		"conversation_history": history,
	})

	// The routing template carries the history inside its instruction, so
	// role and instruction together form the system prompt.
	if rendered != "" {
		system = system + "\n\n" + rendered
	}

	response, err := r.generator.GenerateText(ctx, r.modelName, system, classifyInstruction)
	if err != nil {
		return nil, fmt.Errorf("classification call: %w", err)
	}

	intent := parseIntent(response)
	promptKey, ok := intentToPrompt[intent]
	if !ok {
		promptKey = PromptChatResponse
	}

	r.logger.Info("llm classified intent", "intent", intent, "prompt_key", promptKey)
	return &Decision{PromptKey: promptKey, Method: MethodLLM, Intent: intent}, nil
}

// conversationHistory returns the history from the request context, or a
// single-turn history holding just the current input.
func conversationHistory(input string, reqContext map[string]any) []map[string]any {
	if reqContext != nil {
		if raw, ok := reqContext["conversation_history"]; ok {
			if history, ok := asHistory(raw); ok {
				return history
			}
		}
	}
	return []map[string]any{{"role": "user", "content": input}}
}

func asHistory(raw any) ([]map[string]any, bool) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, true
	case []any:
		history := make([]map[string]any, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			history = append(history, m)
		}
		return history, true
	default:
		return nil, false
	}
}

// parseIntent reads the intent label from a classification response.
// JSON output is preferred; a plain-text label scan is the fallback.
func parseIntent(response string) string {
	candidate := jsonx.StripFences(response)

	var parsed struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err == nil && parsed.Intent != "" {
		if _, ok := intentToPrompt[parsed.Intent]; ok {
			return parsed.Intent
		}
		return "CHAT_RESPONSE"
	}

	upper := strings.ToUpper(candidate)
	switch {
	case strings.Contains(upper, "GENERATE_ROUTINE"):
		return "GENERATE_ROUTINE"
	case strings.Contains(upper, "UPDATE_ROUTINE"):
		return "UPDATE_ROUTINE"
	default:
		return "CHAT_RESPONSE"
	}
}
