// Package router maps free-text user input to a prompt key.
//
// Two strategies are provided. The pattern router applies an ordered rule
// list (intent keywords, then regex deltas, then keyword scoring) and never
// calls a model. The LLM router classifies with a lightweight model call and
// falls back to the pattern router when classification fails.
package router

import (
	"context"
)

// Prompt keys the routers can select.
const (
	PromptChatResponse    = "chat_response"
	PromptGenerateProgram = "generate_program"
	PromptUpdateRoutine   = "update_routine"
)

// Routing methods recorded in Decision.Method.
const (
	MethodRule     = "rule_match"
	MethodScore    = "score"
	MethodLLM      = "llm_classification"
	MethodFallback = "fallback"
	MethodCache    = "cache"
)

// DefaultPrompts are the prompt keys every deployment ships with.
var DefaultPrompts = []string{PromptChatResponse, PromptGenerateProgram, PromptUpdateRoutine}

// Decision is the outcome of routing one input.
type Decision struct {
	// PromptKey is the selected prompt.
	PromptKey string `json:"prompt_key"`

	// Method records how the decision was made.
	Method string `json:"method"`

	// Intent is the classified intent label, set by the LLM router.
	Intent string `json:"intent,omitempty"`

	// Scores holds per-prompt relevance scores when scoring was used.
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Router selects a prompt key for a user input.
// The context map carries optional request data such as conversation history.
type Router interface {
	Route(ctx context.Context, input string, reqContext map[string]any) (*Decision, error)
}
