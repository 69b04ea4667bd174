package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
)

const routingTemplate = `prompt_type: routing
role: You are an intent classifier for a fitness coaching assistant.
instruction: |
  Conversation history:
  {conversation_history_json}

  Respond with JSON: {"intent": "..."}
`

func writePromptFile(t *testing.T, dir, key, content string) {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, key+".yaml"), []byte(content), 0o644)
	require.NoError(t, err)
}

type fakeGenerator struct {
	response string
	err      error
	calls    int
	model    string
	system   string
	user     string
}

func (f *fakeGenerator) GenerateText(_ context.Context, modelName, system, user string) (string, error) {
	f.calls++
	f.model = modelName
	f.system = system
	f.user = user
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func newTestLLMRouter(t *testing.T, gen *fakeGenerator, cacheSize int) *LLMRouter {
	t.Helper()

	dir := t.TempDir()
	writePromptFile(t, dir, RoutingPromptKey, routingTemplate)
	loader := prompt.NewLoader(dir)

	fallback := NewPatternRouter(nil, log.NewNop())
	r, err := NewLLMRouter(gen, "", loader, fallback, cacheSize, log.NewNop())
	require.NoError(t, err)
	return r
}

func TestLLMRouteClassifies(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n{\"intent\": \"GENERATE_ROUTINE\"}\n```"}
	r := newTestLLMRouter(t, gen, 0)

	decision, err := r.Route(context.Background(), "build me something", nil)
	require.NoError(t, err)

	assert.Equal(t, PromptGenerateProgram, decision.PromptKey)
	assert.Equal(t, MethodLLM, decision.Method)
	assert.Equal(t, "GENERATE_ROUTINE", decision.Intent)
	assert.Contains(t, gen.system, "intent classifier")
	assert.Contains(t, gen.system, "build me something", "history should be rendered into the prompt")
	assert.Equal(t, classifyInstruction, gen.user)
}

func TestLLMRouteUsesClassificationModel(t *testing.T) {
	dir := t.TempDir()
	writePromptFile(t, dir, RoutingPromptKey, routingTemplate)
	loader := prompt.NewLoader(dir)

	gen := &fakeGenerator{response: `{"intent": "CHAT_RESPONSE"}`}
	fallback := NewPatternRouter(nil, log.NewNop())
	r, err := NewLLMRouter(gen, "googleai/gemini-2.5-flash-lite", loader, fallback, 0, log.NewNop())
	require.NoError(t, err)

	_, err = r.Route(context.Background(), "how was my week", nil)
	require.NoError(t, err)

	assert.Equal(t, "googleai/gemini-2.5-flash-lite", gen.model)
}

func TestLLMRouteUsesProvidedHistory(t *testing.T) {
	gen := &fakeGenerator{response: `{"intent": "UPDATE_ROUTINE"}`}
	r := newTestLLMRouter(t, gen, 0)

	reqContext := map[string]any{
		"conversation_history": []any{
			map[string]any{"role": "user", "content": "my knees hurt on squats"},
			map[string]any{"role": "assistant", "content": "try box squats"},
		},
	}
	decision, err := r.Route(context.Background(), "ok do that", reqContext)
	require.NoError(t, err)

	assert.Equal(t, PromptUpdateRoutine, decision.PromptKey)
	assert.Contains(t, gen.system, "box squats")
}

func TestLLMRouteFallsBackOnError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	r := newTestLLMRouter(t, gen, 0)

	decision, err := r.Route(context.Background(), "generate program for next month", nil)
	require.NoError(t, err)

	// Pattern fallback still classifies correctly.
	assert.Equal(t, PromptGenerateProgram, decision.PromptKey)
	assert.Equal(t, MethodRule, decision.Method)
}

func TestLLMRouteCachesDecisions(t *testing.T) {
	gen := &fakeGenerator{response: `{"intent": "CHAT_RESPONSE"}`}
	r := newTestLLMRouter(t, gen, 8)

	_, err := r.Route(context.Background(), "How much protein do I need?", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls)

	decision, err := r.Route(context.Background(), "how much protein do I need?  ", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.calls, "second call should hit the cache")
	assert.Equal(t, MethodCache, decision.Method)
	assert.Equal(t, PromptChatResponse, decision.PromptKey)
}

func TestLLMRouteDoesNotCacheFallbacks(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("model unavailable")}
	r := newTestLLMRouter(t, gen, 8)

	for i := 0; i < 2; i++ {
		decision, err := r.Route(context.Background(), "hello there", nil)
		require.NoError(t, err)
		assert.NotEqual(t, MethodCache, decision.Method)
	}
	assert.Equal(t, 2, gen.calls)
}

func TestParseIntent(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"json", `{"intent": "UPDATE_ROUTINE"}`, "UPDATE_ROUTINE"},
		{"fenced json", "```json\n{\"intent\": \"GENERATE_ROUTINE\"}\n```", "GENERATE_ROUTINE"},
		{"unknown intent", `{"intent": "DELETE_EVERYTHING"}`, "CHAT_RESPONSE"},
		{"plain text label", "The intent is GENERATE_ROUTINE.", "GENERATE_ROUTINE"},
		{"plain text update", "update_routine", "UPDATE_ROUTINE"},
		{"garbage", "I have no idea", "CHAT_RESPONSE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseIntent(tt.response))
		})
	}
}
