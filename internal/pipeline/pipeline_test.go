package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reppyfit/reppy/internal/agent"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/tools"
)

const chatPrompt = `version: "1.0.0"
prompt_type: chat_response
role: |
  You are Reppy, a friendly fitness coach.
instruction: |
  Answer the user's question.

  {input}
variables:
  - name: input
    description: The user's message
response_type: JSON
response_schema:
  type: object
  required:
    - reply
  properties:
    reply:
      type: string
`

// fakeGenerator returns canned responses in order and records the
// messages it was given.
type fakeGenerator struct {
	responses []string
	err       error
	calls     int
	messages  []string
	system    string
	record    []string // tool names to record per call
}

func (f *fakeGenerator) Generate(ctx context.Context, req agent.Request) (*agent.Result, error) {
	f.calls++
	f.system = req.System
	if len(req.Messages) > 0 && len(req.Messages[0].Content) > 0 {
		f.messages = append(f.messages, req.Messages[0].Content[0].Text)
	}
	if f.err != nil {
		return nil, f.err
	}
	if rec := tools.RecorderFrom(ctx); rec != nil {
		for _, name := range f.record {
			rec.Record(name)
		}
	}
	idx := min(f.calls-1, len(f.responses)-1)
	return &agent.Result{Text: f.responses[idx]}, nil
}

func writeTestPrompt(t *testing.T, dir, key, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, key+".yaml"), []byte(content), 0o600))
}

func newTestPipeline(t *testing.T, gen Generator, cfg Config) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	writeTestPrompt(t, dir, "chat_response", chatPrompt)
	p, err := New(gen, prompt.NewLoader(dir), nil, cfg, log.NewNop())
	require.NoError(t, err)
	return p
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{`{"reply": "Squats build your quads.", "tone": "encouraging"}`}}
	p := newTestPipeline(t, gen, Config{MaxRegenerations: 2})

	resp, err := p.Run(context.Background(), Request{
		PromptKey: "chat_response",
		Input:     "what do squats train?",
		UserID:    "user-7",
		Intent:    "CHAT_RESPONSE",
		Method:    "rule_match",
	})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "chat_response", resp.PromptKey)
	assert.Empty(t, resp.Validation.Errors)
	assert.Equal(t, 1, resp.Metadata["attempts"])
	assert.Equal(t, "user-7", resp.Metadata["user_id"])
	assert.Equal(t, "CHAT_RESPONSE", resp.Metadata["intent"])
	assert.NotEmpty(t, resp.Metadata["processed_at"])
	assert.Nil(t, resp.Citations)

	require.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.system, "friendly fitness coach")
	assert.Contains(t, gen.messages[0], "what do squats train?")
	assert.Contains(t, gen.messages[0], "Respond with valid JSON following this schema")
}

func TestRun_RegeneratesOnInvalidOutput(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{
		`{"reply": ""}`, // empty reply fails validation
		`{"reply": "Here is your answer."}`,
	}}
	p := newTestPipeline(t, gen, Config{MaxRegenerations: 2})

	resp, err := p.Run(context.Background(), Request{PromptKey: "chat_response", Input: "hi"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Metadata["attempts"])
	require.Equal(t, 2, gen.calls)
	assert.Contains(t, gen.messages[1], "failed validation with these errors")
	assert.Contains(t, gen.messages[1], "reply")
}

func TestRun_ExhaustedRegenerations(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{`not json at all`}}
	p := newTestPipeline(t, gen, Config{MaxRegenerations: 1})

	resp, err := p.Run(context.Background(), Request{PromptKey: "chat_response", Input: "hi"})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, 2, resp.Metadata["attempts"])
	assert.Contains(t, resp.Validation.Errors, "Failed to parse output as JSON")
	assert.Nil(t, resp.Result)
}

func TestRun_SchemaViolation(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{`{"answer": "wrong field"}`}}
	p := newTestPipeline(t, gen, Config{})

	resp, err := p.Run(context.Background(), Request{PromptKey: "chat_response", Input: "hi"})
	require.NoError(t, err)

	assert.False(t, resp.Success)
	require.NotEmpty(t, resp.Validation.Errors)
	assert.Contains(t, resp.Validation.Errors[0], "schema")
}

func TestRun_FallbackOnUnknownPrompt(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{`{"reply": "fallback answer"}`}}
	p := newTestPipeline(t, gen, Config{})

	resp, err := p.Run(context.Background(), Request{PromptKey: "no_such_prompt", Input: "hi"})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "chat_response", resp.PromptKey)
}

func TestRun_EmptyKeyUsesFallback(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{responses: []string{`{"reply": "hello"}`}}
	p := newTestPipeline(t, gen, Config{})

	resp, err := p.Run(context.Background(), Request{Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "chat_response", resp.PromptKey)
}

func TestRun_GenerationFailure(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{err: errors.New("model unavailable")}
	p := newTestPipeline(t, gen, Config{MaxRegenerations: 3})

	resp, err := p.Run(context.Background(), Request{PromptKey: "chat_response", Input: "hi"})
	require.NoError(t, err, "model failures become an error response, not a pipeline error")

	assert.False(t, resp.Success)
	assert.Equal(t, "generation failed", resp.Error)
	assert.Equal(t, "model unavailable", resp.Metadata["error"])
	assert.Equal(t, 1, resp.Metadata["attempts"], "no retry on hard generation failure")
}

func TestRun_Citations(t *testing.T) {
	t.Parallel()

	gen := &fakeGenerator{
		responses: []string{`{"reply": "Based on your records, add 2.5kg."}`},
		record:    []string{"getPerformanceRecords", "calculateOneRepMax", "getPerformanceRecords"},
	}
	p := newTestPipeline(t, gen, Config{})

	resp, err := p.Run(context.Background(), Request{PromptKey: "chat_response", Input: "progress?", UserID: "user-7"})
	require.NoError(t, err)

	require.NotNil(t, resp.Citations)
	assert.Equal(t, 3, resp.Citations.ToolCallsCount)
	assert.Equal(t, []string{"getPerformanceRecords", "calculateOneRepMax"}, resp.Citations.ToolsUsed)
}

func TestRun_MissingFallbackPrompt(t *testing.T) {
	t.Parallel()

	p, err := New(&fakeGenerator{responses: []string{"{}"}}, prompt.NewLoader(t.TempDir()), nil, Config{}, log.NewNop())
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Request{PromptKey: "anything", Input: "hi"})
	require.Error(t, err)
}
