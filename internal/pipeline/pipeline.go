// Package pipeline runs one prompt execution end to end: render the
// template, call the agent, extract the JSON payload, validate it
// against the declared schema and the domain guards, and regenerate on
// validation failure before shaping the final response envelope.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/reppyfit/reppy/internal/agent"
	"github.com/reppyfit/reppy/internal/coach"
	"github.com/reppyfit/reppy/internal/jsonx"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/router"
	"github.com/reppyfit/reppy/internal/tools"
)

// Generator is the agent surface the pipeline drives.
type Generator interface {
	Generate(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// ToolSource resolves prompt tool names into Genkit references.
type ToolSource interface {
	ForPrompt(names []string) []ai.ToolRef
}

// ToolSourceFunc adapts a function to the ToolSource interface.
type ToolSourceFunc func(names []string) []ai.ToolRef

// ForPrompt calls f.
func (f ToolSourceFunc) ForPrompt(names []string) []ai.ToolRef { return f(names) }

// Request is one prompt execution.
type Request struct {
	PromptKey string
	Input     string
	UserID    string
	Context   map[string]any

	// Intent and Method describe the routing decision, when one was
	// made; they are carried into response metadata.
	Intent string
	Method string
}

// Validation reports schema and domain check outcomes.
type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Citations reports which tools the model used during generation.
type Citations struct {
	ToolCallsCount int      `json:"tool_calls_count"`
	ToolsUsed      []string `json:"tools_used"`
}

// Response is the final envelope for one execution.
type Response struct {
	Success    bool           `json:"success"`
	PromptKey  string         `json:"prompt_key"`
	Result     any            `json:"result"`
	Metadata   map[string]any `json:"metadata"`
	Validation *Validation    `json:"validation,omitempty"`
	Citations  *Citations     `json:"citations,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Config configures pipeline behavior.
type Config struct {
	// MaxRegenerations bounds how many times an invalid output is
	// retried with the validation errors fed back to the model.
	MaxRegenerations int
	// FallbackPromptKey handles unknown or broken prompt keys
	// (default: chat_response).
	FallbackPromptKey string
}

// Pipeline executes prompts.
type Pipeline struct {
	generator Generator
	prompts   *prompt.Loader
	toolSrc   ToolSource
	cfg       Config
	logger    log.Logger
}

// New creates a Pipeline. Generator and prompt loader are required; a
// nil tool source disables tool calling.
func New(generator Generator, prompts *prompt.Loader, toolSrc ToolSource, cfg Config, logger log.Logger) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt loader is required")
	}
	if cfg.MaxRegenerations < 0 {
		cfg.MaxRegenerations = 0
	}
	if cfg.FallbackPromptKey == "" {
		cfg.FallbackPromptKey = router.PromptChatResponse
	}
	return &Pipeline{
		generator: generator,
		prompts:   prompts,
		toolSrc:   toolSrc,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run executes one prompt end to end. The returned error is reserved
// for broken pipeline state; model and validation failures are
// reported inside the Response with Success=false.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	tmpl, promptKey, err := p.loadTemplate(req.PromptKey)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"user_id":   req.UserID,
	}
	if req.Intent != "" {
		metadata["intent"] = req.Intent
	}
	if req.Method != "" {
		metadata["routing_method"] = req.Method
	}

	system, userMessage := p.renderMessages(tmpl, req)

	var toolRefs []ai.ToolRef
	if p.toolSrc != nil && len(tmpl.Tools) > 0 {
		toolRefs = p.toolSrc.ForPrompt(tmpl.Tools)
	}

	recorder := &tools.Recorder{}
	ctx = tools.WithRecorder(ctx, recorder)
	if req.UserID != "" {
		ctx = tools.WithUserID(ctx, req.UserID)
	}

	availableContext := coach.ParseContext(req.Context)

	var (
		validation coach.Result
		lastErrors []string
	)
	attempts := 0
	for attempt := 0; attempt <= p.cfg.MaxRegenerations; attempt++ {
		attempts++

		message := userMessage
		if len(lastErrors) > 0 {
			message = regenerationMessage(userMessage, lastErrors)
		}

		result, genErr := p.generator.Generate(ctx, agent.Request{
			System:   system,
			Messages: []*ai.Message{ai.NewUserMessage(ai.NewTextPart(message))},
			Tools:    toolRefs,
		})
		if genErr != nil {
			p.logger.Error("generation failed", "prompt_key", promptKey, "error", genErr)
			return p.errorResponse(promptKey, metadata, attempts, recorder, genErr), nil
		}

		validation = p.validate(tmpl, availableContext, result.Text)
		if validation.Valid {
			break
		}

		lastErrors = validation.Errors
		if attempt < p.cfg.MaxRegenerations {
			p.logger.Warn("output invalid, regenerating",
				"prompt_key", promptKey,
				"attempt", attempt+1,
				"errors", len(lastErrors),
			)
		}
	}

	metadata["processed_at"] = time.Now().UTC().Format(time.RFC3339)
	metadata["attempts"] = attempts

	resp := &Response{
		Success:   validation.Valid,
		PromptKey: promptKey,
		Result:    validation.Data,
		Metadata:  metadata,
		Validation: &Validation{
			Errors:   emptyIfNil(validation.Errors),
			Warnings: emptyIfNil(validation.Warnings),
		},
	}
	attachCitations(resp, recorder)
	return resp, nil
}

// loadTemplate loads the requested prompt, falling back to the default
// prompt when the key is unknown or its file is broken.
func (p *Pipeline) loadTemplate(key string) (*prompt.Template, string, error) {
	if key == "" {
		key = p.cfg.FallbackPromptKey
	}

	tmpl, err := p.prompts.Load(key)
	if err == nil {
		return tmpl, key, nil
	}
	if key == p.cfg.FallbackPromptKey {
		return nil, "", fmt.Errorf("load fallback prompt %q: %w", key, err)
	}

	p.logger.Warn("prompt unavailable, using fallback",
		"prompt_key", key,
		"fallback", p.cfg.FallbackPromptKey,
		"error", err,
	)
	tmpl, ferr := p.prompts.Load(p.cfg.FallbackPromptKey)
	if ferr != nil {
		return nil, "", fmt.Errorf("load fallback prompt %q: %w", p.cfg.FallbackPromptKey, ferr)
	}
	return tmpl, p.cfg.FallbackPromptKey, nil
}

// renderMessages builds the system instruction and user message.
// Template variables come from the request context; complex values are
// JSON-encoded by the template renderer. The declared response schema
// is appended so the model knows the exact output contract.
func (p *Pipeline) renderMessages(tmpl *prompt.Template, req Request) (system, user string) {
	vars := make(map[string]any, len(req.Context)+1)
	for k, v := range req.Context {
		vars[k] = v
	}
	vars["input"] = req.Input

	if missing := tmpl.MissingVariables(vars); len(missing) > 0 {
		p.logger.Warn("prompt variables missing from request context",
			"prompt_type", tmpl.PromptType,
			"variables", missing,
		)
	}

	system, user = tmpl.Render(vars)

	if !strings.Contains(user, req.Input) {
		user = user + "\n\nUser input:\n" + req.Input
	}

	if len(tmpl.ResponseSchema) > 0 {
		schema, err := json.MarshalIndent(tmpl.ResponseSchema, "", "  ")
		if err == nil {
			user = fmt.Sprintf("%s\n\nRespond with valid %s following this schema:\n%s",
				user, tmpl.ResponseType, schema)
		}
	}
	return system, user
}

// validate extracts the JSON payload and runs schema plus domain checks.
func (p *Pipeline) validate(tmpl *prompt.Template, availableContext *coach.Context, text string) coach.Result {
	parsed, _, err := jsonx.ExtractObject(text)
	if err != nil {
		return coach.Result{
			Valid:  false,
			Errors: []string{"Failed to parse output as JSON"},
		}
	}

	if schemaErrs := p.checkSchema(tmpl, parsed); len(schemaErrs) > 0 {
		return coach.Result{Valid: false, Errors: schemaErrs}
	}

	return coach.ValidateResponse(tmpl.PromptType, parsed, availableContext)
}

// checkSchema validates the parsed payload against the prompt's
// declared response_schema. A schema that fails to compile is reported
// as a warning-level log and skipped rather than failing the request.
func (p *Pipeline) checkSchema(tmpl *prompt.Template, parsed map[string]any) []string {
	if len(tmpl.ResponseSchema) == 0 {
		return nil
	}

	raw, err := json.Marshal(tmpl.ResponseSchema)
	if err != nil {
		p.logger.Warn("response schema not serializable", "prompt_type", tmpl.PromptType, "error", err)
		return nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		p.logger.Warn("response schema invalid", "prompt_type", tmpl.PromptType, "error", err)
		return nil
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		p.logger.Warn("response schema does not resolve", "prompt_type", tmpl.PromptType, "error", err)
		return nil
	}

	if err := resolved.Validate(parsed); err != nil {
		return []string{fmt.Sprintf("Response schema violation: %v", err)}
	}
	return nil
}

func (p *Pipeline) errorResponse(promptKey string, metadata map[string]any, attempts int, recorder *tools.Recorder, genErr error) *Response {
	metadata["processed_at"] = time.Now().UTC().Format(time.RFC3339)
	metadata["attempts"] = attempts
	metadata["error"] = genErr.Error()

	resp := &Response{
		Success:   false,
		PromptKey: promptKey,
		Metadata:  metadata,
		Error:     "generation failed",
		Validation: &Validation{
			Errors:   []string{},
			Warnings: []string{},
		},
	}
	attachCitations(resp, recorder)
	return resp
}

func regenerationMessage(userMessage string, errors []string) string {
	var b strings.Builder
	b.WriteString(userMessage)
	b.WriteString("\n\nYour previous response failed validation with these errors:\n")
	for _, e := range errors {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	b.WriteString("Return a corrected response that fixes every error.")
	return b.String()
}

func attachCitations(resp *Response, recorder *tools.Recorder) {
	if recorder.Count() == 0 {
		return
	}
	resp.Citations = &Citations{
		ToolCallsCount: recorder.Count(),
		ToolsUsed:      recorder.Used(),
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
