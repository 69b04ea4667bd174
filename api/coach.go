package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/reppyfit/reppy/internal/coach"
	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/pipeline"
	"github.com/reppyfit/reppy/internal/prompt"
	"github.com/reppyfit/reppy/internal/router"
	"github.com/reppyfit/reppy/internal/session"
)

// maxRequestBody caps coaching request bodies at 1 MiB.
const maxRequestBody = 1 << 20

// sessionHistoryLimit is how many stored turns feed the prompt context.
const sessionHistoryLimit = 20

// Pipeline executes one prompt end to end.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
}

// SessionStore persists conversation turns. Optional.
type SessionStore interface {
	Append(ctx context.Context, msg session.Message) error
	History(ctx context.Context, userID string, limit int) ([]session.Message, error)
}

// CoachRequest is the body of POST /api/v1/route and POST /api/v1/run.
type CoachRequest struct {
	Input     string         `json:"input"`
	UserID    string         `json:"user_id"`
	Context   map[string]any `json:"context,omitempty"`
	PromptKey string         `json:"prompt_key,omitempty"`
}

// CoachHandler serves the coaching endpoints. It routes (or accepts) a
// prompt key, folds stored conversation history into the request context,
// runs the pipeline and records both turns of the exchange.
type CoachHandler struct {
	router   router.Router
	pipeline Pipeline
	prompts  *prompt.Loader
	sessions SessionStore
	logger   log.Logger
}

// NewCoachHandler creates the handler. sessions may be nil, in which case
// the service runs stateless.
func NewCoachHandler(rt router.Router, pl Pipeline, prompts *prompt.Loader, sessions SessionStore, logger log.Logger) *CoachHandler {
	return &CoachHandler{router: rt, pipeline: pl, prompts: prompts, sessions: sessions, logger: logger}
}

// RegisterRoutes registers the coaching routes on the given mux.
func (h *CoachHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/route", h.handleRoute)
	mux.HandleFunc("POST /api/v1/run", h.handleRun)
	mux.HandleFunc("GET /api/v1/prompts", h.handlePrompts)
}

// handleRoute classifies the input to a prompt key and executes it.
func (h *CoachHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	reqContext := h.withHistory(r.Context(), req)

	decision, err := h.router.Route(r.Context(), req.Input, reqContext)
	if err != nil {
		// Routers fall back internally; an error here means even the
		// fallback failed, so run the default prompt.
		h.logger.Error("routing failed", "error", err)
		decision = &router.Decision{PromptKey: router.PromptChatResponse, Method: router.MethodFallback}
	}

	h.execute(w, r, pipeline.Request{
		PromptKey: decision.PromptKey,
		Input:     req.Input,
		UserID:    req.UserID,
		Context:   reqContext,
		Intent:    decision.Intent,
		Method:    decision.Method,
	})
}

// handleRun executes a named prompt without routing.
func (h *CoachHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	if req.PromptKey == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_prompt_key", "prompt_key is required")
		return
	}
	// The pipeline silently falls back on unknown keys; a direct run
	// should instead tell the caller the key does not exist.
	if _, err := h.prompts.Load(req.PromptKey); err != nil {
		writeError(w, h.logger, http.StatusNotFound, "prompt_not_found",
			"unknown prompt key: "+req.PromptKey)
		return
	}

	h.execute(w, r, pipeline.Request{
		PromptKey: req.PromptKey,
		Input:     req.Input,
		UserID:    req.UserID,
		Context:   h.withHistory(r.Context(), req),
		Method:    "direct",
	})
}

// handlePrompts lists the available prompt templates.
func (h *CoachHandler) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	infos, err := h.prompts.List()
	if err != nil {
		h.logger.Error("list prompts", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "failed to list prompts")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"prompts": infos,
		"count":   len(infos),
	})
}

// decodeRequest parses and validates the shared request body.
func (h *CoachHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (CoachRequest, bool) {
	var req CoachRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return req, false
	}
	if req.Input == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_input", "input is required")
		return req, false
	}
	return req, true
}

// withHistory returns the request context map with stored conversation
// history folded in. A caller-supplied conversation_history wins over the
// stored one.
func (h *CoachHandler) withHistory(ctx context.Context, req CoachRequest) map[string]any {
	reqContext := req.Context
	if reqContext == nil {
		reqContext = make(map[string]any)
	}
	if h.sessions == nil || req.UserID == "" {
		return reqContext
	}
	if _, ok := reqContext["conversation_history"]; ok {
		return reqContext
	}

	history, err := h.sessions.History(ctx, req.UserID, sessionHistoryLimit)
	if err != nil {
		h.logger.Warn("load session history", "user_id", req.UserID, "error", err)
		return reqContext
	}
	if len(history) > 0 {
		reqContext["conversation_history"] = session.ConversationContext(history)
	}
	return reqContext
}

// execute runs the pipeline and writes the response envelope. Pipeline
// failures surface as success=false envelopes, not transport errors.
func (h *CoachHandler) execute(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	resp, err := h.pipeline.Run(r.Context(), req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.Error("pipeline run failed", "prompt_key", req.PromptKey, "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "prompt execution failed")
		return
	}

	recordExecution(resp.PromptKey, resp.Success)
	if resp.Success {
		h.recordTurns(r.Context(), req, resp)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// recordTurns stores the user input and assistant reply for follow-up
// requests. Storage failures are logged, never surfaced.
func (h *CoachHandler) recordTurns(ctx context.Context, req pipeline.Request, resp *pipeline.Response) {
	if h.sessions == nil || req.UserID == "" {
		return
	}
	turns := []session.Message{
		{UserID: req.UserID, Role: session.RoleUser, Content: req.Input},
		{UserID: req.UserID, Role: session.RoleAssistant, Content: assistantText(resp.Result), PromptKey: resp.PromptKey},
	}
	for _, msg := range turns {
		if err := h.sessions.Append(ctx, msg); err != nil {
			h.logger.Warn("store session turn", "user_id", req.UserID, "role", msg.Role, "error", err)
			return
		}
	}
}

// assistantText flattens a structured result into the text stored as the
// assistant turn. Chat replies store the reply itself; structured results
// store their JSON form.
func assistantText(result any) string {
	switch v := result.(type) {
	case *coach.ChatReply:
		if v != nil && v.Reply != "" {
			return v.Reply
		}
	case map[string]any:
		if reply, ok := v["reply"].(string); ok && reply != "" {
			return reply
		}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return ""
	}
	return string(data)
}
