package tools

import (
	"context"
	"slices"
	"sync"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	recorderKey
)

// WithUserID returns a context carrying the acting user's ID.
// Tools that need user scope read it back at invocation time because
// tool definitions are registered once per process, not per request.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom extracts the acting user's ID, if any.
func UserIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// Recorder collects tool invocations for one request so callers can
// report which tools the model actually used.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Record notes one invocation of the named tool.
func (r *Recorder) Record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

// Count returns the total number of invocations.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Used returns the distinct tool names in first-use order.
func (r *Recorder) Used() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	used := make([]string, 0, len(r.calls))
	for _, name := range r.calls {
		if !slices.Contains(used, name) {
			used = append(used, name)
		}
	}
	return used
}

// WithRecorder returns a context carrying a per-request recorder.
func WithRecorder(ctx context.Context, r *Recorder) context.Context {
	return context.WithValue(ctx, recorderKey, r)
}

// RecorderFrom extracts the per-request recorder, if any.
func RecorderFrom(ctx context.Context) *Recorder {
	if r, ok := ctx.Value(recorderKey).(*Recorder); ok {
		return r
	}
	return nil
}

// record notes a tool call on the context's recorder, if one is present.
func record(ctx context.Context, name string) {
	if r := RecorderFrom(ctx); r != nil {
		r.Record(name)
	}
}
