// Package tools registers the coaching tools the agent may call during
// generation. Tools are defined once per Genkit instance; per-request
// state (acting user, call recorder) travels on the context.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/reppyfit/reppy/internal/log"
	"github.com/reppyfit/reppy/internal/rag"
)

// Tool names referenced from prompt YAML tools lists.
const (
	ToolSearchExercises    = "searchExercises"
	ToolExerciseDetails    = "getExerciseDetails"
	ToolPerformanceRecords = "getPerformanceRecords"
	ToolOneRepMax          = "calculateOneRepMax"
	ToolActiveRoutines     = "getActiveRoutines"
	ToolRecallMemory       = "recallUserMemory"
)

const defaultRecordLimit = 10

// ExerciseAPI is the Express surface the domain tools need.
type ExerciseAPI interface {
	ExerciseDetails(ctx context.Context, exerciseCode string) (map[string]any, error)
	PerformanceRecords(ctx context.Context, userID, exerciseCode string, limit int) ([]map[string]any, error)
	OneRepMax(ctx context.Context, userID, exerciseCode string) (map[string]any, error)
	ActiveRoutines(ctx context.Context, userID string) ([]map[string]any, error)
	RecallMemory(ctx context.Context, userID, query string, limit int) ([]map[string]any, error)
}

// ExerciseRetriever is the vector search surface for semantic tools.
type ExerciseRetriever interface {
	RetrieveExercises(ctx context.Context, query string, opts ...rag.SearchOption) ([]rag.Document, error)
	RetrieveUserMemory(ctx context.Context, query, userID string, opts ...rag.SearchOption) ([]rag.Document, error)
}

// SearchExercisesInput defines input for the searchExercises tool.
type SearchExercisesInput struct {
	Query string `json:"query" jsonschema_description:"The natural language query to search for"`
	K     int    `json:"k,omitempty" jsonschema_description:"Number of results to return (1-20, default 5)"`
}

// ExerciseDetailsInput defines input for the getExerciseDetails tool.
type ExerciseDetailsInput struct {
	ExerciseCode string `json:"exercise_code" jsonschema_description:"The exercise code to look up"`
}

// PerformanceRecordsInput defines input for the getPerformanceRecords tool.
type PerformanceRecordsInput struct {
	ExerciseCode string `json:"exercise_code" jsonschema_description:"The exercise code to look up"`
}

// OneRepMaxInput defines input for the calculateOneRepMax tool.
type OneRepMaxInput struct {
	ExerciseCode string `json:"exercise_code" jsonschema_description:"The exercise code, e.g. 'BARBELL_BENCH_PRESS'"`
}

// ActiveRoutinesInput defines input for the getActiveRoutines tool.
// The acting user comes from request context, so no fields are needed.
type ActiveRoutinesInput struct{}

// RecallMemoryInput defines input for the recallUserMemory tool.
type RecallMemoryInput struct {
	Query string `json:"query" jsonschema_description:"Natural language question about what to look for in memory"`
}

// Kit bundles the dependencies behind the coaching tools.
type Kit struct {
	api       ExerciseAPI
	retriever ExerciseRetriever // optional; falls back to Express paths when nil
	logger    log.Logger
}

// NewKit creates a tool kit. The Express API is required; the retriever
// is optional and enables the semantic search paths.
func NewKit(api ExerciseAPI, retriever ExerciseRetriever, logger log.Logger) (*Kit, error) {
	if api == nil {
		return nil, fmt.Errorf("exercise API is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Kit{api: api, retriever: retriever, logger: logger}, nil
}

// Register defines all coaching tools on the Genkit instance.
func (k *Kit) Register(g *genkit.Genkit) error {
	if g == nil {
		return fmt.Errorf("genkit instance is required")
	}

	genkit.DefineTool(g, ToolSearchExercises,
		"Search for relevant exercises using semantic search. "+
			"Use this when you need to find exercises based on natural language queries, "+
			"for example new exercise suggestions or alternatives.",
		k.SearchExercises)

	genkit.DefineTool(g, ToolExerciseDetails,
		"Retrieves detailed information for a single exercise, including primary and "+
			"secondary muscles, detailed instructions, and safety cues. "+
			"Use this if you need more context before recommending an exercise.",
		k.ExerciseDetails)

	genkit.DefineTool(g, ToolPerformanceRecords,
		"Retrieves detailed performance records for a single exercise, including the "+
			"user's actual reps, weight, and rest time from past workouts. "+
			"Use this to apply progressive overload based on demonstrated performance.",
		k.PerformanceRecords)

	genkit.DefineTool(g, ToolOneRepMax,
		"Calculates a user's estimated one-rep max (1RM) for a specific exercise based "+
			"on their recent workout history. Use this when you need to program weights "+
			"based on a percentage of the user's maximum strength.",
		k.OneRepMax)

	genkit.DefineTool(g, ToolActiveRoutines,
		"Retrieves the user's currently active workout program, including all routines, "+
			"plans, and sets. Use this when the user asks a specific question about their plan.",
		k.ActiveRoutines)

	genkit.DefineTool(g, ToolRecallMemory,
		"Searches the user's long-term memory for relevant facts, goals, or preferences "+
			"that might be related to the current conversation. "+
			"Use this to provide personalized and context-aware responses.",
		k.RecallMemory)

	k.logger.Info("coaching tools registered", "count", 6)
	return nil
}

// ForPrompt resolves the named tools into references for generation.
// Unknown names are skipped with a warning so a typo in a prompt file
// degrades to fewer tools instead of a failed request.
func (k *Kit) ForPrompt(g *genkit.Genkit, names []string) []ai.ToolRef {
	refs := make([]ai.ToolRef, 0, len(names))
	for _, name := range names {
		tool := genkit.LookupTool(g, name)
		if tool == nil {
			k.logger.Warn("unknown tool referenced by prompt", "tool", name)
			continue
		}
		refs = append(refs, tool)
	}
	return refs
}

// SearchExercises performs a semantic exercise search.
func (k *Kit) SearchExercises(ctx *ai.ToolContext, input SearchExercisesInput) (string, error) {
	record(ctx.Context, ToolSearchExercises)
	if k.retriever == nil {
		return "Error: semantic search is not configured.", nil
	}

	kResults := input.K
	if kResults < 1 || kResults > 20 {
		kResults = 5
	}

	docs, err := k.retriever.RetrieveExercises(ctx.Context, input.Query, rag.WithTopK(kResults))
	if err != nil {
		k.logger.Error("searchExercises failed", "error", err)
		return fmt.Sprintf("Error searching exercises: %v", err), nil
	}
	if len(docs) == 0 {
		return "No relevant exercises found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant exercises:\n", len(docs))
	for i, doc := range docs {
		code, _ := doc.Metadata["exercise_code"].(string)
		if code == "" {
			code = "UNKNOWN"
		}
		fmt.Fprintf(&b, "%d. %s (code: %s, score: %.3f)\n", i+1, doc.Content, code, doc.Score)
	}
	return b.String(), nil
}

// ExerciseDetails looks up one exercise in the catalog.
func (k *Kit) ExerciseDetails(ctx *ai.ToolContext, input ExerciseDetailsInput) (string, error) {
	record(ctx.Context, ToolExerciseDetails)

	details, err := k.api.ExerciseDetails(ctx.Context, input.ExerciseCode)
	if err != nil {
		k.logger.Error("getExerciseDetails failed", "error", err)
		return fmt.Sprintf("Error getting exercise details: %v", err), nil
	}

	return fmt.Sprintf("Exercise: %s\nMain Muscle: %s\nEquipment: %s\nInstructions: %s",
		textOr(details, "name", input.ExerciseCode),
		textOr(details, "main_muscle", "N/A"),
		textOr(details, "equipment", "N/A"),
		textOr(details, "instructions", "No instructions available"),
	), nil
}

// PerformanceRecords returns the acting user's history for one exercise.
func (k *Kit) PerformanceRecords(ctx *ai.ToolContext, input PerformanceRecordsInput) (string, error) {
	record(ctx.Context, ToolPerformanceRecords)

	userID := UserIDFrom(ctx.Context)
	if userID == "" {
		return "Error: User context not available.", nil
	}

	records, err := k.api.PerformanceRecords(ctx.Context, userID, input.ExerciseCode, defaultRecordLimit)
	if err != nil {
		k.logger.Error("getPerformanceRecords failed", "error", err)
		return fmt.Sprintf("Error getting performance records: %v", err), nil
	}
	if len(records) == 0 {
		return fmt.Sprintf("No performance records found for %s.", input.ExerciseCode), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Performance records for %s:\n", input.ExerciseCode)
	for i, rec := range records {
		if i >= defaultRecordLimit {
			break
		}
		fmt.Fprintf(&b, "%d. %s: %v reps @ %v kg\n", i+1,
			textOr(rec, "date", "N/A"),
			valueOr(rec, "actual_reps", "N/A"),
			valueOr(rec, "actual_weight", "N/A"),
		)
	}
	return b.String(), nil
}

// OneRepMax estimates the acting user's 1RM for one exercise.
func (k *Kit) OneRepMax(ctx *ai.ToolContext, input OneRepMaxInput) (string, error) {
	record(ctx.Context, ToolOneRepMax)

	userID := UserIDFrom(ctx.Context)
	if userID == "" {
		return "Error: User context not available.", nil
	}

	result, err := k.api.OneRepMax(ctx.Context, userID, input.ExerciseCode)
	if err != nil {
		k.logger.Error("calculateOneRepMax failed", "error", err)
		return fmt.Sprintf("Error calculating 1RM: %v", err), nil
	}

	return fmt.Sprintf("Estimated 1RM for %s: %v %s",
		input.ExerciseCode,
		valueOr(result, "estimated_1rm", 0),
		textOr(result, "unit", "kg"),
	), nil
}

// ActiveRoutines returns the acting user's current program.
func (k *Kit) ActiveRoutines(ctx *ai.ToolContext, _ ActiveRoutinesInput) (string, error) {
	record(ctx.Context, ToolActiveRoutines)

	userID := UserIDFrom(ctx.Context)
	if userID == "" {
		return "Error: User context not available.", nil
	}

	routines, err := k.api.ActiveRoutines(ctx.Context, userID)
	if err != nil {
		k.logger.Error("getActiveRoutines failed", "error", err)
		return fmt.Sprintf("Error getting active routines: %v", err), nil
	}
	if len(routines) == 0 {
		return "No active routines found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d active routines:\n", len(routines))
	for i, routine := range routines {
		plans, _ := routine["plans"].([]any)
		fmt.Fprintf(&b, "%d. %s (%d exercises)\n", i+1,
			textOr(routine, "routine_name", "Unnamed"), len(plans))
	}
	return b.String(), nil
}

// RecallMemory searches the acting user's long-term memory. The vector
// store is preferred when configured; the Express memory endpoint is
// the fallback.
func (k *Kit) RecallMemory(ctx *ai.ToolContext, input RecallMemoryInput) (string, error) {
	record(ctx.Context, ToolRecallMemory)

	userID := UserIDFrom(ctx.Context)
	if userID == "" {
		return "Error: User context not available.", nil
	}

	if k.retriever != nil {
		docs, err := k.retriever.RetrieveUserMemory(ctx.Context, input.Query, userID)
		if err == nil {
			return formatMemoryDocs(docs), nil
		}
		k.logger.Warn("vector memory recall failed, falling back to API", "error", err)
	}

	memories, err := k.api.RecallMemory(ctx.Context, userID, input.Query, defaultRecordLimit)
	if err != nil {
		k.logger.Error("recallUserMemory failed", "error", err)
		return fmt.Sprintf("Error recalling memory: %v", err), nil
	}
	if len(memories) == 0 {
		return "No relevant memories found.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memories:\n", len(memories))
	for i, mem := range memories {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1,
			textOr(mem, "memory_type", "general"),
			textOr(mem, "content", ""),
		)
	}
	return b.String(), nil
}

func formatMemoryDocs(docs []rag.Document) string {
	if len(docs) == 0 {
		return "No relevant memories found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant memories:\n", len(docs))
	for i, doc := range docs {
		memType, _ := doc.Metadata["memory_type"].(string)
		if memType == "" {
			memType = "general"
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, memType, doc.Content)
	}
	return b.String()
}

func textOr(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func valueOr(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return fallback
}
