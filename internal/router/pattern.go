package router

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/reppyfit/reppy/internal/log"
)

// generateKeywords trigger the generate_program rule on substring match.
var generateKeywords = []string{
	"generate program",
	"new block",
	"mesocycle",
	"create routine",
	"create program",
	"new program",
	"make program",
	"design program",
	"build program",
}

// updateKeywords trigger the update_routine rule on substring match.
var updateKeywords = []string{
	"update",
	"modify",
	"tweak",
	"change",
	"adjust",
	"progress last routine",
	"make harder",
	"make easier",
	"swap exercise",
	"replace exercise",
}

// deltaPatterns catch exercise-specific adjustments that the plain keyword
// list misses, such as "increase the squat weight".
var deltaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`increase.*weight`),
	regexp.MustCompile(`decrease.*weight`),
	regexp.MustCompile(`add.*reps`),
	regexp.MustCompile(`reduce.*reps`),
	regexp.MustCompile(`more.*sets`),
	regexp.MustCompile(`fewer.*sets`),
}

// dataKeywords mark inputs that reference stored performance data. Such
// inputs get a score boost toward the tool-using prompts.
var dataKeywords = []string{
	"1rm",
	"one rep max",
	"percentage",
	"%",
	"performance",
	"records",
	"last workout",
	"progress",
	"schedule",
	"date",
}

// toolsPreferenceBoost is added to tool-using prompt scores when the input
// references performance data.
const toolsPreferenceBoost = 0.3

// PatternRouter routes by ordered keyword rules with a scoring fallback.
// It makes no model calls and is the safety net for the LLM router.
type PatternRouter struct {
	available []string
	logger    log.Logger
}

// NewPatternRouter creates a pattern router over the given prompt keys.
// An empty list falls back to DefaultPrompts.
func NewPatternRouter(available []string, logger log.Logger) *PatternRouter {
	if len(available) == 0 {
		available = DefaultPrompts
	}
	l := logger.With("component", "pattern_router")
	for _, key := range DefaultPrompts {
		if !slices.Contains(available, key) {
			l.Warn("default prompt not available", "prompt_key", key)
		}
	}
	return &PatternRouter{available: available, logger: l}
}

// Route applies the rules in order and returns the selected prompt.
// It never returns an error; the signature satisfies the Router interface.
func (r *PatternRouter) Route(_ context.Context, input string, _ map[string]any) (*Decision, error) {
	lower := strings.ToLower(input)

	// Rule 1: explicit program generation intent.
	if matchesAny(lower, generateKeywords) && r.has(PromptGenerateProgram) {
		r.logger.Debug("routed by rule", "prompt_key", PromptGenerateProgram)
		return &Decision{
			PromptKey: PromptGenerateProgram,
			Method:    MethodRule,
			Scores:    map[string]float64{PromptGenerateProgram: 1.0},
		}, nil
	}

	// Rule 2: routine update intent, keywords or delta patterns.
	if (matchesAny(lower, updateKeywords) || matchesDelta(lower)) && r.has(PromptUpdateRoutine) {
		r.logger.Debug("routed by rule", "prompt_key", PromptUpdateRoutine)
		return &Decision{
			PromptKey: PromptUpdateRoutine,
			Method:    MethodRule,
			Scores:    map[string]float64{PromptUpdateRoutine: 1.0},
		}, nil
	}

	// Rule 3: keyword scoring with a tools preference boost.
	scores := r.score(input, lower)
	if matchesAny(lower, dataKeywords) {
		if _, ok := scores[PromptGenerateProgram]; ok {
			scores[PromptGenerateProgram] += toolsPreferenceBoost
		}
		if _, ok := scores[PromptUpdateRoutine]; ok {
			scores[PromptUpdateRoutine] += toolsPreferenceBoost
		}
	}

	if selected, ok := maxScore(scores); ok {
		r.logger.Debug("routed by score", "prompt_key", selected, "score", scores[selected])
		return &Decision{PromptKey: selected, Method: MethodScore, Scores: scores}, nil
	}

	r.logger.Debug("routed by fallback", "prompt_key", PromptChatResponse)
	return &Decision{
		PromptKey: PromptChatResponse,
		Method:    MethodFallback,
		Scores:    map[string]float64{PromptChatResponse: 0.0},
	}, nil
}

// score computes keyword relevance for each default prompt.
func (r *PatternRouter) score(input, lower string) map[string]float64 {
	scores := make(map[string]float64)

	if r.has(PromptGenerateProgram) {
		var s float64
		if matchesAny(lower, []string{"program", "routine", "generate", "create"}) {
			s += 0.3
		}
		if matchesAny(lower, []string{"1rm", "percentage", "%"}) {
			s += 0.2
		}
		if strings.Contains(lower, "schedule") || strings.Contains(lower, "date") {
			s += 0.2
		}
		scores[PromptGenerateProgram] = min(s, 1.0)
	}

	if r.has(PromptUpdateRoutine) {
		var s float64
		if matchesAny(lower, []string{"update", "modify", "change"}) {
			s += 0.3
		}
		if matchesAny(lower, []string{"exercise", "workout"}) {
			s += 0.2
		}
		if matchesAny(lower, []string{"harder", "easier", "weight", "reps"}) {
			s += 0.2
		}
		scores[PromptUpdateRoutine] = min(s, 1.0)
	}

	if r.has(PromptChatResponse) {
		s := 0.1 // baseline for the default prompt
		if strings.Contains(input, "?") {
			s += 0.2
		}
		if matchesAny(lower, []string{"what", "how", "why", "when", "help"}) {
			s += 0.2
		}
		scores[PromptChatResponse] = min(s, 1.0)
	}

	return scores
}

func (r *PatternRouter) has(key string) bool {
	return slices.Contains(r.available, key)
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func matchesDelta(lower string) bool {
	for _, re := range deltaPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// maxScore returns the key with the highest score. Ties break toward the
// earliest key in DefaultPrompts order so routing stays deterministic.
func maxScore(scores map[string]float64) (string, bool) {
	best, found := "", false
	for _, key := range DefaultPrompts {
		s, ok := scores[key]
		if !ok {
			continue
		}
		if !found || s > scores[best] {
			best, found = key, true
		}
	}
	return best, found
}
