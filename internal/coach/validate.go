package coach

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Prompt types with a registered validation schema.
const (
	TypeChatResponse    = "chat_response"
	TypeGenerateProgram = "generate_program"
	TypeUpdateRoutine   = "update_routine"
)

// MaxSuggestedQuestions bounds the follow-up questions in a chat reply.
const MaxSuggestedQuestions = 3

// Result reports the outcome of validating one model response.
// Warnings do not fail validation; errors do.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// Data is the decoded, normalized output when decoding succeeded:
	// *ChatReply, *Program or *Routine depending on the prompt type.
	Data any `json:"validated_data,omitempty"`
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateResponse validates a parsed model response for the given prompt
// type. availableContext bounds exercise and set type codes for the program
// prompts; a nil context skips those guards.
func ValidateResponse(promptType string, data map[string]any, availableContext *Context) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}

	switch promptType {
	case TypeChatResponse:
		var reply ChatReply
		if !decodeInto(&res, data, &reply) {
			return res
		}
		validateChatReply(&res, &reply)
		res.Data = &reply

	case TypeGenerateProgram:
		var program Program
		if !decodeInto(&res, data, &program) {
			return res
		}
		validateProgram(&res, &program, availableContext)
		res.Data = &program

	case TypeUpdateRoutine:
		var routine Routine
		if !decodeInto(&res, data, &routine) {
			return res
		}
		guard := newDomainGuard(availableContext)
		validateRoutine(&res, &routine, guard, "")
		res.Data = &routine

	default:
		res.errorf("unknown prompt type: %s", promptType)
	}

	res.Valid = len(res.Errors) == 0
	return res
}

// decodeInto maps the generic response object onto a typed struct.
// Unknown fields are ignored with a warning so a stray extra key does not
// burn a regeneration attempt; structural errors still fail the decode.
func decodeInto(res *Result, data map[string]any, v any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		res.errorf("validation error: %v", err)
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if !strings.Contains(err.Error(), "unknown field") {
			res.errorf("validation error: %v", err)
			return false
		}
		res.warnf("ignoring unexpected field: %v", err)
		if err := json.Unmarshal(raw, v); err != nil {
			res.errorf("validation error: %v", err)
			return false
		}
	}
	return true
}

func validateChatReply(res *Result, reply *ChatReply) {
	if strings.TrimSpace(reply.Reply) == "" {
		res.errorf("reply cannot be empty")
	}
	if len(reply.SuggestedQuestions) > MaxSuggestedQuestions {
		res.errorf("suggested_questions must have at most %d items, got %d",
			MaxSuggestedQuestions, len(reply.SuggestedQuestions))
	}
}

func validateProgram(res *Result, program *Program, availableContext *Context) {
	if len(program.Routines) == 0 {
		res.errorf("at least one routine is required")
		return
	}

	seen := make(map[int]bool, len(program.Routines))
	for _, routine := range program.Routines {
		if seen[routine.RoutineOrder] {
			res.errorf("routine orders must be unique, %d repeats", routine.RoutineOrder)
		}
		seen[routine.RoutineOrder] = true
	}

	guard := newDomainGuard(availableContext)
	for i := range program.Routines {
		validateRoutine(res, &program.Routines[i], guard, fmt.Sprintf("Routine %d: ", i+1))
	}
}

// validateRoutine checks one routine's structure and domain codes.
// prefix scopes messages when the routine is part of a program.
func validateRoutine(res *Result, routine *Routine, guard *domainGuard, prefix string) {
	if strings.TrimSpace(routine.RoutineName) == "" {
		res.errorf("%sroutine name cannot be empty", prefix)
	}
	if routine.RoutineOrder < 1 {
		res.errorf("%sroutine_order must be at least 1, got %d", prefix, routine.RoutineOrder)
	}
	if len(routine.Plans) == 0 {
		res.errorf("%sat least one plan is required", prefix)
		return
	}

	for i := range routine.Plans {
		plan := &routine.Plans[i]
		planIdx := i + 1

		code := strings.ToUpper(strings.TrimSpace(plan.ExerciseCode))
		plan.ExerciseCode = code
		if code == "" {
			res.errorf("%sPlan %d: exercise code cannot be empty", prefix, planIdx)
		} else if !guard.validExercise(code) {
			res.errorf("%sPlan %d: invalid exercise code '%s'", prefix, planIdx, code)
		}

		if plan.PlanOrder < 1 {
			res.errorf("%sPlan %d: plan_order must be at least 1, got %d", prefix, planIdx, plan.PlanOrder)
		}

		if len(plan.Sets) == 0 {
			res.errorf("%sPlan %d: no sets defined", prefix, planIdx)
			continue
		}

		for j := range plan.Sets {
			set := &plan.Sets[j]
			setIdx := j + 1

			if set.SetTypeCode == "" {
				set.SetTypeCode = SetTypeNormal
			}
			if !guard.validSetType(set.SetTypeCode) {
				res.errorf("%sPlan %d, Set %d: invalid set type '%s'", prefix, planIdx, setIdx, set.SetTypeCode)
			}

			if set.SetOrder < 1 {
				res.errorf("%sPlan %d, Set %d: set_order must be at least 1, got %d", prefix, planIdx, setIdx, set.SetOrder)
			}
			if set.Reps != nil && *set.Reps < 1 {
				res.errorf("%sPlan %d, Set %d: reps must be at least 1, got %d", prefix, planIdx, setIdx, *set.Reps)
			}
			if set.Weight != nil && *set.Weight < 0 {
				res.errorf("%sPlan %d, Set %d: weight cannot be negative", prefix, planIdx, setIdx)
			}
			if set.RestTime < 0 {
				res.errorf("%sPlan %d, Set %d: rest_time cannot be negative", prefix, planIdx, setIdx)
			}
			if set.Duration != nil && *set.Duration < 0 {
				res.errorf("%sPlan %d, Set %d: duration cannot be negative", prefix, planIdx, setIdx)
			}

			if set.Reps == nil && set.Duration == nil {
				res.warnf("%sPlan %d, Set %d: neither reps nor duration specified", prefix, planIdx, setIdx)
			}
		}
	}
}

// domainGuard checks codes against the available context. Without context,
// exercises accept any value and set types fall back to the built-in codes.
type domainGuard struct {
	exercises map[string]bool
	setTypes  map[string]bool
}

func newDomainGuard(availableContext *Context) *domainGuard {
	g := &domainGuard{
		exercises: make(map[string]bool),
		setTypes:  make(map[string]bool),
	}
	if availableContext != nil {
		for _, ex := range availableContext.Exercises {
			if ex.ExerciseCode != "" {
				g.exercises[ex.ExerciseCode] = true
			}
		}
		for _, st := range availableContext.SetTypes {
			if st.SetTypeCode != "" {
				g.setTypes[st.SetTypeCode] = true
			}
		}
	}
	if len(g.setTypes) == 0 {
		for _, code := range []string{SetTypeNormal, SetTypeWarmup, SetTypeDropset, SetTypeSuperset} {
			g.setTypes[code] = true
		}
	}
	return g
}

func (g *domainGuard) validExercise(code string) bool {
	if len(g.exercises) == 0 {
		return true
	}
	return g.exercises[code]
}

func (g *domainGuard) validSetType(code string) bool {
	return g.setTypes[code]
}

// ParseContext extracts the available_context block from a request context
// map. The block may arrive as a nested object or as a JSON string.
func ParseContext(reqContext map[string]any) *Context {
	if reqContext == nil {
		return nil
	}
	raw, ok := reqContext["available_context"]
	if !ok {
		return nil
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		data = encoded
	}

	var parsed Context
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil
	}
	return &parsed
}
