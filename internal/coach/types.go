// Package coach defines the structured outputs of the coaching prompts and
// the validation applied to them before they reach a client or the
// persistence API.
package coach

// Set type codes accepted without a set_types context list.
const (
	SetTypeNormal   = "NORMAL"
	SetTypeWarmup   = "WARMUP"
	SetTypeDropset  = "DROPSET"
	SetTypeSuperset = "SUPERSET"
)

// ChatReply is the output of the chat_response prompt.
type ChatReply struct {
	Reply              string   `json:"reply" jsonschema_description:"Complete natural-language response to the user's message"`
	SuggestedQuestions []string `json:"suggested_questions,omitempty" jsonschema_description:"Up to 3 follow-up questions"`
	Tone               string   `json:"tone,omitempty" jsonschema_description:"Single-word descriptor of tone"`
}

// Set is one set within an exercise plan.
// Reps, Weight and Duration are pointers so absent and zero are distinct.
type Set struct {
	SetTypeCode string   `json:"set_type_code,omitempty" jsonschema_description:"Set type code, defaults to NORMAL"`
	SetOrder    int      `json:"set_order" jsonschema_description:"Set sequence order, starting at 1"`
	Reps        *int     `json:"reps,omitempty" jsonschema_description:"Target repetitions"`
	Weight      *float64 `json:"weight,omitempty" jsonschema_description:"Weight in the user's unit system"`
	RestTime    int      `json:"rest_time" jsonschema_description:"Rest time in seconds"`
	Duration    *int     `json:"duration,omitempty" jsonschema_description:"Duration in seconds for timed exercises"`
}

// Plan is one exercise within a routine.
type Plan struct {
	ExerciseCode string `json:"exercise_code" jsonschema_description:"Exercise code from the available context"`
	PlanOrder    int    `json:"plan_order" jsonschema_description:"Exercise sequence order in the routine"`
	Notes        string `json:"notes,omitempty" jsonschema_description:"Optional notes for this exercise"`
	Sets         []Set  `json:"sets" jsonschema_description:"Sets for this exercise, at least one"`
}

// Routine is one workout in a program. It is also the output shape of the
// update_routine prompt.
type Routine struct {
	RoutineName  string `json:"routine_name" jsonschema_description:"Descriptive name for the routine"`
	RoutineOrder int    `json:"routine_order" jsonschema_description:"Sequence order of this routine in the cycle"`
	Notes        string `json:"notes,omitempty" jsonschema_description:"Optional overall notes"`
	Plans        []Plan `json:"plans" jsonschema_description:"Exercise plans, at least one"`
}

// Program is the output of the generate_program prompt.
type Program struct {
	Routines []Routine `json:"routines" jsonschema_description:"All routines in the program"`
}

// ExerciseRef identifies an exercise offered to the model in the prompt
// context. Payload fields beyond the code are not needed for validation.
type ExerciseRef struct {
	ExerciseCode string `json:"exercise_code"`
	Name         string `json:"name,omitempty"`
}

// SetTypeRef identifies a set type offered in the prompt context.
type SetTypeRef struct {
	SetTypeCode string `json:"set_type_code"`
	Name        string `json:"name,omitempty"`
}

// Context is the available_context block sent with generate and update
// requests. It bounds which exercise and set type codes the model may emit.
type Context struct {
	Exercises []ExerciseRef `json:"exercises,omitempty"`
	SetTypes  []SetTypeRef  `json:"set_types,omitempty"`
}
