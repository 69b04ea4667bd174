package coach

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func testContext() *Context {
	return &Context{
		Exercises: []ExerciseRef{
			{ExerciseCode: "SQT_BB", Name: "Barbell Squat"},
			{ExerciseCode: "BP_BB", Name: "Barbell Bench Press"},
		},
		SetTypes: []SetTypeRef{
			{SetTypeCode: "NORMAL"},
			{SetTypeCode: "WARMUP"},
		},
	}
}

func validProgramData() map[string]any {
	return map[string]any{
		"routines": []any{
			map[string]any{
				"routine_name":  "Lower A",
				"routine_order": 1,
				"plans": []any{
					map[string]any{
						"exercise_code": "sqt_bb",
						"plan_order":    1,
						"sets": []any{
							map[string]any{
								"set_type_code": "WARMUP",
								"set_order":     1,
								"reps":          8,
								"weight":        60.0,
								"rest_time":     90,
							},
							map[string]any{
								"set_order": 2,
								"reps":      5,
								"weight":    100.0,
								"rest_time": 180,
							},
						},
					},
				},
			},
		},
	}
}

func TestValidateChatReply(t *testing.T) {
	res := ValidateResponse(TypeChatResponse, map[string]any{
		"reply":               "Squat twice a week and add weight slowly.",
		"suggested_questions": []any{"How heavy should I start?"},
		"tone":                "encouraging",
	}, nil)

	require.True(t, res.Valid, "errors: %v", res.Errors)
	reply, ok := res.Data.(*ChatReply)
	require.True(t, ok)
	assert.Equal(t, "Squat twice a week and add weight slowly.", reply.Reply)
}

func TestValidateChatReplyEmptyReply(t *testing.T) {
	res := ValidateResponse(TypeChatResponse, map[string]any{"reply": "   "}, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "reply cannot be empty")
}

func TestValidateChatReplyTooManyQuestions(t *testing.T) {
	res := ValidateResponse(TypeChatResponse, map[string]any{
		"reply":               "ok",
		"suggested_questions": []any{"a", "b", "c", "d"},
	}, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "at most 3")
}

func TestValidateChatReplyIgnoresUnknownFields(t *testing.T) {
	res := ValidateResponse(TypeChatResponse, map[string]any{
		"reply":     "Keep your elbows tucked on the descent.",
		"reasoning": "the model invented this field",
	}, nil)

	require.True(t, res.Valid, "extra keys warn but do not fail: %v", res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `unknown field "reasoning"`)

	reply, ok := res.Data.(*ChatReply)
	require.True(t, ok)
	assert.Equal(t, "Keep your elbows tucked on the descent.", reply.Reply)
}

func TestValidateProgram(t *testing.T) {
	res := ValidateResponse(TypeGenerateProgram, validProgramData(), testContext())

	require.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)

	program, ok := res.Data.(*Program)
	require.True(t, ok)
	require.Len(t, program.Routines, 1)
	assert.Equal(t, "SQT_BB", program.Routines[0].Plans[0].ExerciseCode, "codes are normalized to upper case")
	assert.Equal(t, "NORMAL", program.Routines[0].Plans[0].Sets[1].SetTypeCode, "missing set type defaults to NORMAL")
}

func TestValidateProgramUnknownExerciseCode(t *testing.T) {
	data := validProgramData()
	routine := data["routines"].([]any)[0].(map[string]any)
	routine["plans"].([]any)[0].(map[string]any)["exercise_code"] = "CURL_MACHINE"

	res := ValidateResponse(TypeGenerateProgram, data, testContext())

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "invalid exercise code 'CURL_MACHINE'")
}

func TestValidateProgramWithoutContextAllowsAnyCode(t *testing.T) {
	data := validProgramData()
	routine := data["routines"].([]any)[0].(map[string]any)
	routine["plans"].([]any)[0].(map[string]any)["exercise_code"] = "ANYTHING"

	res := ValidateResponse(TypeGenerateProgram, data, nil)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
}

func TestValidateProgramDuplicateRoutineOrders(t *testing.T) {
	data := validProgramData()
	routines := data["routines"].([]any)
	second := validProgramData()["routines"].([]any)[0]
	data["routines"] = append(routines, second)

	res := ValidateResponse(TypeGenerateProgram, data, testContext())

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "routine orders must be unique")
}

func TestValidateProgramEmptyRoutines(t *testing.T) {
	res := ValidateResponse(TypeGenerateProgram, map[string]any{"routines": []any{}}, nil)

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "at least one routine")
}

func TestValidateSetWithoutRepsOrDurationWarns(t *testing.T) {
	data := validProgramData()
	routine := data["routines"].([]any)[0].(map[string]any)
	sets := routine["plans"].([]any)[0].(map[string]any)["sets"].([]any)
	sets[1] = map[string]any{
		"set_order": 2,
		"rest_time": 120,
	}

	res := ValidateResponse(TypeGenerateProgram, data, testContext())

	assert.True(t, res.Valid, "missing metrics warn but do not fail: %v", res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "neither reps nor duration")
}

func TestValidateInvalidSetType(t *testing.T) {
	data := validProgramData()
	routine := data["routines"].([]any)[0].(map[string]any)
	sets := routine["plans"].([]any)[0].(map[string]any)["sets"].([]any)
	sets[0].(map[string]any)["set_type_code"] = "GIANTSET"

	res := ValidateResponse(TypeGenerateProgram, data, testContext())

	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "invalid set type 'GIANTSET'")
}

func TestValidateDefaultSetTypesWithoutContext(t *testing.T) {
	data := validProgramData()
	routine := data["routines"].([]any)[0].(map[string]any)
	sets := routine["plans"].([]any)[0].(map[string]any)["sets"].([]any)
	sets[0].(map[string]any)["set_type_code"] = SetTypeDropset

	res := ValidateResponse(TypeGenerateProgram, data, nil)
	assert.True(t, res.Valid, "built-in set types pass without context: %v", res.Errors)

	sets[0].(map[string]any)["set_type_code"] = "GIANTSET"
	res = ValidateResponse(TypeGenerateProgram, data, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "invalid set type 'GIANTSET'")
}

func TestValidateUpdateRoutine(t *testing.T) {
	data := map[string]any{
		"routine_name":  "Lower A",
		"routine_order": 2,
		"notes":         "progressed squat weight",
		"plans": []any{
			map[string]any{
				"exercise_code": "SQT_BB",
				"plan_order":    1,
				"sets": []any{
					map[string]any{"set_order": 1, "reps": 5, "weight": 105.0, "rest_time": 180},
				},
			},
		},
	}

	res := ValidateResponse(TypeUpdateRoutine, data, testContext())
	require.True(t, res.Valid, "errors: %v", res.Errors)

	routine, ok := res.Data.(*Routine)
	require.True(t, ok)
	assert.Equal(t, 2, routine.RoutineOrder)
}

func TestValidateUpdateRoutineNoPlans(t *testing.T) {
	data := map[string]any{
		"routine_name":  "Lower A",
		"routine_order": 1,
		"plans":         []any{},
	}

	res := ValidateResponse(TypeUpdateRoutine, data, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "at least one plan")
}

func TestValidateUnknownPromptType(t *testing.T) {
	res := ValidateResponse("delete_account", map[string]any{}, nil)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors[0], "unknown prompt type")
}

func TestParseContext(t *testing.T) {
	t.Run("nested object", func(t *testing.T) {
		ctx := ParseContext(map[string]any{
			"available_context": map[string]any{
				"exercises": []any{map[string]any{"exercise_code": "SQT_BB"}},
			},
		})
		require.NotNil(t, ctx)
		assert.Equal(t, "SQT_BB", ctx.Exercises[0].ExerciseCode)
	})

	t.Run("json string", func(t *testing.T) {
		ctx := ParseContext(map[string]any{
			"available_context": `{"set_types": [{"set_type_code": "NORMAL"}]}`,
		})
		require.NotNil(t, ctx)
		assert.Equal(t, "NORMAL", ctx.SetTypes[0].SetTypeCode)
	})

	t.Run("absent", func(t *testing.T) {
		assert.Nil(t, ParseContext(map[string]any{"input": "hi"}))
		assert.Nil(t, ParseContext(nil))
	})

	t.Run("malformed string", func(t *testing.T) {
		assert.Nil(t, ParseContext(map[string]any{"available_context": "{broken"}))
	})
}
