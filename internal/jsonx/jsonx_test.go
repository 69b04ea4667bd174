package jsonx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "json fence",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```\nEnjoy.",
			want: `{"a": 1}`,
		},
		{
			name: "bare fence",
			in:   "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "no fence",
			in:   `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "unclosed fence left alone",
			in:   "```json\n{\"a\": 1}",
			want: "```json\n{\"a\": 1}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestExtract(t *testing.T) {
	type reply struct {
		Reply string `json:"reply"`
	}

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "clean json",
			in:   `{"reply": "hello"}`,
			want: "hello",
		},
		{
			name: "fenced json",
			in:   "```json\n{\"reply\": \"hello\"}\n```",
			want: "hello",
		},
		{
			name: "json embedded in prose",
			in:   `Sure! Here is the result: {"reply": "hello"} Let me know.`,
			want: "hello",
		},
		{
			name:    "no json at all",
			in:      "I could not produce a structured answer.",
			wantErr: true,
		},
		{
			name:    "malformed braces",
			in:      `prefix {"reply": } suffix`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out reply
			_, err := Extract(tt.in, &out)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNoJSON))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Reply)
		})
	}
}

func TestExtractObject(t *testing.T) {
	obj, raw, err := ExtractObject("```json\n{\"intent\": \"UPDATE_ROUTINE\", \"confidence\": 0.9}\n```")
	require.NoError(t, err)
	assert.Equal(t, "UPDATE_ROUTINE", obj["intent"])
	assert.JSONEq(t, `{"intent": "UPDATE_ROUTINE", "confidence": 0.9}`, raw)
}
