package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVerdict(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantErr   bool
		wantField string
	}{
		{
			name: "complete verdict",
			doc:  `{"match_status": true, "reasoning": "fits", "greeting_message": "Hi"}`,
		},
		{
			name: "extra fields allowed",
			doc:  `{"match_status": false, "reasoning": "no", "greeting_message": "", "score": 3}`,
		},
		{
			name:      "missing greeting",
			doc:       `{"match_status": true, "reasoning": "fits"}`,
			wantErr:   true,
			wantField: "(root)",
		},
		{
			name:      "match as string",
			doc:       `{"match_status": "yes", "reasoning": "fits", "greeting_message": "Hi"}`,
			wantErr:   true,
			wantField: "match_status",
		},
		{
			name:      "not an object",
			doc:       `[1, 2]`,
			wantErr:   true,
			wantField: "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVerdict(tt.doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.NotEmpty(t, verr.Errors)
			assert.Equal(t, tt.wantField, verr.Errors[0].Field)
		})
	}
}

func TestCompile_BadSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	require.Error(t, err)

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "broken", loadErr.Schema)
}

func TestSchema_MalformedDocument(t *testing.T) {
	err := ValidateVerdict(`{not json`)
	require.Error(t, err)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr), "malformed JSON is not a schema violation")
}

func TestSchema_ReusableAcrossDocuments(t *testing.T) {
	s, err := Compile("pair", `{"type": "object", "required": ["a"]}`)
	require.NoError(t, err)

	assert.NoError(t, s.Validate(`{"a": 1}`))
	assert.Error(t, s.Validate(`{"b": 1}`))
	assert.NoError(t, s.Validate(`{"a": "again"}`))
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Schema: "verdict", Errors: []FieldError{
		{Field: "a", Message: "is required"},
		{Field: "b", Message: "wrong type"},
	}}
	assert.Equal(t, "verdict: a: is required; b: wrong type", err.Error())
}
