package validator

import (
	"testing"
)

type testPayload struct {
	Body     string `validate:"notblank"`
	Optional string
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   testPayload
		wantErr bool
		fields  []string
	}{
		{
			name:    "Valid",
			input:   testPayload{Body: "hello"},
			wantErr: false,
		},
		{
			name:    "Empty",
			input:   testPayload{},
			wantErr: true,
			fields:  []string{"Body"},
		},
		{
			name:    "WhitespaceOnly",
			input:   testPayload{Body: " \t\n "},
			wantErr: true,
			fields:  []string{"Body"},
		},
		{
			name:    "InteriorWhitespace",
			input:   testPayload{Body: "  hello  "},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateStruct(tt.input)

			if tt.wantErr && len(errs) == 0 {
				t.Error("ValidateStruct() expected errors but got none")
				return
			}
			if !tt.wantErr && len(errs) > 0 {
				t.Errorf("ValidateStruct() got unexpected errors: %v", errs)
				return
			}

			for _, wantField := range tt.fields {
				found := false
				for _, err := range errs {
					if err.Field == wantField {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("Expected validation error for field %s, but got none", wantField)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	v := New()
	if v == nil || v.cli == nil {
		t.Error("New() returned invalid validator")
	}
}
