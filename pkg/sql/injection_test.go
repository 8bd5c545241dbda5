package sql

import (
	"testing"
)

func TestCheckSearchInput(t *testing.T) {
	tests := []struct {
		name            string
		field           string
		value           string
		expectInjection bool
	}{
		{
			name:  "plain search term",
			field: "query",
			value: "laptop computers",
		},
		{
			name:  "quoted phrase",
			field: "query",
			value: `"climate change" arctic`,
		},
		{
			name:  "boolean operators",
			field: "query",
			value: "cats -dogs +pets",
		},
		{
			name:  "date-like term",
			field: "query",
			value: "2024-01-15 report",
		},
		{
			name:            "classic tautology",
			field:           "query",
			value:           "' OR 1=1--",
			expectInjection: true,
		},
		{
			name:            "stacked drop statement",
			field:           "query",
			value:           "'; DROP TABLE users--",
			expectInjection: true,
		},
		{
			name:            "union select probe",
			field:           "query",
			value:           "x' UNION SELECT username, password FROM users--",
			expectInjection: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckSearchInput(tt.field, tt.value)

			if !tt.expectInjection {
				if result != nil {
					t.Errorf("expected clean, got fingerprint %q", result.Fingerprint)
				}
				return
			}

			if result == nil {
				t.Fatal("expected injection to be detected")
			}
			if !result.IsSQLi {
				t.Error("expected IsSQLi to be true")
			}
			if result.Fingerprint == "" {
				t.Error("expected a non-empty fingerprint")
			}
			if result.Field != tt.field {
				t.Errorf("field = %q, want %q", result.Field, tt.field)
			}
			if result.Value != tt.value {
				t.Errorf("value = %q, want %q", result.Value, tt.value)
			}
		})
	}
}

func TestCheckSearchInputs(t *testing.T) {
	fields := map[string]string{
		"query":   "federated search engines",
		"partial": "' OR 1=1--",
	}

	results := CheckSearchInputs(fields)
	if len(results) != 1 {
		t.Fatalf("expected 1 failed field, got %d", len(results))
	}
	if results[0].Field != "partial" {
		t.Errorf("field = %q, want %q", results[0].Field, "partial")
	}

	clean := CheckSearchInputs(map[string]string{"query": "hello world"})
	if clean != nil {
		t.Errorf("expected nil for clean fields, got %v", clean)
	}
}
