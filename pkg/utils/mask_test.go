package utils

import "testing"

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"nguyenthia@test.com", "ngu***@test.com"},
		{"ab@test.com", "ab***@test.com"},
		{"no-at-sign", "no-***"},
		{"unknown", "unknown"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := MaskEmail(tt.input); got != tt.expected {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}
