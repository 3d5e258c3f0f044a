package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty stays empty", input: []string{}, expected: []string{}},
		{name: "allowlist entries", input: []string{" dpo-1 ", "DPO-1", "dpo-1", ""}, expected: []string{"dpo-1", "DPO-1"}},
		{name: "blank only", input: []string{" ", "\t"}, expected: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "role claims", input: []string{"Privacy_Admin", " privacy_admin", "auditor"}, expected: []string{"privacy_admin", "auditor"}},
		{name: "keeps first occurrence order", input: []string{"b", "A", "a", "B"}, expected: []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
