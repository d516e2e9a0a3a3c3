package resolver

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestIsWellFormedID(t *testing.T) {
	validULID := ulid.Make().String()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"ulid", validULID, true},
		{"lowercase ulid", "01hzxq3e8af5n2c7v9p4d6r8tb", true},
		{"uuid", "6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"short string", "t1", false},
		{"prefixed ulid", "factor-" + validULID, false},
		{"empty", "", false},
		{"26 chars with invalid alphabet", "IIIIIIIIIIIIIIIIIIIIIIIIII", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWellFormedID(tt.input); got != tt.want {
				t.Errorf("isWellFormedID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestExtractID(t *testing.T) {
	id := ulid.Make().String()
	uuid := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare ulid", id, id},
		{"decorated ulid", "task-" + id + "-v2", id},
		{"decorated uuid", "ref:" + uuid, uuid},
		{"no identifier", "just-a-name", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractID(tt.input); got != tt.want {
				t.Errorf("extractID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompoundRemainder(t *testing.T) {
	id := ulid.Make().String()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"prefixed ulid", "factor-" + id, id},
		{"no separator", id, ""},
		{"remainder not well-formed", "factor-t1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compoundRemainder(tt.input); got != tt.want {
				t.Errorf("compoundRemainder(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
