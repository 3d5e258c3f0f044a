package domain

import (
	"regexp"

	dErrors "consentledger/pkg/domain-errors"
)

// PurposeID is a stable slug naming why data is processed (e.g. "marketing_email").
// Invariant: lowercase letters, digits, '_' or '-', starting with a letter, at most
// 64 characters. Which purposes exist is decided by the registry, not this type.
//
// Usage: construct via ParsePurposeID at trust boundaries; direct casting bypasses
// validation.
type PurposeID string

var purposeSlug = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// ParsePurposeID constructs a PurposeID from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or not a slug.
func ParsePurposeID(s string) (PurposeID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "purpose cannot be empty")
	}
	if !purposeSlug.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid purpose")
	}
	return PurposeID(s), nil
}

// IsValid checks the slug format.
func (p PurposeID) IsValid() bool {
	return purposeSlug.MatchString(string(p))
}

// String returns the string representation of the purpose.
func (p PurposeID) String() string {
	return string(p)
}
