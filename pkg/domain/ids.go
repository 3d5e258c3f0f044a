package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "consentledger/pkg/domain-errors"
)

// maxSubjectIDLength bounds opaque subject identifiers (user ids, hashed emails).
const maxSubjectIDLength = 255

// SubjectID identifies the data subject that owns consent events. It is opaque
// to the ledger: a host user id, a hashed email, or an anonymized token.
//
// Usage: construct via ParseSubjectID at trust boundaries; direct casting
// bypasses validation.
type SubjectID string

// ParseSubjectID validates an opaque subject identifier.
//
// Errors: returns CodeInvalidInput when the value is empty, too long, not UTF-8,
// or contains control or whitespace-only content.
func ParseSubjectID(s string) (SubjectID, error) {
	if err := validateOpaque(s, "subject id"); err != nil {
		return "", err
	}
	return SubjectID(s), nil
}

func (s SubjectID) String() string { return string(s) }

// IsNil returns true when the subject id is empty.
func (s SubjectID) IsNil() bool { return s == "" }

// ActorID identifies whoever triggers an administrative action (anonymization,
// version bumps). Same rules as SubjectID.
type ActorID string

// ParseActorID validates an actor identifier.
func ParseActorID(s string) (ActorID, error) {
	if err := validateOpaque(s, "actor id"); err != nil {
		return "", err
	}
	return ActorID(s), nil
}

func (a ActorID) String() string { return string(a) }

// EventID identifies a single consent event.
type EventID uuid.UUID

// NewEventID returns a random event id.
func NewEventID() EventID { return EventID(uuid.New()) }

// ParseEventID parses a UUID event id and rejects the nil UUID.
func ParseEventID(s string) (EventID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid event id")
	}
	if u == uuid.Nil {
		return EventID{}, dErrors.New(dErrors.CodeInvalidInput, "event id cannot be nil")
	}
	return EventID(u), nil
}

func (e EventID) String() string { return uuid.UUID(e).String() }

// IsNil returns true when the id is the nil UUID.
func (e EventID) IsNil() bool { return uuid.UUID(e) == uuid.Nil }

func (e EventID) MarshalText() ([]byte, error) {
	return uuid.UUID(e).MarshalText()
}

func (e *EventID) UnmarshalText(b []byte) error {
	parsed, err := ParseEventID(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func validateOpaque(s, label string) error {
	if s == "" || strings.TrimSpace(s) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	if len(s) > maxSubjectIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, label+" too long")
	}
	if !utf8.ValidString(s) {
		return dErrors.New(dErrors.CodeInvalidInput, label+" must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return dErrors.New(dErrors.CodeInvalidInput, label+" contains invalid characters")
		}
	}
	return nil
}
