package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: consent changes, policy version bumps, subject anonymization.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring.
	// Examples: denied anonymization attempts.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// Subjects are recorded only as SubjectHash (keyed digest of the subject id) so
// the audit trail survives anonymization without holding the erased identifier.
type Event struct {
	Category       EventCategory
	Timestamp      time.Time
	SubjectHash    string
	Action         string
	Purpose        string
	PurposeVersion int
	Decision       string
	Reason         string
	RequestID      string
	// ActorID tracks who performed an administrative action.
	ActorID string
	// Token is the anonymized token for subject_anonymized events, used to
	// cross-reference the redacted ledger history.
	Token string
}

type AuditEvent string

const (
	// Consent events
	EventConsentGranted AuditEvent = "consent_granted"
	EventConsentRevoked AuditEvent = "consent_revoked"

	// Registry events
	EventPurposeRegistered    AuditEvent = "purpose_registered"
	EventPurposeUpdated       AuditEvent = "purpose_updated"
	EventPurposeVersionBumped AuditEvent = "purpose_version_bumped"

	// Subject events
	EventSubjectAnonymized     AuditEvent = "subject_anonymized"
	EventAnonymizationDenied   AuditEvent = "anonymization_denied"
	EventConsentStateExplained AuditEvent = "consent_state_explained"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventConsentGranted:       CategoryCompliance,
	EventConsentRevoked:       CategoryCompliance,
	EventPurposeRegistered:    CategoryCompliance,
	EventPurposeUpdated:       CategoryCompliance,
	EventPurposeVersionBumped: CategoryCompliance,
	EventSubjectAnonymized:    CategoryCompliance,

	EventAnonymizationDenied: CategorySecurity,

	EventConsentStateExplained: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// ComplianceEvent captures regulatory-significant actions requiring guaranteed persistence.
// Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp      time.Time // set automatically if zero
	SubjectHash    string    // keyed digest of the affected subject
	Action         AuditEvent
	Purpose        string
	PurposeVersion int
	Decision       string // e.g. "granted", "revoked"
	Reason         string
	RequestID      string
	ActorID        string
	Token          string
}

// ToEvent converts to the stored Event shape.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:       CategoryCompliance,
		Timestamp:      e.Timestamp,
		SubjectHash:    e.SubjectHash,
		Action:         string(e.Action),
		Purpose:        e.Purpose,
		PurposeVersion: e.PurposeVersion,
		Decision:       e.Decision,
		Reason:         e.Reason,
		RequestID:      e.RequestID,
		ActorID:        e.ActorID,
		Token:          e.Token,
	}
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subjectHash string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
