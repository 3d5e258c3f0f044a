package models

import (
	"time"

	id "consentledger/pkg/domain"
)

// AnonymizedPrefix marks subject ids minted by anonymization. New decisions
// may not be recorded under it.
const AnonymizedPrefix = "anon_"

// Event is one immutable consent decision. Only anonymization rewrites
// SubjectID and SourceContext.
type Event struct {
	ID             id.EventID   `json:"id"`
	Seq            int64        `json:"seq"`
	SubjectID      id.SubjectID `json:"subject_id"`
	PurposeID      id.PurposeID `json:"purpose_id"`
	PurposeVersion int          `json:"purpose_version"`
	Granted        bool         `json:"granted"`
	Timestamp      time.Time    `json:"timestamp"`
	SourceContext  string       `json:"source_context,omitempty"`
}

// Supersedes reports whether e is later than other in ledger order:
// timestamp first, then insertion sequence.
func (e *Event) Supersedes(other *Event) bool {
	if other == nil {
		return true
	}
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.After(other.Timestamp)
	}
	return e.Seq > other.Seq
}

// Redaction marks a subject as anonymized. SubjectHash is a keyed digest of the
// original identifier, so the marker never holds the erased value.
type Redaction struct {
	SubjectHash string    `json:"-"`
	Token       string    `json:"token"`
	RedactedAt  time.Time `json:"redacted_at"`
	Rows        int       `json:"rows"`
}
