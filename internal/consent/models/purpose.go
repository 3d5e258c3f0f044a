package models

import (
	"time"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// LegalBasis is the GDPR Art. 6 ground a purpose is processed under.
type LegalBasis string

const (
	LegalBasisConsent             LegalBasis = "consent"
	LegalBasisContract            LegalBasis = "contract"
	LegalBasisLegalObligation     LegalBasis = "legal_obligation"
	LegalBasisVitalInterests      LegalBasis = "vital_interests"
	LegalBasisPublicTask          LegalBasis = "public_task"
	LegalBasisLegitimateInterests LegalBasis = "legitimate_interests"
)

func (b LegalBasis) IsValid() bool {
	switch b {
	case LegalBasisConsent, LegalBasisContract, LegalBasisLegalObligation,
		LegalBasisVitalInterests, LegalBasisPublicTask, LegalBasisLegitimateInterests:
		return true
	}
	return false
}

// Purpose is a versioned reason for processing that subjects consent to.
//
// Invariants:
//   - CurrentVersion starts at 1 and never decreases
//   - Description edits keep the version; LegalBasis or Scope edits bump it
//   - CreatedAt is immutable after construction
type Purpose struct {
	ID             id.PurposeID `json:"id"`
	Description    string       `json:"description"`
	CurrentVersion int          `json:"current_version"`
	Required       bool         `json:"required"`
	LegalBasis     LegalBasis   `json:"legal_basis"`
	Scope          string       `json:"scope,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewPurpose constructs a purpose at version 1.
func NewPurpose(purposeID id.PurposeID, description string, required bool, basis LegalBasis, scope string, now time.Time) (*Purpose, error) {
	if !purposeID.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "purpose id must be a lowercase slug")
	}
	if len(description) > MaxDescriptionLength {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "description must be 1000 characters or less")
	}
	if basis == "" {
		basis = LegalBasisConsent
	}
	if !basis.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown legal basis")
	}
	return &Purpose{
		ID:             purposeID,
		Description:    description,
		CurrentVersion: 1,
		Required:       required,
		LegalBasis:     basis,
		Scope:          scope,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ApplyBump increments the version and returns the change to log.
func (p *Purpose) ApplyBump(reason string, actor id.ActorID, now time.Time) VersionChange {
	change := VersionChange{
		PurposeID:   p.ID,
		FromVersion: p.CurrentVersion,
		ToVersion:   p.CurrentVersion + 1,
		Reason:      reason,
		ActorID:     actor,
		ChangedAt:   now,
	}
	p.CurrentVersion = change.ToVersion
	p.UpdatedAt = now
	return change
}

// ApplyUpdate applies the non-nil fields of u. It returns a VersionChange when
// the edit alters what subjects agreed to, nil otherwise.
func (p *Purpose) ApplyUpdate(u UpdatePurposeRequest, actor id.ActorID, now time.Time) *VersionChange {
	materialChange := false
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Required != nil {
		p.Required = *u.Required
	}
	if u.LegalBasis != nil && *u.LegalBasis != p.LegalBasis {
		p.LegalBasis = *u.LegalBasis
		materialChange = true
	}
	if u.Scope != nil && *u.Scope != p.Scope {
		p.Scope = *u.Scope
		materialChange = true
	}
	p.UpdatedAt = now
	if !materialChange {
		return nil
	}
	reason := u.Reason
	if reason == "" {
		reason = "legal basis or scope changed"
	}
	change := p.ApplyBump(reason, actor, now)
	return &change
}

// VersionChange records one bump of a purpose version. The ledger uses these to
// explain why a subject's consent went stale.
type VersionChange struct {
	PurposeID   id.PurposeID `json:"purpose_id"`
	FromVersion int          `json:"from_version"`
	ToVersion   int          `json:"to_version"`
	Reason      string       `json:"reason"`
	ActorID     id.ActorID   `json:"actor_id,omitempty"`
	ChangedAt   time.Time    `json:"changed_at"`
}
