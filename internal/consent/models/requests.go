package models

import (
	"strings"
	"time"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

const (
	MaxDescriptionLength = 1000
	MaxScopeLength       = 500
	MaxReasonLength      = 500
)

type RegisterPurposeRequest struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Required    bool       `json:"required"`
	LegalBasis  LegalBasis `json:"legal_basis"`
	Scope       string     `json:"scope"`
}

func (r *RegisterPurposeRequest) Normalize() {
	if r == nil {
		return
	}
	r.ID = strings.ToLower(strings.TrimSpace(r.ID))
	r.Description = strings.TrimSpace(r.Description)
	r.LegalBasis = LegalBasis(strings.ToLower(strings.TrimSpace(string(r.LegalBasis))))
	r.Scope = strings.TrimSpace(r.Scope)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *RegisterPurposeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Description) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, "description must be 1000 characters or less")
	}
	if len(r.Scope) > MaxScopeLength {
		return dErrors.New(dErrors.CodeValidation, "scope must be 500 characters or less")
	}
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if _, err := id.ParsePurposeID(r.ID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "id must be a lowercase slug of at most 64 characters")
	}
	if r.LegalBasis != "" && !r.LegalBasis.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown legal basis")
	}
	return nil
}

// UpdatePurposeRequest carries a partial update; nil fields are left alone.
type UpdatePurposeRequest struct {
	Description *string     `json:"description,omitempty"`
	Required    *bool       `json:"required,omitempty"`
	LegalBasis  *LegalBasis `json:"legal_basis,omitempty"`
	Scope       *string     `json:"scope,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

func (r *UpdatePurposeRequest) Normalize() {
	if r == nil {
		return
	}
	if r.Description != nil {
		d := strings.TrimSpace(*r.Description)
		r.Description = &d
	}
	if r.LegalBasis != nil {
		b := LegalBasis(strings.ToLower(strings.TrimSpace(string(*r.LegalBasis))))
		r.LegalBasis = &b
	}
	if r.Scope != nil {
		s := strings.TrimSpace(*r.Scope)
		r.Scope = &s
	}
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *UpdatePurposeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Description != nil && len(*r.Description) > MaxDescriptionLength {
		return dErrors.New(dErrors.CodeValidation, "description must be 1000 characters or less")
	}
	if r.Scope != nil && len(*r.Scope) > MaxScopeLength {
		return dErrors.New(dErrors.CodeValidation, "scope must be 500 characters or less")
	}
	if len(r.Reason) > MaxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be 500 characters or less")
	}
	if r.Description == nil && r.Required == nil && r.LegalBasis == nil && r.Scope == nil {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be set")
	}
	if r.LegalBasis != nil && !r.LegalBasis.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown legal basis")
	}
	return nil
}

type BumpVersionRequest struct {
	Reason string `json:"reason"`
}

func (r *BumpVersionRequest) Normalize() {
	if r == nil {
		return
	}
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *BumpVersionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Reason) > MaxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be 500 characters or less")
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// SubmitRequest is a consent decision entering the ledger. A zero Now means
// the request time from context.
type SubmitRequest struct {
	SubjectID     id.SubjectID
	PurposeID     id.PurposeID
	Granted       bool
	SourceContext string
	Now           time.Time
}

// SubmitConsentRequest is the HTTP body of a consent submission.
type SubmitConsentRequest struct {
	Purpose string `json:"purpose"`
	Granted *bool  `json:"granted"`
}

func (r *SubmitConsentRequest) Normalize() {
	if r == nil {
		return
	}
	r.Purpose = strings.ToLower(strings.TrimSpace(r.Purpose))
}

func (r *SubmitConsentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Purpose == "" {
		return dErrors.New(dErrors.CodeValidation, "purpose is required")
	}
	if r.Granted == nil {
		return dErrors.New(dErrors.CodeValidation, "granted is required")
	}
	if _, err := id.ParsePurposeID(r.Purpose); err != nil {
		return dErrors.New(dErrors.CodeValidation, "purpose must be a lowercase slug")
	}
	return nil
}
