//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Package ports declares what the consent core needs from its host: who the
// caller is and whether they may perform an administrative action.
package ports

import (
	"context"

	id "consentledger/pkg/domain"
)

// Actions checked through Authorizer.
const (
	ActionAnonymize      = "subject:anonymize"
	ActionManagePurposes = "purpose:manage"
)

// IdentityProvider resolves the authenticated subject of a request.
type IdentityProvider interface {
	CurrentSubjectID(ctx context.Context) (id.SubjectID, error)
}

// Authorizer decides whether actor may perform action.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actor id.ActorID, action string) bool
}
