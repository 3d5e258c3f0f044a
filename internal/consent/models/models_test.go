package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProjectState(t *testing.T) {
	t.Run("no event is default-deny at version 0", func(t *testing.T) {
		state := ProjectState("s1", "marketing", nil, 3)
		assert.False(t, state.Granted)
		assert.Zero(t, state.AtVersion)
		assert.False(t, state.Stale)
		assert.Nil(t, state.DecidedAt)
		assert.Equal(t, 3, state.CurrentVersion)
	})

	t.Run("grant at current version", func(t *testing.T) {
		state := ProjectState("s1", "marketing", &Event{PurposeVersion: 2, Granted: true, Timestamp: t0}, 2)
		assert.True(t, state.Granted)
		assert.False(t, state.Stale)
		assert.True(t, state.Satisfied())
		require.NotNil(t, state.DecidedAt)
		assert.Equal(t, t0, *state.DecidedAt)
	})

	t.Run("grant under an older version is stale and not granted", func(t *testing.T) {
		state := ProjectState("s1", "marketing", &Event{PurposeVersion: 1, Granted: true, Timestamp: t0}, 2)
		assert.False(t, state.Granted)
		assert.True(t, state.Stale)
		assert.Equal(t, 1, state.AtVersion)
		assert.False(t, state.Satisfied())
	})

	t.Run("revocation stays revoked", func(t *testing.T) {
		state := ProjectState("s1", "marketing", &Event{PurposeVersion: 1, Granted: false, Timestamp: t0}, 1)
		assert.False(t, state.Granted)
		assert.False(t, state.Stale)
	})
}

func TestEventSupersedes(t *testing.T) {
	earlier := &Event{Timestamp: t0, Seq: 10}
	later := &Event{Timestamp: t0.Add(time.Second), Seq: 1}
	tieLow := &Event{Timestamp: t0, Seq: 11}

	assert.True(t, later.Supersedes(earlier), "timestamp wins over sequence")
	assert.False(t, earlier.Supersedes(later))
	assert.True(t, tieLow.Supersedes(earlier), "equal timestamps fall back to sequence")
	assert.False(t, earlier.Supersedes(tieLow))
	assert.True(t, earlier.Supersedes(nil))
}

func TestNewPurpose(t *testing.T) {
	t.Run("starts at version 1 with consent basis", func(t *testing.T) {
		p, err := NewPurpose("marketing", "Marketing email", true, "", "", t0)
		require.NoError(t, err)
		assert.Equal(t, 1, p.CurrentVersion)
		assert.Equal(t, LegalBasisConsent, p.LegalBasis)
	})

	t.Run("rejects invalid slug", func(t *testing.T) {
		_, err := NewPurpose("Marketing", "", false, "", "", t0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects unknown legal basis", func(t *testing.T) {
		_, err := NewPurpose("marketing", "", false, "because", "", t0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestPurposeApplyUpdate(t *testing.T) {
	newPurpose := func() *Purpose {
		p, err := NewPurpose("analytics", "Analytics cookies", false, LegalBasisConsent, "web", t0)
		require.NoError(t, err)
		return p
	}
	actor := id.ActorID("admin-1")

	t.Run("description-only edit keeps the version", func(t *testing.T) {
		p := newPurpose()
		desc := "Product analytics"
		change := p.ApplyUpdate(UpdatePurposeRequest{Description: &desc}, actor, t0.Add(time.Hour))
		assert.Nil(t, change)
		assert.Equal(t, 1, p.CurrentVersion)
		assert.Equal(t, desc, p.Description)
	})

	t.Run("scope change bumps and records the change", func(t *testing.T) {
		p := newPurpose()
		scope := "web,mobile"
		change := p.ApplyUpdate(UpdatePurposeRequest{Scope: &scope}, actor, t0.Add(time.Hour))
		require.NotNil(t, change)
		assert.Equal(t, 2, p.CurrentVersion)
		assert.Equal(t, 1, change.FromVersion)
		assert.Equal(t, 2, change.ToVersion)
		assert.Equal(t, actor, change.ActorID)
		assert.Equal(t, "legal basis or scope changed", change.Reason)
	})

	t.Run("setting the same legal basis is not a change", func(t *testing.T) {
		p := newPurpose()
		basis := LegalBasisConsent
		assert.Nil(t, p.ApplyUpdate(UpdatePurposeRequest{LegalBasis: &basis}, actor, t0))
		assert.Equal(t, 1, p.CurrentVersion)
	})
}

func TestRequestValidation(t *testing.T) {
	t.Run("register normalizes before validating", func(t *testing.T) {
		req := &RegisterPurposeRequest{ID: "  Marketing ", LegalBasis: " CONSENT "}
		req.Normalize()
		require.NoError(t, req.Validate())
		assert.Equal(t, "marketing", req.ID)
		assert.Equal(t, LegalBasisConsent, req.LegalBasis)
	})

	t.Run("update requires a field", func(t *testing.T) {
		req := &UpdatePurposeRequest{Reason: "nothing"}
		assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
	})

	t.Run("bump requires a reason", func(t *testing.T) {
		req := &BumpVersionRequest{Reason: "   "}
		req.Normalize()
		assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
	})

	t.Run("submit requires granted", func(t *testing.T) {
		req := &SubmitConsentRequest{Purpose: "marketing"}
		assert.True(t, dErrors.HasCode(req.Validate(), dErrors.CodeValidation))
	})
}
