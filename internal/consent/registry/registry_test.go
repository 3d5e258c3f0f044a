package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"consentledger/internal/consent/models"
	purposestore "consentledger/internal/consent/store/purpose"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	audit "consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/audit/publishers/compliance"
	auditmemory "consentledger/pkg/platform/audit/store/memory"
	"consentledger/pkg/requestcontext"
)

type RegistrySuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	store    *purposestore.InMemory
	auditLog *auditmemory.InMemoryStore
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithSubjectID(s.ctx, "admin-1")
	s.store = purposestore.NewInMemory()
	s.auditLog = auditmemory.NewInMemoryStore()
	s.registry = New(s.store, WithAuditPublisher(compliance.New(s.auditLog)))
}

func (s *RegistrySuite) register(pid string, required bool) *models.Purpose {
	p, err := s.registry.Register(s.ctx, &models.RegisterPurposeRequest{
		ID:          pid,
		Description: "Purpose " + pid,
		Required:    required,
	})
	s.Require().NoError(err)
	return p
}

func (s *RegistrySuite) actions() []string {
	events, err := s.auditLog.ListRecent(s.ctx, 0)
	s.Require().NoError(err)
	var out []string
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func (s *RegistrySuite) TestRegister() {
	s.Run("starts at version 1 with consent basis", func() {
		p := s.register("analytics", false)
		s.Equal(1, p.CurrentVersion)
		s.Equal(models.LegalBasisConsent, p.LegalBasis)
		s.Equal(s.now, p.CreatedAt)
		s.Contains(s.actions(), string(audit.EventPurposeRegistered))
	})

	s.Run("normalizes the id", func() {
		p, err := s.registry.Register(s.ctx, &models.RegisterPurposeRequest{ID: "  Marketing_Email "})
		s.Require().NoError(err)
		s.Equal(id.PurposeID("marketing_email"), p.ID)
	})

	s.Run("duplicate is a conflict", func() {
		_, err := s.registry.Register(s.ctx, &models.RegisterPurposeRequest{ID: "analytics"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("invalid id is a validation error", func() {
		_, err := s.registry.Register(s.ctx, &models.RegisterPurposeRequest{ID: "9lives"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RegistrySuite) TestBumpVersion() {
	s.register("terms", true)

	version, err := s.registry.BumpVersion(s.ctx, "terms", "new retention period", "admin-1")
	s.Require().NoError(err)
	s.Equal(2, version)

	version, err = s.registry.BumpVersion(s.ctx, "terms", "processor added", "admin-2")
	s.Require().NoError(err)
	s.Equal(3, version)

	changes, err := s.registry.VersionHistory(s.ctx, "terms")
	s.Require().NoError(err)
	s.Require().Len(changes, 2)
	s.Equal(1, changes[0].FromVersion)
	s.Equal(2, changes[0].ToVersion)
	s.Equal("new retention period", changes[0].Reason)
	s.Equal(id.ActorID("admin-2"), changes[1].ActorID)
	s.Equal(s.now, changes[1].ChangedAt)

	s.Run("unknown purpose", func() {
		_, err := s.registry.BumpVersion(s.ctx, "missing", "reason", "admin-1")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reason is required", func() {
		_, err := s.registry.BumpVersion(s.ctx, "terms", "  ", "admin-1")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RegistrySuite) TestUpdate() {
	s.register("profiling", false)

	s.Run("description edit keeps the version", func() {
		desc := "Profile building for recommendations"
		p, err := s.registry.Update(s.ctx, "profiling", &models.UpdatePurposeRequest{Description: &desc})
		s.Require().NoError(err)
		s.Equal(1, p.CurrentVersion)
		s.Equal(desc, p.Description)
	})

	s.Run("scope edit bumps the version", func() {
		scope := "recommendations, ads"
		p, err := s.registry.Update(s.ctx, "profiling", &models.UpdatePurposeRequest{Scope: &scope, Reason: "ads added"})
		s.Require().NoError(err)
		s.Equal(2, p.CurrentVersion)

		changes, err := s.registry.VersionHistory(s.ctx, "profiling")
		s.Require().NoError(err)
		s.Require().Len(changes, 1)
		s.Equal("ads added", changes[0].Reason)
		s.Equal(id.ActorID("admin-1"), changes[0].ActorID)
		s.Contains(s.actions(), string(audit.EventPurposeVersionBumped))
	})

	s.Run("empty update is rejected", func() {
		_, err := s.registry.Update(s.ctx, "profiling", &models.UpdatePurposeRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *RegistrySuite) TestGetAndList() {
	s.register("zeta", false)
	s.register("alpha", true)

	p, err := s.registry.Get(s.ctx, "alpha")
	s.Require().NoError(err)
	s.True(p.Required)

	_, err = s.registry.Get(s.ctx, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	all, err := s.registry.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(id.PurposeID("alpha"), all[0].ID)
	s.Equal(id.PurposeID("zeta"), all[1].ID)
}

type failingAudit struct{}

func (failingAudit) Emit(context.Context, audit.ComplianceEvent) error {
	return errors.New("outbox down")
}

func (s *RegistrySuite) TestAuditFailureFailsRegistration() {
	r := New(purposestore.NewInMemory(), WithAuditPublisher(failingAudit{}))
	_, err := r.Register(s.ctx, &models.RegisterPurposeRequest{ID: "analytics"})
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *RegistrySuite) TestAuditFailureRollsBackRegistration() {
	store := purposestore.NewInMemory()
	r := New(store, WithAuditPublisher(failingAudit{}))
	_, err := r.Register(s.ctx, &models.RegisterPurposeRequest{ID: "analytics"})
	s.Require().Error(err)

	ok, err := store.Exists(s.ctx, "analytics")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RegistrySuite) TestAuditFailureRollsBackVersionChanges() {
	s.register("terms", true)
	s.register("profiling", false)
	failing := New(s.store, WithAuditPublisher(failingAudit{}))

	s.Run("bump", func() {
		_, err := failing.BumpVersion(s.ctx, "terms", "new retention period", "admin-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		p, err := s.registry.Get(s.ctx, "terms")
		s.Require().NoError(err)
		s.Equal(1, p.CurrentVersion)
		changes, err := s.registry.VersionHistory(s.ctx, "terms")
		s.Require().NoError(err)
		s.Empty(changes)
	})

	s.Run("update", func() {
		scope := "recommendations, ads"
		_, err := failing.Update(s.ctx, "profiling", &models.UpdatePurposeRequest{Scope: &scope, Reason: "ads added"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))

		p, err := s.registry.Get(s.ctx, "profiling")
		s.Require().NoError(err)
		s.Equal(1, p.CurrentVersion)
		s.NotEqual(scope, p.Scope)
		changes, err := s.registry.VersionHistory(s.ctx, "profiling")
		s.Require().NoError(err)
		s.Empty(changes)
	})

	s.Run("later bump succeeds from the original version", func() {
		version, err := s.registry.BumpVersion(s.ctx, "terms", "processor added", "admin-1")
		s.Require().NoError(err)
		s.Equal(2, version)
	})
}
