// Package registry owns purpose definitions and their version history.
//
// A purpose version is the contract a subject consented to. Bumping it makes
// every earlier decision for the purpose stale, so bumps are logged with the
// acting administrator and a reason the ledger can show back to the subject.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"consentledger/internal/consent/metrics"
	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	audit "consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
	"consentledger/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, p *models.Purpose) error
	FindByID(ctx context.Context, purposeID id.PurposeID) (*models.Purpose, error)
	List(ctx context.Context) ([]*models.Purpose, error)
	Execute(ctx context.Context, purposeID id.PurposeID, fn func(p *models.Purpose) (*models.VersionChange, error)) (*models.Purpose, error)
	ListVersionChanges(ctx context.Context, purposeID id.PurposeID) ([]models.VersionChange, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Registry manages purposes. Mutations and their compliance events share one
// transaction when the runner is SQL backed.
type Registry struct {
	store          Store
	tx             tx.Runner
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Registry) {
		r.auditPublisher = publisher
	}
}

// WithTx sets the transaction runner. Defaults to an in-process sharded runner.
func WithTx(runner tx.Runner) Option {
	return func(r *Registry) {
		r.tx = runner
	}
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.tx == nil {
		r.tx = tx.NewShardedRunner(tx.DefaultTimeout)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Register creates a purpose at version 1.
func (r *Registry) Register(ctx context.Context, req *models.RegisterPurposeRequest) (*models.Purpose, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := models.NewPurpose(id.PurposeID(req.ID), req.Description, req.Required, req.LegalBasis, req.Scope, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	actor := actorFrom(ctx)
	err = r.tx.RunInTx(tx.WithShardKey(ctx, "purpose:"+p.ID.String()), func(ctx context.Context) error {
		if err := r.store.Create(ctx, p); err != nil {
			return err
		}
		return r.emit(ctx, audit.ComplianceEvent{
			Action:         audit.EventPurposeRegistered,
			Purpose:        p.ID.String(),
			PurposeVersion: p.CurrentVersion,
			ActorID:        actor.String(),
		})
	})
	if err != nil {
		return nil, r.wrapErr(ctx, err, "register purpose")
	}

	r.logger.InfoContext(ctx, "purpose registered",
		"purpose", p.ID,
		"required", p.Required,
		"legal_basis", p.LegalBasis,
		"request_id", requestcontext.RequestID(ctx),
	)
	return p, nil
}

// BumpVersion increments the purpose version and returns the new one.
func (r *Registry) BumpVersion(ctx context.Context, purposeID id.PurposeID, reason string, actor id.ActorID) (int, error) {
	req := &models.BumpVersionRequest{Reason: reason}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return 0, err
	}

	now := requestcontext.Now(ctx)
	var updated *models.Purpose
	err := r.tx.RunInTx(tx.WithShardKey(ctx, "purpose:"+purposeID.String()), func(ctx context.Context) error {
		p, err := r.store.Execute(ctx, purposeID, func(p *models.Purpose) (*models.VersionChange, error) {
			change := p.ApplyBump(req.Reason, actor, now)
			return &change, nil
		})
		if err != nil {
			return err
		}
		updated = p
		return r.emit(ctx, audit.ComplianceEvent{
			Action:         audit.EventPurposeVersionBumped,
			Purpose:        p.ID.String(),
			PurposeVersion: p.CurrentVersion,
			Reason:         req.Reason,
			ActorID:        actor.String(),
		})
	})
	if err != nil {
		return 0, r.wrapErr(ctx, err, "bump purpose version")
	}

	r.metrics.IncVersionBump(purposeID.String())
	r.logger.InfoContext(ctx, "purpose version bumped",
		"purpose", purposeID,
		"version", updated.CurrentVersion,
		"actor_id", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated.CurrentVersion, nil
}

// Update edits a purpose. Changing the legal basis or scope bumps the version;
// description and required-flag edits do not.
func (r *Registry) Update(ctx context.Context, purposeID id.PurposeID, req *models.UpdatePurposeRequest) (*models.Purpose, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	actor := actorFrom(ctx)
	now := requestcontext.Now(ctx)
	var (
		updated *models.Purpose
		bumped  *models.VersionChange
	)
	err := r.tx.RunInTx(tx.WithShardKey(ctx, "purpose:"+purposeID.String()), func(ctx context.Context) error {
		p, err := r.store.Execute(ctx, purposeID, func(p *models.Purpose) (*models.VersionChange, error) {
			bumped = p.ApplyUpdate(*req, actor, now)
			return bumped, nil
		})
		if err != nil {
			return err
		}
		updated = p
		if err := r.emit(ctx, audit.ComplianceEvent{
			Action:         audit.EventPurposeUpdated,
			Purpose:        p.ID.String(),
			PurposeVersion: p.CurrentVersion,
			ActorID:        actor.String(),
		}); err != nil {
			return err
		}
		if bumped == nil {
			return nil
		}
		return r.emit(ctx, audit.ComplianceEvent{
			Action:         audit.EventPurposeVersionBumped,
			Purpose:        p.ID.String(),
			PurposeVersion: bumped.ToVersion,
			Reason:         bumped.Reason,
			ActorID:        actor.String(),
		})
	})
	if err != nil {
		return nil, r.wrapErr(ctx, err, "update purpose")
	}

	if bumped != nil {
		r.metrics.IncVersionBump(purposeID.String())
	}
	r.logger.InfoContext(ctx, "purpose updated",
		"purpose", purposeID,
		"version", updated.CurrentVersion,
		"bumped", bumped != nil,
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// Get returns a purpose or a not-found error.
func (r *Registry) Get(ctx context.Context, purposeID id.PurposeID) (*models.Purpose, error) {
	p, err := r.store.FindByID(ctx, purposeID)
	if err != nil {
		return nil, r.wrapErr(ctx, err, "load purpose")
	}
	return p, nil
}

// List returns all purposes ordered by ID.
func (r *Registry) List(ctx context.Context) ([]*models.Purpose, error) {
	purposes, err := r.store.List(ctx)
	if err != nil {
		return nil, r.wrapErr(ctx, err, "list purposes")
	}
	return purposes, nil
}

// VersionHistory returns the version changes of a purpose, oldest first.
func (r *Registry) VersionHistory(ctx context.Context, purposeID id.PurposeID) ([]models.VersionChange, error) {
	changes, err := r.store.ListVersionChanges(ctx, purposeID)
	if err != nil {
		return nil, r.wrapErr(ctx, err, "list purpose versions")
	}
	return changes, nil
}

func (r *Registry) emit(ctx context.Context, event audit.ComplianceEvent) error {
	if r.auditPublisher == nil {
		return nil
	}
	event.Timestamp = requestcontext.Now(ctx)
	event.RequestID = requestcontext.RequestID(ctx)
	return r.auditPublisher.Emit(ctx, event)
}

// wrapErr translates store sentinels into domain errors. Coded errors pass through.
func (r *Registry) wrapErr(ctx context.Context, err error, action string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if de.Code == dErrors.CodeTimeout {
			return dErrors.Wrap(err, dErrors.CodeTransient, "purpose storage unavailable")
		}
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "purpose not found")
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.New(dErrors.CodeConflict, "purpose already registered")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "purpose is being modified concurrently")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTransient, "purpose storage unavailable")
	}
	r.logger.ErrorContext(ctx, "purpose registry failure",
		"action", action,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
}

// actorFrom reads the acting administrator from the authenticated subject.
func actorFrom(ctx context.Context) id.ActorID {
	return id.ActorID(requestcontext.SubjectID(ctx))
}
