// Package service hosts the consent ledger: the only write path for consent
// decisions and the projections that gate a subject.
package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"consentledger/internal/consent/metrics"
	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	audit "consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
	"consentledger/pkg/requestcontext"
)

var tracer = otel.Tracer("consentledger/ledger")

type EventStore interface {
	Append(ctx context.Context, e *models.Event) (id.EventID, error)
	QueryLatest(ctx context.Context, subject id.SubjectID, purpose id.PurposeID) (*models.Event, error)
	QueryLatestForPurposes(ctx context.Context, subject id.SubjectID, purposes []id.PurposeID) (map[id.PurposeID]*models.Event, error)
	QueryHistory(ctx context.Context, subject id.SubjectID) ([]*models.Event, error)
}

// PurposeRegistry is the read side of the registry. Errors are already coded.
type PurposeRegistry interface {
	Get(ctx context.Context, purposeID id.PurposeID) (*models.Purpose, error)
	List(ctx context.Context) ([]*models.Purpose, error)
	VersionHistory(ctx context.Context, purposeID id.PurposeID) ([]models.VersionChange, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Hasher derives keyed digests. *pseudonym.Hasher satisfies it.
type Hasher interface {
	Sum(parts ...string) string
}

// Ledger records consent decisions and answers state queries.
type Ledger struct {
	events         EventStore
	purposes       PurposeRegistry
	hasher         Hasher
	tx             tx.Runner
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	gateEnabled    bool
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(l *Ledger) {
		l.auditPublisher = publisher
	}
}

func WithTx(runner tx.Runner) Option {
	return func(l *Ledger) {
		l.tx = runner
	}
}

// WithGate turns the gating check on or off. Disabled, IsBlocking is always false.
func WithGate(enabled bool) Option {
	return func(l *Ledger) {
		l.gateEnabled = enabled
	}
}

func New(events EventStore, purposes PurposeRegistry, hasher Hasher, opts ...Option) *Ledger {
	l := &Ledger{
		events:      events,
		purposes:    purposes,
		hasher:      hasher,
		gateEnabled: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.tx == nil {
		l.tx = tx.NewShardedRunner(tx.DefaultTimeout)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Submit records a grant or revocation under the purpose's current version.
func (l *Ledger) Submit(ctx context.Context, req models.SubmitRequest) (_ *models.Event, err error) {
	ctx, span := tracer.Start(ctx, "Ledger.Submit", trace.WithAttributes(
		attribute.String("purpose", req.PurposeID.String()),
		attribute.Bool("granted", req.Granted),
	))
	start := time.Now()
	defer func() {
		l.metrics.ObserveSubmit(start)
		if err != nil {
			l.metrics.IncSubmitRejection(string(dErrors.CodeOf(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	subject, err := parseSubject(req.SubjectID)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(subject.String(), models.AnonymizedPrefix) {
		return nil, dErrors.New(dErrors.CodeValidation, "subject id uses a reserved prefix")
	}
	if !req.PurposeID.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid purpose")
	}

	purpose, err := l.purposes.Get(ctx, req.PurposeID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown purpose")
		}
		return nil, err
	}

	at := req.Now
	if at.IsZero() {
		at = requestcontext.Now(ctx)
	}
	sourceContext := req.SourceContext
	if sourceContext == "" {
		sourceContext = l.sourceContext(ctx)
	}
	event := &models.Event{
		SubjectID:      subject,
		PurposeID:      purpose.ID,
		PurposeVersion: purpose.CurrentVersion,
		Granted:        req.Granted,
		// Stored at microsecond precision so memory and postgres order alike.
		Timestamp:     at.UTC().Truncate(time.Microsecond),
		SourceContext: sourceContext,
	}

	action := audit.EventConsentRevoked
	if req.Granted {
		action = audit.EventConsentGranted
	}
	shardCtx := tx.WithShardKey(ctx, subject.String()+"\x1f"+purpose.ID.String())
	err = l.tx.RunInTx(shardCtx, func(ctx context.Context) error {
		eventID, err := l.events.Append(ctx, event)
		if err != nil {
			return err
		}
		event.ID = eventID
		return l.emit(ctx, audit.ComplianceEvent{
			Timestamp:      event.Timestamp,
			SubjectHash:    l.subjectHash(subject),
			Action:         action,
			Purpose:        purpose.ID.String(),
			PurposeVersion: purpose.CurrentVersion,
			Decision:       decision(req.Granted),
		})
	})
	if err != nil {
		return nil, l.wrapStoreErr(ctx, err, "record consent")
	}

	l.metrics.IncSubmission(purpose.ID.String(), req.Granted)
	l.logger.InfoContext(ctx, string(action),
		"purpose", purpose.ID,
		"purpose_version", purpose.CurrentVersion,
		"event_id", event.ID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return event, nil
}

// CurrentState projects the latest decision for subject and purpose.
func (l *Ledger) CurrentState(ctx context.Context, subject id.SubjectID, purposeID id.PurposeID) (*models.State, error) {
	ctx, span := tracer.Start(ctx, "Ledger.CurrentState")
	defer span.End()

	subject, err := parseSubject(subject)
	if err != nil {
		return nil, err
	}
	purpose, err := l.purposes.Get(ctx, purposeID)
	if err != nil {
		return nil, err
	}
	latest, err := l.events.QueryLatest(ctx, subject, purpose.ID)
	if err != nil {
		return nil, l.wrapStoreErr(ctx, err, "load consent state")
	}
	state := models.ProjectState(subject, purpose.ID, latest, purpose.CurrentVersion)
	if state.Stale {
		l.metrics.IncStaleState(purpose.ID.String())
	}
	return state, nil
}

// States projects the subject's state for every registered purpose, ordered by purpose.
func (l *Ledger) States(ctx context.Context, subject id.SubjectID) ([]*models.State, error) {
	ctx, span := tracer.Start(ctx, "Ledger.States")
	defer span.End()

	subject, err := parseSubject(subject)
	if err != nil {
		return nil, err
	}
	purposes, err := l.purposes.List(ctx)
	if err != nil {
		return nil, err
	}
	return l.project(ctx, subject, purposes)
}

// RequiredPurposesOutstanding lists required purposes the subject has not
// granted at their current version, sorted.
func (l *Ledger) RequiredPurposesOutstanding(ctx context.Context, subject id.SubjectID) ([]id.PurposeID, error) {
	ctx, span := tracer.Start(ctx, "Ledger.RequiredPurposesOutstanding")
	defer span.End()

	subject, err := parseSubject(subject)
	if err != nil {
		return nil, err
	}
	purposes, err := l.purposes.List(ctx)
	if err != nil {
		return nil, err
	}
	required := slices.DeleteFunc(slices.Clone(purposes), func(p *models.Purpose) bool {
		return !p.Required
	})
	states, err := l.project(ctx, subject, required)
	if err != nil {
		return nil, err
	}
	outstanding := []id.PurposeID{}
	for _, state := range states {
		if !state.Satisfied() {
			outstanding = append(outstanding, state.PurposeID)
		}
	}
	slices.Sort(outstanding)
	return outstanding, nil
}

// Gate reports whether the subject is blocked and by which purposes.
func (l *Ledger) Gate(ctx context.Context, subject id.SubjectID) (*models.GateResult, error) {
	if !l.gateEnabled {
		if _, err := parseSubject(subject); err != nil {
			return nil, err
		}
		return &models.GateResult{Outstanding: []id.PurposeID{}}, nil
	}
	outstanding, err := l.RequiredPurposesOutstanding(ctx, subject)
	if err != nil {
		return nil, err
	}
	result := &models.GateResult{Blocking: len(outstanding) > 0, Outstanding: outstanding}
	l.metrics.IncGateCheck(result.Blocking)
	return result, nil
}

// IsBlocking reports whether a required purpose is still outstanding.
func (l *Ledger) IsBlocking(ctx context.Context, subject id.SubjectID) (bool, error) {
	result, err := l.Gate(ctx, subject)
	if err != nil {
		return false, err
	}
	return result.Blocking, nil
}

// History returns every event for the subject, oldest first.
func (l *Ledger) History(ctx context.Context, subject id.SubjectID) ([]*models.Event, error) {
	ctx, span := tracer.Start(ctx, "Ledger.History")
	defer span.End()

	subject, err := parseSubject(subject)
	if err != nil {
		return nil, err
	}
	events, err := l.events.QueryHistory(ctx, subject)
	if err != nil {
		return nil, l.wrapStoreErr(ctx, err, "load consent history")
	}
	return events, nil
}

// ExplainState returns the state plus the version changes made after the
// version the subject decided under.
func (l *Ledger) ExplainState(ctx context.Context, subject id.SubjectID, purposeID id.PurposeID) (*models.Explanation, error) {
	state, err := l.CurrentState(ctx, subject, purposeID)
	if err != nil {
		return nil, err
	}
	explanation := &models.Explanation{State: state}
	if state.Stale {
		changes, err := l.purposes.VersionHistory(ctx, purposeID)
		if err != nil {
			return nil, err
		}
		for _, change := range changes {
			if change.ToVersion > state.AtVersion {
				explanation.Changes = append(explanation.Changes, change)
			}
		}
	}
	l.logger.InfoContext(ctx, string(audit.EventConsentStateExplained),
		"purpose", purposeID,
		"stale", state.Stale,
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
	)
	return explanation, nil
}

func (l *Ledger) project(ctx context.Context, subject id.SubjectID, purposes []*models.Purpose) ([]*models.State, error) {
	ids := make([]id.PurposeID, len(purposes))
	for i, p := range purposes {
		ids[i] = p.ID
	}
	latest, err := l.events.QueryLatestForPurposes(ctx, subject, ids)
	if err != nil {
		return nil, l.wrapStoreErr(ctx, err, "load consent states")
	}
	states := make([]*models.State, 0, len(purposes))
	for _, p := range purposes {
		state := models.ProjectState(subject, p.ID, latest[p.ID], p.CurrentVersion)
		if state.Stale {
			l.metrics.IncStaleState(p.ID.String())
		}
		states = append(states, state)
	}
	return states, nil
}

func (l *Ledger) emit(ctx context.Context, event audit.ComplianceEvent) error {
	if l.auditPublisher == nil {
		return nil
	}
	event.RequestID = requestcontext.RequestID(ctx)
	return l.auditPublisher.Emit(ctx, event)
}

func (l *Ledger) subjectHash(subject id.SubjectID) string {
	return l.hasher.Sum("subject", subject.String())
}

// wrapStoreErr translates event store sentinels into domain errors.
func (l *Ledger) wrapStoreErr(ctx context.Context, err error, action string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if de.Code == dErrors.CodeTimeout {
			return dErrors.Wrap(err, dErrors.CodeTransient, "consent storage unavailable")
		}
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrOutOfOrder):
		return dErrors.New(dErrors.CodeValidation, "timestamp is earlier than the latest decision for this purpose")
	case errors.Is(err, sentinel.ErrUnknownReference):
		return dErrors.New(dErrors.CodeValidation, "unknown purpose")
	case errors.Is(err, sentinel.ErrRedacted):
		return dErrors.New(dErrors.CodeConflict, "subject has been anonymized")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "subject is being modified concurrently")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "not found")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTransient, "consent storage unavailable")
	}
	l.logger.ErrorContext(ctx, "consent ledger failure",
		"action", action,
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to "+action)
}

func parseSubject(subject id.SubjectID) (id.SubjectID, error) {
	parsed, err := id.ParseSubjectID(subject.String())
	if err != nil {
		return "", dErrors.New(dErrors.CodeValidation, err.Error())
	}
	return parsed, nil
}

func decision(granted bool) string {
	if granted {
		return "granted"
	}
	return "revoked"
}
