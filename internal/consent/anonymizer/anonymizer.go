// Package anonymizer erases a subject's identity from the ledger while keeping
// the decisions themselves. The subject's events move under a random token;
// the purpose, version and timestamp history stays intact for audit.
package anonymizer

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"consentledger/internal/consent/metrics"
	"consentledger/internal/consent/models"
	"consentledger/internal/consent/ports"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	audit "consentledger/pkg/platform/audit"
	"consentledger/pkg/platform/sentinel"
	"consentledger/pkg/platform/tx"
	"consentledger/pkg/requestcontext"
)

var tracer = otel.Tracer("consentledger/anonymizer")

const defaultLockTTL = 30 * time.Second

type Redactor interface {
	RedactSubject(ctx context.Context, subject id.SubjectID, token string) (int, error)
	FindRedaction(ctx context.Context, subject id.SubjectID) (*models.Redaction, error)
}

// Locker guards a key across instances. Acquire returns sentinel.ErrConflict
// when the key is held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type Hasher interface {
	Sum(parts ...string) string
}

// Anonymizer runs subject erasure requests.
type Anonymizer struct {
	redactor       Redactor
	authorizer     ports.Authorizer
	hasher         Hasher
	locker         Locker
	lockTTL        time.Duration
	tx             tx.Runner
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	securityLog    audit.Store

	mu       sync.Mutex
	inFlight map[string]struct{}
}

type Option func(*Anonymizer)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Anonymizer) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Anonymizer) {
		a.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(a *Anonymizer) {
		a.auditPublisher = publisher
	}
}

// WithSecurityLog records denied attempts. Writes are best effort.
func WithSecurityLog(store audit.Store) Option {
	return func(a *Anonymizer) {
		a.securityLog = store
	}
}

// WithLocker adds a cross-instance lock on top of the in-process guard.
func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(a *Anonymizer) {
		a.locker = locker
		if ttl > 0 {
			a.lockTTL = ttl
		}
	}
}

func WithTx(runner tx.Runner) Option {
	return func(a *Anonymizer) {
		a.tx = runner
	}
}

func New(redactor Redactor, authorizer ports.Authorizer, hasher Hasher, opts ...Option) *Anonymizer {
	a := &Anonymizer{
		redactor:   redactor,
		authorizer: authorizer,
		hasher:     hasher,
		lockTTL:    defaultLockTTL,
		inFlight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tx == nil {
		a.tx = tx.NewShardedRunner(tx.DefaultTimeout)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Anonymize redacts subject and returns the token its history now lives under.
// Repeating the call returns the same token without touching the ledger.
func (a *Anonymizer) Anonymize(ctx context.Context, actor id.ActorID, subject id.SubjectID) (token string, err error) {
	ctx, span := tracer.Start(ctx, "Anonymizer.Anonymize")
	start := time.Now()
	outcome := "anonymized"
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		a.metrics.IncAnonymization(outcome)
		a.metrics.ObserveAnonymization(start)
		span.End()
	}()

	if _, perr := id.ParseActorID(actor.String()); perr != nil {
		outcome = "invalid"
		return "", dErrors.New(dErrors.CodeValidation, perr.Error())
	}
	if _, perr := id.ParseSubjectID(subject.String()); perr != nil {
		outcome = "invalid"
		return "", dErrors.New(dErrors.CodeValidation, perr.Error())
	}
	// A token is already terminal; redacting it again would orphan its history.
	if strings.HasPrefix(subject.String(), models.AnonymizedPrefix) {
		outcome = "invalid"
		return "", dErrors.New(dErrors.CodeValidation, "subject is already an anonymized token")
	}

	subjectHash := a.hasher.Sum("subject", subject.String())
	if !a.authorizer.IsAuthorized(ctx, actor, ports.ActionAnonymize) {
		outcome = "denied"
		a.recordDenied(ctx, actor, subjectHash)
		return "", dErrors.New(dErrors.CodeForbidden, "actor is not allowed to anonymize subjects")
	}

	if !a.enter(subjectHash) {
		outcome = "conflict"
		return "", dErrors.New(dErrors.CodeConflict, "anonymization already in progress for subject")
	}
	defer a.leave(subjectHash)

	if a.locker != nil {
		release, lerr := a.locker.Acquire(ctx, subjectHash, a.lockTTL)
		if lerr != nil {
			if errors.Is(lerr, sentinel.ErrConflict) {
				outcome = "conflict"
				return "", dErrors.New(dErrors.CodeConflict, "anonymization already in progress for subject")
			}
			outcome = "error"
			return "", dErrors.Wrap(lerr, dErrors.CodeTransient, "anonymization lock unavailable")
		}
		defer release(context.WithoutCancel(ctx))
	}

	existing, err := a.findToken(ctx, subject)
	if err != nil {
		outcome = "error"
		return "", err
	}
	if existing != "" {
		outcome = "already_anonymized"
		return existing, nil
	}

	token = models.AnonymizedPrefix + uuid.NewString()
	var rows int
	err = a.tx.RunInTx(tx.WithShardKey(ctx, subjectHash), func(ctx context.Context) error {
		n, err := a.redactor.RedactSubject(ctx, subject, token)
		if err != nil {
			return err
		}
		rows = n
		if a.auditPublisher == nil {
			return nil
		}
		return a.auditPublisher.Emit(ctx, audit.ComplianceEvent{
			Timestamp:   requestcontext.Now(ctx),
			SubjectHash: subjectHash,
			Action:      audit.EventSubjectAnonymized,
			Reason:      strconv.Itoa(rows) + " events redacted",
			RequestID:   requestcontext.RequestID(ctx),
			ActorID:     actor.String(),
			Token:       token,
		})
	})
	if errors.Is(err, sentinel.ErrRedacted) {
		// Another instance finished between our marker read and the redaction.
		existing, ferr := a.findToken(ctx, subject)
		if ferr != nil {
			outcome = "error"
			return "", ferr
		}
		outcome = "already_anonymized"
		return existing, nil
	}
	if err != nil {
		outcome = "error"
		return "", a.wrapErr(ctx, err)
	}

	a.logger.InfoContext(ctx, string(audit.EventSubjectAnonymized),
		"subject_hash", subjectHash,
		"token", token,
		"rows", rows,
		"actor_id", actor,
		"request_id", requestcontext.RequestID(ctx),
	)
	return token, nil
}

// findToken returns the token of an existing redaction, or "" when there is none.
func (a *Anonymizer) findToken(ctx context.Context, subject id.SubjectID) (string, error) {
	marker, err := a.redactor.FindRedaction(ctx, subject)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", a.wrapErr(ctx, err)
	}
	return marker.Token, nil
}

func (a *Anonymizer) enter(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inFlight[key]; busy {
		return false
	}
	a.inFlight[key] = struct{}{}
	return true
}

func (a *Anonymizer) leave(key string) {
	a.mu.Lock()
	delete(a.inFlight, key)
	a.mu.Unlock()
}

func (a *Anonymizer) recordDenied(ctx context.Context, actor id.ActorID, subjectHash string) {
	a.logger.WarnContext(ctx, string(audit.EventAnonymizationDenied),
		"actor_id", actor,
		"subject_hash", subjectHash,
		"log_type", "audit",
		"request_id", requestcontext.RequestID(ctx),
	)
	if a.securityLog == nil {
		return
	}
	err := a.securityLog.Append(ctx, audit.Event{
		Category:    audit.EventAnonymizationDenied.Category(),
		Timestamp:   requestcontext.Now(ctx),
		SubjectHash: subjectHash,
		Action:      string(audit.EventAnonymizationDenied),
		Decision:    "denied",
		RequestID:   requestcontext.RequestID(ctx),
		ActorID:     actor.String(),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "failed to record denied anonymization",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
}

func (a *Anonymizer) wrapErr(ctx context.Context, err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		if de.Code == dErrors.CodeTimeout {
			return dErrors.Wrap(err, dErrors.CodeTransient, "consent storage unavailable")
		}
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "subject is being modified concurrently")
	case errors.Is(err, sentinel.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTransient, "consent storage unavailable")
	}
	a.logger.ErrorContext(ctx, "anonymization failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to anonymize subject")
}
