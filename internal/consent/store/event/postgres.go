package event

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"consentledger/internal/consent/models"
	"consentledger/internal/platform/postgres"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/sentinel"
	txcontext "consentledger/pkg/platform/tx"
	"consentledger/pkg/requestcontext"
)

// Postgres persists consent events in PostgreSQL.
//
// Appends take a shared transaction advisory lock on the subject and an
// exclusive one on the (subject, purpose) pair; redaction takes the subject
// lock exclusively. Appends for different pairs therefore run concurrently,
// appends for the same pair serialize, and no append interleaves with a
// redaction.
type Postgres struct {
	db     *sql.DB
	hasher Hasher
}

func NewPostgres(db *sql.DB, hasher Hasher) *Postgres {
	return &Postgres{db: db, hasher: hasher}
}

// schema depends on consent_purposes; initialize the purpose store first.
const schema = `
CREATE TABLE IF NOT EXISTS consent_events (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID        NOT NULL UNIQUE,
	subject_id      TEXT        NOT NULL,
	purpose_id      TEXT        NOT NULL REFERENCES consent_purposes (id),
	purpose_version INTEGER     NOT NULL CHECK (purpose_version >= 1),
	granted         BOOLEAN     NOT NULL,
	occurred_at     TIMESTAMPTZ NOT NULL,
	source_context  TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_consent_events_pair
	ON consent_events (subject_id, purpose_id, occurred_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_consent_events_history
	ON consent_events (subject_id, occurred_at, seq);

CREATE TABLE IF NOT EXISTS consent_redactions (
	subject_hash TEXT PRIMARY KEY,
	token        TEXT        NOT NULL UNIQUE,
	redacted_at  TIMESTAMPTZ NOT NULL,
	row_count    INTEGER     NOT NULL
);
`

// InitializeSchema creates the event tables. Safe to call on every start.
func (s *Postgres) InitializeSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize consent event schema: %w", err)
	}
	return nil
}

// subjectLockClass keeps subject locks in the two-key advisory space, apart
// from the single-key pair locks.
const subjectLockClass int32 = 0x434c4553

// lockSubject takes the subject's advisory lock until the transaction ends,
// shared for appends and exclusive for redaction.
func lockSubject(ctx context.Context, tx *sql.Tx, key string, exclusive bool) error {
	fn := "pg_advisory_xact_lock_shared"
	if exclusive {
		fn = "pg_advisory_xact_lock"
	}
	if _, err := tx.ExecContext(ctx, `SELECT `+fn+`($1, $2)`, subjectLockClass, int32(fnv64(key))); err != nil {
		return postgres.Classify(err, "lock subject")
	}
	return nil
}

func isRedacted(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var redacted bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_redactions WHERE subject_hash = $1)`, key).Scan(&redacted)
	if err != nil {
		return false, postgres.Classify(err, "check redaction")
	}
	return redacted, nil
}

// Append stores e, assigning ID (if unset) and Seq. Joins the transaction in
// ctx if there is one.
func (s *Postgres) Append(ctx context.Context, e *models.Event) (id.EventID, error) {
	if e.ID.IsNil() {
		e.ID = id.NewEventID()
	}
	key := subjectKey(s.hasher, e.SubjectID)
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockSubject(ctx, tx, key, false); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(fnv64(key+"\x1f"+string(e.PurposeID)))); err != nil {
			return postgres.Classify(err, "lock consent pair")
		}
		redacted, err := isRedacted(ctx, tx, key)
		if err != nil {
			return err
		}
		if redacted {
			return sentinel.ErrRedacted
		}

		var latest sql.NullTime
		err = tx.QueryRowContext(ctx, `
			SELECT max(occurred_at) FROM consent_events WHERE subject_id = $1 AND purpose_id = $2
		`, e.SubjectID, e.PurposeID).Scan(&latest)
		if err != nil {
			return postgres.Classify(err, "query latest consent event")
		}
		if latest.Valid && e.Timestamp.Before(latest.Time) {
			return sentinel.ErrOutOfOrder
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO consent_events (id, subject_id, purpose_id, purpose_version, granted, occurred_at, source_context)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING seq
		`, e.ID.String(), e.SubjectID, e.PurposeID, e.PurposeVersion, e.Granted, e.Timestamp, e.SourceContext).Scan(&e.Seq)
		if err != nil {
			return postgres.Classify(err, "insert consent event")
		}
		return nil
	})
	if err != nil {
		return id.EventID{}, err
	}
	return e.ID, nil
}

const selectEvent = `
	SELECT id, seq, subject_id, purpose_id, purpose_version, granted, occurred_at, source_context
	FROM consent_events
`

func (s *Postgres) QueryLatest(ctx context.Context, subject id.SubjectID, purpose id.PurposeID) (*models.Event, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, selectEvent+`
		WHERE subject_id = $1 AND purpose_id = $2
		ORDER BY occurred_at DESC, seq DESC
		LIMIT 1
	`, subject, purpose)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, postgres.Classify(err, "query latest consent event")
	}
	return e, nil
}

func (s *Postgres) QueryLatestForPurposes(ctx context.Context, subject id.SubjectID, purposes []id.PurposeID) (map[id.PurposeID]*models.Event, error) {
	out := make(map[id.PurposeID]*models.Event, len(purposes))
	if len(purposes) == 0 {
		return out, nil
	}
	ids := make([]string, len(purposes))
	for i, p := range purposes {
		ids[i] = p.String()
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT DISTINCT ON (purpose_id)
			id, seq, subject_id, purpose_id, purpose_version, granted, occurred_at, source_context
		FROM consent_events
		WHERE subject_id = $1 AND purpose_id = ANY($2)
		ORDER BY purpose_id, occurred_at DESC, seq DESC
	`, subject, pq.Array(ids))
	if err != nil {
		return nil, postgres.Classify(err, "query latest consent events")
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent event: %w", err)
		}
		out[e.PurposeID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent events: %w", err)
	}
	return out, nil
}

func (s *Postgres) QueryHistory(ctx context.Context, subject id.SubjectID) ([]*models.Event, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, selectEvent+`
		WHERE subject_id = $1
		ORDER BY occurred_at, seq
	`, subject)
	if err != nil {
		return nil, postgres.Classify(err, "query consent history")
	}
	defer rows.Close()
	out := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent events: %w", err)
	}
	return out, nil
}

// RedactSubject rewrites the subject's events to token and records the marker
// in one transaction.
func (s *Postgres) RedactSubject(ctx context.Context, subject id.SubjectID, token string) (int, error) {
	key := subjectKey(s.hasher, subject)
	var rows int
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockSubject(ctx, tx, key, true); err != nil {
			return err
		}
		redacted, err := isRedacted(ctx, tx, key)
		if err != nil {
			return err
		}
		if redacted {
			return sentinel.ErrRedacted
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE consent_events SET subject_id = $2, source_context = $2 WHERE subject_id = $1
		`, subject, token)
		if err != nil {
			return postgres.Classify(err, "redact consent events")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("redact consent events: %w", err)
		}
		rows = int(n)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO consent_redactions (subject_hash, token, redacted_at, row_count)
			VALUES ($1, $2, $3, $4)
		`, key, token, requestcontext.Now(ctx), rows)
		if err != nil {
			return postgres.Classify(err, "insert redaction marker")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func (s *Postgres) FindRedaction(ctx context.Context, subject id.SubjectID) (*models.Redaction, error) {
	key := subjectKey(s.hasher, subject)
	var r models.Redaction
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, `
		SELECT subject_hash, token, redacted_at, row_count FROM consent_redactions WHERE subject_hash = $1
	`, key).Scan(&r.SubjectHash, &r.Token, &r.RedactedAt, &r.Rows)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, postgres.Classify(err, "find redaction")
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*models.Event, error) {
	var (
		e       models.Event
		eventID string
	)
	err := row.Scan(&eventID, &e.Seq, &e.SubjectID, &e.PurposeID, &e.PurposeVersion, &e.Granted, &e.Timestamp, &e.SourceContext)
	if err != nil {
		return nil, err
	}
	parsed, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("parse event id: %w", err)
	}
	e.ID = parsed
	return &e, nil
}
