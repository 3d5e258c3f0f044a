package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "consentledger/pkg/platform/audit"
	txcontext "consentledger/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Each Append writes the queryable audit_events row and an audit_outbox row in
// the caller's transaction; the outbox worker publishes outbox rows to Kafka.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id              UUID PRIMARY KEY,
	category        TEXT        NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL,
	subject_hash    TEXT        NOT NULL DEFAULT '',
	action          TEXT        NOT NULL,
	purpose         TEXT        NOT NULL DEFAULT '',
	purpose_version INTEGER     NOT NULL DEFAULT 0,
	decision        TEXT        NOT NULL DEFAULT '',
	reason          TEXT        NOT NULL DEFAULT '',
	request_id      TEXT        NOT NULL DEFAULT '',
	actor_id        TEXT        NOT NULL DEFAULT '',
	token           TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject_hash, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events (timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	event_type     TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	published_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_audit_outbox_unpublished ON audit_outbox (created_at) WHERE published_at IS NULL;
`

// InitializeSchema creates the audit tables. Safe to call on every start.
func (s *Store) InitializeSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize audit schema: %w", err)
	}
	return nil
}

// OutboxPayload is the JSON structure published to Kafka.
type OutboxPayload struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Timestamp      string `json:"timestamp"`
	SubjectHash    string `json:"subject_hash,omitempty"`
	Action         string `json:"action"`
	Purpose        string `json:"purpose,omitempty"`
	PurposeVersion int    `json:"purpose_version,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Reason         string `json:"reason,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	ActorID        string `json:"actor_id,omitempty"`
	Token          string `json:"token,omitempty"`
}

// Append writes an audit event and its outbox entry.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()
	// Always derive category from action - eventCategories map is the source of truth
	category := audit.AuditEvent(event.Action).Category()

	payload := OutboxPayload{
		ID:             eventID.String(),
		Category:       string(category),
		Timestamp:      event.Timestamp.UTC().Format(time.RFC3339Nano),
		SubjectHash:    event.SubjectHash,
		Action:         event.Action,
		Purpose:        event.Purpose,
		PurposeVersion: event.PurposeVersion,
		Decision:       event.Decision,
		Reason:         event.Reason,
		RequestID:      event.RequestID,
		ActorID:        event.ActorID,
		Token:          event.Token,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "audit"
	aggregateID := eventID.String()
	if event.SubjectHash != "" {
		aggregateType = "subject"
		aggregateID = event.SubjectHash
	} else if event.Purpose != "" {
		aggregateType = "purpose"
		aggregateID = event.Purpose
	}

	exec := txcontext.Executor(ctx, s.db)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, subject_hash, action,
			purpose, purpose_version, decision, reason,
			request_id, actor_id, token
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		eventID,
		string(category),
		event.Timestamp,
		event.SubjectHash,
		event.Action,
		event.Purpose,
		event.PurposeVersion,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ActorID,
		event.Token,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		uuid.New(),
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

const selectEvents = `
	SELECT category, timestamp, subject_hash, action,
		   purpose, purpose_version, decision, reason,
		   request_id, actor_id, token
	FROM audit_events
`

// ListBySubject returns events for one subject hash, oldest first.
func (s *Store) ListBySubject(ctx context.Context, subjectHash string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`WHERE subject_hash = $1 ORDER BY timestamp ASC`, subjectHash)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+`ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&event.SubjectHash,
			&event.Action,
			&event.Purpose,
			&event.PurposeVersion,
			&event.Decision,
			&event.Reason,
			&event.RequestID,
			&event.ActorID,
			&event.Token,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// ClaimUnpublished runs fn over up to limit unpublished entries, locking them with
// FOR UPDATE SKIP LOCKED so concurrent workers never publish the same row. Entries
// whose IDs fn returns are marked published in the same transaction.
func (s *Store) ClaimUnpublished(ctx context.Context, limit int, fn func(ctx context.Context, entries []OutboxEntry) ([]uuid.UUID, error)) (int, error) {
	published := 0
	var publishErr error
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, aggregate_id, event_type, payload, created_at
			FROM audit_outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("select outbox entries: %w", err)
		}
		var entries []OutboxEntry
		for rows.Next() {
			var e OutboxEntry
			if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox entry: %w", err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}

		ids, ferr := fn(ctx, entries)
		publishErr = ferr
		for _, entryID := range ids {
			if _, uerr := tx.ExecContext(ctx, `UPDATE audit_outbox SET published_at = $2 WHERE id = $1`, entryID, time.Now()); uerr != nil {
				return fmt.Errorf("mark outbox entry published: %w", uerr)
			}
			published++
		}
		// Partial progress is committed; the failed tail stays unpublished.
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, publishErr
}
