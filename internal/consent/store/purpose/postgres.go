package purpose

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"consentledger/internal/consent/models"
	"consentledger/internal/platform/postgres"
	id "consentledger/pkg/domain"
	"consentledger/pkg/platform/sentinel"
	txcontext "consentledger/pkg/platform/tx"
)

// Postgres persists purposes in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS consent_purposes (
	id              TEXT PRIMARY KEY,
	description     TEXT        NOT NULL DEFAULT '',
	current_version INTEGER     NOT NULL CHECK (current_version >= 1),
	required        BOOLEAN     NOT NULL DEFAULT FALSE,
	legal_basis     TEXT        NOT NULL,
	scope           TEXT        NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS consent_purpose_versions (
	purpose_id   TEXT        NOT NULL REFERENCES consent_purposes (id),
	from_version INTEGER     NOT NULL,
	to_version   INTEGER     NOT NULL,
	reason       TEXT        NOT NULL DEFAULT '',
	actor_id     TEXT        NOT NULL DEFAULT '',
	changed_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (purpose_id, to_version)
);
`

// InitializeSchema creates the purpose tables. Safe to call on every start.
func (s *Postgres) InitializeSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize purpose schema: %w", err)
	}
	return nil
}

func (s *Postgres) Create(ctx context.Context, p *models.Purpose) error {
	_, err := txcontext.Executor(ctx, s.db).ExecContext(ctx, `
		INSERT INTO consent_purposes (id, description, current_version, required, legal_basis, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.Description, p.CurrentVersion, p.Required, p.LegalBasis, p.Scope, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return postgres.Classify(err, "insert purpose")
	}
	return nil
}

const selectPurpose = `
	SELECT id, description, current_version, required, legal_basis, scope, created_at, updated_at
	FROM consent_purposes
`

func (s *Postgres) FindByID(ctx context.Context, purposeID id.PurposeID) (*models.Purpose, error) {
	row := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, selectPurpose+`WHERE id = $1`, purposeID)
	p, err := scanPurpose(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, postgres.Classify(err, "find purpose")
	}
	return p, nil
}

func (s *Postgres) Exists(ctx context.Context, purposeID id.PurposeID) (bool, error) {
	var exists bool
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM consent_purposes WHERE id = $1)`, purposeID).Scan(&exists)
	if err != nil {
		return false, postgres.Classify(err, "check purpose")
	}
	return exists, nil
}

func (s *Postgres) List(ctx context.Context) ([]*models.Purpose, error) {
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, selectPurpose+`ORDER BY id`)
	if err != nil {
		return nil, postgres.Classify(err, "list purposes")
	}
	defer rows.Close()
	var out []*models.Purpose
	for rows.Next() {
		p, err := scanPurpose(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purpose: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purposes: %w", err)
	}
	return out, nil
}

// Execute locks the purpose row FOR UPDATE, runs fn, and persists the result
// and any returned version change in one transaction.
func (s *Postgres) Execute(ctx context.Context, purposeID id.PurposeID, fn func(p *models.Purpose) (*models.VersionChange, error)) (*models.Purpose, error) {
	var result *models.Purpose
	err := txcontext.Run(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		p, err := scanPurpose(tx.QueryRowContext(ctx, selectPurpose+`WHERE id = $1 FOR UPDATE`, purposeID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return postgres.Classify(err, "lock purpose")
		}
		change, err := fn(p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE consent_purposes
			SET description = $2, current_version = $3, required = $4, legal_basis = $5, scope = $6, updated_at = $7
			WHERE id = $1
		`, p.ID, p.Description, p.CurrentVersion, p.Required, p.LegalBasis, p.Scope, p.UpdatedAt)
		if err != nil {
			return postgres.Classify(err, "update purpose")
		}
		if change != nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO consent_purpose_versions (purpose_id, from_version, to_version, reason, actor_id, changed_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, change.PurposeID, change.FromVersion, change.ToVersion, change.Reason, change.ActorID, change.ChangedAt)
			if err != nil {
				return postgres.Classify(err, "insert purpose version")
			}
		}
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Postgres) ListVersionChanges(ctx context.Context, purposeID id.PurposeID) ([]models.VersionChange, error) {
	if ok, err := s.Exists(ctx, purposeID); err != nil {
		return nil, err
	} else if !ok {
		return nil, sentinel.ErrNotFound
	}
	rows, err := txcontext.Executor(ctx, s.db).QueryContext(ctx, `
		SELECT purpose_id, from_version, to_version, reason, actor_id, changed_at
		FROM consent_purpose_versions
		WHERE purpose_id = $1
		ORDER BY to_version
	`, purposeID)
	if err != nil {
		return nil, postgres.Classify(err, "list purpose versions")
	}
	defer rows.Close()
	var out []models.VersionChange
	for rows.Next() {
		var c models.VersionChange
		if err := rows.Scan(&c.PurposeID, &c.FromVersion, &c.ToVersion, &c.Reason, &c.ActorID, &c.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan purpose version: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purpose versions: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPurpose(row scanner) (*models.Purpose, error) {
	var p models.Purpose
	err := row.Scan(&p.ID, &p.Description, &p.CurrentVersion, &p.Required, &p.LegalBasis, &p.Scope, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
