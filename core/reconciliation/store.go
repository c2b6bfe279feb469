package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/jmoiron/sqlx"
)

// Append inserts r. A second APPLIED record for the same tenant, external id
// and action violates a unique index and yields database.ErrDBDuplicatedEntry.
func Append(ctx context.Context, db sqlx.ExtContext, r Record) error {
	const q = `
	INSERT INTO reconciliation_records
		(record_id, tenant, run_id, external_id, kind, action, outcome, detail, created_at)
	VALUES
		(:record_id, :tenant, :run_id, :external_id, :kind, :action, :outcome, :detail, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, db, q, r); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("inserting record for %s: %w", r.ExternalID, database.ErrDBDuplicatedEntry)
		}
		return fmt.Errorf("inserting record for %s: %w", r.ExternalID, err)
	}

	return nil
}

func FetchApplied(ctx context.Context, db sqlx.ExtContext, t tenant.ID, externalID string, action Action) (Record, error) {
	const q = `
	SELECT *
	FROM reconciliation_records
	WHERE tenant = $1 AND external_id = $2 AND action = $3 AND outcome = $4`

	var r Record
	if err := sqlx.GetContext(ctx, db, &r, q, t, externalID, action, Applied); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, database.ErrDBNotFound
		}
		return Record{}, fmt.Errorf("selecting applied record for %s: %w", externalID, err)
	}

	return r, nil
}

func ListByExternalID(ctx context.Context, db sqlx.ExtContext, t tenant.ID, externalID string) ([]Record, error) {
	const q = `
	SELECT *
	FROM reconciliation_records
	WHERE tenant = $1 AND external_id = $2
	ORDER BY created_at`

	records := []Record{}
	if err := sqlx.SelectContext(ctx, db, &records, q, t, externalID); err != nil {
		return nil, fmt.Errorf("selecting records for %s: %w", externalID, err)
	}

	return records, nil
}

func ListByRun(ctx context.Context, db sqlx.ExtContext, runID string) ([]Record, error) {
	const q = `
	SELECT *
	FROM reconciliation_records
	WHERE run_id = $1
	ORDER BY created_at`

	records := []Record{}
	if err := sqlx.SelectContext(ctx, db, &records, q, runID); err != nil {
		return nil, fmt.Errorf("selecting records of run[%s]: %w", runID, err)
	}

	return records, nil
}
