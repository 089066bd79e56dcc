package auditrun

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const runColumns = `id, course_id, tour_id, time_created, time_modified`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.CourseID, &r.TourID, &r.TimeCreated, &r.TimeModified); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Create(ctx context.Context, courseID, tourID int64) (*Run, error) {
	now := time.Now()
	run := &Run{CourseID: courseID, TourID: tourID, TimeCreated: now, TimeModified: now}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_runs (course_id, tour_id, time_created, time_modified)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, courseID, tourID, now, now).Scan(&run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) SaveResults(ctx context.Context, runID int64, results []Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.ExecContext(ctx, `UPDATE audit_runs SET time_modified = $1 WHERE id = $2`, now, runID)
	if err != nil {
		return fmt.Errorf("failed to touch audit run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %d: %w", runID, ErrNotFound)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_results (audit_id, rule_key, rule_category, status, messages, target_type, target_id, time_created)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare result insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		messages, err := json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("failed to encode messages of %s: %w", r.RuleKey, err)
		}
		if _, err := stmt.ExecContext(ctx, runID, r.RuleKey, r.RuleCategory, r.Status, messages,
			nullString(r.TargetType), nullInt(r.TargetID), now); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.RuleKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

func (s *PostgresStore) Results(ctx context.Context, runID int64) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, rule_key, rule_category, status, messages,
			COALESCE(target_type, ''), COALESCE(target_id, 0), time_created
		FROM audit_results
		WHERE audit_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			messages []byte
		)
		if err := rows.Scan(&r.ID, &r.AuditID, &r.RuleKey, &r.RuleCategory, &r.Status, &messages,
			&r.TargetType, &r.TargetID, &r.TimeCreated); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if err := json.Unmarshal(messages, &r.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages of result %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ByTour(ctx context.Context, tourID int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM audit_runs
		WHERE tour_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, tourID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run for tour %d: %w", tourID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) ListByCourse(ctx context.Context, courseID int64) ([]*Run, error) {
	return s.list(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE course_id = $1 ORDER BY id ASC`, courseID)
}

func (s *PostgresStore) Latest(ctx context.Context, courseID int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM audit_runs
		WHERE course_id = $1
		ORDER BY time_modified DESC, id DESC
		LIMIT 1
	`, courseID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run for course %d: %w", courseID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest audit run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_results WHERE audit_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete results: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM audit_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete audit run: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Run, error) {
	return s.list(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE time_modified < $1 ORDER BY id ASC`, cutoff)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit runs: %w", err)
	}
	return runs, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
