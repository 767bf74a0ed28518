package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/querypilot/querypilot/internal/audit"
)

const defaultListLimit = 50

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping audit db: %w", err)
	}
	return nil
}

// RecordRun stores a run and its steps in one transaction.
func (r *Repository) RecordRun(ctx context.Context, run audit.Run) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_run (run_id, session_id, dataset_id, question, answer, generated_sql, state, error_kind, provider, step_count, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.RunID,
		run.SessionID,
		nullString(run.DatasetID),
		run.Question,
		run.Answer,
		nullString(run.GeneratedSQL),
		run.State,
		nullString(run.ErrorKind),
		run.Provider,
		run.StepCount,
		run.DurationMS,
		run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert agent run: %w", err)
	}

	for _, step := range run.Steps {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_step (run_id, step_index, action, thought, sql_text, status, observation, is_error, failure_kind, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			run.RunID,
			step.Index,
			step.Action,
			step.Thought,
			nullString(step.SQL),
			nullString(step.Status),
			step.Observation,
			step.IsError,
			nullString(step.FailureKind),
			step.At,
		); err != nil {
			return fmt.Errorf("insert agent step %d: %w", step.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit agent run: %w", err)
	}
	return nil
}

func (r *Repository) ListRuns(ctx context.Context, sessionID string, limit int) ([]audit.Run, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT run_id, session_id, dataset_id, question, answer, generated_sql, state, error_kind, provider, step_count, duration_ms, created_at
FROM agent_run
WHERE session_id = $1
ORDER BY created_at DESC
LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list agent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]audit.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent run rows: %w", err)
	}
	return runs, nil
}

func (r *Repository) GetRun(ctx context.Context, runID string) (audit.Run, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT run_id, session_id, dataset_id, question, answer, generated_sql, state, error_kind, provider, step_count, duration_ms, created_at
FROM agent_run
WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Run{}, audit.ErrNotFound
		}
		return audit.Run{}, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT step_index, action, thought, sql_text, status, observation, is_error, failure_kind, created_at
FROM agent_step
WHERE run_id = $1
ORDER BY step_index ASC`, runID)
	if err != nil {
		return audit.Run{}, fmt.Errorf("list agent steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			step        audit.StepRecord
			sqlText     sql.NullString
			status      sql.NullString
			failureKind sql.NullString
		)
		if err := rows.Scan(&step.Index, &step.Action, &step.Thought, &sqlText, &status, &step.Observation, &step.IsError, &failureKind, &step.At); err != nil {
			return audit.Run{}, fmt.Errorf("scan agent step row: %w", err)
		}
		step.SQL = sqlText.String
		step.Status = status.String
		step.FailureKind = failureKind.String
		run.Steps = append(run.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return audit.Run{}, fmt.Errorf("iterate agent step rows: %w", err)
	}
	return run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (audit.Run, error) {
	var (
		run          audit.Run
		datasetID    sql.NullString
		generatedSQL sql.NullString
		errorKind    sql.NullString
	)
	if err := row.Scan(
		&run.RunID,
		&run.SessionID,
		&datasetID,
		&run.Question,
		&run.Answer,
		&generatedSQL,
		&run.State,
		&errorKind,
		&run.Provider,
		&run.StepCount,
		&run.DurationMS,
		&run.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Run{}, err
		}
		return audit.Run{}, fmt.Errorf("scan agent run row: %w", err)
	}
	run.DatasetID = datasetID.String
	run.GeneratedSQL = generatedSQL.String
	run.ErrorKind = errorKind.String
	return run, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
