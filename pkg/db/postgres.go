package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inference-ops-service/pkg/config"
	"inference-ops-service/pkg/models"

	_ "github.com/lib/pq"
)

func NewPostgresConnection(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetPostgresConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	// Verify connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

const executionSchema = `
CREATE TABLE IF NOT EXISTS rollback_executions (
	id            TEXT PRIMARY KEY,
	plan_id       TEXT NOT NULL,
	deployment_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	progress      DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT,
	steps         JSONB NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS rollback_executions_deployment_idx ON rollback_executions (deployment_id, started_at DESC);

CREATE TABLE IF NOT EXISTS rollback_execution_logs (
	execution_id TEXT NOT NULL REFERENCES rollback_executions (id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	logged_at    TIMESTAMPTZ NOT NULL,
	level        TEXT NOT NULL,
	step_id      TEXT,
	message      TEXT NOT NULL,
	PRIMARY KEY (execution_id, seq)
);
`

// ExecutionRecorder writes finished rollback executions and their audit log.
type ExecutionRecorder struct {
	db *sql.DB
}

func NewExecutionRecorder(db *sql.DB) *ExecutionRecorder {
	return &ExecutionRecorder{db: db}
}

func (r *ExecutionRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, executionSchema); err != nil {
		return fmt.Errorf("failed to create rollback tables: %w", err)
	}
	return nil
}

// RecordExecution upserts the execution row and replaces its log entries in a
// single transaction.
func (r *ExecutionRecorder) RecordExecution(ctx context.Context, exec *models.RollbackExecution) error {
	steps, err := json.Marshal(exec.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rollback_executions (
			id, plan_id, deployment_id, status, progress, error_message, steps, started_at, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			error_message = EXCLUDED.error_message,
			steps = EXCLUDED.steps,
			ended_at = EXCLUDED.ended_at
	`,
		exec.ID,
		exec.PlanID,
		exec.DeploymentID,
		string(exec.Status),
		exec.Progress,
		nullString(exec.Error),
		steps,
		exec.StartTime,
		exec.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rollback_execution_logs WHERE execution_id = $1`, exec.ID); err != nil {
		return fmt.Errorf("failed to clear execution log: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rollback_execution_logs (execution_id, seq, logged_at, level, step_id, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}
	defer stmt.Close()

	for i, entry := range exec.Log {
		if _, err := stmt.ExecContext(ctx, exec.ID, i, entry.Timestamp, string(entry.Level), nullString(entry.StepID), entry.Message); err != nil {
			return fmt.Errorf("failed to record log entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
