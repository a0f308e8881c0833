// Package ledger keeps a durable record of job terminal statuses in
// PostgreSQL, alongside the TTL-bounded result store. Recording is
// best-effort: a ledger failure never fails the job.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/queue-runner/internal/worker/domain"
)

// Ledger handles all database operations for completed jobs
type Ledger struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Ledger instance
func New(db *sqlx.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
	}
}

// Record upserts the terminal status of one job. Re-delivered jobs simply
// overwrite their earlier row.
func (l *Ledger) Record(ctx context.Context, res *domain.JobResult) error {
	query := `
		INSERT INTO job_results (job_id, queue, status, output, error_message, completed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    output = EXCLUDED.output,
		    error_message = EXCLUDED.error_message,
		    completed_at = EXCLUDED.completed_at,
		    expires_at = EXCLUDED.expires_at
	`

	_, err := l.db.ExecContext(ctx, query,
		res.JobID,
		res.Queue,
		res.Status,
		res.Output,
		res.Error,
		res.CompletedAt,
		res.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record job result: %w", err)
	}

	l.logger.Debug("Job result recorded in ledger",
		slog.String("job_id", res.JobID),
		slog.String("status", res.Status),
	)

	return nil
}

// PurgeExpired deletes ledger rows past their expiry. Purge timing is
// best-effort; the supervisor calls this opportunistically after records.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM job_results
		WHERE expires_at < NOW()
	`

	result, err := l.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired results: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if purged > 0 {
		l.logger.Info("Purged expired ledger rows",
			slog.Int64("count", purged),
		)
	}

	return purged, nil
}

// GetByJobID retrieves a recorded result, expired rows included until the
// next purge runs.
func (l *Ledger) GetByJobID(ctx context.Context, jobID string) (*domain.JobResult, error) {
	query := `
		SELECT job_id, queue, status, output, error_message, completed_at, expires_at
		FROM job_results
		WHERE job_id = $1
	`

	var res domain.JobResult
	err := l.db.QueryRowContext(ctx, query, jobID).Scan(
		&res.JobID,
		&res.Queue,
		&res.Status,
		&res.Output,
		&res.Error,
		&res.CompletedAt,
		&res.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}

	return &res, nil
}
