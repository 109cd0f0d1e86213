package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/vidora/vidora/internal/models"
)

const jobColumns = `
	id, user_id, kind, status, provider_handle, cost_credits,
	output_url, error_message, refund_issued, created_at, updated_at
`

func (db *DB) CreateJob(ctx context.Context, job *models.GenerationJob) error {
	query := `
		INSERT INTO generation_jobs (
			id, user_id, kind, status, provider_handle, cost_credits
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.Kind, job.Status, job.ProviderHandle, job.CostCredits,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = $1`

	job := &models.GenerationJob{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.Kind, &job.Status, &job.ProviderHandle,
		&job.CostCredits, &job.OutputURL, &job.ErrorMessage, &job.RefundIssued,
		&job.CreatedAt, &job.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// GetJobForUser loads a job owned by the given user. A job belonging to a
// different user is reported as not found, not as forbidden — resource
// existence is not leaked across owners.
func (db *DB) GetJobForUser(ctx context.Context, id, userID uuid.UUID) (*models.GenerationJob, error) {
	job, err := db.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrNotFound
	}
	return job, nil
}

func (db *DB) ListJobs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.GenerationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.GenerationJob
	for rows.Next() {
		var job models.GenerationJob
		err := rows.Scan(
			&job.ID, &job.UserID, &job.Kind, &job.Status, &job.ProviderHandle,
			&job.CostCredits, &job.OutputURL, &job.ErrorMessage, &job.RefundIssued,
			&job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (db *DB) CountJobs(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM generation_jobs WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// CountJobsThisMonth returns how many jobs the user created in the current
// calendar month. Used for plan quota enforcement.
func (db *DB) CountJobsThisMonth(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM generation_jobs
		WHERE user_id = $1 AND created_at >= date_trunc('month', NOW())
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count monthly jobs: %w", err)
	}
	return count, nil
}

// MarkJobProcessing moves a pending job to processing. Terminal jobs are
// never touched; a job already processing is left as-is.
func (db *DB) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// CompleteJob transitions a non-terminal job to completed with its output URL.
// Returns false when the job was already terminal (another poller won the
// transition) — the caller should reload and return the stored row.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, outputURL string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = 'completed', output_url = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, outputURL)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check completion: %w", err)
	}
	return rows > 0, nil
}

// FailJobClaimingRefund transitions a non-terminal job to failed and claims
// the refund in the same statement. Exactly one caller can ever win this
// transition for a given job — the affected-row count is the claim. Losers
// (concurrent polls, repeated timeout checks) get claimed=false and must not
// issue a refund.
func (db *DB) FailJobClaimingRefund(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = 'failed', error_message = $2, refund_issued = TRUE, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing') AND refund_issued = FALSE
	`, id, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check failure claim: %w", err)
	}
	return rows > 0, nil
}
