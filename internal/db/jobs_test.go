package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/vidora/internal/models"
)

func jobRow(job *models.GenerationJob) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "kind", "status", "provider_handle", "cost_credits",
		"output_url", "error_message", "refund_issued", "created_at", "updated_at",
	}).AddRow(
		job.ID, job.UserID, job.Kind, job.Status, job.ProviderHandle, job.CostCredits,
		job.OutputURL, job.ErrorMessage, job.RefundIssued, job.CreatedAt, job.UpdatedAt,
	)
}

func TestGetJobForUserOwnership(t *testing.T) {
	database, mock := newMockDB(t)

	owner := uuid.New()
	stranger := uuid.New()
	job := &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         owner,
		Kind:           models.JobKindImage,
		Status:         models.JobStatusPending,
		ProviderHandle: "task-123",
		CostCredits:    2,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	// Someone else's job reads as not found, never as forbidden.
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(jobRow(job))

	_, err := database.GetJobForUser(context.Background(), job.ID, stranger)
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(jobRow(job))

	got, err := database.GetJobForUser(context.Background(), job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestCompleteJobRace(t *testing.T) {
	database, mock := newMockDB(t)
	jobID := uuid.New()

	// First caller wins the transition.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs")).
		WithArgs(jobID, "https://cdn.example.com/out.mp4").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := database.CompleteJob(context.Background(), jobID, "https://cdn.example.com/out.mp4")
	require.NoError(t, err)
	assert.True(t, won)

	// A later caller finds the job already terminal and loses.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs")).
		WithArgs(jobID, "https://cdn.example.com/out.mp4").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err = database.CompleteJob(context.Background(), jobID, "https://cdn.example.com/out.mp4")
	require.NoError(t, err)
	assert.False(t, won)
}

func TestFailJobClaimingRefund(t *testing.T) {
	database, mock := newMockDB(t)
	jobID := uuid.New()

	// The affected-row count is the refund claim: exactly one caller wins.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs")).
		WithArgs(jobID, "generation timed out").
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := database.FailJobClaimingRefund(context.Background(), jobID, "generation timed out")
	require.NoError(t, err)
	assert.True(t, claimed)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs")).
		WithArgs(jobID, "generation timed out").
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err = database.FailJobClaimingRefund(context.Background(), jobID, "generation timed out")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestGetJobNotFound(t *testing.T) {
	database, mock := newMockDB(t)
	jobID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := database.GetJob(context.Background(), jobID)
	assert.ErrorIs(t, err, ErrNotFound)
}
