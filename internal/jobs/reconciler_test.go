package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/models"
	"github.com/vidora/vidora/internal/services"
)

// fakeStore is an in-memory Store with the same claim semantics as the real
// conditional updates.
type fakeStore struct {
	job     *models.GenerationJob
	refunds int
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	if f.job == nil || f.job.ID != id {
		return nil, db.ErrNotFound
	}
	copied := *f.job
	return &copied, nil
}

func (f *fakeStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	if f.job.Status == models.JobStatusPending {
		f.job.Status = models.JobStatusProcessing
	}
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, id uuid.UUID, outputURL string) (bool, error) {
	if f.job.Status.Terminal() {
		return false, nil
	}
	f.job.Status = models.JobStatusCompleted
	f.job.OutputURL = &outputURL
	return true, nil
}

func (f *fakeStore) FailJobClaimingRefund(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	if f.job.Status.Terminal() || f.job.RefundIssued {
		return false, nil
	}
	f.job.Status = models.JobStatusFailed
	f.job.ErrorMessage = &errorMessage
	f.job.RefundIssued = true
	return true, nil
}

func (f *fakeStore) RefundCredits(ctx context.Context, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, reason string) error {
	f.refunds++
	return nil
}

type fakeArtifacts struct {
	url string
	err error
}

func (f *fakeArtifacts) PersistArtifact(ctx context.Context, providerURL string, ownerID, jobID uuid.UUID, ext string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type fakeChecker struct {
	status *services.Status
	err    error
	calls  int
}

func (f *fakeChecker) CheckStatus(ctx context.Context, handle string) (*services.Status, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func newTestJob(kind models.JobKind) *models.GenerationJob {
	return &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Kind:           kind,
		Status:         models.JobStatusPending,
		ProviderHandle: "handle-1",
		CostCredits:    16,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func newTestReconciler(store *fakeStore, artifacts *fakeArtifacts, checker *fakeChecker) *Reconciler {
	return New(store, artifacts, Providers{
		Avatar: checker,
		Video:  checker,
		Image:  checker,
		Music:  checker,
	})
}

func TestCheckStatusTerminalShortCircuit(t *testing.T) {
	job := newTestJob(models.JobKindPromptVideo)
	job.Status = models.JobStatusCompleted
	store := &fakeStore{job: job}
	checker := &fakeChecker{}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Zero(t, checker.calls, "terminal job must not hit the provider")
}

func TestCheckStatusMarksProcessing(t *testing.T) {
	job := newTestJob(models.JobKindPromptVideo)
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: false}}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
}

func TestCheckStatusCompletesWithDurableURL(t *testing.T) {
	job := newTestJob(models.JobKindImage)
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: true, OutputURL: "https://provider/out.png"}}
	artifacts := &fakeArtifacts{url: "https://storage/public/out.png"}

	r := newTestReconciler(store, artifacts, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.OutputURL)
	assert.Equal(t, "https://storage/public/out.png", *got.OutputURL)
}

func TestCheckStatusPersistFailureFallsBackToProviderURL(t *testing.T) {
	job := newTestJob(models.JobKindPromptVideo)
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: true, OutputURL: "https://provider/out.mp4"}}
	artifacts := &fakeArtifacts{err: errors.New("bucket unavailable")}

	r := newTestReconciler(store, artifacts, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.OutputURL)
	assert.Equal(t, "https://provider/out.mp4", *got.OutputURL, "persistence failure must not fail the job")
}

func TestCheckStatusProviderFailureRefundsOnce(t *testing.T) {
	job := newTestJob(models.JobKindMusic)
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: true, Err: "generation failed upstream"}}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "generation failed upstream", *got.ErrorMessage)
	assert.Equal(t, 1, store.refunds)

	// A second poll sees the terminal row and never refunds again.
	got, err = r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, store.refunds)
}

func TestCheckStatusTimeoutRefundsOnce(t *testing.T) {
	job := newTestJob(models.JobKindPromptVideo)
	job.CreatedAt = time.Now().Add(-models.JobTimeout - time.Minute)
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: false}}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	// Repeated polls of a timed-out job all see the failure but refund once.
	for i := 0; i < 3; i++ {
		got, err := r.CheckStatus(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
	}
	assert.Equal(t, 1, store.refunds)
	assert.Zero(t, checker.calls, "timed-out job must not hit the provider")
}

func TestCheckStatusTransientPollErrorLeavesJobAlone(t *testing.T) {
	job := newTestJob(models.JobKindAvatarVideo)
	store := &fakeStore{job: job}
	checker := &fakeChecker{err: errors.New("connection reset")}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	_, err := r.CheckStatus(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, models.JobStatusPending, store.job.Status, "transient poll error must not fail the job")
	assert.Zero(t, store.refunds)
}

func TestCancel(t *testing.T) {
	job := newTestJob(models.JobKindImage)
	store := &fakeStore{job: job}

	r := newTestReconciler(store, &fakeArtifacts{}, &fakeChecker{})

	got, err := r.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 1, store.refunds)

	// Cancelling a finished job is rejected.
	_, err = r.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, db.ErrJobTerminal)
	assert.Equal(t, 1, store.refunds)
}

func TestCheckStatusZeroCostFailureSkipsRefund(t *testing.T) {
	job := newTestJob(models.JobKindImage)
	job.CostCredits = 0
	store := &fakeStore{job: job}
	checker := &fakeChecker{status: &services.Status{Done: true, Err: "moderated"}}

	r := newTestReconciler(store, &fakeArtifacts{}, checker)

	got, err := r.CheckStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Zero(t, store.refunds)
}
