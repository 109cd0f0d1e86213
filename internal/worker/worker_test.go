package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/jobs"
	"github.com/vidora/vidora/internal/models"
	"github.com/vidora/vidora/internal/queue"
	"github.com/vidora/vidora/internal/services"
)

type fakeStore struct {
	job    *models.GenerationJob
	getErr error

	getCalls int
}

func (f *fakeStore) GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.job, nil
}

func (f *fakeStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	f.job.Status = models.JobStatusProcessing
	return nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, id uuid.UUID, outputURL string) (bool, error) {
	return true, nil
}

func (f *fakeStore) FailJobClaimingRefund(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error) {
	return true, nil
}

func (f *fakeStore) RefundCredits(ctx context.Context, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, reason string) error {
	return nil
}

type fakeArtifacts struct{}

func (f *fakeArtifacts) PersistArtifact(ctx context.Context, providerURL string, ownerID, jobID uuid.UUID, ext string) (string, error) {
	return providerURL, nil
}

type fakeChecker struct {
	status *services.Status
}

func (f *fakeChecker) CheckStatus(ctx context.Context, handle string) (*services.Status, error) {
	return f.status, nil
}

func newTestWorker(store *fakeStore, checker services.StatusChecker) *Worker {
	reconciler := jobs.New(store, &fakeArtifacts{}, jobs.Providers{
		Avatar: checker,
		Video:  checker,
		Image:  checker,
		Music:  checker,
	})
	return New(&queue.Queue{}, reconciler)
}

func newTestJob(status models.JobStatus) *models.GenerationJob {
	return &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Kind:           models.JobKindPromptVideo,
		Status:         status,
		ProviderHandle: "op-1",
		CostCredits:    16,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestDriveJobExitsOnTerminalJob(t *testing.T) {
	store := &fakeStore{job: newTestJob(models.JobStatusCompleted)}
	w := newTestWorker(store, &fakeChecker{})

	done := make(chan struct{})
	go func() {
		w.driveJob(context.Background(), &queue.Task{JobID: store.job.ID})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driveJob did not return for a terminal job")
	}
	assert.Equal(t, 1, store.getCalls, "a terminal job needs exactly one poll")
}

func TestDriveJobDropsMissingJob(t *testing.T) {
	store := &fakeStore{getErr: db.ErrNotFound}
	w := newTestWorker(store, &fakeChecker{})

	done := make(chan struct{})
	go func() {
		w.driveJob(context.Background(), &queue.Task{JobID: uuid.New()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driveJob did not drop a task for a deleted job")
	}
	assert.Equal(t, 1, store.getCalls)
}

func TestDriveJobGivesUpAfterDeadline(t *testing.T) {
	// Polls keep failing transiently and the job never turns terminal. Once
	// the timeout window has passed, the loop must give up instead of holding
	// a worker slot forever.
	store := &fakeStore{getErr: errors.New("connection refused")}
	w := newTestWorker(store, &fakeChecker{})

	start := time.Now()
	calls := 0
	w.now = func() time.Time {
		calls++
		if calls == 1 {
			return start
		}
		return start.Add(models.JobTimeout + 2*time.Minute)
	}

	done := make(chan struct{})
	go func() {
		w.driveJob(context.Background(), &queue.Task{JobID: uuid.New()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driveJob did not give up after the timeout window")
	}
	assert.Equal(t, 1, store.getCalls, "no further polls after the deadline")
}

func TestDriveJobStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{job: newTestJob(models.JobStatusPending)}
	checker := &fakeChecker{status: &services.Status{Done: false}}
	w := newTestWorker(store, checker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		w.driveJob(ctx, &queue.Task{JobID: store.job.ID})
		close(done)
	}()

	// The job is still running, so the loop reaches its wait; a cancelled
	// context must win over the poll delay.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("driveJob did not stop on context cancellation")
	}
}
