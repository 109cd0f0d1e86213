package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/models"
	"github.com/vidora/vidora/internal/services"
)

// Store is the slice of the database the reconciler needs. *db.DB satisfies it.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	MarkJobProcessing(ctx context.Context, id uuid.UUID) error
	CompleteJob(ctx context.Context, id uuid.UUID, outputURL string) (bool, error)
	FailJobClaimingRefund(ctx context.Context, id uuid.UUID, errorMessage string) (bool, error)
	RefundCredits(ctx context.Context, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, reason string) error
}

// ArtifactStore persists a provider artifact into durable storage.
// *storage.Storage satisfies it.
type ArtifactStore interface {
	PersistArtifact(ctx context.Context, providerURL string, ownerID, jobID uuid.UUID, ext string) (string, error)
}

// Providers maps job kinds onto their status checkers.
type Providers struct {
	Avatar services.StatusChecker // avatar_video, custom_avatar_video
	Video  services.StatusChecker // prompt_video, video_extension
	Image  services.StatusChecker
	Music  services.StatusChecker
}

func (p Providers) checkerFor(kind models.JobKind) (services.StatusChecker, error) {
	switch kind {
	case models.JobKindAvatarVideo, models.JobKindCustomAvatarVideo:
		return p.Avatar, nil
	case models.JobKindPromptVideo, models.JobKindVideoExtension:
		return p.Video, nil
	case models.JobKindImage:
		return p.Image, nil
	case models.JobKindMusic:
		return p.Music, nil
	default:
		return nil, fmt.Errorf("no provider for job kind %q", kind)
	}
}

func resourceTypeFor(kind models.JobKind) models.ResourceType {
	switch kind {
	case models.JobKindImage:
		return models.ResourceImage
	case models.JobKindMusic:
		return models.ResourceMusic
	default:
		return models.ResourceVideo
	}
}

func artifactExtFor(kind models.JobKind) string {
	switch kind {
	case models.JobKindImage:
		return "png"
	case models.JobKindMusic:
		return "mp3"
	default:
		return "mp4"
	}
}

// Reconciler drives generation jobs through their state machine:
//
//	pending → processing → {completed | failed}
//
// It is safe to invoke concurrently for the same job from both client polls
// and the background worker: terminal rows short-circuit without a provider
// call, and the failed transition claims the refund atomically so exactly one
// caller ever credits the balance back.
type Reconciler struct {
	store     Store
	artifacts ArtifactStore
	providers Providers
	now       func() time.Time
}

func New(store Store, artifacts ArtifactStore, providers Providers) *Reconciler {
	return &Reconciler{
		store:     store,
		artifacts: artifacts,
		providers: providers,
		now:       time.Now,
	}
}

// CheckStatus reconciles one job against its provider and returns the current
// row. Terminal jobs are returned as-is with no provider call. A transient
// provider poll error leaves the job untouched and is returned to the caller;
// only a provider-reported failure (or timeout/cancellation) fails the job.
func (r *Reconciler) CheckStatus(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return job, nil
	}

	if job.TimedOut(r.now()) {
		msg := fmt.Sprintf("generation timed out after %v", models.JobTimeout)
		return r.failWithRefund(ctx, job, msg)
	}

	checker, err := r.providers.checkerFor(job.Kind)
	if err != nil {
		return nil, err
	}

	status, err := checker.CheckStatus(ctx, job.ProviderHandle)
	if err != nil {
		// Transient poll failure — the job stays non-terminal and will be
		// re-checked. Failing it here would refund a job that may yet succeed.
		return nil, fmt.Errorf("provider status check failed: %w", err)
	}

	if !status.Done {
		if job.Status == models.JobStatusPending {
			if err := r.store.MarkJobProcessing(ctx, job.ID); err != nil {
				return nil, err
			}
			job.Status = models.JobStatusProcessing
		}
		return job, nil
	}

	// A done operation carrying an error is a failure, not a completion.
	if status.Err != "" {
		return r.failWithRefund(ctx, job, status.Err)
	}

	return r.complete(ctx, job, status.OutputURL)
}

// Cancel force-fails a non-terminal job and refunds its charge, identically
// to a provider-reported failure. Cancelling a terminal job is rejected.
func (r *Reconciler) Cancel(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.Terminal() {
		return nil, db.ErrJobTerminal
	}

	return r.failWithRefund(ctx, job, "cancelled by user")
}

// complete persists the artifact and marks the job completed. Persistence
// failure is a degraded mode, not a job failure: the job completes with the
// original (soon-to-expire) provider URL and a warning is logged.
func (r *Reconciler) complete(ctx context.Context, job *models.GenerationJob, providerURL string) (*models.GenerationJob, error) {
	outputURL := providerURL

	durable, err := r.artifacts.PersistArtifact(ctx, providerURL, job.UserID, job.ID, artifactExtFor(job.Kind))
	if err != nil {
		log.Printf("[Reconcile] WARNING: artifact persistence failed for job %s, falling back to provider URL: %v", job.ID, err)
	} else {
		outputURL = durable
	}

	won, err := r.store.CompleteJob(ctx, job.ID, outputURL)
	if err != nil {
		return nil, err
	}
	if !won {
		// Another poller reached a terminal state first — return its result.
		return r.store.GetJob(ctx, job.ID)
	}

	job.Status = models.JobStatusCompleted
	job.OutputURL = &outputURL
	return job, nil
}

// failWithRefund transitions the job to failed and refunds the charge exactly
// once. The terminal transition and the refund claim are a single conditional
// update — concurrent polls after a timeout all observe the same failure but
// only the claim winner issues the refund.
//
// A refund that fails to write is logged and swallowed: the debit already
// happened and the job's failure must be reported regardless.
func (r *Reconciler) failWithRefund(ctx context.Context, job *models.GenerationJob, errorMessage string) (*models.GenerationJob, error) {
	claimed, err := r.store.FailJobClaimingRefund(ctx, job.ID, errorMessage)
	if err != nil {
		return nil, err
	}

	if claimed && job.CostCredits > 0 {
		refundErr := r.store.RefundCredits(
			ctx, job.UserID, job.CostCredits,
			resourceTypeFor(job.Kind), job.ID,
			"refund: "+errorMessage,
		)
		if refundErr != nil {
			log.Printf("[Reconcile] WARNING: refund of %d credits for job %s failed: %v", job.CostCredits, job.ID, refundErr)
		}
	}

	return r.store.GetJob(ctx, job.ID)
}
