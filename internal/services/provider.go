package services

import (
	"context"
	"errors"

	"github.com/vidora/vidora/internal/models"
)

// ErrRateLimited marks upstream quota errors (HTTP 429 and equivalents).
// The API layer translates it to a 429 with a friendlier message instead of
// a generic 500.
var ErrRateLimited = errors.New("provider rate limited")

// Status is a provider-neutral snapshot of a long-running generation
// operation. Providers report three shapes: still running (Done=false),
// finished with output (Done + OutputURL), or finished with an error
// (Done + Err). Done with Err set means failed even though the provider's
// operation itself completed.
type Status struct {
	Done      bool
	OutputURL string // ephemeral provider URL, set on success
	Err       string // provider-reported error message, set on failure
}

// StatusChecker polls one provider's operation by its opaque handle.
// Implemented by each generation provider; the reconciler picks the checker
// from the job's kind.
type StatusChecker interface {
	CheckStatus(ctx context.Context, handle string) (*Status, error)
}

// VideoGenerator starts prompt-driven video work: fresh generations and
// extensions of an existing video. Implemented by VeoService; the API layer
// depends on this interface so handlers can be tested without a live client.
type VideoGenerator interface {
	StartVideo(ctx context.Context, prompt string, model models.VideoModel, durationSec int, aspectRatio string) (string, error)
	StartExtension(ctx context.Context, prompt, sourceURL string, model models.VideoModel, addSeconds int) (string, error)
}
