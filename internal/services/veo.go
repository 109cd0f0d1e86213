package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/vidora/vidora/internal/models"
)

// ---------------------------------------------------------------------------
// Veo Text-to-Video Service
// Uses the Google Gen AI SDK's long-running operations: start returns an
// operation name which is stored as the job's handle, and status polls
// reconstruct the operation from that name. The result download URI is
// time-limited and must be persisted before expiry.
// ---------------------------------------------------------------------------

const (
	veoModelStandard = "veo-3.1-generate-preview"
	veoModelFast     = "veo-3.1-fast-generate-preview"
)

type VeoService struct {
	client *genai.Client
	apiKey string
}

func NewVeoService(ctx context.Context, apiKey string) (*VeoService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &VeoService{client: client, apiKey: apiKey}, nil
}

func veoModelFor(model models.VideoModel) string {
	if model == models.VideoModelFast {
		return veoModelFast
	}
	return veoModelStandard
}

// StartVideo submits a text-to-video generation and returns the operation
// name as the job's provider handle. It does not wait for completion — the
// reconciler polls CheckStatus with the returned handle.
func (s *VeoService) StartVideo(ctx context.Context, prompt string, model models.VideoModel, durationSec int, aspectRatio string) (string, error) {
	if aspectRatio == "" {
		aspectRatio = "9:16"
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspectRatio,
		Resolution:       "720p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
		DurationSeconds:  genai.Ptr(int32(durationSec)),
	}

	log.Printf("[Veo] Starting video generation (model=%s, promptLen=%d, duration=%ds)", veoModelFor(model), len(prompt), durationSec)

	operation, err := s.client.Models.GenerateVideos(ctx, veoModelFor(model), prompt, nil, config)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("veo quota exceeded: %w", ErrRateLimited)
		}
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)
	return operation.Name, nil
}

// StartExtension submits a continuation of an existing video. The source
// video rides along as the generation input, so the new segment picks up
// the subject and motion where the original left off instead of generating
// an unrelated clip from the prompt alone.
func (s *VeoService) StartExtension(ctx context.Context, prompt, sourceURL string, model models.VideoModel, addSeconds int) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("extension requires a source video URL")
	}

	config := &genai.GenerateVideosConfig{
		AspectRatio:      "9:16",
		Resolution:       "720p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
		DurationSeconds:  genai.Ptr(int32(addSeconds)),
	}

	source := &genai.GenerateVideosSource{
		Prompt: prompt,
		Video:  &genai.Video{URI: sourceURL, MIMEType: "video/mp4"},
	}

	log.Printf("[Veo] Starting video extension (model=%s, promptLen=%d, addSeconds=%d)", veoModelFor(model), len(prompt), addSeconds)

	operation, err := s.client.Models.GenerateVideosFromSource(ctx, veoModelFor(model), source, config)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("veo quota exceeded: %w", ErrRateLimited)
		}
		return "", fmt.Errorf("failed to start video extension: %w", err)
	}

	log.Printf("[Veo] Operation started: %s", operation.Name)
	return operation.Name, nil
}

// CheckStatus polls a video operation by its stored name.
// An operation that reports done=true together with an error is a failure,
// not a completion, even though the operation itself finished.
func (s *VeoService) CheckStatus(ctx context.Context, handle string) (*Status, error) {
	operation := &genai.GenerateVideosOperation{Name: handle}

	operation, err := s.client.Operations.GetVideosOperation(ctx, operation, nil)
	if err != nil {
		if isQuotaError(err) {
			return nil, fmt.Errorf("veo quota exceeded: %w", ErrRateLimited)
		}
		return nil, fmt.Errorf("failed to poll operation: %w", err)
	}

	if !operation.Done {
		return &Status{Done: false}, nil
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return &Status{Done: true, Err: string(errJSON)}, nil
	}

	if operation.Response == nil || len(operation.Response.GeneratedVideos) == 0 {
		return &Status{Done: true, Err: "no videos in completed operation"}, nil
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil || video.Video.URI == "" {
		return &Status{Done: true, Err: "generated video has no download URI"}, nil
	}

	return &Status{Done: true, OutputURL: s.authenticatedURI(video.Video.URI)}, nil
}

// authenticatedURI appends the API key to a files download URI so the
// artifact can be fetched with a plain HTTP GET.
func (s *VeoService) authenticatedURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := parsed.Query()
	q.Set("key", s.apiKey)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}

func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}
