package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Replicate Music Generation Service
// Music tracks via Replicate predictions: POST /v1/predictions, then poll
// GET /v1/predictions/{id} until the prediction reaches a terminal state
// (succeeded, failed, canceled). Output URLs expire after a bounded window.
// ---------------------------------------------------------------------------

const (
	replicateBaseURL    = "https://api.replicate.com/v1"
	replicateMusicModel = "meta/musicgen:671ac645ce5e552cc63a54a2bbff63fcf798043055d2dac5fc9e36a837eedcfb"
)

type ReplicateService struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

func NewReplicateService(apiToken string) *ReplicateService {
	return &ReplicateService{
		apiToken: apiToken,
		baseURL:  replicateBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewReplicateServiceWithBaseURL overrides the API endpoint. Used by tests.
func NewReplicateServiceWithBaseURL(apiToken, baseURL string) *ReplicateService {
	s := NewReplicateService(apiToken)
	s.baseURL = baseURL
	return s
}

type replicatePredictionRequest struct {
	Version string                 `json:"version"`
	Input   map[string]interface{} `json:"input"`
}

// replicatePrediction is the prediction resource returned by both the create
// and the get endpoints. Output is a URL string for audio models.
type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"` // starting, processing, succeeded, failed, canceled
	Output json.RawMessage `json:"output,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

// StartMusic submits a music generation prediction and returns its id as the
// operation handle.
func (s *ReplicateService) StartMusic(ctx context.Context, prompt string, durationSec int) (string, error) {
	if durationSec <= 0 {
		durationSec = 30
	}

	reqBody := replicatePredictionRequest{
		Version: replicateMusicModel,
		Input: map[string]interface{}{
			"prompt":        prompt,
			"duration":      durationSec,
			"output_format": "mp3",
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/predictions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiToken)

	prediction, err := s.doPredictionRequest(req)
	if err != nil {
		return "", err
	}

	if prediction.ID == "" {
		return "", fmt.Errorf("no prediction id in response")
	}

	log.Printf("[Replicate] Music prediction submitted, id=%s", prediction.ID)
	return prediction.ID, nil
}

// CheckStatus polls a prediction by id until it reaches a terminal state.
func (s *ReplicateService) CheckStatus(ctx context.Context, handle string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/predictions/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiToken)

	prediction, err := s.doPredictionRequest(req)
	if err != nil {
		return nil, err
	}

	switch prediction.Status {
	case "succeeded":
		outputURL, err := parsePredictionOutput(prediction.Output)
		if err != nil {
			return &Status{Done: true, Err: err.Error()}, nil
		}
		return &Status{Done: true, OutputURL: outputURL}, nil
	case "failed", "canceled":
		msg := "prediction " + prediction.Status
		if prediction.Error != nil && *prediction.Error != "" {
			msg = *prediction.Error
		}
		return &Status{Done: true, Err: msg}, nil
	default:
		// starting, processing
		return &Status{Done: false}, nil
	}
}

func (s *ReplicateService) doPredictionRequest(req *http.Request) (*replicatePrediction, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("replicate quota exceeded: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("replicate returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var prediction replicatePrediction
	if err := json.Unmarshal(body, &prediction); err != nil {
		return nil, fmt.Errorf("failed to parse prediction: %w (body: %s)", err, truncateBody(body))
	}

	return &prediction, nil
}

// parsePredictionOutput extracts the output URL. Audio models return either a
// bare URL string or a single-element array depending on the model version.
func parsePredictionOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("prediction succeeded with no output")
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, nil
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && many[0] != "" {
		return many[0], nil
	}

	return "", fmt.Errorf("unrecognized prediction output shape: %s", truncateBody(raw))
}
