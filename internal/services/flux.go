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
// Flux Image Generation Service (Black Forest Labs API)
// Task-based async generation: POST a task, poll /v1/get_result?id= until the
// status is Ready or a terminal error. The sample URL in a Ready result
// expires after roughly ten minutes — the shortest-lived artifact URL of all
// our providers — so persistence must run promptly on completion.
// ---------------------------------------------------------------------------

const fluxBaseURL = "https://api.bfl.ai"

type FluxService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewFluxService(apiKey string) *FluxService {
	return &FluxService{
		apiKey:  apiKey,
		baseURL: fluxBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFluxServiceWithBaseURL overrides the API endpoint. Used by tests.
func NewFluxServiceWithBaseURL(apiKey, baseURL string) *FluxService {
	s := NewFluxService(apiKey)
	s.baseURL = baseURL
	return s
}

type fluxTaskRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

type fluxTaskResponse struct {
	ID string `json:"id"`
}

// fluxResult is the body of GET /v1/get_result. Status values:
// Task not found, Pending, Request Moderated, Content Moderated, Ready, Error.
type fluxResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result *struct {
		Sample string `json:"sample"`
	} `json:"result,omitempty"`
}

// StartImage submits an image generation task and returns its id as the
// operation handle.
func (s *FluxService) StartImage(ctx context.Context, prompt, aspectRatio string) (string, error) {
	if aspectRatio == "" {
		aspectRatio = "1:1"
	}

	jsonData, err := json.Marshal(fluxTaskRequest{Prompt: prompt, AspectRatio: aspectRatio})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/v1/flux-pro-1.1", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", s.apiKey)

	body, err := s.do(req)
	if err != nil {
		return "", err
	}

	var resp fluxTaskResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse task response: %w (body: %s)", err, truncateBody(body))
	}
	if resp.ID == "" {
		return "", fmt.Errorf("no task id in response: %s", truncateBody(body))
	}

	log.Printf("[Flux] Image task submitted, id=%s", resp.ID)
	return resp.ID, nil
}

// CheckStatus polls an image task by id.
func (s *FluxService) CheckStatus(ctx context.Context, handle string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/v1/get_result?id="+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-key", s.apiKey)

	body, err := s.do(req)
	if err != nil {
		return nil, err
	}

	var result fluxResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w (body: %s)", err, truncateBody(body))
	}

	switch result.Status {
	case "Ready":
		if result.Result == nil || result.Result.Sample == "" {
			return &Status{Done: true, Err: "ready task has no sample URL"}, nil
		}
		return &Status{Done: true, OutputURL: result.Result.Sample}, nil
	case "Error", "Task not found":
		return &Status{Done: true, Err: "image generation error: " + result.Status}, nil
	case "Request Moderated", "Content Moderated":
		return &Status{Done: true, Err: "image blocked by content moderation"}, nil
	default:
		// Pending
		return &Status{Done: false}, nil
	}
}

func (s *FluxService) do(req *http.Request) ([]byte, error) {
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
		return nil, fmt.Errorf("flux quota exceeded: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flux returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	return body, nil
}
