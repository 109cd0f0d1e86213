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
// HeyGen Avatar Video Service
// Talking-avatar video generation: submit a script + avatar + voice, get a
// video_id back, poll /v1/video_status.get until completed or failed.
// The returned video_url is time-limited and must be persisted before expiry.
// ---------------------------------------------------------------------------

const heygenBaseURL = "https://api.heygen.com"

type HeyGenService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewHeyGenService(apiKey string) *HeyGenService {
	return &HeyGenService{
		apiKey:  apiKey,
		baseURL: heygenBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewHeyGenServiceWithBaseURL overrides the API endpoint. Used by tests.
func NewHeyGenServiceWithBaseURL(apiKey, baseURL string) *HeyGenService {
	s := NewHeyGenService(apiKey)
	s.baseURL = baseURL
	return s
}

// Request / Response types

type heygenCharacter struct {
	Type           string `json:"type"` // "avatar" or "talking_photo"
	AvatarID       string `json:"avatar_id,omitempty"`
	TalkingPhotoID string `json:"talking_photo_id,omitempty"`
}

type heygenVoice struct {
	Type      string `json:"type"` // "text"
	InputText string `json:"input_text"`
	VoiceID   string `json:"voice_id"`
}

type heygenVideoInput struct {
	Character heygenCharacter `json:"character"`
	Voice     heygenVoice     `json:"voice"`
}

type heygenGenerateRequest struct {
	VideoInputs []heygenVideoInput `json:"video_inputs"`
	Dimension   heygenDimension    `json:"dimension"`
}

type heygenDimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type heygenGenerateResponse struct {
	Data struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
	Error *heygenError `json:"error"`
}

type heygenError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// heygenStatusResponse is the body of GET /v1/video_status.get.
// Status is one of: pending, waiting, processing, completed, failed.
type heygenStatusResponse struct {
	Data struct {
		Status   string       `json:"status"`
		VideoURL string       `json:"video_url"`
		Error    *heygenError `json:"error"`
	} `json:"data"`
}

// StartAvatarVideo submits a talking-avatar generation and returns the
// provider's video_id as the operation handle.
func (s *HeyGenService) StartAvatarVideo(ctx context.Context, script, avatarID, voiceID string) (string, error) {
	return s.startVideo(ctx, heygenCharacter{Type: "avatar", AvatarID: avatarID}, script, voiceID)
}

// StartCustomAvatarVideo submits a generation using a user-uploaded talking
// photo instead of a stock avatar.
func (s *HeyGenService) StartCustomAvatarVideo(ctx context.Context, script, talkingPhotoID, voiceID string) (string, error) {
	return s.startVideo(ctx, heygenCharacter{Type: "talking_photo", TalkingPhotoID: talkingPhotoID}, script, voiceID)
}

func (s *HeyGenService) startVideo(ctx context.Context, character heygenCharacter, script, voiceID string) (string, error) {
	reqBody := heygenGenerateRequest{
		VideoInputs: []heygenVideoInput{{
			Character: character,
			Voice:     heygenVoice{Type: "text", InputText: script, VoiceID: voiceID},
		}},
		Dimension: heygenDimension{Width: 720, Height: 1280},
	}

	body, err := s.doRequest(ctx, "POST", "/v2/video/generate", reqBody)
	if err != nil {
		return "", err
	}

	var resp heygenGenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse generate response: %w (body: %s)", err, truncateBody(body))
	}

	if resp.Error != nil {
		return "", fmt.Errorf("heygen rejected generation: %s (%s)", resp.Error.Message, resp.Error.Code)
	}
	if resp.Data.VideoID == "" {
		return "", fmt.Errorf("no video_id in generate response: %s", truncateBody(body))
	}

	log.Printf("[HeyGen] Generation submitted, video_id=%s", resp.Data.VideoID)
	return resp.Data.VideoID, nil
}

// CheckStatus polls a video generation by its video_id.
func (s *HeyGenService) CheckStatus(ctx context.Context, handle string) (*Status, error) {
	body, err := s.doRequest(ctx, "GET", "/v1/video_status.get?video_id="+handle, nil)
	if err != nil {
		return nil, err
	}

	var resp heygenStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w (body: %s)", err, truncateBody(body))
	}

	switch resp.Data.Status {
	case "completed":
		return &Status{Done: true, OutputURL: resp.Data.VideoURL}, nil
	case "failed":
		msg := "generation failed"
		if resp.Data.Error != nil && resp.Data.Error.Message != "" {
			msg = resp.Data.Error.Message
		}
		return &Status{Done: true, Err: msg}, nil
	default:
		// pending, waiting, processing
		return &Status{Done: false}, nil
	}
}

// Avatar and Voice catalog types

type Avatar struct {
	ID         string `json:"avatar_id"`
	Name       string `json:"avatar_name"`
	PreviewURL string `json:"preview_image_url"`
	Gender     string `json:"gender"`
}

type Voice struct {
	ID       string `json:"voice_id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// ListAvatars fetches the stock avatar catalog.
func (s *HeyGenService) ListAvatars(ctx context.Context) ([]Avatar, error) {
	body, err := s.doRequest(ctx, "GET", "/v2/avatars", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Avatars []Avatar `json:"avatars"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse avatars response: %w", err)
	}

	return resp.Data.Avatars, nil
}

// ListVoices fetches the voice catalog.
func (s *HeyGenService) ListVoices(ctx context.Context) ([]Voice, error) {
	body, err := s.doRequest(ctx, "GET", "/v2/voices", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Voices []Voice `json:"voices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse voices response: %w", err)
	}

	return resp.Data.Voices, nil
}

func (s *HeyGenService) doRequest(ctx context.Context, method, path string, reqBody interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Api-Key", s.apiKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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
		return nil, fmt.Errorf("heygen quota exceeded: %w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("heygen returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	return body, nil
}

func truncateBody(body []byte) string {
	const maxLen = 300
	s := string(body)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
