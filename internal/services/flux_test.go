package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFluxStartImage(t *testing.T) {
	var gotReq fluxTaskRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/flux-pro-1.1", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"id":"task-1"}`))
	}))
	defer server.Close()

	s := NewFluxServiceWithBaseURL("test-key", server.URL)

	handle, err := s.StartImage(context.Background(), "a mountain at dawn", "")
	require.NoError(t, err)
	assert.Equal(t, "task-1", handle)
	assert.Equal(t, "a mountain at dawn", gotReq.Prompt)
	assert.Equal(t, "1:1", gotReq.AspectRatio, "empty aspect ratio defaults to square")
}

func TestFluxCheckStatus(t *testing.T) {
	cases := []struct {
		name     string
		response string
		done     bool
		url      string
		wantErr  bool
	}{
		{
			name:     "ready",
			response: `{"id":"task-1","status":"Ready","result":{"sample":"https://bfl/img.png"}}`,
			done:     true,
			url:      "https://bfl/img.png",
		},
		{
			name:     "ready without sample",
			response: `{"id":"task-1","status":"Ready"}`,
			done:     true,
			wantErr:  true,
		},
		{
			name:     "pending",
			response: `{"id":"task-1","status":"Pending"}`,
			done:     false,
		},
		{
			name:     "error",
			response: `{"id":"task-1","status":"Error"}`,
			done:     true,
			wantErr:  true,
		},
		{
			name:     "moderated",
			response: `{"id":"task-1","status":"Content Moderated"}`,
			done:     true,
			wantErr:  true,
		},
		{
			name:     "task not found",
			response: `{"id":"task-1","status":"Task not found"}`,
			done:     true,
			wantErr:  true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/v1/get_result", r.URL.Path)
				require.Equal(t, "task-1", r.URL.Query().Get("id"))
				w.Write([]byte(tc.response))
			}))
			defer server.Close()

			s := NewFluxServiceWithBaseURL("test-key", server.URL)

			status, err := s.CheckStatus(context.Background(), "task-1")
			require.NoError(t, err)
			assert.Equal(t, tc.done, status.Done)
			assert.Equal(t, tc.url, status.OutputURL)
			if tc.wantErr {
				assert.NotEmpty(t, status.Err)
			} else {
				assert.Empty(t, status.Err)
			}
		})
	}
}

func TestFluxRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewFluxServiceWithBaseURL("test-key", server.URL)

	_, err := s.StartImage(context.Background(), "prompt", "16:9")
	assert.ErrorIs(t, err, ErrRateLimited)
}
