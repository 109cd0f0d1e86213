package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// translateConcurrency bounds the fan-out of batch translation. Upstream rate
// limits make unbounded parallelism counterproductive.
const translateConcurrency = 5

type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(apiKey),
	}
}

// NewOpenAIServiceWithConfig builds the service from a custom client config.
// Used by tests to point at a fake server.
func NewOpenAIServiceWithConfig(config openai.ClientConfig) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClientWithConfig(config),
	}
}

// GenerateScript produces a spoken-word video script for the given topic.
func (s *OpenAIService) GenerateScript(ctx context.Context, topic, tone string, targetDurationSec int) (string, error) {
	if tone == "" {
		tone = "conversational"
	}

	systemPrompt := fmt.Sprintf(
		"You write spoken-word scripts for short-form videos. Tone: %s. "+
			"Target length: about %d seconds of speech (roughly %d words). "+
			"Return only the script text, no stage directions or headings.",
		tone, targetDurationSec, targetDurationSec*2)

	return s.complete(ctx, systemPrompt, topic)
}

// Translate renders a script into one target language, preserving tone and
// approximate pacing. lang is an ISO 639-1 code.
func (s *OpenAIService) Translate(ctx context.Context, script, lang string) (string, error) {
	systemPrompt := fmt.Sprintf(
		"You translate spoken-word video scripts into the language with ISO 639-1 code %q. "+
			"Keep the tone and pacing natural for a voiceover. Return only the translated script.",
		lang)

	return s.complete(ctx, systemPrompt, script)
}

// TranslateBatch translates a script into every target language with a fixed
// concurrency window. Partial failures are tolerated: successful items land
// in the result map, failed items in the error map, and neither aborts the
// batch. Only a cancelled context stops early.
func (s *OpenAIService) TranslateBatch(ctx context.Context, script string, languages []string) (map[string]string, map[string]string) {
	var mu sync.Mutex
	translations := make(map[string]string)
	failures := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(translateConcurrency)

	for _, lang := range languages {
		lang := lang
		g.Go(func() error {
			translated, err := s.Translate(gctx, script, lang)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[OpenAI] Translation to %s failed: %v", lang, err)
				failures[lang] = err.Error()
				return nil // per-item failure, keep the batch going
			}
			translations[lang] = translated
			return nil
		})
	}

	// Errors are collected per-item; Wait only propagates context cancellation.
	_ = g.Wait()

	return translations, failures
}

func (s *OpenAIService) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		Temperature: 1.0,
	})

	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "", fmt.Errorf("openai quota exceeded: %w", ErrRateLimited)
		}
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
