package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/kerf/internal/ai"
	"github.com/DukeRupert/kerf/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		ProviderConfig: ai.ProviderConfig{
			MaxRetries:     3,
			RetryBaseDelay: time.Millisecond,
			RequestTimeout: 5 * time.Second,
		},
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

const completionJSON = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "<svg></svg>"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}, testLogger()); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestGenerate_Success(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		User     string `json:"user"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	res, err := p.Generate(context.Background(), ai.GenerateParams{
		UserID:  "user-1",
		Feature: domain.FeatureAIGeneration,
		Prompt:  "a 50mm coaster with a leaf",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if res.Output != "<svg></svg>" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Usage.InputTokens != 42 || res.Usage.OutputTokens != 7 {
		t.Errorf("Usage = %+v", res.Usage)
	}
	if got.Model != DefaultModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultModel)
	}
	if got.User != "user-1" {
		t.Errorf("user = %q", got.User)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "a 50mm coaster with a leaf" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Messages[0].Content != systemPrompts[domain.FeatureAIGeneration] {
		t.Error("system prompt does not match the feature prompt")
	}
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
			return
		}
		_, _ = io.WriteString(w, completionJSON)
	})

	if _, err := p.Generate(context.Background(), ai.GenerateParams{Feature: domain.FeatureGCodeGeneration, Prompt: "square"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		want    error
		calls   int32
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid_request_error", ai.EAIUnauthorized, 1},
		{"bad request", http.StatusBadRequest, "invalid_request_error", ai.EAIInvalidRequest, 1},
		{"content policy", http.StatusBadRequest, "content_policy_violation", ai.EAIContentPolicy, 1},
		{"server error retried", http.StatusInternalServerError, "server_error", ai.EAIUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"`+tt.errType+`"}}`)
			})

			_, err := p.Generate(context.Background(), ai.GenerateParams{Feature: domain.FeatureAIGeneration, Prompt: "x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if n := calls.Load(); n != tt.calls {
				t.Errorf("calls = %d, want %d", n, tt.calls)
			}
		})
	}
}

func TestGenerate_EmptyChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","model":"m","choices":[],"usage":{}}`)
	})

	_, err := p.Generate(context.Background(), ai.GenerateParams{Feature: domain.FeatureAIGeneration, Prompt: "x"})
	if !errors.Is(err, ai.EAIEmptyResponse) {
		t.Fatalf("error = %v, want EAIEmptyResponse", err)
	}
}

func TestSystemPromptFor_Fallback(t *testing.T) {
	if systemPromptFor(domain.FeatureTemplateDownload) != defaultSystemPrompt {
		t.Error("unmapped feature should use the default prompt")
	}
}
