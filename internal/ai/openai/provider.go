// Package openai implements ai.AIProvider against the OpenAI chat completions
// API or any server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/DukeRupert/kerf/internal/ai"
	"github.com/DukeRupert/kerf/internal/metrics"
)

const (
	// DefaultModel is the default chat model to use
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens caps output when the caller does not
	DefaultMaxTokens = 2048
)

// Config contains configuration for the OpenAI provider
type Config struct {
	APIKey         string
	Model          string
	BaseURL        string // optional, for OpenAI-compatible servers
	ProviderConfig ai.ProviderConfig
}

// Provider implements the AIProvider interface using the chat completions API
type Provider struct {
	config Config
	client *goopenai.Client
	logger *slog.Logger
}

// New creates a new OpenAI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 3
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimSuffix(config.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: config.ProviderConfig.RequestTimeout}

	logger.Info("initialized OpenAI provider", "model", config.Model, "base_url", clientConfig.BaseURL)

	return &Provider{
		config: config,
		client: goopenai.NewClientWithConfig(clientConfig),
		logger: logger,
	}, nil
}

// Generate sends the prompt with the feature's system instructions.
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	startTime := time.Now()
	feature := string(params.Feature)

	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	req := goopenai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPromptFor(params.Feature)},
			{Role: goopenai.ChatMessageRoleUser, Content: params.Prompt},
		},
		MaxCompletionTokens: maxTokens,
		User:                params.UserID,
	}

	resp, err := p.executeWithRetry(ctx, req)
	if err != nil {
		metrics.AIAPICalls.WithLabelValues(feature, "error").Inc()
		return nil, ai.WrapError("generate", err)
	}
	metrics.AIAPICalls.WithLabelValues(feature, "success").Inc()
	metrics.AITokensTotal.WithLabelValues("input").Add(float64(resp.Usage.PromptTokens))
	metrics.AITokensTotal.WithLabelValues("output").Add(float64(resp.Usage.CompletionTokens))

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, ai.WrapError("generate", ai.EAIEmptyResponse)
	}

	choice := resp.Choices[0]
	return &ai.GenerateResult{
		Output:       choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: ai.UsageInfo{
			Model:        resp.Model,
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			Duration:     time.Since(startTime),
		},
	}, nil
}

// executeWithRetry runs the request with exponential backoff on transient errors
func (p *Provider) executeWithRetry(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = mapError(ctx, err)
		if !ai.IsRetryable(lastErr) || attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return goopenai.ChatCompletionResponse{}, ctx.Err()
		}
	}

	return goopenai.ChatCompletionResponse{}, lastErr
}

// mapError maps client errors to the ai package sentinels, keeping the
// original error in the chain.
func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ai.EAITimeout, err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %s", statusError(apiErr.HTTPStatusCode, apiErr.Type), apiErr.Message)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %v", statusError(reqErr.HTTPStatusCode, ""), reqErr.Err)
	}

	// Network errors are typically retryable
	return fmt.Errorf("%w: %v", ai.EAIUnavailable, err)
}

func statusError(status int, errType string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ai.EAIUnauthorized
	case status == http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ai.EAITimeout
	case status == http.StatusBadRequest && errType == "content_policy_violation":
		return ai.EAIContentPolicy
	case status >= 400 && status < 500:
		return ai.EAIInvalidRequest
	default:
		return ai.EAIUnavailable
	}
}

var _ ai.AIProvider = (*Provider)(nil)
