// Package ai is the narrow interface to the text generation collaborator that
// sits behind the metered features. Callers pass a feature and a prompt and
// get text back; quota is checked and charged before a provider is called.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
)

// AIProvider defines the interface for AI-backed generation.
type AIProvider interface {
	// Generate produces output for one metered feature request.
	Generate(ctx context.Context, params GenerateParams) (*GenerateResult, error)
}

// GenerateParams contains parameters for a generation request
type GenerateParams struct {
	UserID    string         // User ID for tracking
	Feature   domain.Feature // Metered feature the request is charged to
	Prompt    string         // User-supplied description
	MaxTokens int            // Optional output cap, 0 uses the provider default
}

// GenerateResult is the provider output. The core does not interpret it.
type GenerateResult struct {
	Output       string
	FinishReason string
	Usage        UsageInfo
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Maximum attempts for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAIInvalidRequest indicates the provider rejected the prompt
	EAIInvalidRequest = errors.New("ai provider rejected the request")

	// EAIContentPolicy indicates the prompt violates content policy
	EAIContentPolicy = errors.New("prompt violates content policy")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the AI service is temporarily unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIEmptyResponse indicates the provider returned no output
	EAIEmptyResponse = errors.New("ai provider returned no output")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
