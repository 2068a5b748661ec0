// Package mock provides an in-process AI provider for development and tests.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/kerf/internal/ai"
	"github.com/DukeRupert/kerf/internal/domain"
)

// Provider is a mock AI provider for testing and development
type Provider struct {
	logger *slog.Logger

	// Configurable responses for testing
	GenerateResponse *ai.GenerateResult
	GenerateError    error

	mu sync.Mutex
	// Call tracking for testing
	GenerateCalls []ai.GenerateParams
}

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Generate returns a canned artifact for the requested feature.
func (p *Provider) Generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	p.mu.Lock()
	p.GenerateCalls = append(p.GenerateCalls, params)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, ai.WrapError("generate", err)
	}
	if p.GenerateError != nil {
		return nil, p.GenerateError
	}
	if p.GenerateResponse != nil {
		return p.GenerateResponse, nil
	}

	p.logger.Debug("mock AI provider generating canned output",
		"user_id", params.UserID,
		"feature", params.Feature,
	)

	var output string
	switch params.Feature {
	case domain.FeatureGCodeGeneration:
		output = "G21\nG90\nG0 Z5\nG0 X0 Y0\nG1 Z-1 F300\nG1 X50 F800\nG1 Y50\nG1 X0\nG1 Y0\nG0 Z5\nM5\nG0 X0 Y0\n"
	default:
		output = fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="50mm" height="50mm" viewBox="0 0 50 50"><!-- %s --><rect x="1" y="1" width="48" height="48" fill="none" stroke="#ff0000" stroke-width="0.1"/></svg>`, params.Feature)
	}

	return &ai.GenerateResult{
		Output:       output,
		FinishReason: "stop",
		Usage: ai.UsageInfo{
			Model:        "mock",
			InputTokens:  len(params.Prompt) / 4,
			OutputTokens: len(output) / 4,
			Duration:     time.Millisecond,
		},
	}, nil
}

// Calls returns the number of Generate calls made so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

var _ ai.AIProvider = (*Provider)(nil)
