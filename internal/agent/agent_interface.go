package agent

import (
	"context"
)

// Generator produces one reply for one prompt.
type Generator interface {
	// Generate sends a single request to the text-generation backend.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// Close releases resources.
	Close() error
}

// HealthChecker is implemented by generators that can report backend health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Ensure backends implement Generator.
var (
	_ Generator     = (*GeminiGenerator)(nil)
	_ Generator     = (*GrpcClient)(nil)
	_ Generator     = disabledGenerator{}
	_ HealthChecker = (*GrpcClient)(nil)
)
