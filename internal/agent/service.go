package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Provider names accepted by NewService.
const (
	ProviderGemini   = "gemini"
	ProviderGRPC     = "grpc"
	ProviderDisabled = "disabled"
)

// Service fronts the configured backend and counts outcomes.
type Service struct {
	generator Generator
	provider  string
	model     string
	requests  atomic.Int64
	failures  atomic.Int64
}

// NewService builds the backend named by cfg.Provider.
func NewService(ctx context.Context, cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case ProviderGemini, "":
		gen, err = NewGeminiGenerator(ctx, cfg.APIKey, cfg.Model, logger)
	case ProviderGRPC:
		gen, err = NewGrpcClient(cfg.GrpcAddr, logger)
	case ProviderDisabled:
		logger.Warn("Text generation disabled; chat replies will use the fallback")
		gen = disabledGenerator{}
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderGemini
	}
	return NewServiceWithGenerator(gen, provider, cfg.Model), nil
}

// NewServiceWithGenerator wraps an existing generator.
func NewServiceWithGenerator(gen Generator, provider, model string) *Service {
	return &Service{generator: gen, provider: provider, model: model}
}

// Model returns the default model identifier.
func (s *Service) Model() string {
	return s.model
}

// Generate forwards req to the backend, filling in the default model.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		req.Model = s.model
	}
	s.requests.Add(1)
	resp, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.failures.Add(1)
		return nil, err
	}
	return resp, nil
}

// Health reports backend health when the backend supports it.
func (s *Service) Health(ctx context.Context) error {
	if hc, ok := s.generator.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// GetStats returns generation statistics.
func (s *Service) GetStats() Stats {
	return Stats{
		Provider: s.provider,
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
	}
}

// Close releases resources.
func (s *Service) Close() error {
	if s.generator == nil {
		return nil
	}
	return s.generator.Close()
}

type disabledGenerator struct{}

func (disabledGenerator) Generate(context.Context, GenerateRequest) (*GenerateResponse, error) {
	return nil, ErrGenerationDisabled
}

func (disabledGenerator) Close() error { return nil }

var _ Generator = (*Service)(nil)
