package agent

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// contentGenerator is the subset of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator calls the Gemini API through the Google Gen AI SDK.
type GeminiGenerator struct {
	models       contentGenerator
	defaultModel string
	logger       *slog.Logger
}

// NewGeminiGenerator creates a Gemini API client authenticated with apiKey.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	logger.Info("Gemini generator ready", "model", model)
	return &GeminiGenerator{models: client.Models, defaultModel: model, logger: logger}, nil
}

// Generate sends the prompt as a single user turn with the system instruction.
func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	res, err := g.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("gemini returned no response")
	}

	return &GenerateResponse{Text: res.Text()}, nil
}

// Close is a no-op; the SDK client holds no connections of its own.
func (g *GeminiGenerator) Close() error {
	return nil
}
