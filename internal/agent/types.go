// Package agent talks to the text-generation backends behind the chat assistant.
package agent

import (
	"errors"
	"time"
)

// ErrGenerationDisabled is returned by the disabled backend.
var ErrGenerationDisabled = errors.New("text generation is disabled")

// GenerateRequest is one prompt sent to a backend.
type GenerateRequest struct {
	Model             string `json:"model"`
	Prompt            string `json:"prompt"`
	SystemInstruction string `json:"systemInstruction"`
}

// GenerateResponse carries the generated text. Text may be empty.
type GenerateResponse struct {
	Text string `json:"text"`
}

// Config selects and configures a backend.
type Config struct {
	Provider       string
	Model          string
	APIKey         string
	GrpcAddr       string
	RequestTimeout time.Duration
}

// Stats counts generation outcomes since startup.
type Stats struct {
	Provider string `json:"provider"`
	Requests int64  `json:"requests"`
	Failures int64  `json:"failures"`
}
