// Package provider defines the provider-agnostic model-call schema and the
// retrying client that fronts concrete drivers. Requests and responses are
// pure data, translated to the provider wire format at the boundary.
package provider

import (
	"context"
	"fmt"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage contains provider-reported token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model         string
	Messages      []Message
	Temperature   *float64
	MaxTokens     *int
	CorrelationID string
}

// Choice is one completion alternative.
type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// ChatResponse is a provider-agnostic chat completion result.
type ChatResponse struct {
	ID      string
	Model   string
	Choices []Choice
	Usage   Usage
}

// GenerateRequest is a provider-agnostic image generation request.
type GenerateRequest struct {
	Model         string
	Prompt        string
	Count         int
	Size          string
	CorrelationID string
}

// GeneratedImage is one produced image. Data holds decoded bytes when the
// provider returns base64 payloads; URL is set when it returns links.
type GeneratedImage struct {
	Data   []byte
	URL    string
	Format string
	Width  int
	Height int
}

// GenerateResponse is a provider-agnostic image generation result.
type GenerateResponse struct {
	ID     string
	Model  string
	Images []GeneratedImage
	Usage  Usage
}

// Driver speaks one concrete provider wire protocol.
type Driver interface {
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Generate sends an image generation request and returns the response.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	// Name returns the driver identifier (e.g., "openai").
	Name() string
}

// StatusError is returned by drivers when the provider responds with a
// non-2xx status.
//
// Drivers should populate RawResponse with the provider response body bytes.
// RawResponse must never include API keys.
type StatusError struct {
	Provider    string
	StatusCode  int
	Message     string
	RawResponse []byte
}

func (e *StatusError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}
