package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/modelgate/modelgate/internal/errors"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/server/middleware"
)

// maxRequestBodyBytes bounds inbound JSON bodies.
const maxRequestBodyBytes = 1 << 20

// ChatMessage is one turn in the inbound conversation body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

// ChatChoice is one completion alternative in the response body.
type ChatChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// UsageBody reports token consumption back to the caller.
type UsageBody struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ChatResponse is the POST /chat response body.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   UsageBody    `json:"usage"`
}

// ChatHandler proxies chat completions through the gateway.
type ChatHandler struct {
	gw *gateway.Gateway
}

// NewChatHandler builds the POST /chat handler.
func NewChatHandler(gw *gateway.Gateway) *ChatHandler {
	return &ChatHandler{gw: gw}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body ChatRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "Request body is not valid JSON"))
		return
	}

	if err := validateChatRequest(&body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, err.Error()))
		return
	}

	messages := make([]provider.Message, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}

	req := &provider.ChatRequest{
		Model:         body.Model,
		Messages:      messages,
		Temperature:   body.Temperature,
		MaxTokens:     body.MaxTokens,
		CorrelationID: middleware.GetRequestID(ctx),
	}

	resp, err := h.gw.Chat(ctx, middleware.GetPrincipal(ctx), req)
	if err != nil {
		respondProviderError(w, r, err)
		return
	}

	choices := make([]ChatChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, ChatChoice{
			Message:      ChatMessage{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		})
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: choices,
		Usage: UsageBody{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	})
}

func validateChatRequest(body *ChatRequest) error {
	if strings.TrimSpace(body.Model) == "" {
		return &validationError{"model is required"}
	}
	if len(body.Messages) == 0 {
		return &validationError{"messages must not be empty"}
	}
	for i, m := range body.Messages {
		if strings.TrimSpace(m.Role) == "" {
			return &validationError{fmt.Sprintf("messages[%d].role is required", i)}
		}
		if m.Content == "" {
			return &validationError{fmt.Sprintf("messages[%d].content is required", i)}
		}
	}
	if body.Temperature != nil && (*body.Temperature < 0 || *body.Temperature > 2) {
		return &validationError{"temperature must be between 0 and 2"}
	}
	if body.MaxTokens != nil && *body.MaxTokens <= 0 {
		return &validationError{"max_tokens must be positive"}
	}
	return nil
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
