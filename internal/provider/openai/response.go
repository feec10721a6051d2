package openai

import (
	"fmt"

	"github.com/modelgate/modelgate/internal/provider"
)

type chatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

type choice struct {
	Message      chatResponseMessage `json:"message"`
	FinishReason string              `json:"finish_reason"`
}

type chatResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func toChatResponse(resp *chatCompletionResponse) (*provider.ChatResponse, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response choices", provider.ErrMalformedPayload)
	}

	choices := make([]provider.Choice, 0, len(resp.Choices))
	for _, ch := range resp.Choices {
		role := ch.Message.Role
		if role == "" {
			role = "assistant"
		}
		choices = append(choices, provider.Choice{
			Message:      provider.Message{Role: role, Content: ch.Message.Content},
			FinishReason: ch.FinishReason,
		})
	}

	response := &provider.ChatResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Choices: choices,
	}

	// Token counts feed usage accounting; they are carried through exactly
	// as the provider reported them.
	if resp.Usage != nil {
		response.Usage = provider.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}
	}

	return response, nil
}
