package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/provider/imagemeta"
)

type imageGenerationRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
	// response_format b64_json keeps payloads self-contained; providers that
	// only return URLs ignore it.
	ResponseFormat string `json:"response_format,omitempty"`
}

type imageGenerationResponse struct {
	Created      int64  `json:"created"`
	OutputFormat string `json:"output_format,omitempty"`
	Data         []struct {
		B64JSON string `json:"b64_json,omitempty"`
		URL     string `json:"url,omitempty"`
	} `json:"data"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Generate sends an image generation request.
func (c *Client) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	count := req.Count
	if count <= 0 {
		count = 1
	}
	if count > 10 {
		return nil, fmt.Errorf("count must be between 1 and 10")
	}

	payload := imageGenerationRequest{
		Model:          strings.TrimSpace(req.Model),
		Prompt:         req.Prompt,
		N:              count,
		Size:           strings.TrimSpace(req.Size),
		ResponseFormat: "b64_json",
	}

	respBody, err := c.post(ctx, "/images/generations", payload, req.CorrelationID)
	if err != nil {
		return nil, err
	}

	var parsed imageGenerationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode image response: %v", provider.ErrMalformedPayload, err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: image response has no data", provider.ErrMalformedPayload)
	}

	images := make([]provider.GeneratedImage, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		if strings.TrimSpace(item.B64JSON) != "" {
			decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("%w: decode image base64: %v", provider.ErrMalformedPayload, err)
			}
			img := provider.GeneratedImage{Data: decoded, Format: parsed.OutputFormat}
			// Dimension sniffing is best-effort; unknown encodings pass
			// through untouched.
			if meta, ok := imagemeta.Sniff(decoded); ok {
				img.Format = meta.Format
				img.Width = meta.Width
				img.Height = meta.Height
			}
			images = append(images, img)
			continue
		}
		if strings.TrimSpace(item.URL) != "" {
			images = append(images, provider.GeneratedImage{URL: item.URL})
		}
	}

	response := &provider.GenerateResponse{
		Model:  req.Model,
		Images: images,
	}
	if parsed.Usage != nil {
		response.Usage = provider.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.TotalTokens,
		}
	}

	return response, nil
}
