package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	apperrors "github.com/modelgate/modelgate/internal/errors"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/server/middleware"
)

// GenerateParameters carries optional image generation knobs.
type GenerateParameters struct {
	Count int    `json:"count,omitempty"`
	Size  string `json:"size,omitempty"`
}

// GenerateRequest is the POST /generate body.
type GenerateRequest struct {
	Model      string              `json:"model"`
	Prompt     string              `json:"prompt"`
	Parameters *GenerateParameters `json:"parameters,omitempty"`
}

// GeneratedImage is one produced image in the response body. Images returned
// inline by the provider are re-encoded as base64; link-style results carry
// the URL instead.
type GeneratedImage struct {
	B64Data string `json:"b64_data,omitempty"`
	URL     string `json:"url,omitempty"`
	Format  string `json:"format,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// GenerateResponse is the POST /generate response body.
type GenerateResponse struct {
	ID     string           `json:"id"`
	Model  string           `json:"model"`
	Images []GeneratedImage `json:"images"`
	Usage  UsageBody        `json:"usage"`
}

// GenerateHandler proxies image generation through the gateway.
type GenerateHandler struct {
	gw *gateway.Gateway
}

// NewGenerateHandler builds the POST /generate handler.
func NewGenerateHandler(gw *gateway.Gateway) *GenerateHandler {
	return &GenerateHandler{gw: gw}
}

func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body GenerateRequest
	if err := decodeJSONBody(w, r, &body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "Request body is not valid JSON"))
		return
	}

	if err := validateGenerateRequest(&body); err != nil {
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, err.Error()))
		return
	}

	req := &provider.GenerateRequest{
		Model:         body.Model,
		Prompt:        body.Prompt,
		CorrelationID: middleware.GetRequestID(ctx),
	}
	if body.Parameters != nil {
		req.Count = body.Parameters.Count
		req.Size = body.Parameters.Size
	}

	resp, err := h.gw.Generate(ctx, middleware.GetPrincipal(ctx), req)
	if err != nil {
		respondProviderError(w, r, err)
		return
	}

	images := make([]GeneratedImage, 0, len(resp.Images))
	for _, img := range resp.Images {
		out := GeneratedImage{
			URL:    img.URL,
			Format: img.Format,
			Width:  img.Width,
			Height: img.Height,
		}
		if len(img.Data) > 0 {
			out.B64Data = base64.StdEncoding.EncodeToString(img.Data)
		}
		images = append(images, out)
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		ID:     resp.ID,
		Model:  resp.Model,
		Images: images,
		Usage: UsageBody{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	})
}

func validateGenerateRequest(body *GenerateRequest) error {
	if strings.TrimSpace(body.Model) == "" {
		return &validationError{"model is required"}
	}
	if strings.TrimSpace(body.Prompt) == "" {
		return &validationError{"prompt is required"}
	}
	if body.Parameters != nil {
		if body.Parameters.Count < 0 || body.Parameters.Count > 10 {
			return &validationError{"parameters.count must be between 1 and 10"}
		}
	}
	return nil
}
