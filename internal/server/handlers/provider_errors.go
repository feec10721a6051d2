package handlers

import (
	stderrors "errors"
	"net/http"

	apperrors "github.com/modelgate/modelgate/internal/errors"
	"github.com/modelgate/modelgate/internal/provider"
)

// respondProviderError translates a classified provider failure into the
// gateway error taxonomy. Caller disconnects write nothing; there is no one
// left to receive the response.
func respondProviderError(w http.ResponseWriter, r *http.Request, err error) {
	var provErr *provider.Error
	if !stderrors.As(err, &provErr) || provErr == nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "Unexpected gateway failure"))
		return
	}

	ctx := r.Context()

	var code, message string
	switch provErr.Kind {
	case provider.KindClientDisconnected:
		return
	case provider.KindTimeout:
		code = apperrors.CodeProviderTimeout
		message = "Provider request timed out"
	case provider.KindRejected:
		code = apperrors.CodeProviderRejected
		message = "Provider rejected the request"
	case provider.KindMalformedResponse:
		code = apperrors.CodeProviderMalformedPayload
		message = "Provider returned an unparseable response"
	default:
		code = apperrors.CodeProviderUnavailable
		message = "Provider is unavailable"
	}

	envelope := apperrors.WrapCode(ctx, provErr, code, message)
	respondWithError(w, r, envelope)
}
