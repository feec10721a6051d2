package server

import (
	"net/http"

	apperrors "github.com/modelgate/modelgate/internal/errors"
)

// HandleError is the single exit point for error responses: every handler,
// the router's not-found and method-not-allowed hooks, and the metrics proxy
// all route failures through the taxonomy here.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
