package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/metrics"
)

// principalContextKey is a custom type to avoid context key collisions
type principalContextKey string

const PrincipalContextKey principalContextKey = "principal"

// Authenticate verifies the Authorization bearer token and stores the
// resulting principal in the request context. Requests without a valid
// credential never reach the rate limiter or a handler.
func Authenticate(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := bearerToken(r)
			if !ok {
				metrics.RecordAuthFailure("missing_credential")
				writeAuthError(w, r, "UNAUTHORIZED", "Authorization bearer token is required")
				return
			}

			principal, err := verifier.Verify(credential)
			if err != nil {
				reason, code, message := classifyAuthError(err)
				metrics.RecordAuthFailure(reason)
				writeAuthError(w, r, code, message)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal retrieves the authenticated principal from context.
func GetPrincipal(ctx context.Context) *auth.Principal {
	if principal, ok := ctx.Value(PrincipalContextKey).(*auth.Principal); ok {
		return principal
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func classifyAuthError(err error) (reason, code, message string) {
	if authErr, ok := err.(*auth.AuthError); ok && authErr != nil {
		switch authErr.Reason {
		case auth.ReasonExpired:
			return string(authErr.Reason), "AUTH_EXPIRED", "Credential is expired"
		case auth.ReasonMalformed:
			return string(authErr.Reason), "AUTH_MALFORMED", "Credential could not be parsed"
		default:
			return string(authErr.Reason), "AUTH_INVALID_SIGNATURE", "Credential signature verification failed"
		}
	}
	return "invalid_signature", "AUTH_INVALID_SIGNATURE", "Credential verification failed"
}

func writeAuthError(w http.ResponseWriter, r *http.Request, code, message string) {
	envelope := errors.NewErrorEnvelope(code, message).
		WithCorrelationID(GetRequestID(r.Context()))

	w.Header().Set("WWW-Authenticate", `Bearer realm="modelgate"`)
	writeErrorResponse(w, envelope, http.StatusUnauthorized)
}
