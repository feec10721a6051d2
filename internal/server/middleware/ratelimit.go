package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/ratelimit"
)

// RateLimit enforces the tenant's token bucket for the given endpoint class.
// Runs after Authenticate; the principal must already be in context. Denied
// requests receive 429 with X-RateLimit-* headers and a retry_after hint.
//
// A store failure admits the request with a warning. Denying all traffic on a
// shared-store outage would turn a cache blip into a full outage.
func RateLimit(limiter *ratelimit.Limiter, class ratelimit.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				envelope := errors.NewErrorEnvelope("UNAUTHORIZED", "Request is not authenticated").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, envelope, http.StatusUnauthorized)
				return
			}

			decision, err := limiter.TryAcquire(r.Context(), principal, class)
			if err != nil {
				metrics.RecordRateLimitDecision(string(class), "error")
				if observability.ServerLogger != nil {
					observability.ServerLogger.Warn("Rate limit store unavailable, admitting request",
						zap.String("class", string(class)),
						zap.String("tenant", principal.TenantID),
						zap.String("requestID", GetRequestID(r.Context())),
						zap.Error(err))
				}
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, decision)

			if !decision.Allowed {
				metrics.RecordRateLimitDecision(string(class), "denied")

				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				}

				envelope := errors.NewErrorEnvelope("RATE_LIMITED", "Rate limit exceeded for this tenant").
					WithCorrelationID(GetRequestID(r.Context()))
				envelope, _ = envelope.WithContext(map[string]interface{}{
					"retry_after_seconds": retryAfter,
					"endpoint_class":      string(class),
				})
				writeErrorResponse(w, envelope, http.StatusTooManyRequests)
				return
			}

			metrics.RecordRateLimitDecision(string(class), "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, decision *ratelimit.Decision) {
	if decision == nil {
		return
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(int(decision.Limit)))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Floor(decision.Remaining))))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}
