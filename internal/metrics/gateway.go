package metrics

import (
	"time"

	"github.com/modelgate/modelgate/internal/observability"
)

// Gateway-level metrics following Prometheus conventions
var (
	ProviderAttemptsTotal     = "gateway_provider_attempts_total"
	ProviderAttemptDuration   = "gateway_provider_attempt_duration_ms"
	RateLimitDecisionsTotal   = "gateway_rate_limit_decisions_total"
	AuthFailuresTotal         = "gateway_auth_failures_total"
	UsageRecordsTotal         = "gateway_usage_records_total"
	UsageRecordsDroppedTotal  = "gateway_usage_records_dropped_total"
	RequestsByOutcomeTotal    = "gateway_requests_by_outcome_total"
	TokensProxiedTotal        = "gateway_tokens_proxied_total"
)

// RecordProviderAttempt records a single outbound provider attempt.
// One sample is emitted per attempt, including retries.
func RecordProviderAttempt(provider, operation, status string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	labels := map[string]string{
		"provider":  provider,
		"operation": operation,
		"status":    status,
	}

	_ = observability.TelemetrySystem.Counter(ProviderAttemptsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(ProviderAttemptDuration, duration, labels)
}

// RecordRateLimitDecision records a limiter outcome per endpoint class.
// Decision is "allowed", "denied", or "error" for store failures.
func RecordRateLimitDecision(endpointClass, decision string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		RateLimitDecisionsTotal,
		1,
		map[string]string{
			"endpoint_class": endpointClass,
			"decision":       decision,
		},
	)
}

// RecordAuthFailure records a rejected credential by failure reason.
func RecordAuthFailure(reason string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		AuthFailuresTotal,
		1,
		map[string]string{"reason": reason},
	)
}

// RecordUsagePersisted records a usage record handed to the persistence sink.
func RecordUsagePersisted(endpoint, status string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		UsageRecordsTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"status":   status,
		},
	)
}

// RecordUsageDropped records a usage record dropped by the best-effort recorder.
func RecordUsageDropped(reason string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		UsageRecordsDroppedTotal,
		1,
		map[string]string{"reason": reason},
	)
}

// RecordRequestOutcome records the terminal state of a gateway request.
func RecordRequestOutcome(endpoint, outcome string) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		RequestsByOutcomeTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"outcome":  outcome,
		},
	)
}

// RecordTokensProxied accumulates provider-reported token counts.
func RecordTokensProxied(model, direction string, tokens int) {
	if observability.TelemetrySystem == nil || tokens <= 0 {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		TokensProxiedTotal,
		float64(tokens),
		map[string]string{
			"model":     model,
			"direction": direction,
		},
	)
}
