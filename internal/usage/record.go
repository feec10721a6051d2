// Package usage implements best-effort usage accounting for billing and
// observability. Records are handed off fire-and-forget; a failed write is
// logged and dropped, never failing the originating request.
package usage

import (
	"time"
)

// Call statuses recorded for billing.
const (
	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
	StatusTimeout  = "timeout"
)

// Record captures one completed (or terminally failed) provider call.
// Ownership transfers to the recorder at hand-off; the gateway does not
// retain it afterwards.
type Record struct {
	TenantID      string    `json:"tenant_id"`
	Endpoint      string    `json:"endpoint"`
	Model         string    `json:"model"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	Status        string    `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// normalize fills derived fields before hand-off.
func (r *Record) normalize(now time.Time) {
	if r.TotalTokens == 0 {
		r.TotalTokens = r.InputTokens + r.OutputTokens
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
