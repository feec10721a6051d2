package provider

import "fmt"

// ErrorKind classifies a terminal provider failure.
type ErrorKind string

const (
	// KindTimeout covers attempt or deadline expiry.
	KindTimeout ErrorKind = "timeout"
	// KindUnavailable covers transport failures and 5xx responses after
	// retries are exhausted.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected covers provider-side validation or quota failures (4xx).
	// Never retried.
	KindRejected ErrorKind = "rejected"
	// KindMalformedResponse covers unparseable provider payloads. Never retried.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindClientDisconnected covers inbound-caller cancellation mid-call.
	KindClientDisconnected ErrorKind = "client_disconnected"
)

// Error is the classified terminal failure surfaced by the Client.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Attempts   int
}

func (e *Error) Error() string {
	if e == nil {
		return "provider call failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s call failed (%s, status %d after %d attempts): %s",
			e.Provider, e.Kind, e.StatusCode, e.Attempts, e.Message)
	}
	return fmt.Sprintf("provider %s call failed (%s after %d attempts): %s",
		e.Provider, e.Kind, e.Attempts, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindUnavailable
}
