package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
)

// ErrMalformedPayload marks driver decode failures so the client can classify
// them as non-retryable.
var ErrMalformedPayload = errors.New("malformed provider payload")

const (
	defaultMaxRetries     = 2
	defaultAttemptTimeout = 30 * time.Second
	defaultBackoffBase    = 200 * time.Millisecond
)

// Client wraps a Driver with attempt timeouts, bounded retries with
// exponential backoff and jitter, per-attempt metrics, and failure
// classification. Timeouts and 5xx responses are retried; 4xx responses and
// unparseable payloads are surfaced immediately.
type Client struct {
	driver         Driver
	maxRetries     int
	attemptTimeout time.Duration
	backoffBase    time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxRetries bounds additional attempts after the first.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithAttemptTimeout bounds a single outbound attempt.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithBackoffBase sets the first retry delay; later delays double it.
func WithBackoffBase(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.backoffBase = d
		}
	}
}

// NewClient wraps the driver with the gateway retry policy.
func NewClient(driver Driver, opts ...ClientOption) (*Client, error) {
	if driver == nil {
		return nil, errors.New("driver is required")
	}

	c := &Client{
		driver:         driver,
		maxRetries:     defaultMaxRetries,
		attemptTimeout: defaultAttemptTimeout,
		backoffBase:    defaultBackoffBase,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name returns the wrapped driver's identifier.
func (c *Client) Name() string {
	if c == nil || c.driver == nil {
		return ""
	}
	return c.driver.Name()
}

// Complete proxies a chat completion through the retry policy.
func (c *Client) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := c.do(ctx, "chat", func(attemptCtx context.Context) error {
		var callErr error
		resp, callErr = c.driver.Complete(attemptCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Generate proxies an image generation through the retry policy.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	var resp *GenerateResponse
	err := c.do(ctx, "generation", func(attemptCtx context.Context) error {
		var callErr error
		resp, callErr = c.driver.Generate(attemptCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, operation string, call func(context.Context) error) error {
	var lastErr *Error

	attempts := c.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCtx, cancel, err := c.attemptContext(ctx)
		if err != nil {
			// Deadline already spent; nothing left to try.
			err.Attempts = attempt - 1
			return err
		}

		start := time.Now()
		callErr := call(attemptCtx)
		duration := time.Since(start)
		cancel()

		if callErr == nil {
			metrics.RecordProviderAttempt(c.driver.Name(), operation, "success", duration)
			return nil
		}

		classified := c.classify(ctx, callErr)
		classified.Attempts = attempt
		metrics.RecordProviderAttempt(c.driver.Name(), operation, string(classified.Kind), duration)
		lastErr = classified

		if !classified.Kind.Retryable() || attempt == attempts {
			break
		}

		delay := c.backoffDelay(attempt)
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Provider attempt failed, retrying",
				zap.String("provider", c.driver.Name()),
				zap.String("operation", operation),
				zap.String("kind", string(classified.Kind)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay))
		}
		if err := c.sleep(ctx, delay); err != nil {
			// Caller went away or deadline expired while backing off.
			return c.classify(ctx, err)
		}
	}

	return lastErr
}

// attemptContext derives a per-attempt context whose timeout stays strictly
// below the remaining end-to-end budget, leaving room for a retry.
func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc, *Error) {
	timeout := c.attemptTimeout

	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, &Error{
				Kind:     KindTimeout,
				Provider: c.driver.Name(),
				Message:  "request deadline exhausted",
			}
		}
		if budget := remaining * 8 / 10; budget < timeout {
			timeout = budget
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	return attemptCtx, cancel, nil
}

func (c *Client) classify(ctx context.Context, err error) *Error {
	provider := c.driver.Name()

	// Inbound caller cancellation takes precedence over whatever the
	// transport reported for the aborted attempt.
	if ctx.Err() == context.Canceled {
		return &Error{Kind: KindClientDisconnected, Provider: provider, Message: "caller disconnected"}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr != nil {
		kind := KindUnavailable
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			kind = KindRejected
		}
		return &Error{
			Kind:       kind,
			Provider:   provider,
			StatusCode: statusErr.StatusCode,
			Message:    statusErr.Message,
		}
	}

	switch {
	case errors.Is(err, ErrMalformedPayload):
		return &Error{Kind: KindMalformedResponse, Provider: provider, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Provider: provider, Message: "provider request timed out"}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindClientDisconnected, Provider: provider, Message: "caller disconnected"}
	default:
		return &Error{Kind: KindUnavailable, Provider: provider, Message: err.Error()}
	}
}

// backoffDelay doubles the base per attempt with up to 50% random jitter.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.backoffBase << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	return delay + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
