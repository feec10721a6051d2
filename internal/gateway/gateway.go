// Package gateway orchestrates a proxied model call from admission to
// settlement. Authentication and rate limiting run in middleware before a
// request reaches the gateway; the gateway owns the provider call, the
// end-to-end deadline, and usage settlement.
package gateway

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/observability"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/usage"
)

// State names the stages a request moves through. Transitions only move
// forward; a request that reaches StateProxied settles with exactly one
// usage record unless the caller disconnected.
type State string

const (
	StateReceived      State = "received"
	StateAuthenticated State = "authenticated"
	StateRateChecked   State = "rate_checked"
	StateProxied       State = "proxied"
	StateCompleted     State = "completed"
	StateRejected      State = "rejected"
	StateFailed        State = "failed"
)

// Endpoint names for usage records and metrics labels.
const (
	EndpointChat     = "chat"
	EndpointGenerate = "generate"
)

const defaultRequestTimeout = 90 * time.Second

// Gateway proxies requests to the provider client and settles usage.
type Gateway struct {
	client         *provider.Client
	recorder       *usage.Recorder
	requestTimeout time.Duration
	clock          func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRequestTimeout sets the end-to-end budget applied when a request enters
// the gateway. Provider attempt timeouts are derived from what remains of it.
func WithRequestTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.requestTimeout = d
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.clock = clock }
}

// New builds a gateway over the provider client and usage recorder. The
// recorder may be nil when accounting is disabled.
func New(client *provider.Client, recorder *usage.Recorder, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("provider client is required")
	}

	g := &Gateway{
		client:         client,
		recorder:       recorder,
		requestTimeout: defaultRequestTimeout,
		clock:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Chat proxies a chat completion and settles usage for the tenant.
func (g *Gateway) Chat(ctx context.Context, principal *auth.Principal, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if req == nil {
		return nil, errors.New("chat request is required")
	}

	flow := g.newFlow(EndpointChat, principal, req.Model, req.CorrelationID)

	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	flow.advance(StateProxied)
	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return nil, flow.settleFailure(g, err)
	}

	flow.settleSuccess(g, resp.Usage)
	return resp, nil
}

// Generate proxies an image generation and settles usage for the tenant.
func (g *Gateway) Generate(ctx context.Context, principal *auth.Principal, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	if req == nil {
		return nil, errors.New("generate request is required")
	}

	flow := g.newFlow(EndpointGenerate, principal, req.Model, req.CorrelationID)

	ctx, cancel := context.WithTimeout(ctx, g.requestTimeout)
	defer cancel()

	flow.advance(StateProxied)
	resp, err := g.client.Generate(ctx, req)
	if err != nil {
		return nil, flow.settleFailure(g, err)
	}

	flow.settleSuccess(g, resp.Usage)
	return resp, nil
}

// flow tracks one request through the state machine. By the time a handler
// calls into the gateway the middleware chain has already admitted the
// request, so the flow starts at StateRateChecked.
type flow struct {
	endpoint      string
	tenantID      string
	model         string
	correlationID string
	state         State
	start         time.Time
}

func (g *Gateway) newFlow(endpoint string, principal *auth.Principal, model, correlationID string) *flow {
	f := &flow{
		endpoint:      endpoint,
		model:         model,
		correlationID: correlationID,
		state:         StateRateChecked,
		start:         g.clock(),
	}
	if principal != nil {
		f.tenantID = principal.TenantID
	}
	return f
}

func (f *flow) advance(next State) {
	f.state = next
}

func (f *flow) settleSuccess(g *Gateway, u provider.Usage) {
	f.advance(StateCompleted)
	metrics.RecordRequestOutcome(f.endpoint, string(StateCompleted))

	metrics.RecordTokensProxied(f.model, "input", u.InputTokens)
	metrics.RecordTokensProxied(f.model, "output", u.OutputTokens)

	g.record(&usage.Record{
		TenantID:      f.tenantID,
		Endpoint:      f.endpoint,
		Model:         f.model,
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		TotalTokens:   u.TotalTokens,
		Status:        usage.StatusSuccess,
		DurationMS:    g.elapsedMS(f.start),
		CorrelationID: f.correlationID,
	})
}

// settleFailure classifies the provider error and emits the single usage
// record for the failed call. Caller disconnects produce no record; the
// request was abandoned and there is nobody left to bill or answer.
func (f *flow) settleFailure(g *Gateway, err error) error {
	var provErr *provider.Error
	if !errors.As(err, &provErr) || provErr == nil {
		provErr = &provider.Error{
			Kind:     provider.KindUnavailable,
			Provider: g.client.Name(),
			Message:  err.Error(),
		}
	}

	if provErr.Kind == provider.KindClientDisconnected {
		f.advance(StateFailed)
		metrics.RecordRequestOutcome(f.endpoint, "disconnected")
		metrics.RecordUsageDropped("client_disconnected")
		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("Caller disconnected before settlement",
				zap.String("endpoint", f.endpoint),
				zap.String("tenant", f.tenantID),
				zap.String("requestID", f.correlationID))
		}
		return provErr
	}

	status := usage.StatusFailed
	switch provErr.Kind {
	case provider.KindTimeout:
		f.advance(StateFailed)
		status = usage.StatusTimeout
	case provider.KindRejected:
		f.advance(StateRejected)
		status = usage.StatusRejected
	default:
		f.advance(StateFailed)
	}
	metrics.RecordRequestOutcome(f.endpoint, string(f.state))

	g.record(&usage.Record{
		TenantID:      f.tenantID,
		Endpoint:      f.endpoint,
		Model:         f.model,
		Status:        status,
		DurationMS:    g.elapsedMS(f.start),
		CorrelationID: f.correlationID,
	})

	return provErr
}

func (g *Gateway) record(record *usage.Record) {
	if g.recorder == nil {
		return
	}
	g.recorder.Record(record)
}

func (g *Gateway) elapsedMS(start time.Time) int64 {
	return g.clock().Sub(start).Milliseconds()
}
