package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modelgate/modelgate/internal/auth"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/provider"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/server/handlers"
	"github.com/modelgate/modelgate/internal/usage"
)

// stubDriver answers every provider call with a fixed response or error.
type stubDriver struct {
	err error
}

func (d *stubDriver) Complete(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &provider.ChatResponse{
		ID:    "resp-1",
		Model: req.Model,
		Choices: []provider.Choice{
			{Message: provider.Message{Role: "assistant", Content: "hello"}, FinishReason: "stop"},
		},
		Usage: provider.Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19},
	}, nil
}

func (d *stubDriver) Generate(ctx context.Context, req *provider.GenerateRequest) (*provider.GenerateResponse, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &provider.GenerateResponse{
		ID:    "resp-1",
		Model: req.Model,
		Usage: provider.Usage{InputTokens: 3, OutputTokens: 40, TotalTokens: 43},
	}, nil
}

func (d *stubDriver) Name() string { return "stub" }

// memorySink collects usage records for assertions.
type memorySink struct {
	mu      sync.Mutex
	records []usage.Record
}

func (s *memorySink) Insert(ctx context.Context, record *usage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *record)
	return nil
}

func (s *memorySink) snapshot() []usage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]usage.Record(nil), s.records...)
}

type testEnv struct {
	server   *Server
	token    string
	sink     *memorySink
	recorder *usage.Recorder
}

func newTestEnv(t *testing.T, driver provider.Driver, tiers ratelimit.Tiers) *testEnv {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	verifier, err := auth.NewVerifier(publicPEM, "modelgate")
	require.NoError(t, err)

	token, err := auth.Mint(privatePEM, auth.MintOptions{
		TenantID: "tenant-1",
		Roles:    []string{"standard"},
		Issuer:   "modelgate",
	})
	require.NoError(t, err)

	if tiers == nil {
		tiers = ratelimit.Tiers{
			auth.RoleStandard: {
				ratelimit.ClassChat:       {Capacity: 100, RefillRate: 10},
				ratelimit.ClassGeneration: {Capacity: 100, RefillRate: 10},
			},
		}
	}
	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), tiers)
	require.NoError(t, err)

	client, err := provider.NewClient(driver, provider.WithMaxRetries(0))
	require.NoError(t, err)

	sink := &memorySink{}
	recorder := usage.NewRecorder(sink, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = recorder.Close(ctx)
	})

	gw, err := gateway.New(client, recorder)
	require.NoError(t, err)

	health := handlers.NewHealthManager("test")

	srv := New(Options{
		Host:     "localhost",
		Port:     0,
		Verifier: verifier,
		Limiter:  limiter,
		Gateway:  gw,
		Health:   health,
	})

	return &testEnv{server: srv, token: token, sink: sink, recorder: recorder}
}

func (e *testEnv) post(t *testing.T, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) drain(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.recorder.Close(ctx))
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) (code, requestID string) {
	t.Helper()

	var body struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code, body.Error.RequestID
}

const chatBody = `{"model": "gpt-test", "messages": [{"role": "user", "content": "hi"}]}`

func TestChatRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", "", chatBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	code, requestID := decodeErrorBody(t, rec)
	require.Equal(t, "UNAUTHORIZED", code)
	require.NotEmpty(t, requestID)
}

func TestChatRejectsGarbageToken(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", "not-a-jwt", chatBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "AUTH_MALFORMED", code)
}

func TestChatProxiesAuthenticatedRequest(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))

	var body struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "resp-1", body.ID)
	require.Len(t, body.Choices, 1)
	require.Equal(t, "hello", body.Choices[0].Message.Content)
	require.Equal(t, 12, body.Usage.InputTokens)
	require.Equal(t, 19, body.Usage.TotalTokens)

	env.drain(t)
	records := env.sink.snapshot()
	require.Len(t, records, 1)
	require.Equal(t, "tenant-1", records[0].TenantID)
	require.Equal(t, usage.StatusSuccess, records[0].Status)
}

func TestChatRateLimitExhaustion(t *testing.T) {
	tiers := ratelimit.Tiers{
		auth.RoleStandard: {
			ratelimit.ClassChat:       {Capacity: 2, RefillRate: 0.001},
			ratelimit.ClassGeneration: {Capacity: 100, RefillRate: 10},
		},
	}
	env := newTestEnv(t, &stubDriver{}, tiers)

	for i := 0; i < 2; i++ {
		rec := env.post(t, "/chat", env.token, chatBody)
		require.Equal(t, http.StatusOK, rec.Code, "request %d should be admitted", i+1)
	}

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "RATE_LIMITED", code)

	// Denied requests settle no usage.
	env.drain(t)
	require.Len(t, env.sink.snapshot(), 2)
}

func TestChatRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", env.token, "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "INVALID_INPUT", code)
}

func TestChatRejectsMissingModel(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", env.token, `{"messages": [{"role": "user", "content": "hi"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatMapsProviderOutageToServiceUnavailable(t *testing.T) {
	driver := &stubDriver{err: &provider.StatusError{Provider: "stub", StatusCode: 503, Message: "down"}}
	env := newTestEnv(t, driver, nil)

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	code, requestID := decodeErrorBody(t, rec)
	require.Equal(t, "PROVIDER_UNAVAILABLE", code)
	require.NotEmpty(t, requestID)

	env.drain(t)
	records := env.sink.snapshot()
	require.Len(t, records, 1)
	require.Equal(t, usage.StatusFailed, records[0].Status)
}

func TestChatMapsProviderRejectionToBadGateway(t *testing.T) {
	driver := &stubDriver{err: &provider.StatusError{Provider: "stub", StatusCode: 400, Message: "bad model"}}
	env := newTestEnv(t, driver, nil)

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "PROVIDER_REJECTED", code)
}

func TestChatMapsProviderTimeoutToGatewayTimeout(t *testing.T) {
	driver := &stubDriver{err: context.DeadlineExceeded}
	env := newTestEnv(t, driver, nil)

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "PROVIDER_TIMEOUT", code)
}

func TestGenerateDrawsFromSeparateBucket(t *testing.T) {
	tiers := ratelimit.Tiers{
		auth.RoleStandard: {
			ratelimit.ClassChat:       {Capacity: 1, RefillRate: 0.001},
			ratelimit.ClassGeneration: {Capacity: 1, RefillRate: 0.001},
		},
	}
	env := newTestEnv(t, &stubDriver{}, tiers)

	rec := env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.post(t, "/chat", env.token, chatBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Generation tier is untouched by chat traffic.
	rec = env.post(t, "/generate", env.token, `{"model": "image-test", "prompt": "a lighthouse"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFailureEmitsNoUsageRecord(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	rec := env.post(t, "/chat", "", chatBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	env.drain(t)
	require.Empty(t, env.sink.snapshot())
}

func TestRequestIDEchoedFromInboundHeader(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(chatBody)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.token)
	req.Header.Set("X-Request-ID", "inbound-42")

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "inbound-42", rec.Header().Get("X-Request-ID"))
}

func TestUnknownRouteReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "NOT_FOUND", code)
}

func TestMethodNotAllowedReturnsEnvelope(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "METHOD_NOT_ALLOWED", code)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/health/startup"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "path %s", path)
	}
}

func TestReadinessFailsWhenCheckerUnhealthy(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)
	env.server.opts.Health.RegisterChecker("store", handlers.HealthCheckerFunc(func(ctx context.Context) error {
		return errors.New("store offline")
	}))

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	code, _ := decodeErrorBody(t, rec)
	require.Equal(t, "SERVICE_UNAVAILABLE", code)

	// Liveness ignores collaborator health.
	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVersionEndpoint(t *testing.T) {
	env := newTestEnv(t, &stubDriver{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "app")
}
