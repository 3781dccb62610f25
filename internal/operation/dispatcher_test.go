package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/areahub/internal/platform"
)

type tokenFunc func(ctx context.Context, userID, integration string) (string, error)

func (f tokenFunc) ValidAccessToken(ctx context.Context, userID, integration string) (string, error) {
	return f(ctx, userID, integration)
}

func staticTokens(token string) TokenSource {
	return tokenFunc(func(ctx context.Context, userID, integration string) (string, error) {
		return token, nil
	})
}

type stubAdapter struct {
	catalog []platform.Descriptor
	invoke  func(op, token string, params map[string]any) (map[string]any, error)
	calls   atomic.Int32
}

func (s *stubAdapter) Name() string                   { return "mail" }
func (s *stubAdapter) Catalog() []platform.Descriptor { return s.catalog }
func (s *stubAdapter) RefreshToken(ctx context.Context, rt string) (*platform.TokenGrant, error) {
	return nil, errors.New("not used")
}

func (s *stubAdapter) Invoke(ctx context.Context, op, token string, params map[string]any) (map[string]any, error) {
	s.calls.Add(1)
	return s.invoke(op, token, params)
}

func mailCatalog() []platform.Descriptor {
	return []platform.Descriptor{
		{
			Name: "send_email",
			Kind: platform.KindReaction,
			Parameters: []platform.ParameterInfo{
				{Name: "to", Type: "string", Required: true},
				{Name: "subject", Type: "string", Required: true, Source: "input.email.subject"},
				{Name: "body", Type: "string", Required: true},
				{Name: "priority", Type: "integer", Default: 3},
			},
		},
		{Name: "email_received", Kind: platform.KindAction},
	}
}

func echoAdapter() *stubAdapter {
	return &stubAdapter{
		catalog: mailCatalog(),
		invoke: func(op, token string, params map[string]any) (map[string]any, error) {
			out := map[string]any{"token": token}
			for k, v := range params {
				out[k] = v
			}
			return out, nil
		},
	}
}

func newTestDispatcher(t *testing.T, adapter platform.Adapter, tokens TokenSource, opts ...RegisterOption) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(Config{
		Tokens: tokens,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, d.Register(adapter, opts...))
	return d
}

func sendEmail(config, input map[string]any) Request {
	return Request{
		Kind:        platform.KindReaction,
		Integration: "mail",
		Operation:   "send_email",
		UserID:      "u1",
		Config:      config,
		Input:       input,
	}
}

func TestExecuteResolvesParameters(t *testing.T) {
	adapter := echoAdapter()
	d := newTestDispatcher(t, adapter, staticTokens("tok"))

	result, err := d.Execute(context.Background(), sendEmail(
		map[string]any{"to": "ops@example.com", "body": "from config"},
		map[string]any{"to": "ignored@example.com", "body": "from input", "email": map[string]any{"subject": "Hi"}},
	))
	require.NoError(t, err)

	assert.Equal(t, "tok", result["token"])
	assert.Equal(t, "ops@example.com", result["to"], "config wins on collision")
	assert.Equal(t, "from config", result["body"])
	assert.Equal(t, "Hi", result["subject"], "declared source path is resolved")
	assert.Equal(t, 3, result["priority"], "default applied")
}

func TestExecuteUnknownOperation(t *testing.T) {
	adapter := echoAdapter()
	d := newTestDispatcher(t, adapter, staticTokens("tok"))

	tests := []Request{
		{Kind: platform.KindReaction, Integration: "mail", Operation: "launch_rocket"},
		{Kind: platform.KindAction, Integration: "mail", Operation: "send_email"},
		{Kind: platform.KindReaction, Integration: "chat", Operation: "send_email"},
	}
	for _, req := range tests {
		t.Run(fmt.Sprintf("%s/%s/%s", req.Integration, req.Kind, req.Operation), func(t *testing.T) {
			_, err := d.Execute(context.Background(), req)
			assert.True(t, platform.IsKind(err, platform.KindUnknownOperation), "err = %v", err)
		})
	}
	assert.Zero(t, adapter.calls.Load())
}

func TestExecuteMissingParameter(t *testing.T) {
	adapter := echoAdapter()
	d := newTestDispatcher(t, adapter, staticTokens("tok"))

	tests := []struct {
		name      string
		config    map[string]any
		input     map[string]any
		wantField string
	}{
		{"absent from both", map[string]any{"body": "b"}, map[string]any{"email": map[string]any{"subject": "s"}}, "to"},
		{"empty string", map[string]any{"to": "", "body": "b"}, map[string]any{"email": map[string]any{"subject": "s"}}, "to"},
		{"source path unresolved", map[string]any{"to": "x", "body": "b"}, map[string]any{}, "subject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Execute(context.Background(), sendEmail(tt.config, tt.input))
			var pe *platform.Error
			require.True(t, errors.As(err, &pe), "err = %v", err)
			assert.Equal(t, platform.KindMissingParameter, pe.Kind)
			assert.Equal(t, tt.wantField, pe.Field)
			assert.Equal(t, "mail", pe.Integration)
			assert.Equal(t, "send_email", pe.Operation)
		})
	}
	assert.Zero(t, adapter.calls.Load())
}

func TestExecuteInvalidParameterType(t *testing.T) {
	d := newTestDispatcher(t, echoAdapter(), staticTokens("tok"))

	_, err := d.Execute(context.Background(), sendEmail(
		map[string]any{"to": "a@example.com", "body": "b", "priority": "high"},
		map[string]any{"email": map[string]any{"subject": "s"}},
	))
	var pe *platform.Error
	require.True(t, errors.As(err, &pe), "err = %v", err)
	assert.Equal(t, platform.KindInvalidParameter, pe.Kind)
	assert.Equal(t, "priority", pe.Field)
}

func TestExecuteTokenErrorsPropagate(t *testing.T) {
	adapter := echoAdapter()
	tokens := tokenFunc(func(ctx context.Context, userID, integration string) (string, error) {
		return "", &platform.Error{Kind: platform.KindRefreshUnavailable, Integration: integration}
	})
	d := newTestDispatcher(t, adapter, tokens)

	_, err := d.Execute(context.Background(), sendEmail(
		map[string]any{"to": "a@example.com", "body": "b"},
		map[string]any{"email": map[string]any{"subject": "s"}},
	))
	var pe *platform.Error
	require.True(t, errors.As(err, &pe), "err = %v", err)
	assert.Equal(t, platform.KindRefreshUnavailable, pe.Kind)
	assert.Equal(t, "send_email", pe.Operation)
	assert.Equal(t, "reauthorize required for mail", pe.UserMessage())
	assert.Zero(t, adapter.calls.Load())
}

func TestExecuteNormalizesAdapterErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind platform.Kind
		wantMsg  string
	}{
		{"precondition kept", platform.Precondition("stream is offline"), platform.KindPreconditionFailed, "stream is offline"},
		{"upstream kept", platform.ClassifyHTTP(400, "Invalid To header"), platform.KindUpstream, "Invalid To header"},
		{"transport becomes upstream", platform.ClassifyHTTP(503, "backend unavailable"), platform.KindUpstream, "backend unavailable"},
		{"raw error becomes upstream", errors.New("connection reset by peer"), platform.KindUpstream, "connection reset by peer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &stubAdapter{
				catalog: mailCatalog(),
				invoke: func(op, token string, params map[string]any) (map[string]any, error) {
					return nil, tt.err
				},
			}
			d := newTestDispatcher(t, adapter, staticTokens("tok"))

			_, err := d.Execute(context.Background(), Request{Kind: platform.KindAction, Integration: "mail", Operation: "email_received"})
			var pe *platform.Error
			require.True(t, errors.As(err, &pe), "err = %v", err)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantMsg, pe.Message)
			assert.Equal(t, "mail", pe.Integration)
		})
	}
}

func TestExecuteConcurrent(t *testing.T) {
	adapter := echoAdapter()
	d := newTestDispatcher(t, adapter, staticTokens("tok"), WithRateLimit(10000, 100))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := fmt.Sprintf("user%d@example.com", i)
			result, err := d.Execute(context.Background(), sendEmail(
				map[string]any{"to": to, "body": "b"},
				map[string]any{"email": map[string]any{"subject": "s"}},
			))
			if err != nil {
				t.Errorf("Execute() error = %v", err)
				return
			}
			if result["to"] != to {
				t.Errorf("result[to] = %v, want %s", result["to"], to)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(50), adapter.calls.Load())
}

func TestExecuteRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	d, err := NewDispatcher(Config{
		Tokens:         staticTokens("tok"),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		TracerProvider: tp,
	})
	require.NoError(t, err)
	require.NoError(t, d.Register(echoAdapter()))

	_, err = d.Execute(context.Background(), Request{Integration: "mail", Operation: "nope"})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "operation.execute", spans[0].Name())
	assert.Equal(t, otelcodes.Error, spans[0].Status().Code)
}

func TestRegisterRejectsBadCatalogs(t *testing.T) {
	d, err := NewDispatcher(Config{Tokens: staticTokens("tok")})
	require.NoError(t, err)

	dup := &stubAdapter{catalog: []platform.Descriptor{
		{Name: "a", Kind: platform.KindReaction},
		{Name: "a", Kind: platform.KindReaction},
	}}
	assert.Error(t, d.Register(dup))

	badType := &stubAdapter{catalog: []platform.Descriptor{
		{Name: "a", Kind: platform.KindReaction, Parameters: []platform.ParameterInfo{{Name: "x", Type: "uuid"}}},
	}}
	assert.Error(t, d.Register(badType))

	require.NoError(t, d.Register(echoAdapter()))
	assert.Error(t, d.Register(echoAdapter()), "second registration of the same name")
	assert.Equal(t, []string{"mail"}, d.Integrations())
}

func TestCatalogIsACopy(t *testing.T) {
	d := newTestDispatcher(t, echoAdapter(), staticTokens("tok"))

	catalog, err := d.Catalog("mail")
	require.NoError(t, err)
	require.Len(t, catalog, 2)
	catalog[0].Name = "mutated"

	again, _ := d.Catalog("mail")
	assert.Equal(t, "send_email", again[0].Name)

	_, err = d.Catalog("chat")
	assert.True(t, platform.IsKind(err, platform.KindUnknownOperation))
}
