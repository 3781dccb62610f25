// Package operation routes named actions and reactions to platform adapters.
//
// Each integration's catalog is compiled once at registration into a static
// name to operation table. Execute resolves parameters, obtains a valid
// access token and invokes the adapter, normalizing every failure into a
// *platform.Error.
package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/tombee/areahub/internal/platform"
)

// TokenSource supplies valid access tokens. Implemented by credential.Manager.
type TokenSource interface {
	ValidAccessToken(ctx context.Context, userID, integration string) (string, error)
}

// Request is one dispatch.
type Request struct {
	Kind        platform.OperationKind
	Integration string
	Operation   string
	UserID      string

	// Config is the operator-authored static configuration.
	Config map[string]any

	// Input is the runtime data from the triggering event or caller.
	Input map[string]any
}

// Result is the adapter's output for a dispatch.
type Result map[string]any

// Config configures a Dispatcher.
type Config struct {
	// Tokens supplies access tokens (required)
	Tokens TokenSource

	// Logger for dispatch events (default: slog.Default())
	Logger *slog.Logger

	// TracerProvider for dispatch spans (default: global provider)
	TracerProvider trace.TracerProvider
}

type opKey struct {
	kind platform.OperationKind
	name string
}

type integration struct {
	adapter platform.Adapter
	ops     map[opKey]*compiledOp
	catalog []platform.Descriptor
	limiter *rate.Limiter
}

// Dispatcher executes catalog operations. It is safe for concurrent use.
type Dispatcher struct {
	tokens TokenSource
	logger *slog.Logger
	tracer trace.Tracer

	mu           sync.RWMutex
	integrations map[string]*integration
}

// NewDispatcher creates a dispatcher with no integrations registered.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Dispatcher{
		tokens:       cfg.Tokens,
		logger:       logger.With(slog.String("component", "dispatcher")),
		tracer:       tp.Tracer("github.com/tombee/areahub/internal/operation"),
		integrations: make(map[string]*integration),
	}, nil
}

// RegisterOption customizes an integration registration.
type RegisterOption func(*integration)

// WithRateLimit throttles adapter invocations for the integration.
func WithRateLimit(perSecond float64, burst int) RegisterOption {
	return func(i *integration) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			i.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// Register compiles the adapter's catalog and makes it dispatchable.
func (d *Dispatcher) Register(adapter platform.Adapter, opts ...RegisterOption) error {
	name := adapter.Name()
	reg := &integration{
		adapter: adapter,
		ops:     make(map[opKey]*compiledOp),
	}
	for _, desc := range adapter.Catalog() {
		key := opKey{desc.Kind, desc.Name}
		if _, dup := reg.ops[key]; dup {
			return fmt.Errorf("%s: duplicate %s %q", name, desc.Kind, desc.Name)
		}
		op, err := compileOp(name, desc)
		if err != nil {
			return err
		}
		reg.ops[key] = op
		reg.catalog = append(reg.catalog, desc)
	}
	for _, opt := range opts {
		opt(reg)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.integrations[name]; exists {
		return fmt.Errorf("integration %q already registered", name)
	}
	d.integrations[name] = reg
	return nil
}

// Integrations returns the registered integration names, sorted.
func (d *Dispatcher) Integrations() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.integrations))
	for name := range d.integrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalog returns a copy of the integration's published descriptors.
func (d *Dispatcher) Catalog(name string) ([]platform.Descriptor, error) {
	d.mu.RLock()
	reg, ok := d.integrations[name]
	d.mu.RUnlock()
	if !ok {
		return nil, &platform.Error{Kind: platform.KindUnknownOperation, Integration: name,
			Message: "integration is not registered"}
	}
	out := make([]platform.Descriptor, len(reg.catalog))
	copy(out, reg.catalog)
	return out, nil
}

// Execute dispatches req.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Kind == "" {
		req.Kind = platform.KindReaction
	}

	ctx, span := d.tracer.Start(ctx, "operation.execute", trace.WithAttributes(
		attribute.String("integration", req.Integration),
		attribute.String("operation", req.Operation),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	start := time.Now()
	result, err := d.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(platform.KindOf(err)))
		d.logger.Warn("operation failed",
			slog.String("integration", req.Integration),
			slog.String("operation", req.Operation),
			slog.String("user_id", req.UserID),
			slog.String("kind", string(platform.KindOf(err))),
			slog.Any("error", err))
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	d.logger.Debug("operation completed",
		slog.String("integration", req.Integration),
		slog.String("operation", req.Operation),
		slog.String("user_id", req.UserID),
		slog.Duration("duration", time.Since(start)))
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, req Request) (Result, error) {
	d.mu.RLock()
	reg, ok := d.integrations[req.Integration]
	d.mu.RUnlock()
	if !ok {
		return nil, &platform.Error{
			Kind:        platform.KindUnknownOperation,
			Integration: req.Integration,
			Operation:   req.Operation,
			Message:     "integration is not registered",
		}
	}

	op, ok := reg.ops[opKey{req.Kind, req.Operation}]
	if !ok {
		return nil, &platform.Error{
			Kind:        platform.KindUnknownOperation,
			Integration: req.Integration,
			Operation:   req.Operation,
			Message:     fmt.Sprintf("no %s named %q", req.Kind, req.Operation),
		}
	}

	bag, err := op.buildParams(req.Config, req.Input)
	if err != nil {
		return nil, annotate(err, req)
	}

	token, err := d.tokens.ValidAccessToken(ctx, req.UserID, req.Integration)
	if err != nil {
		return nil, annotate(err, req)
	}

	if reg.limiter != nil {
		if err := reg.limiter.Wait(ctx); err != nil {
			return nil, annotate(platform.Wrap(platform.KindTransport, err, "rate limit wait aborted"), req)
		}
	}

	out, err := reg.adapter.Invoke(ctx, req.Operation, token, bag)
	if err != nil {
		return nil, normalizeInvokeError(err, req)
	}
	if out == nil {
		out = map[string]any{}
	}
	return Result(out), nil
}

// normalizeInvokeError keeps dispatch-layer kinds reported by the adapter
// and turns everything else into UpstreamError.
func normalizeInvokeError(err error, req Request) error {
	switch platform.KindOf(err) {
	case platform.KindMissingParameter, platform.KindInvalidParameter,
		platform.KindPreconditionFailed, platform.KindUpstream, platform.KindUnknownOperation:
		return annotate(err, req)
	}

	msg := err.Error()
	var pe *platform.Error
	if errors.As(err, &pe) && pe.Message != "" {
		msg = pe.Message
	}
	return &platform.Error{
		Kind:        platform.KindUpstream,
		Integration: req.Integration,
		Operation:   req.Operation,
		Message:     msg,
		StatusCode:  statusOf(err),
		Cause:       err,
	}
}

// annotate returns a copy of a top-level *platform.Error with the request's
// integration and operation filled in. Other errors are returned unchanged.
func annotate(err error, req Request) error {
	pe, ok := err.(*platform.Error)
	if !ok {
		return err
	}
	out := *pe
	if out.Integration == "" {
		out.Integration = req.Integration
	}
	if out.Operation == "" {
		out.Operation = req.Operation
	}
	return &out
}

func statusOf(err error) int {
	var pe *platform.Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}
