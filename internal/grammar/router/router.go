// Package router escalates grammar checks to an ordered chain of language
// model tiers.
//
// Tiers are consulted strictly in order, each under its own timeout and
// circuit breaker. The first tier to report an error ends the chain; a tier
// that finds nothing, fails, times out, or returns an empty reply hands over
// to the next. When no tier reports an error the router returns a negative
// verdict naming the first tier.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/observe"
	"github.com/vartalaap/vartalaap/internal/resilience"
	"github.com/vartalaap/vartalaap/pkg/provider/llm"
)

// DefaultTimeout bounds a single tier call when neither the tier nor the
// router sets one.
const DefaultTimeout = 2 * time.Second

// DefaultOrder is the default tier priority.
var DefaultOrder = []string{"groq", "gpt", "gemini"}

// ErrEmptyReply is the failure recorded for a tier that answered with no text.
var ErrEmptyReply = errors.New("empty reply")

// Tier is one named model backend.
type Tier struct {
	// Name is reported as the detection method when this tier decides.
	Name string

	Provider llm.Provider

	// Timeout overrides the router timeout for this tier when positive.
	Timeout time.Duration
}

// Router walks the tier chain. It is safe for concurrent use; all
// configuration is fixed at construction.
type Router struct {
	group   *resilience.FallbackGroup[Tier]
	timeout time.Duration
	breaker resilience.CircuitBreakerConfig
	metrics *observe.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout sets the default per-tier timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithCircuitBreaker sets the breaker configuration used for every tier.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(r *Router) { r.breaker = cfg }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New creates a Router over tiers in priority order. Tier names must be
// non-empty and unique and every tier needs a provider.
func New(tiers []Tier, opts ...Option) (*Router, error) {
	if len(tiers) == 0 {
		return nil, errors.New("router: at least one tier is required")
	}

	r := &Router{timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	var errs []error
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		switch {
		case t.Name == "":
			errs = append(errs, fmt.Errorf("router: tiers[%d]: name is required", i))
		case seen[t.Name]:
			errs = append(errs, fmt.Errorf("router: tiers[%d]: duplicate name %q", i, t.Name))
		}
		if t.Provider == nil {
			errs = append(errs, fmt.Errorf("router: tiers[%d] %q: provider is required", i, t.Name))
		}
		seen[t.Name] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cb := r.breaker
	userHook := cb.OnStateChange
	metrics := r.metrics
	cb.OnStateChange = func(name string, from, to resilience.State) {
		metrics.RecordCircuitTransition(context.Background(), name, from.String(), to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	fc := resilience.FallbackConfig{CircuitBreaker: cb}
	r.group = resilience.NewFallbackGroup(tiers[0], tiers[0].Name, fc)
	for _, t := range tiers[1:] {
		r.group.AddFallback(t.Name, t)
	}
	return r, nil
}

// Tiers returns the tier names in priority order.
func (r *Router) Tiers() []string { return r.group.Names() }

// Status reports each tier's circuit breaker state.
func (r *Router) Status() []resilience.EntryStatus { return r.group.Status() }

// Route asks the tiers, in order, whether text contains an error.
//
// Exhaustion is not an error: the result is a negative verdict whose method
// is the first tier and whose latency is zero. The only error returned is the
// caller's context being cancelled or expiring.
func (r *Router) Route(ctx context.Context, text string, gctx grammar.Context) (grammar.Detection, error) {
	ctx, span := observe.StartSpan(ctx, "router.Route")
	defer span.End()

	req := request(text, gctx.Native)
	d, err := resilience.ExecuteUntil(ctx, r.group,
		func(ctx context.Context, t Tier) (grammar.Detection, error) {
			return r.ask(ctx, t, req, text, gctx.Native)
		},
		func(d grammar.Detection) bool { return d.HasError },
	)
	if err == nil {
		annotate(span, d)
		return d, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		return grammar.Detection{}, ctxErr
	}

	observe.Logger(ctx).Debug("no tier reported an error", "tiers", r.group.Len(), "last", err)
	d = grammar.Negative(text, r.group.Names()[0])
	annotate(span, d)
	return d, nil
}

func annotate(span trace.Span, d grammar.Detection) {
	span.SetAttributes(
		attribute.String("detection.method", d.Method),
		attribute.Bool("detection.has_error", d.HasError),
	)
}

// ask performs one bounded tier call and normalizes the reply.
func (r *Router) ask(ctx context.Context, t Tier, req llm.CompletionRequest, text string, native grammar.Language) (grammar.Detection, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := t.Provider.Complete(tctx, req)
	latency := time.Since(start)

	switch {
	case err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded):
		r.metrics.RecordTier(ctx, t.Name, observe.OutcomeTimeout, latency)
		return grammar.Detection{}, fmt.Errorf("router: tier %q: no reply within %s: %w", t.Name, timeout, context.DeadlineExceeded)
	case err != nil && ctx.Err() != nil:
		return grammar.Detection{}, fmt.Errorf("router: tier %q: %w", t.Name, ctx.Err())
	case err != nil:
		r.metrics.RecordTier(ctx, t.Name, observe.OutcomeError, latency)
		return grammar.Detection{}, fmt.Errorf("router: tier %q: %w", t.Name, err)
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		r.metrics.RecordTier(ctx, t.Name, observe.OutcomeEmpty, latency)
		return grammar.Detection{}, fmt.Errorf("router: tier %q: %w", t.Name, ErrEmptyReply)
	}

	d := Parse(resp.Content, text, native)
	d.Method = t.Name
	d.Latency = latency

	outcome := observe.OutcomeNegative
	if d.HasError {
		outcome = observe.OutcomePositive
	}
	r.metrics.RecordTier(ctx, t.Name, outcome, latency)
	observe.Logger(ctx).Debug("tier verdict",
		"tier", t.Name, "has_error", d.HasError, "kind", d.Kind, "latency", latency)
	return d, nil
}
