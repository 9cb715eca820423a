// Package detector decides, for one utterance fragment, whether it contains
// a grammar error and how to correct it.
//
// The rule catalog is consulted first. Only fragments the catalog does not
// flag and that are long enough to be worth a model call escalate to the
// tier router. Detect never fails: any router problem degrades to a
// negative verdict.
package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vartalaap/vartalaap/internal/grammar"
	"github.com/vartalaap/vartalaap/internal/grammar/filler"
	"github.com/vartalaap/vartalaap/internal/grammar/rules"
	"github.com/vartalaap/vartalaap/internal/observe"
)

// DefaultEscalationWords is the default escalation threshold: fragments of
// this many words or fewer never reach the router.
const DefaultEscalationWords = 3

// Router is the model tier chain the detector escalates to.
type Router interface {
	Route(ctx context.Context, text string, gctx grammar.Context) (grammar.Detection, error)
}

// Detector runs the two-stage check. It holds no per-call state and is safe
// for concurrent use.
type Detector struct {
	catalog   *rules.Catalog
	router    Router
	threshold int
	metrics   *observe.Metrics
}

// Option configures a Detector.
type Option func(*Detector)

// WithRouter enables escalation. Without a router only the catalog is used.
func WithRouter(r Router) Option {
	return func(d *Detector) { d.router = r }
}

// WithEscalationWords sets the word count a fragment must exceed before it is
// escalated.
func WithEscalationWords(n int) Option {
	return func(d *Detector) {
		if n >= 0 {
			d.threshold = n
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

// New creates a Detector over catalog. A nil catalog means [rules.Default].
func New(catalog *rules.Catalog, opts ...Option) *Detector {
	if catalog == nil {
		catalog = rules.Default()
	}
	d := &Detector{
		catalog:   catalog,
		threshold: DefaultEscalationWords,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Catalog returns the rule catalog in use.
func (d *Detector) Catalog() *rules.Catalog { return d.catalog }

// Detect returns the verdict for text.
func (d *Detector) Detect(ctx context.Context, text string, gctx grammar.Context) grammar.Detection {
	start := time.Now()
	text = grammar.Normalize(text)

	if det, ok := d.FastPath(text, gctx); ok {
		d.metrics.RecordDetection(ctx, det.Method, true, time.Since(start))
		return det
	}

	if d.router != nil && d.shouldEscalate(text) {
		det, err := d.router.Route(ctx, text, gctx)
		switch {
		case err != nil:
			observe.Logger(ctx).Warn("detector: router failed", "error", err)
		case det.HasError:
			d.metrics.RecordDetection(ctx, det.Method, true, time.Since(start))
			return det
		}
	}

	d.metrics.RecordDetection(ctx, grammar.MethodPattern, false, time.Since(start))
	return grammar.Negative(text, grammar.MethodPattern)
}

// FastPath checks text against the catalog only. It reports false when no
// rule matches.
func (d *Detector) FastPath(text string, gctx grammar.Context) (grammar.Detection, bool) {
	start := time.Now()
	m, ok := d.catalog.Match(text)
	if !ok {
		return grammar.Detection{}, false
	}

	native := gctx.Native
	if native.IsZero() {
		native = grammar.DefaultLanguage
	}
	return grammar.Detection{
		HasError:          true,
		Original:          m.Span,
		Corrected:         m.Correction,
		Category:          m.Rule.Category,
		Explanation:       explanation(m),
		NativeExplanation: m.Rule.Explanation(native.Code),
		Kind:              m.Rule.Kind,
		RuleID:            m.Rule.ID,
		Method:            grammar.MethodPattern,
		Latency:           time.Since(start),
	}, true
}

// DetectFillers returns the filler tokens in text; see [filler.Scan].
func (d *Detector) DetectFillers(text string) []string {
	return filler.Scan(text)
}

func (d *Detector) shouldEscalate(text string) bool {
	return len(strings.Fields(text)) > d.threshold
}

// explanation is the interface-language explanation for a catalog hit. A
// literal replacement is spelled out; deletions and advisory hints use the
// rule's English explanation.
func explanation(m rules.Match) string {
	if m.Rule.Kind == grammar.KindLiteral && m.Correction != "" {
		return fmt.Sprintf("Use %q instead", m.Correction)
	}
	return m.Rule.Explanation("en")
}
