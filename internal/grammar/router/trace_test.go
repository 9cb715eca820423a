package router

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func routeSpanAttrs(t *testing.T, exp *tracetest.InMemoryExporter) map[attribute.Key]attribute.Value {
	t.Helper()
	for _, s := range exp.GetSpans() {
		if s.Name != "router.Route" {
			continue
		}
		out := make(map[attribute.Key]attribute.Value, len(s.Attributes))
		for _, kv := range s.Attributes {
			out[kv.Key] = kv.Value
		}
		return out
	}
	t.Fatal("no router.Route span recorded")
	return nil
}

func TestRoute_SpanRecordsVerdict(t *testing.T) {
	exp := recordSpans(t)

	r := newRouter(t, reply(negativeReply), reply(positiveReply), reply(positiveReply))
	if _, err := r.Route(context.Background(), sentence, hindi); err != nil {
		t.Fatalf("Route: %v", err)
	}

	attrs := routeSpanAttrs(t, exp)
	if got := attrs["detection.method"].AsString(); got != "gpt" {
		t.Errorf("detection.method = %q, want gpt", got)
	}
	if !attrs["detection.has_error"].AsBool() {
		t.Error("detection.has_error = false, want true")
	}
}

func TestRoute_SpanRecordsExhaustion(t *testing.T) {
	exp := recordSpans(t)

	r := newRouter(t, failing("groq down"), reply(negativeReply), failing("gemini down"))
	d, err := r.Route(context.Background(), sentence, hindi)
	if err != nil || d.HasError {
		t.Fatalf("Route = %+v, %v; want a negative verdict", d, err)
	}

	attrs := routeSpanAttrs(t, exp)
	if got := attrs["detection.method"].AsString(); got != "groq" {
		t.Errorf("detection.method = %q, want groq", got)
	}
	if attrs["detection.has_error"].AsBool() {
		t.Error("detection.has_error = true, want false")
	}
}
