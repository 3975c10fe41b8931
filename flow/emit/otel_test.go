package emit

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordedEmitter() (*OTelEmitter, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewOTelEmitter(tp.Tracer("test")), sr
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestOTelEmitter(t *testing.T) {
	emitter, sr := newRecordedEmitter()

	emitter.Emit(Event{
		RunID:  "run-001",
		Step:   3,
		NodeID: "gate",
		Msg:    "run_suspended",
		Meta:   map[string]any{"duration_ms": int64(7), "approved": false},
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]

	if span.Name() != "run_suspended" {
		t.Errorf("span name = %q, want run_suspended", span.Name())
	}
	if v, ok := spanAttr(span, "run_id"); !ok || v.AsString() != "run-001" {
		t.Errorf("run_id attribute = %v, want run-001", v.Emit())
	}
	if v, ok := spanAttr(span, "step"); !ok || v.AsInt64() != 3 {
		t.Errorf("step attribute = %v, want 3", v.Emit())
	}
	if v, ok := spanAttr(span, "node_id"); !ok || v.AsString() != "gate" {
		t.Errorf("node_id attribute = %v, want gate", v.Emit())
	}
	if v, ok := spanAttr(span, "duration_ms"); !ok || v.AsInt64() != 7 {
		t.Errorf("duration_ms attribute = %v, want 7", v.Emit())
	}
	if v, ok := spanAttr(span, "approved"); !ok || v.AsBool() != false {
		t.Errorf("approved attribute = %v, want false", v.Emit())
	}
	if span.Status().Code == codes.Error {
		t.Error("non-error event must not get error status")
	}
}

func TestOTelEmitter_ErrorStatus(t *testing.T) {
	emitter, sr := newRecordedEmitter()

	emitter.Emit(Event{
		RunID: "run-001",
		Msg:   "run_failed",
		Meta:  map[string]any{"error": "node a: kaput"},
	})

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	status := spans[0].Status()
	if status.Code != codes.Error {
		t.Errorf("status = %v, want error", status.Code)
	}
	if status.Description != "node a: kaput" {
		t.Errorf("description = %q, want the error text", status.Description)
	}
}
