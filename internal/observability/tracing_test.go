package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestFailSpanMarksErrorOnce(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "experiment.run")
	FailSpan(span, nil, "ignored")
	FailSpan(span, errors.New("boom"), "experiment failed")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	st := ended[0].Status()
	if st.Code != codes.Error || st.Description != "experiment failed" {
		t.Fatalf("status = %+v", st)
	}
	if n := len(ended[0].Events()); n != 1 {
		t.Fatalf("recorded events = %d, want 1 error event", n)
	}
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := tracingConfigFrom(func(string) string { return "" })
	if cfg.Enabled || cfg.Exporter != "stdout" || cfg.ServiceName != "leafsim" || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}

	env := map[string]string{"LEAF_TRACING_SAMPLE_RATIO": "0.25", "LEAF_TRACING_SERVICE_NAME": "city"}
	cfg = tracingConfigFrom(func(k string) string { return env[k] })
	if cfg.SampleRatio != 0.25 || cfg.ServiceName != "city" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestInitTracingDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a sampled span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
