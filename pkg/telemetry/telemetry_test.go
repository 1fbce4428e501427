package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, &Config{Enabled: false})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if shutdown == nil {
		t.Fatal("Expected shutdown function to be non-nil")
	}
	if Enabled() {
		t.Error("Expected Enabled() to return false")
	}
	if err := shutdown(ctx); err != nil {
		t.Errorf("Expected no error on shutdown, got %v", err)
	}
}

func TestStartSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, parent := StartSpan(context.Background(), "sizemap.analyze", attribute.String("artifact.name", "app"))
	_, child := StartSpan(ctx, "sizemap.extract")
	EndSpan(child, errors.New("truncated"))
	EndSpan(parent, nil)

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "sizemap.extract" || spans[0].Status().Code != codes.Error {
		t.Errorf("unexpected child span: %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("child span is not parented to the analyze span")
	}
	if spans[1].Status().Code == codes.Error {
		t.Error("parent span should not be marked as failed")
	}
	if got := spans[1].InstrumentationScope().Name; got != InstrumentationName {
		t.Errorf("scope = %q", got)
	}
}
