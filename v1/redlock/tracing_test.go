package redlock

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingRecordsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, configs := newStores(t, 1)
	c := newCoordinator(t, newPool(t, configs), WithTracing())
	ctx := context.Background()
	lock, ok, err := c.Acquire(ctx, "pants", time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok %v err %v", ok, err)
	}
	if err := c.Release(ctx, lock); err != nil {
		t.Fatalf("release: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "Redlock.Acquire" || spans[1].Name() != "Redlock.Release" {
		t.Fatalf("unexpected span names %q %q", spans[0].Name(), spans[1].Name())
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == attribute.Key("redlock.acquired") && kv.Value.AsBool() {
			found = true
		}
	}
	if !found {
		t.Fatal("acquire span lacks redlock.acquired=true")
	}
}
