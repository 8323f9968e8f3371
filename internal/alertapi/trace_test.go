package alertapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHandleIngestAlert_RecordsSpanAttributes(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	env := newTestEnv(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "http.request")
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", strings.NewReader(intakeBody))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	span.End()

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body: %s)", rec.Code, rec.Body.String())
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	attrs := make(map[string]any)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["sentinel.alert.aibox_id"] != "A1" {
		t.Errorf("sentinel.alert.aibox_id = %v, want A1", attrs["sentinel.alert.aibox_id"])
	}
	if _, ok := attrs["sentinel.alert.id"]; !ok {
		t.Error("sentinel.alert.id attribute missing")
	}
}
