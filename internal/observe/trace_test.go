package observe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordSpans installs an in-memory tracer provider globally for the test.
func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := recordSpans(t)

	ctx, span := StartSpan(context.Background(), "narration.generate")
	id := TraceID(ctx)
	span.End()

	if len(id) != 32 {
		t.Errorf("TraceID = %q, want 32 hex characters", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "narration.generate" {
		t.Fatalf("spans = %v", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != scope {
		t.Errorf("scope = %q, want %q", got, scope)
	}
}

func TestTraceID_NoSpan(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID = %q, want empty", got)
	}
}

func TestEndSpan(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvent  string
	}{
		{name: "success", err: nil, wantStatus: codes.Unset},
		{name: "provider failure", err: errors.New("speechify: unauthorized"), wantStatus: codes.Error, wantEvent: "exception"},
		{name: "caller cancelled", err: fmt.Errorf("narration: generate: %w", context.Canceled), wantStatus: codes.Unset, wantEvent: "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := recordSpans(t)
			_, span := StartSpan(context.Background(), tt.name)
			EndSpan(span, tt.err)

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			s := spans[0]
			if s.Status.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", s.Status.Code, tt.wantStatus)
			}
			switch {
			case tt.wantEvent == "" && len(s.Events) != 0:
				t.Errorf("events = %v, want none", s.Events)
			case tt.wantEvent != "" && (len(s.Events) != 1 || s.Events[0].Name != tt.wantEvent):
				t.Errorf("events = %v, want one %q", s.Events, tt.wantEvent)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	recordSpans(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	ctx, span := StartSpan(context.Background(), "op")
	defer span.End()
	Logger(ctx).Info("traced")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("log lines = %d, want 2:\n%s", len(lines), buf)
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("untraced line carries trace_id: %s", lines[0])
	}
	if !strings.Contains(lines[1], "trace_id="+TraceID(ctx)) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("traced line missing ids: %s", lines[1])
	}
}
