package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the counter data point whose attributes
// include every pair in want.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.Emit() != kv.Value.Emit() {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, want)
	return 0
}

// histCount returns the total sample count of a float64 histogram.
func histCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordSynthesis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSynthesis(ctx, "speechify", 120*time.Millisecond, nil)
	m.RecordSynthesis(ctx, "speechify", 80*time.Millisecond, nil)
	m.RecordSynthesis(ctx, "speechify", time.Second, errors.New("boom"))

	rm := collect(t, reader)
	if got := histCount(t, rm, "mangavoice.tts.synthesis.duration"); got != 3 {
		t.Errorf("synthesis samples = %d, want 3", got)
	}
	if got := sumValue(t, rm, "mangavoice.provider.requests",
		Attr("provider", "speechify"), Attr("status", StatusOK)); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumValue(t, rm, "mangavoice.provider.requests",
		Attr("provider", "speechify"), Attr("status", StatusError)); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumValue(t, rm, "mangavoice.provider.errors",
		Attr("provider", "speechify"), Attr("kind", "synthesize")); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "elevenlabs", 3*time.Second, 42*time.Second, nil)
	m.RecordGeneration(ctx, "", time.Second, 0, errors.New("both failed"))

	rm := collect(t, reader)
	if got := histCount(t, rm, "mangavoice.generation.duration"); got != 2 {
		t.Errorf("generation samples = %d, want 2", got)
	}
	if got := histCount(t, rm, "mangavoice.audio.duration"); got != 1 {
		t.Errorf("audio samples = %d, want 1 (failures carry no audio)", got)
	}
}

func TestRecordFallbackAndBreaker(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFallback(ctx, "speechify", "elevenlabs")
	m.RecordFallback(ctx, "speechify", "elevenlabs")
	m.RecordBreakerTransition(ctx, "speechify", "open")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "mangavoice.provider.fallbacks",
		Attr("from", "speechify"), Attr("to", "elevenlabs")); got != 2 {
		t.Errorf("fallbacks = %d, want 2", got)
	}
	if got := sumValue(t, rm, "mangavoice.circuit_breaker.transitions",
		Attr("provider", "speechify"), Attr("to", "open")); got != 1 {
		t.Errorf("transitions = %d, want 1", got)
	}
}

func TestRecordScriptLine(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordScriptLine(ctx, "speechify", "narrator")
	m.RecordScriptLine(ctx, "speechify", "narrator")
	m.RecordScriptLine(ctx, "speechify", "character")

	rm := collect(t, reader)
	if got := sumValue(t, rm, "mangavoice.script.lines", Attr("role", "narrator")); got != 2 {
		t.Errorf("narrator lines = %d, want 2", got)
	}
	if got := sumValue(t, rm, "mangavoice.script.lines", Attr("role", "character")); got != 1 {
		t.Errorf("character lines = %d, want 1", got)
	}
}

func TestActiveGenerationsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveGenerations.Add(ctx, 1)
	m.ActiveGenerations.Add(ctx, 1)
	m.ActiveGenerations.Add(ctx, -1)
	m.FilesCleaned.Add(ctx, 4)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "mangavoice.active_generations"); got != 1 {
		t.Errorf("active generations = %d, want 1", got)
	}
	if got := sumValue(t, rm, "mangavoice.files.cleaned"); got != 4 {
		t.Errorf("files cleaned = %d, want 4", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
