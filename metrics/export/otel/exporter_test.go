package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fleetyard/fleetauth"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot fleetauth.MetricsSnapshot
	dropped  map[string]uint64
}

func (f *fakeSource) MetricsSnapshot() fleetauth.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := fleetauth.MetricsSnapshot{
		Counters:      make(map[fleetauth.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[fleetauth.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[fleetauth.MetricID]time.Duration, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), buckets...)
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) AuditDropped() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.dropped))
	for k, v := range f.dropped {
		out[k] = v
	}
	return out
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterCollectsValues(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{fleetauth.MetricLoginSuccess: 3},
			Histograms: map[fleetauth.MetricID][]uint64{
				fleetauth.MetricValidateLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[fleetauth.MetricID]time.Duration{
				fleetauth.MetricValidateLatency: 250 * time.Millisecond,
			},
		},
		dropped: map[string]uint64{"signup": 1, "login": 4},
	}

	exp, err := NewExporterFromSource(provider.Meter("fleetauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	data := collect(t, reader)

	login, ok := data["fleetauth_login_success_total"].(metricdata.Sum[int64])
	if !ok || login.DataPoints[0].Value != 3 {
		t.Fatalf("expected login_success of 3, got %#v", data["fleetauth_login_success_total"])
	}
	count, ok := data["fleetauth_validate_latency_seconds_count"].(metricdata.Gauge[int64])
	if !ok || count.DataPoints[0].Value != 8 {
		t.Fatalf("expected histogram count of 8, got %#v", data["fleetauth_validate_latency_seconds_count"])
	}
	bucket, ok := data["fleetauth_validate_latency_seconds_bucket_le_0_025"].(metricdata.Gauge[int64])
	if !ok || bucket.DataPoints[0].Value != 3 {
		t.Fatalf("expected cumulative 0.025 bucket of 3, got %#v", data["fleetauth_validate_latency_seconds_bucket_le_0_025"])
	}
	sum, ok := data["fleetauth_validate_latency_seconds_sum"].(metricdata.Gauge[float64])
	if !ok || sum.DataPoints[0].Value != 0.25 {
		t.Fatalf("expected sum of 0.25, got %#v", data["fleetauth_validate_latency_seconds_sum"])
	}
	dropped, ok := data["fleetauth_audit_dropped_total"].(metricdata.Sum[int64])
	if !ok || len(dropped.DataPoints) != 2 {
		t.Fatalf("expected one audit dropped point per event, got %#v", data["fleetauth_audit_dropped_total"])
	}
	byEvent := map[string]int64{}
	for _, dp := range dropped.DataPoints {
		event, _ := dp.Attributes.Value(attribute.Key("event"))
		byEvent[event.AsString()] = dp.Value
	}
	if byEvent["signup"] != 1 || byEvent["login"] != 4 {
		t.Fatalf("unexpected audit drops by event %v", byEvent)
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporterFromSource(provider.Meter("fleetauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
	if _, err := NewExporter(provider.Meter("fleetauth-test"), nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: fleetauth.MetricsSnapshot{
			Counters: map[fleetauth.MetricID]uint64{fleetauth.MetricLoginSuccess: 1},
		},
	}

	exp, err := NewExporterFromSource(provider.Meter("fleetauth-test"), src)
	if err != nil {
		t.Fatalf("NewExporterFromSource: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[fleetauth.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
