// File path: internal/telemetry/metrics.go

// Package telemetry holds the process-wide rolled-up counters, exported
// through OpenTelemetry metrics and snapshotted by the control plane's
// /telemetry route.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Metrics holds the application counters.
type Metrics struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider

	FilesIndexed    metric.Int64Counter
	JobsProcessed   metric.Int64Counter
	JobsFailed      metric.Int64Counter
	CorrelationsRun metric.Int64Counter
	PairsDropped    metric.Int64Counter
	VectorSearches  metric.Int64Counter
	HTTPRequests    metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

var (
	initOnce sync.Once
	shared   *Metrics
	initErr  error
)

// Init builds (once) the process metrics behind a manual reader, so
// Snapshot can collect without an exporter pipeline.
func Init() (*Metrics, error) {
	initOnce.Do(func() {
		reader := sdkmetric.NewManualReader()
		provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		meter := provider.Meter("excavator")

		m := &Metrics{reader: reader, provider: provider}
		counters := []struct {
			dst  *metric.Int64Counter
			name string
			desc string
		}{
			{&m.FilesIndexed, "excavator.files.indexed", "Files fully indexed"},
			{&m.JobsProcessed, "excavator.jobs.processed", "Jobs completed successfully"},
			{&m.JobsFailed, "excavator.jobs.failed", "Jobs completed in failure"},
			{&m.CorrelationsRun, "excavator.correlations.run", "Correlation batches executed"},
			{&m.PairsDropped, "excavator.cooccurrence.pairs_dropped", "Co-occurrence pairs dropped at the hard cap"},
			{&m.VectorSearches, "excavator.vector.searches", "Vector similarity queries served"},
			{&m.HTTPRequests, "excavator.http.requests", "Control-plane requests served"},
		}
		for _, c := range counters {
			counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
			if err != nil {
				initErr = err
				return
			}
			*c.dst = counter
		}
		hist, err := meter.Float64Histogram(
			"excavator.http.request.duration",
			metric.WithDescription("Control-plane request duration in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErr = err
			return
		}
		m.RequestDuration = hist
		shared = m
	})
	return shared, initErr
}

// RecordRequest records one control-plane request.
func (m *Metrics) RecordRequest(ctx context.Context, method, path string, status int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.Int("http.status", status),
	)
	m.HTTPRequests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, seconds, attrs)
}

// Snapshot collects the current counter sums into a flat map.
func (m *Metrics) Snapshot(ctx context.Context) map[string]int64 {
	out := map[string]int64{}
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return out
	}
	for _, scope := range rm.ScopeMetrics {
		for _, met := range scope.Metrics {
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			out[met.Name] = total
		}
	}
	return out
}
