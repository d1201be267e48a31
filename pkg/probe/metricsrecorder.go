package probe

import "klipper-go-migration/pkg/metrics"

// MetricsRecorder implements Recorder over pkg/metrics, recording a
// probe cycle's per-sample spread, final result, and failure counts in
// the given metrics.Registry, whose Gather renders them in Prometheus
// text format. This module serves no /metrics HTTP endpoint itself.
type MetricsRecorder struct {
	samples  *metrics.Histogram
	result   *metrics.Gauge
	failures *metrics.Counter
}

// NewMetricsRecorder registers probe_sample_mm/probe_result_mm/
// probe_failures_total against the given registry and returns a
// Recorder backed by them.
func NewMetricsRecorder(reg *metrics.Registry) (*MetricsRecorder, error) {
	samples := metrics.NewHistogram("probe_sample_mm", "Individual raw Z probe sample heights", metrics.LinearBuckets(-2, 0.2, 20))
	result := metrics.NewGauge("probe_result_mm", "Most recent aggregated probe result height")
	failures := metrics.NewCounter("probe_failures_total", "Probe cycle failures by reason")

	for _, m := range []metrics.Metric{samples, result, failures} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return &MetricsRecorder{samples: samples, result: result, failures: failures}, nil
}

func (m *MetricsRecorder) RecordSample(z float64) {
	m.samples.Observe(nil, z)
}

func (m *MetricsRecorder) RecordResult(z float64) {
	m.result.Set(nil, z)
}

func (m *MetricsRecorder) RecordFailure(reason string) {
	m.failures.Inc(metrics.Labels{"reason": reason})
}

var _ Recorder = (*MetricsRecorder)(nil)
