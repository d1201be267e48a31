package probe

import (
	"testing"

	"klipper-go-migration/pkg/metrics"
)

func TestNewMetricsRecorderRegistersMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	rec, err := NewMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewMetricsRecorder() error = %v", err)
	}
	for _, name := range []string{"probe_sample_mm", "probe_result_mm", "probe_failures_total"} {
		if reg.Get(name) == nil {
			t.Fatalf("registry missing metric %q", name)
		}
	}
	var _ Recorder = rec
}

func TestNewMetricsRecorderDuplicateRegistrationErrors(t *testing.T) {
	reg := metrics.NewRegistry()
	if _, err := NewMetricsRecorder(reg); err != nil {
		t.Fatalf("first NewMetricsRecorder() error = %v", err)
	}
	if _, err := NewMetricsRecorder(reg); err == nil {
		t.Fatalf("second NewMetricsRecorder() on the same registry expected an error")
	}
}

func TestMetricsRecorderRecordSampleObservesHistogram(t *testing.T) {
	reg := metrics.NewRegistry()
	rec, err := NewMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewMetricsRecorder() error = %v", err)
	}

	rec.RecordSample(0.123)
	rec.RecordSample(0.125)

	snap := rec.samples.GetSnapshot(nil)
	if snap.Count != 2 {
		t.Fatalf("samples.Count = %v, want 2", snap.Count)
	}
	if snap.Sum != 0.248 {
		t.Fatalf("samples.Sum = %v, want 0.248", snap.Sum)
	}
}

func TestMetricsRecorderRecordResultSetsGauge(t *testing.T) {
	reg := metrics.NewRegistry()
	rec, err := NewMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewMetricsRecorder() error = %v", err)
	}

	rec.RecordResult(-0.42)
	if got := rec.result.Get(nil); got != -0.42 {
		t.Fatalf("result.Get() = %v, want -0.42", got)
	}

	rec.RecordResult(-0.5)
	if got := rec.result.Get(nil); got != -0.5 {
		t.Fatalf("result.Get() after second RecordResult() = %v, want -0.5 (gauge overwrites)", got)
	}
}

func TestMetricsRecorderRecordFailureIncrementsByReason(t *testing.T) {
	reg := metrics.NewRegistry()
	rec, err := NewMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewMetricsRecorder() error = %v", err)
	}

	rec.RecordFailure("no-trigger")
	rec.RecordFailure("no-trigger")
	rec.RecordFailure("unreachable")

	if got := rec.failures.Get(metrics.Labels{"reason": "no-trigger"}); got != 2 {
		t.Fatalf("failures[no-trigger] = %v, want 2", got)
	}
	if got := rec.failures.Get(metrics.Labels{"reason": "unreachable"}); got != 1 {
		t.Fatalf("failures[unreachable] = %v, want 1", got)
	}
}
