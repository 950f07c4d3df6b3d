package graph

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue(), true
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue(), true
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestPrometheusMetricsGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.UpdateInflightNodes(3)
	pm.UpdateQueueDepth(7)

	if v, ok := gatherValue(t, reg, "iceos_inflight_nodes"); !ok || v != 3 {
		t.Errorf("iceos_inflight_nodes = (%f, %v), want 3", v, ok)
	}
	if v, ok := gatherValue(t, reg, "iceos_queue_depth"); !ok || v != 7 {
		t.Errorf("iceos_queue_depth = (%f, %v), want 7", v, ok)
	}
}

func TestPrometheusMetricsStepLatencyAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.RecordStepLatency("run-1", "nodeA", 25*time.Millisecond, "success")
	pm.IncrementRetries("run-1", "nodeA", "transient")
	pm.IncrementRetries("run-1", "nodeA", "transient")
	pm.IncrementBackpressure("run-1", "queue_full")

	if v, ok := gatherValue(t, reg, "iceos_step_latency_ms"); !ok || v != 1 {
		t.Errorf("step latency sample count = (%f, %v), want 1", v, ok)
	}
	if v, ok := gatherValue(t, reg, "iceos_retries_total"); !ok || v != 2 {
		t.Errorf("iceos_retries_total = (%f, %v), want 2", v, ok)
	}
	if v, ok := gatherValue(t, reg, "iceos_backpressure_events_total"); !ok || v != 1 {
		t.Errorf("iceos_backpressure_total = (%f, %v), want 1", v, ok)
	}
}

func TestPrometheusMetricsDisable(t *testing.T) {
	reg := prometheus.NewRegistry()
	pm := NewPrometheusMetrics(reg)

	pm.Disable()
	pm.UpdateQueueDepth(9)
	if v, _ := gatherValue(t, reg, "iceos_queue_depth"); v != 0 {
		t.Errorf("disabled metrics recorded queue depth %f", v)
	}

	pm.Enable()
	pm.UpdateQueueDepth(4)
	if v, _ := gatherValue(t, reg, "iceos_queue_depth"); v != 4 {
		t.Errorf("re-enabled metrics queue depth = %f, want 4", v)
	}
}
