package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/yourusername/ember/pkg/ember/daemon"
)

func TestCollectorReportsCounters(t *testing.T) {
	stats := &daemon.Stats{}
	stats.TotalConnections.Store(5)
	stats.ActiveConnections.Store(2)

	c := NewCollector(stats, "ember")

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := map[string]*dto.MetricFamily{}
	for _, mf := range mfs {
		found[mf.GetName()] = mf
	}
	mf, ok := found["ember_connections_total"]
	if !ok {
		t.Fatal("expected ember_connections_total metric family")
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 5 {
		t.Fatalf("connections_total = %v, want 5", got)
	}
}
