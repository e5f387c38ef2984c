package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

type fixedTransport transport.Stats

func (f fixedTransport) Stats() transport.Stats { return transport.Stats(f) }

type fixedExecutor multireq.ExecutorStats

func (f fixedExecutor) Stats() multireq.ExecutorStats { return multireq.ExecutorStats(f) }

func gather(t *testing.T, c *Collector) map[string]float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	values := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "{" + l.GetName() + "=" + l.GetValue() + "}"
			}
			switch {
			case m.GetCounter() != nil:
				values[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[key] = m.GetGauge().GetValue()
			}
		}
	}
	return values
}

func TestCollector(t *testing.T) {
	c := NewCollector(
		WithTransport("http", fixedTransport{Transfers: 10, Errors: 2, Throttled: 3}),
		WithTransport("fasthttp", fixedTransport{Transfers: 1}),
		WithExecutor(fixedExecutor{Batches: 4, Completed: 9, Failed: 2, MaxInFlight: 6}),
	)
	got := gather(t, c)

	want := map[string]float64{
		"multireq_transport_transfers_total{transport=http}":     10,
		"multireq_transport_errors_total{transport=http}":        2,
		"multireq_transport_throttled_total{transport=http}":     3,
		"multireq_transport_transfers_total{transport=fasthttp}": 1,
		"multireq_executor_batches_total":                        4,
		"multireq_executor_completed_total":                      9,
		"multireq_executor_failed_total":                         2,
		"multireq_executor_max_in_flight":                        6,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
}

func TestCollectorWithoutExecutor(t *testing.T) {
	got := gather(t, NewCollector(WithNamespace("batch"), WithTransport("http", fixedTransport{})))
	if _, ok := got["batch_transport_transfers_total{transport=http}"]; !ok {
		t.Fatalf("expected namespaced transport metrics, got %v", got)
	}
	for k := range got {
		if strings.Contains(k, "executor") {
			t.Fatalf("unexpected executor metric %s", k)
		}
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multireq.prom")
	c := NewCollector(WithTransport("http", transport.NewHTTP()), WithExecutor(multireq.NewExecutor()))
	if err := WriteFile(path, c); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `multireq_transport_transfers_total{transport="http"} 0`) {
		t.Fatalf("unexpected exposition:\n%s", data)
	}
}
