// Package metrics exports transport and executor counters as Prometheus
// metrics.
package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"

	multireq "github.com/egorkaBurkenya/multireq-go"
	"github.com/egorkaBurkenya/multireq-go/transport"
)

const defaultNamespace = "multireq"

// Option configures a Collector.
type Option func(*Collector)

// WithNamespace sets the metric name prefix. Defaults to "multireq".
func WithNamespace(ns string) Option {
	return func(c *Collector) { c.namespace = ns }
}

// WithTransport adds a transport whose counters are exported under the
// "transport" label value name.
func WithTransport(name string, p transport.StatsProvider) Option {
	return func(c *Collector) { c.transports[name] = p }
}

// WithExecutor exports the counters of an executor.
func WithExecutor(p multireq.ExecutorStatsProvider) Option {
	return func(c *Collector) { c.executor = p }
}

// Collector reads counters on every scrape; it keeps no state of its own.
type Collector struct {
	namespace  string
	transports map[string]transport.StatsProvider
	executor   multireq.ExecutorStatsProvider

	transfers *prometheus.Desc
	errors    *prometheus.Desc
	throttled *prometheus.Desc

	batches     *prometheus.Desc
	completed   *prometheus.Desc
	failed      *prometheus.Desc
	maxInFlight *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a Collector. Register it with a prometheus.Registerer.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		namespace:  defaultNamespace,
		transports: make(map[string]transport.StatsProvider),
	}
	for _, o := range opts {
		o(c)
	}

	label := []string{"transport"}
	c.transfers = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "transport", "transfers_total"),
		"Transfers started by the transport.", label, nil)
	c.errors = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "transport", "errors_total"),
		"Transfers that ended with a transport error.", label, nil)
	c.throttled = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "transport", "throttled_total"),
		"Transfers delayed by the rate limiter.", label, nil)

	c.batches = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "executor", "batches_total"),
		"Execute calls that ran at least one request.", nil, nil)
	c.completed = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "executor", "completed_total"),
		"Requests completed by the executor.", nil, nil)
	c.failed = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "executor", "failed_total"),
		"Completed requests whose response has an error.", nil, nil)
	c.maxInFlight = prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "executor", "max_in_flight"),
		"Highest number of transfers in flight at once.", nil, nil)
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.transfers
	ch <- c.errors
	ch <- c.throttled
	ch <- c.batches
	ch <- c.completed
	ch <- c.failed
	ch <- c.maxInFlight
}

// Collect implements prometheus.Collector. Counters are read from the
// providers on every scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	names := make([]string, 0, len(c.transports))
	for name := range c.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := c.transports[name].Stats()
		ch <- prometheus.MustNewConstMetric(c.transfers, prometheus.CounterValue, float64(st.Transfers), name)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(st.Errors), name)
		ch <- prometheus.MustNewConstMetric(c.throttled, prometheus.CounterValue, float64(st.Throttled), name)
	}

	if c.executor == nil {
		return
	}
	st := c.executor.Stats()
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(st.Batches))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(st.Completed))
	ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(st.Failed))
	ch <- prometheus.MustNewConstMetric(c.maxInFlight, prometheus.GaugeValue, float64(st.MaxInFlight))
}

// WriteFile registers c with a fresh registry and writes its metrics to
// path in the text exposition format.
func WriteFile(path string, c *Collector) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
