// Package metrics carries the ambient per-connection instrumentation every
// production Kafka client of this shape accumulates. It is grounded on the
// teacher's own use of github.com/rcrowley/go-metrics (imported by
// consumer.go for exactly this purpose) and bridged to Prometheus the way
// scalytics-kafscale's broker and operator binaries expose metrics, so a
// host application that already runs a Prometheus registry can adopt this
// client without standing up a second exposition mechanism.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry owns one go-metrics registry per ClientCore instance, keyed by
// broker address, following the teacher's pattern of a metric name per
// resource ("client/brokers registered new broker #%d at %s") rather than
// a single global registry shared across unrelated clients.
type Registry struct {
	reg gometrics.Registry

	mu     sync.Mutex
	connections map[string]gometrics.Gauge
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		reg:         gometrics.NewRegistry(),
		connections: make(map[string]gometrics.Gauge),
	}
}

func (r *Registry) counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, r.reg)
}

func (r *Registry) timer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, r.reg)
}

// BytesRead/BytesWritten track raw socket traffic for one broker address.
func (r *Registry) BytesRead(addr string, n int) {
	r.counter(fmt.Sprintf("broker.%s.bytes-read", addr)).Inc(int64(n))
}

func (r *Registry) BytesWritten(addr string, n int) {
	r.counter(fmt.Sprintf("broker.%s.bytes-written", addr)).Inc(int64(n))
}

// RequestLatency records how long a round trip to addr took, for the
// request-latency histogram/timer named in the DOMAIN STACK section of
// SPEC_FULL.md.
func (r *Registry) RequestLatency(addr string, d time.Duration) {
	r.timer(fmt.Sprintf("broker.%s.request-latency", addr)).Update(d)
}

// SetInflight records the current number of outstanding requests on addr's
// connection, as a gauge.
func (r *Registry) SetInflight(addr string, n int) {
	r.mu.Lock()
	g, ok := r.connections[addr]
	if !ok {
		g = gometrics.GetOrRegisterGauge(fmt.Sprintf("broker.%s.inflight", addr), r.reg)
		r.connections[addr] = g
	}
	r.mu.Unlock()
	g.Update(int64(n))
}

// Collector adapts this registry to prometheus.Collector so it can be
// registered directly with a prometheus.Registerer, mirroring how
// scalytics-kafscale exposes broker-side metrics.
func (r *Registry) Collector() prometheus.Collector {
	return &collector{r: r}
}

type collector struct{ r *Registry }

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	// Metric set is dynamic (one series per broker address that has ever
	// connected), so descriptors are only emitted by Collect, as
	// prometheus.Collector permits for unchecked collectors.
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.r.reg.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.CounterValue, float64(m.Count()))
		case gometrics.Gauge:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.GaugeValue, float64(m.Value()))
		case gometrics.Timer:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.GaugeValue, m.Mean())
		}
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name)+len("kcore_"))
	out = append(out, []rune("kcore_")...)
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
