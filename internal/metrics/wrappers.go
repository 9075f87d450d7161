package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Gauge wraps prometheus.Gauge for per-run values labelled with const labels
type Gauge struct {
	gauge      prometheus.Gauge
	registered bool
}

// NewGauge creates a new gauge metric
func NewGauge(name, help string, labels map[string]string) *Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	// Try to register, but ignore AlreadyRegisteredError
	if err := prometheus.Register(gauge); err != nil {
		// If already registered, try to get the existing one
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return &Gauge{gauge: existing, registered: true}
			}
		}
		// For other errors, continue with unregistered gauge
		return &Gauge{gauge: gauge}
	}
	return &Gauge{gauge: gauge, registered: true}
}

// Set sets the gauge to the given value
func (g *Gauge) Set(v float64) {
	g.gauge.Set(v)
}

// Value returns the current value
func (g *Gauge) Value() float64 {
	return readGauge(g.gauge)
}

// Unregister removes the gauge from the default registry
func (g *Gauge) Unregister() {
	if g.registered {
		prometheus.Unregister(g.gauge)
		g.registered = false
	}
}

// Counter wraps prometheus.Counter
type Counter struct {
	counter    prometheus.Counter
	registered bool
}

// NewCounter creates a new counter metric
func NewCounter(name, help string, labels map[string]string) *Counter {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	if err := prometheus.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return &Counter{counter: existing, registered: true}
			}
		}
		return &Counter{counter: counter}
	}
	return &Counter{counter: counter, registered: true}
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.counter.Inc()
}

// Add adds the given value to the counter
func (c *Counter) Add(v float64) {
	c.counter.Add(v)
}

// Unregister removes the counter from the default registry
func (c *Counter) Unregister() {
	if c.registered {
		prometheus.Unregister(c.counter)
		c.registered = false
	}
}
