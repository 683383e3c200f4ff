package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "settlement"

// Metrics holds the service collectors on a private registry so tests can
// build as many instances as they like. All methods are safe on a nil
// receiver.
type Metrics struct {
	registry         *prometheus.Registry
	cartMutations    *prometheus.CounterVec
	checkouts        *prometheus.CounterVec
	checkoutDuration *prometheus.HistogramVec
	callbacks        *prometheus.CounterVec
	events           *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cartMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Cart mutations by operation and result.",
		}, []string{"op", "result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by payment method and outcome.",
		}, []string{"method", "outcome"}),
		checkoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_duration_seconds",
			Help:      "Checkout latency by payment method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Settlement callbacks by reconciliation outcome.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Order events handed to publishers by sink and result.",
		}, []string{"sink", "result"}),
	}

	m.registry.MustRegister(
		m.cartMutations, m.checkouts, m.checkoutDuration, m.callbacks, m.events,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CartMutation(op string, err error) {
	if m == nil {
		return
	}
	m.cartMutations.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Checkout(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(method, outcome).Inc()
	m.checkoutDuration.WithLabelValues(method).Observe(seconds)
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublished(sink string, err error) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(sink, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
