// Package metrics holds the relay's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qqrelay"

// Metrics groups all instruments. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	Deliveries      *prometheus.CounterVec
	TierAttempts    *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec
	PendingWakes    prometheus.Gauge
	GatewayEvents   *prometheus.CounterVec
	GatewayState    prometheus.Gauge
	Reconnects      prometheus.Counter
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Delivery outcomes by status and tier.",
		}, []string{"status", "tier"}),
		TierAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Delivery tier attempts by tier and result.",
		}, []string{"tier", "result"}),
		DeliveryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_ms",
			Help:      "Time spent in Deliver in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 15000},
		}, []string{"status"}),
		PendingWakes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_wakes",
			Help:      "Deliveries parked behind a wake prompt.",
		}),
		GatewayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_events_total",
			Help:      "Gateway dispatches by event type.",
		}, []string{"type"}),
		GatewayState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_state",
			Help:      "Current gateway session state as its numeric value.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_reconnects_total",
			Help:      "Gateway reconnect attempts.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveDelivery(status, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(status, tier).Inc()
	m.DeliveryLatency.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTier(tier, result string) {
	if m == nil {
		return
	}
	m.TierAttempts.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingWakes.Set(float64(n))
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.GatewayEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetGatewayState(state int) {
	if m == nil {
		return
	}
	m.GatewayState.Set(float64(state))
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}
