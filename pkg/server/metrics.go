// Copyright 2025 Nanomoni Authors
//
// Metrics for the Issuer/Vendor HTTP APIs: channel lifecycle counters,
// payment outcomes by rejection reason, and a settlement-amount
// histogram, all served at /metrics.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every prometheus collector the Issuer and Vendor
// handlers report to. One Metrics is shared across both services in a
// single-binary deployment, or created once per process otherwise.
type Metrics struct {
	registry *prometheus.Registry

	channelsOpened   prometheus.Counter
	channelsSettled  prometheus.Counter
	paymentsAccepted prometheus.Counter
	paymentsRejected *prometheus.CounterVec
	settlementAmount prometheus.Histogram
}

// NewMetrics creates a fresh set of collectors against their own
// registry, so a process (or a test) can construct more than one Metrics
// without colliding on the global default registerer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		channelsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "channels_opened_total",
			Help: "Total number of payment channels opened by the Issuer.",
		}),
		channelsSettled: factory.NewCounter(prometheus.CounterOpts{
			Name: "channels_settled_total",
			Help: "Total number of payment channels settled by the Issuer.",
		}),
		paymentsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vendor_payments_accepted_total",
			Help: "Total number of payment proofs accepted by the Vendor.",
		}),
		paymentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vendor_payments_rejected_total",
			Help: "Total number of payment proofs rejected by the Vendor, by reason.",
		}, []string{"reason"}),
		settlementAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "channel_settlement_amount",
			Help:    "Distribution of cumulative owed amounts at channel settlement.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),
	}
}

// Handler returns the HTTP handler serving these metrics in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeChannelOpened() {
	m.channelsOpened.Inc()
}

func (m *Metrics) observeChannelSettled(amount int64) {
	m.channelsSettled.Inc()
	m.settlementAmount.Observe(float64(amount))
}

func (m *Metrics) observePaymentAccepted() {
	m.paymentsAccepted.Inc()
}

func (m *Metrics) observePaymentRejected(reason string) {
	m.paymentsRejected.WithLabelValues(reason).Inc()
}
