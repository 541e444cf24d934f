// Package metrics registers the prometheus collectors this engine core
// exposes: audit throughput, book resyncs, order rejections, mock-exchange
// fills, and per-exchange connectivity health.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector this core registers.
type Metrics struct {
	AuditRecordsTotal        prometheus.Counter
	AuditRecordsDroppedTotal prometheus.Counter
	BookResyncsTotal         *prometheus.CounterVec
	OrderRejections          *prometheus.CounterVec
	MockExchangeFills        *prometheus.CounterVec
	ExchangeConnected        *prometheus.GaugeVec
}

// New constructs and registers all collectors against reg. Passing a fresh
// prometheus.NewRegistry() keeps tests isolated from the global default
// registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		AuditRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradengine",
			Name:      "audit_records_total",
			Help:      "Total number of audit records emitted by the engine.",
		}),
		AuditRecordsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradengine",
			Name:      "audit_records_dropped_total",
			Help:      "Total number of audit records evicted from the bounded audit channel before a subscriber read them.",
		}),
		BookResyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradengine",
			Name:      "book_resyncs_total",
			Help:      "Total number of order book resynchronisations, by instrument.",
		}, []string{"instrument"}),
		OrderRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradengine",
			Name:      "order_rejections_total",
			Help:      "Total number of order requests rejected, by reason.",
		}, []string{"reason"}),
		MockExchangeFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradengine",
			Name:      "mock_exchange_fills_total",
			Help:      "Total number of fills executed by the mock exchange, by instrument.",
		}, []string{"instrument"}),
		ExchangeConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tradengine",
			Name:      "exchange_connected",
			Help:      "1 if the exchange's feeds are healthy, 0 otherwise.",
		}, []string{"exchange"}),
	}

	reg.MustRegister(
		m.AuditRecordsTotal,
		m.AuditRecordsDroppedTotal,
		m.BookResyncsTotal,
		m.OrderRejections,
		m.MockExchangeFills,
		m.ExchangeConnected,
	)

	return m
}
