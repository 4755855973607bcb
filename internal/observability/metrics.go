package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SlotsAdmitted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_marketplace", Name: "slots_admitted_total", Help: "Total assignment slots admitted"})
	SlotsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freight_marketplace", Name: "slots_rejected_total", Help: "Total assignment attempts rejected, by reason"},
		[]string{"reason"},
	)
	QuotesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "freight_marketplace", Name: "price_quotes_total", Help: "Total visible-price computations served"})
	AnttLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freight_marketplace", Name: "antt_lookups_total", Help: "ANTT minimum-price table lookups, by outcome"},
		[]string{"outcome"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "freight_marketplace", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "freight_marketplace",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
