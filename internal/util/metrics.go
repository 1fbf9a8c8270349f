package util

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_orders_failed_total",
		Help: "Total number of rejected or failed order creations",
	}, []string{"reason"})

	OrdersReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_orders_replayed_total",
		Help: "Order requests answered from an existing idempotency key",
	})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_stock_decrement_latency_seconds",
		Help:    "Latency of conditional stock decrements",
		Buckets: prometheus.DefBuckets,
	})

	StockDecrementsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_stock_decrements_failed_total",
		Help: "Total number of failed stock decrements",
	}, []string{"reason"})

	StockCompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_stock_compensations_total",
		Help: "Compensating stock increments by outcome",
	}, []string{"outcome"})

	ReviewsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_reviews_submitted_total",
		Help: "Total number of accepted reviews",
	})

	ReviewsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_reviews_rejected_total",
		Help: "Total number of rejected reviews",
	}, []string{"reason"})

	RatingsReconciledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_ratings_reconciled_total",
		Help: "Product aggregates re-derived by the rating worker",
	})

	PriceMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_price_mismatch_total",
		Help: "Client-submitted prices that disagree with the server",
	}, []string{"kind"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

// NewMetricsServer serves the default Prometheus registry at /metrics on its own port
func NewMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
