// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modmarket_purchases_completed_total",
		Help: "Total number of purchase rows created",
	})

	PurchasesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modmarket_purchases_duplicate_total",
		Help: "Total number of fulfilment requests for an already recorded purchase",
	})

	PurchaseItemsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modmarket_purchase_items_skipped_total",
		Help: "Total number of requested items skipped during fulfilment",
	}, []string{"reason"})

	PaymentConfirmFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modmarket_payment_confirm_failed_total",
		Help: "Total number of payments that could not be confirmed",
	}, []string{"reason"})

	RevenueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modmarket_revenue_total",
		Help: "Sum of prices paid for newly created purchases",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modmarket_notifications_sent_total",
		Help: "Total number of notification deliveries by outcome",
	}, []string{"outcome"})

	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modmarket_logins_total",
		Help: "Total number of login attempts by method and outcome",
	}, []string{"method", "outcome"})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modmarket_downloads_total",
		Help: "Total number of authorized downloads",
	})

	CacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modmarket_cache_requests_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})
)
