package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	OrdersDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_delivered_total",
		Help: "Total number of orders confirmed as delivered",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order status transitions by target status",
	}, []string{"status"})

	OrderTransitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_rejected_total",
		Help: "Rejected order status changes by reason",
	}, []string{"reason"})

	OrderVersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_version_conflicts_total",
		Help: "Writes rejected because the order changed concurrently",
	})

	DeliveryAssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_assignments_total",
		Help: "Delivery assignments by availability of the assignee",
	}, []string{"availability"})

	OtpVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verifications_total",
		Help: "Delivery OTP verification attempts by result",
	}, []string{"result"})

	InventorySyncFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_sync_failures_total",
		Help: "Inventory adjustments that could not be settled",
	}, []string{"kind"})

	InventoryAdjustmentsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_adjustments_pending",
		Help: "Inventory adjustments waiting to be settled",
	})

	InventorySettleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_settle_latency_seconds",
		Help:    "Latency of inventory adjustment settlement",
		Buckets: prometheus.DefBuckets,
	})

	StatsUpdateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stats_update_failures_total",
		Help: "Seller and delivery person counter updates that failed",
	}, []string{"target"})

	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_publish_failures_total",
		Help: "Domain events or notifications that could not be published",
	}, []string{"channel"})

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
