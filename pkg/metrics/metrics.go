package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MessagesProcessed counts inbound messages by type and response status.
var MessagesProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pincex_messages_processed_total",
		Help: "Total number of inbound messages processed by the engine",
	},
	[]string{"type", "status"},
)

// OrdersProcessed counts orders by type and final status.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pincex_orders_processed_total",
		Help: "Total number of orders processed by the engine",
	},
	[]string{"type", "status"},
)

// MessageLatency records the time from dequeue to response.
var MessageLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pincex_message_processing_latency_seconds",
		Help:    "Latency in seconds to process one inbound message",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
	},
	[]string{"type"},
)

// Trades counts executed trades per asset pair.
var Trades = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pincex_trades_total",
		Help: "Total number of trades executed",
	},
	[]string{"asset_pair"},
)

// Engine health
var (
	PersistenceFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pincex_persistence_failures_total",
			Help: "Number of messages whose result could not be saved",
		},
	)

	PublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pincex_publish_failures_total",
			Help: "Number of execution events that could not be published",
		},
	)

	BusinessQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pincex_business_queue_depth",
			Help: "Messages waiting for the business goroutine",
		},
	)

	StopOrdersTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pincex_stop_orders_triggered_total",
			Help: "Number of stop orders executed by trigger processing",
		},
	)

	SequenceNumber = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pincex_sequence_number",
			Help: "Last confirmed sequence number",
		},
	)
)

func init() {
	prometheus.MustRegister(MessagesProcessed, OrdersProcessed, MessageLatency, Trades)
	prometheus.MustRegister(PersistenceFailures, PublishFailures, BusinessQueueDepth, StopOrdersTriggered, SequenceNumber)
}
