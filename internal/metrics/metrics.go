// Package metrics defines prometheus collectors for the execution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "algoexec_executions_started_total",
		Help: "Executions started, by strategy.",
	}, []string{"strategy"})

	ExecutionsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "algoexec_executions_completed_total",
		Help: "Executions finished, by strategy and final status.",
	}, []string{"strategy", "status"})

	SlicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "algoexec_slices_total",
		Help: "Slice dispositions, by strategy and outcome (placed, skipped, failed).",
	}, []string{"strategy", "outcome"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "algoexec_orders_placed_total",
		Help: "Orders submitted to the exchange, by product and side.",
	}, []string{"product", "side"})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "algoexec_orders_cancelled_total",
		Help: "Cancel requests sent to the exchange.",
	})

	FillsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "algoexec_fills_applied_total",
		Help: "Fills applied to execution state.",
	})

	FillsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "algoexec_fills_duplicate_total",
		Help: "Fills discarded because their fill ID was already applied.",
	})

	InFlightOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "algoexec_inflight_orders",
		Help: "Orders currently tracked by the fill monitor.",
	})

	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "algoexec_poll_cycles_total",
		Help: "Fill monitor poll cycles completed.",
	})

	PollBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "algoexec_poll_batch_size",
		Help:    "Order IDs per status poll request.",
		Buckets: []float64{1, 2, 5, 10, 25, 50},
	})

	PushEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "algoexec_push_events_total",
		Help: "Fill events received from the push feed.",
	})

	AdmissionWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "algoexec_admission_wait_seconds",
		Help:    "Time spent waiting for admission tokens.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "algoexec_exchange_errors_total",
		Help: "Exchange call failures, by classification.",
	}, []string{"kind"})

	FeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "algoexec_feed_connected",
		Help: "1 when the push feed is connected and fresh, 0 otherwise.",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "algoexec_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last monitor heartbeat.",
	})
)
