package metrics

import (
	"time"
)

// Recorder provides methods for recording metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordExecutionStarted records an execution starting.
func (r *Recorder) RecordExecutionStarted(strategy string) {
	ExecutionsStarted.WithLabelValues(strategy).Inc()
}

// RecordExecutionCompleted records an execution finishing.
func (r *Recorder) RecordExecutionCompleted(strategy, status string) {
	ExecutionsCompleted.WithLabelValues(strategy, status).Inc()
}

// RecordSlice records a slice disposition (placed, skipped, failed).
func (r *Recorder) RecordSlice(strategy, outcome string) {
	SlicesTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordOrderPlaced records an order submission.
func (r *Recorder) RecordOrderPlaced(product, side string) {
	OrdersPlaced.WithLabelValues(product, side).Inc()
}

// RecordOrderCancelled records a cancel request.
func (r *Recorder) RecordOrderCancelled() {
	OrdersCancelled.Inc()
}

// RecordFill records a fill application. Duplicates are counted separately.
func (r *Recorder) RecordFill(duplicate bool) {
	if duplicate {
		FillsDuplicate.Inc()
		return
	}
	FillsApplied.Inc()
}

// RecordInFlight records the number of orders the monitor is tracking.
func (r *Recorder) RecordInFlight(n int) {
	InFlightOrders.Set(float64(n))
}

// RecordPollCycle records one monitor poll cycle and its batch size.
func (r *Recorder) RecordPollCycle(batch int) {
	PollCycles.Inc()
	if batch > 0 {
		PollBatchSize.Observe(float64(batch))
	}
}

// RecordPushEvent records a fill received over the push feed.
func (r *Recorder) RecordPushEvent() {
	PushEvents.Inc()
}

// RecordAdmissionWait records time spent blocked on the admission controller.
func (r *Recorder) RecordAdmissionWait(d time.Duration) {
	AdmissionWait.Observe(d.Seconds())
}

// RecordExchangeError records a classified exchange failure.
func (r *Recorder) RecordExchangeError(kind string) {
	ExchangeErrors.WithLabelValues(kind).Inc()
}

// RecordFeedStatus records push feed connectivity.
func (r *Recorder) RecordFeedStatus(connected bool) {
	if connected {
		FeedConnected.Set(1)
	} else {
		FeedConnected.Set(0)
	}
}

// RecordHeartbeat records a monitor heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}
