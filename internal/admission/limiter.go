// Package admission gates outbound exchange calls behind a token bucket.
//
// Every component that talks to the exchange acquires tokens here first, so
// the whole process shares one request budget. Acquire blocks until capacity
// is available or the context is cancelled; it never fails because the
// bucket is empty.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"algoexec/internal/metrics"
)

// Default budget: 25 requests/second with a burst of 50.
const (
	DefaultRequestsPerSecond = 25
	DefaultBurst             = 50
)

// Controller is a shared token-bucket admission controller.
type Controller struct {
	limiter *rate.Limiter
	rec     *metrics.Recorder
	logger  *slog.Logger
}

// New creates a Controller refilling at rps tokens per second with the given
// burst capacity. Non-positive arguments fall back to the defaults.
func New(rps float64, burst int, rec *metrics.Recorder, logger *slog.Logger) *Controller {
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rec:     rec,
		logger:  logger,
	}
}

// Acquire blocks until cost tokens are available or ctx is done. The only
// error it returns is the context's.
func (c *Controller) Acquire(ctx context.Context, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	if cost > c.limiter.Burst() {
		return fmt.Errorf("admission cost %d exceeds burst %d", cost, c.limiter.Burst())
	}

	start := time.Now()
	if err := c.limiter.WaitN(ctx, cost); err != nil {
		return fmt.Errorf("admission wait: %w", err)
	}

	waited := time.Since(start)
	if c.rec != nil {
		c.rec.RecordAdmissionWait(waited)
	}
	if waited > 500*time.Millisecond {
		c.logger.Debug("admission throttled", "cost", cost, "waited", waited)
	}
	return nil
}

// Burst returns the bucket capacity.
func (c *Controller) Burst() int {
	return c.limiter.Burst()
}
