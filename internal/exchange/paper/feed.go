package paper

import (
	"sync"
	"time"

	"algoexec/internal/exchange"
	"algoexec/internal/types"
)

// Feed is an in-process push feed fed by the paper exchange.
type Feed struct {
	mu        sync.Mutex
	handlers  []exchange.FillHandler
	heartbeat time.Time
}

// NewFeed creates a feed with a fresh heartbeat.
func NewFeed() *Feed {
	return &Feed{heartbeat: time.Now()}
}

// SubscribeFills implements exchange.Feed.
func (f *Feed) SubscribeFills(h exchange.FillHandler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

// LastHeartbeat implements exchange.Feed.
func (f *Feed) LastHeartbeat() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeat
}

// Beat refreshes the heartbeat without delivering an event.
func (f *Feed) Beat() {
	f.mu.Lock()
	f.heartbeat = time.Now()
	f.mu.Unlock()
}

// SetHeartbeat pins the heartbeat to a specific time, for staleness tests.
func (f *Feed) SetHeartbeat(t time.Time) {
	f.mu.Lock()
	f.heartbeat = t
	f.mu.Unlock()
}

func (f *Feed) publish(fill types.Fill) {
	f.mu.Lock()
	f.heartbeat = time.Now()
	handlers := make([]exchange.FillHandler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	for _, h := range handlers {
		h(fill)
	}
}

var _ exchange.Feed = (*Feed)(nil)
