// Package stats tracks aggregate forwarding counters.
package stats

import "sync/atomic"

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests uint64 `json:"total_requests"`
	TotalErrors   uint64 `json:"total_errors"`
	TotalTimeouts uint64 `json:"total_timeouts"`
}

// Tracker holds increment-only counters that are safe for concurrent use.
// The zero value is ready to use.
type Tracker struct {
	requests atomic.Uint64
	errors   atomic.Uint64
	timeouts atomic.Uint64
}

// New creates a Tracker.
func New() *Tracker {
	return &Tracker{}
}

// RecordRequest counts a forwarded call. Every upstream status code counts,
// including 4xx and 5xx.
func (t *Tracker) RecordRequest(_ int) {
	t.requests.Add(1)
}

// RecordError counts a call that failed to reach the upstream.
func (t *Tracker) RecordError() {
	t.errors.Add(1)
}

// RecordTimeout counts a call whose upstream did not answer in time.
func (t *Tracker) RecordTimeout() {
	t.timeouts.Add(1)
}

// Snapshot returns the current counter values.
func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: t.requests.Load(),
		TotalErrors:   t.errors.Load(),
		TotalTimeouts: t.timeouts.Load(),
	}
}
