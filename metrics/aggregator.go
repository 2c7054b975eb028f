// Package metrics is the single aggregation point for counters shared by all
// workers. Every mutation goes through the Aggregator; no other component
// touches the raw counters.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is a consistent view of all counters at one instant. Counters are
// monotonic, so successive snapshots are non-decreasing in every field.
type Snapshot struct {
	Connected    uint64
	Disconnected uint64
	Errors       uint64
	Messages     uint64

	// StartTime is set once, when the aggregator observes its first counter
	// change. It stays zero until then.
	StartTime time.Time
}

// Started reports whether any activity has been recorded yet.
func (s Snapshot) Started() bool {
	return !s.StartTime.IsZero()
}

// Aggregator owns the shared counters. A single mutex guards all of them so
// that increments are linearizable and a Snapshot can never observe a torn
// state across counters.
type Aggregator struct {
	lock sync.Mutex
	snap Snapshot
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordConnect counts a connection that was successfully established.
func (a *Aggregator) RecordConnect() {
	a.lock.Lock()
	a.touchLocked()
	a.snap.Connected++
	a.lock.Unlock()
}

// RecordDisconnect counts the end of a previously-established connection.
// It is never called for attempts that failed before connecting.
func (a *Aggregator) RecordDisconnect() {
	a.lock.Lock()
	a.touchLocked()
	a.snap.Disconnected++
	a.lock.Unlock()
}

// RecordError counts a failed connection attempt or an abnormal closure.
func (a *Aggregator) RecordError() {
	a.lock.Lock()
	a.touchLocked()
	a.snap.Errors++
	a.lock.Unlock()
}

// RecordMessage counts one received message.
func (a *Aggregator) RecordMessage() {
	a.lock.Lock()
	a.touchLocked()
	a.snap.Messages++
	a.lock.Unlock()
}

// Snapshot returns a consistent copy of all counters.
func (a *Aggregator) Snapshot() Snapshot {
	a.lock.Lock()
	ret := a.snap
	a.lock.Unlock()
	return ret
}

func (a *Aggregator) touchLocked() {
	if a.snap.StartTime.IsZero() {
		a.snap.StartTime = time.Now()
	}
}
