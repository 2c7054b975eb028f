package harness

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ctstream/stream-stress/logging"
	"github.com/ctstream/stream-stress/metrics"
)

// Snapshotter provides consistent metric snapshots. *metrics.Aggregator is
// the production implementation.
type Snapshotter interface {
	Snapshot() metrics.Snapshot
}

// Reporter prints a stats line every interval. It stays silent until the
// aggregator records its first activity, and the first sample after that is
// used only as a rate baseline, so no meaningless all-zero rate line is ever
// printed. A failed print is logged and the run continues.
type Reporter struct {
	source   Snapshotter
	interval time.Duration
	out      io.Writer
	logger   logging.Logger

	prev    *metrics.Snapshot
	started time.Time
}

func NewReporter(source Snapshotter, interval time.Duration, out io.Writer, logger logging.Logger) *Reporter {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Reporter{
		source:   source,
		interval: interval,
		out:      out,
		logger:   logger,
	}
}

// Run ticks until ctx is canceled. It never blocks workers: it only reads
// snapshots and writes to its own output.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.tick(now)
		}
	}
}

func (r *Reporter) tick(now time.Time) {
	snap := r.source.Snapshot()
	if !snap.Started() {
		return
	}
	if r.prev == nil {
		r.prev = &snap
		r.started = snap.StartTime
		return
	}
	rate := messageRate(*r.prev, snap, r.interval)
	elapsed := now.Sub(r.started)
	_, err := fmt.Fprintf(r.out, "[%ds] Connected: %d | Disconnected: %d | Errors: %d | Messages: %d | Rate: %.1f/s\n",
		int(elapsed.Seconds()), snap.Connected, snap.Disconnected, snap.Errors, snap.Messages, rate)
	if err != nil {
		r.logger.Printf("stats line could not be written: %s", err)
	}
	r.prev = &snap
}

// messageRate derives messages per second from two successive snapshots.
func messageRate(prev, cur metrics.Snapshot, interval time.Duration) float64 {
	if interval <= 0 {
		return 0
	}
	return float64(cur.Messages-prev.Messages) / interval.Seconds()
}
