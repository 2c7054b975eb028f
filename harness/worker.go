// Package harness implements the connection pool: per-slot workers that keep
// one connection alive under failure, a periodic stats reporter, and the
// supervisor that starts and drains them.
package harness

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/ctstream/stream-stress/config"
	"github.com/ctstream/stream-stress/logging"
	"github.com/ctstream/stream-stress/transport"
)

// Phase is the lifecycle state of a single worker. Only the worker itself
// writes its phase; the supervisor reads it to account for workers during
// shutdown.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseConnected
	PhaseDisconnected
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Recorder receives worker lifecycle events. *metrics.Aggregator is the
// production implementation.
type Recorder interface {
	RecordConnect()
	RecordDisconnect()
	RecordError()
	RecordMessage()
}

// Worker owns one logical client slot. It repeatedly establishes a
// connection against the endpoint and consumes it until failure or shutdown,
// reporting every lifecycle event to the Recorder.
//
// Counting rule: an attempt that fails before the connection is established
// counts one error and no disconnect. An established connection always
// counts one connect and, when it ends, one disconnect, plus one error if
// the closure was abnormal. Clean closures, receive timeouts, and
// shutdown-initiated closes are not errors.
type Worker struct {
	id       int
	endpoint config.Endpoint
	dialer   transport.Dialer
	recorder Recorder
	backoff  time.Duration
	logger   logging.Logger

	phase atomic.Int32
}

func NewWorker(id int, endpoint config.Endpoint, dialer transport.Dialer, recorder Recorder, backoff time.Duration, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Worker{
		id:       id,
		endpoint: endpoint,
		dialer:   dialer,
		recorder: recorder,
		backoff:  backoff,
		logger:   logger,
	}
}

func (w *Worker) Phase() Phase {
	return Phase(w.phase.Load())
}

func (w *Worker) setPhase(p Phase) {
	w.phase.Store(int32(p))
}

// Run loops until ctx is canceled. The first connection attempt is made
// unconditionally, even if ctx is already canceled, so that every launched
// worker attempts at least once; a canceled context just makes that attempt
// fail fast. Shutdown is noticed between attempts and between receives,
// never mid-message.
func (w *Worker) Run(ctx context.Context) {
	defer w.setPhase(PhaseStopped)
	for {
		w.setPhase(PhaseConnecting)
		conn, err := w.dialer.Dial(ctx, w.endpoint)
		if err != nil {
			w.recorder.RecordError()
			w.logger.Printf("worker %d: connect failed: %s", w.id, err)
		} else {
			w.setPhase(PhaseConnected)
			w.recorder.RecordConnect()
			abnormal := w.consume(ctx, conn)
			conn.Close()
			w.setPhase(PhaseDisconnected)
			w.recorder.RecordDisconnect()
			if abnormal {
				w.recorder.RecordError()
			}
		}
		if !sleepCtx(ctx, w.backoff) {
			return
		}
	}
}

// consume reads messages until the connection ends or ctx is canceled. It
// returns true if the connection ended abnormally.
func (w *Worker) consume(ctx context.Context, conn transport.Conn) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		msg, err := conn.Receive(w.endpoint.ReadTimeout)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrStreamClosed):
				return false
			case transport.IsTimeout(err):
				// A quiet stream just gets reconnected; the timeout exists so
				// shutdown can't wait on a receive forever.
				return false
			case ctx.Err() != nil:
				return false
			default:
				w.logger.Printf("worker %d: receive failed: %s", w.id, err)
				return true
			}
		}
		_ = msg // payload is opaque to the harness
		w.recorder.RecordMessage()
	}
}

// sleepCtx waits for d unless ctx is canceled first. It returns false when
// the wait was cut short by cancellation. It never returns true early;
// workers must not retry tighter than the configured backoff.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
