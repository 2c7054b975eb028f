package harness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctstream/stream-stress/config"
	"github.com/ctstream/stream-stress/metrics"
	"github.com/ctstream/stream-stress/transport"
)

const testConditionTimeout = 5 * time.Second

// fakeDialer hands out one connection (or error) per attempt via connFor,
// recording the time of each attempt.
type fakeDialer struct {
	connFor func(attempt int) (transport.Conn, error)

	lock      sync.Mutex
	dialTimes []time.Time
}

func (d *fakeDialer) Dial(ctx context.Context, _ config.Endpoint) (transport.Conn, error) {
	d.lock.Lock()
	d.dialTimes = append(d.dialTimes, time.Now())
	attempt := len(d.dialTimes)
	d.lock.Unlock()
	return d.connFor(attempt)
}

func (d *fakeDialer) attempts() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.dialTimes)
}

func (d *fakeDialer) times() []time.Time {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]time.Time(nil), d.dialTimes...)
}

func failingDialer() *fakeDialer {
	return &fakeDialer{connFor: func(int) (transport.Conn, error) {
		return nil, errors.New("connection refused")
	}}
}

// scriptedConn yields its messages in order, then keeps returning final.
// It is only ever used by the single worker that owns it.
type scriptedConn struct {
	messages [][]byte
	final    error
	pos      int
}

func (c *scriptedConn) Receive(timeout time.Duration) ([]byte, error) {
	if c.pos < len(c.messages) {
		m := c.messages[c.pos]
		c.pos++
		return m, nil
	}
	return nil, c.final
}

func (c *scriptedConn) Close() error { return nil }

// endlessConn produces a message every call, forever.
type endlessConn struct{}

func (endlessConn) Receive(timeout time.Duration) ([]byte, error) {
	time.Sleep(time.Millisecond)
	return []byte("message"), nil
}

func (endlessConn) Close() error { return nil }

// stuckConn ignores the receive timeout entirely, simulating a transport
// that cannot be interrupted.
type stuckConn struct {
	wait time.Duration
}

func (c stuckConn) Receive(timeout time.Duration) ([]byte, error) {
	time.Sleep(c.wait)
	return nil, transport.ErrStreamClosed
}

func (c stuckConn) Close() error { return nil }

func testEndpoint() config.Endpoint {
	e := config.DefaultEndpoint()
	e.ReadTimeout = time.Second
	return e
}

// awaitCondition polls until cond holds or the test deadline passes.
func awaitCondition(t *testing.T, cond func() bool, description string) {
	t.Helper()
	deadline := time.NewTimer(testConditionTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline.C:
			require.Fail(t, "timed out waiting for condition", description)
		case <-ticker.C:
			if cond() {
				return
			}
		}
	}
}

func startWorker(w *Worker) (cancel func(), done chan struct{}) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return cancelCtx, done
}

func awaitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(testConditionTimeout):
		require.Fail(t, "worker did not stop")
	}
}

func TestWorkerCountsMessagesAndCleanClose(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := &fakeDialer{connFor: func(attempt int) (transport.Conn, error) {
		if attempt == 1 {
			return &scriptedConn{
				messages: [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")},
				final:    transport.ErrStreamClosed,
			}, nil
		}
		return nil, errors.New("connection refused")
	}}
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return agg.Snapshot().Disconnected == 1 }, "first connection should end")
	cancel()
	awaitDone(t, done)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(1), snap.Connected)
	assert.Equal(t, uint64(1), snap.Disconnected)
	assert.Equal(t, uint64(5), snap.Messages)
	assert.Equal(t, PhaseStopped, w.Phase())
}

func TestWorkerNeverConnectedCountsErrorOnly(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := failingDialer()
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return agg.Snapshot().Errors >= 3 }, "dial errors should accumulate")
	cancel()
	awaitDone(t, done)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(0), snap.Connected)
	assert.Equal(t, uint64(0), snap.Disconnected)
	assert.Equal(t, uint64(0), snap.Messages)
	assert.Equal(t, PhaseStopped, w.Phase())
}

func TestWorkerAbnormalClosureCountsDisconnectAndError(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := &fakeDialer{connFor: func(attempt int) (transport.Conn, error) {
		if attempt == 1 {
			return &scriptedConn{final: errors.New("connection reset by peer")}, nil
		}
		return nil, errors.New("connection refused")
	}}
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return agg.Snapshot().Disconnected == 1 }, "connection should end")
	cancel()
	awaitDone(t, done)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(1), snap.Connected)
	assert.Equal(t, uint64(1), snap.Disconnected)
	assert.GreaterOrEqual(t, snap.Errors, uint64(1))
}

func TestWorkerReceiveTimeoutIsNotAnError(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := &fakeDialer{connFor: func(attempt int) (transport.Conn, error) {
		if attempt == 1 {
			return &scriptedConn{final: transport.ErrReceiveTimeout}, nil
		}
		return nil, errors.New("connection refused")
	}}
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return agg.Snapshot().Disconnected == 1 }, "connection should end")
	cancel()
	awaitDone(t, done)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(1), snap.Connected)
	assert.Equal(t, uint64(1), snap.Disconnected)
	assert.Equal(t, uint64(0), snap.Errors)
}

func TestWorkerNeverRetriesTighterThanBackoff(t *testing.T) {
	backoff := 60 * time.Millisecond
	agg := metrics.NewAggregator()
	dialer := failingDialer()
	w := NewWorker(1, testEndpoint(), dialer, agg, backoff, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return dialer.attempts() >= 3 }, "at least three attempts")
	cancel()
	awaitDone(t, done)

	times := dialer.times()
	for i := 1; i < 3; i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, backoff, "attempt %d came too soon after attempt %d", i+1, i)
	}
}

func TestWorkerStopsCleanlyWhileConnected(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := &fakeDialer{connFor: func(int) (transport.Conn, error) {
		return endlessConn{}, nil
	}}
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)
	cancel, done := startWorker(w)

	awaitCondition(t, func() bool { return agg.Snapshot().Messages >= 10 }, "messages should flow")
	assert.Equal(t, PhaseConnected, w.Phase())
	cancel()
	awaitDone(t, done)

	snap := agg.Snapshot()
	assert.Equal(t, uint64(1), snap.Connected)
	assert.Equal(t, uint64(1), snap.Disconnected)
	assert.Equal(t, uint64(0), snap.Errors)
	assert.Equal(t, PhaseStopped, w.Phase())
}

func TestWorkerFirstAttemptHappensEvenAfterCancel(t *testing.T) {
	agg := metrics.NewAggregator()
	dialer := failingDialer()
	w := NewWorker(1, testEndpoint(), dialer, agg, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown signaled before the worker ever ran
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	awaitDone(t, done)

	assert.Equal(t, 1, dialer.attempts())
	assert.Equal(t, uint64(1), agg.Snapshot().Errors)
	assert.Equal(t, PhaseStopped, w.Phase())
}
