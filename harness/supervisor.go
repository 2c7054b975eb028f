package harness

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/ctstream/stream-stress/config"
	"github.com/ctstream/stream-stress/logging"
	"github.com/ctstream/stream-stress/metrics"
	"github.com/ctstream/stream-stress/transport"
)

const spawnProgressEvery = 50

// PoolState is the lifecycle state of the pool as a whole.
type PoolState int

const (
	PoolIdle PoolState = iota
	PoolStarting
	PoolRunning
	PoolStopping
	PoolStopped
)

func (s PoolState) String() string {
	switch s {
	case PoolIdle:
		return "idle"
	case PoolStarting:
		return "starting"
	case PoolRunning:
		return "running"
	case PoolStopping:
		return "stopping"
	case PoolStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FinalReport is the cumulative outcome of a run, produced once by Stop.
type FinalReport struct {
	Snapshot metrics.Snapshot

	// Unaccounted is the number of workers that had not stopped when the
	// grace period elapsed. They are abandoned, not force-killed, since the
	// underlying transport may not support forced cancellation.
	Unaccounted int
}

// Supervisor owns the worker set and the stats reporter. It is the only
// writer of the shutdown signal; workers observe it cooperatively.
type Supervisor struct {
	endpoint config.Endpoint
	cfg      config.Pool
	dialer   transport.Dialer
	metrics  *metrics.Aggregator
	out      io.Writer
	logger   logging.Logger

	lock    sync.Mutex
	state   PoolState
	workers []*Worker
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	launched chan struct{}

	stopOnce sync.Once
	report   FinalReport
}

func NewSupervisor(endpoint config.Endpoint, cfg config.Pool, dialer transport.Dialer, agg *metrics.Aggregator, out io.Writer, logger logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Supervisor{
		endpoint: endpoint,
		cfg:      cfg,
		dialer:   dialer,
		metrics:  agg,
		out:      out,
		logger:   logger,
		launched: make(chan struct{}),
	}
}

func (s *Supervisor) State() PoolState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Start launches cfg.Workers workers with the configured stagger delay
// between launches, plus the stats reporter, and returns once all workers
// have been launched. If Stop is called during the stagger sequence the
// remaining workers are still launched (without further delay) so that every
// slot makes at least one attempt; their canceled context makes that attempt
// fail fast.
func (s *Supervisor) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.lock.Lock()
	if s.state != PoolIdle {
		state := s.state
		s.lock.Unlock()
		cancel()
		return fmt.Errorf("pool already started (state: %s)", state)
	}
	s.state = PoolStarting
	s.cancel = cancel
	s.lock.Unlock()

	reporter := NewReporter(s.metrics, s.cfg.StatsInterval, s.out, s.logger)
	go reporter.Run(runCtx)

	for i := 0; i < s.cfg.Workers; i++ {
		w := NewWorker(i+1, s.endpoint, s.dialer, s.metrics, s.cfg.Backoff, s.logger)
		s.lock.Lock()
		s.workers = append(s.workers, w)
		s.lock.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(runCtx)
		}()
		if (i+1)%spawnProgressEvery == 0 {
			fmt.Fprintf(s.out, "Spawned %d/%d workers...\n", i+1, s.cfg.Workers)
		}
		if i+1 < s.cfg.Workers {
			sleepCtx(runCtx, s.cfg.Stagger)
		}
	}
	close(s.launched)

	s.lock.Lock()
	if s.state == PoolStarting { // Stop may already have won the race
		s.state = PoolRunning
	}
	s.lock.Unlock()
	return nil
}

// Stop broadcasts the shutdown signal, waits for workers to drain (bounded
// by the grace period), prints the final cumulative summary, and returns the
// final report. Calling Stop again returns the same report without repeating
// any of it.
func (s *Supervisor) Stop() FinalReport {
	s.stopOnce.Do(func() {
		s.lock.Lock()
		if s.state == PoolIdle {
			// Never started; nothing to drain and nothing to report.
			s.state = PoolStopped
			s.lock.Unlock()
			return
		}
		s.state = PoolStopping
		cancel := s.cancel
		s.lock.Unlock()

		cancel()
		<-s.launched // no new workers are added past this point

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		deadline := time.NewTimer(s.cfg.GracePeriod)
		defer deadline.Stop()
		select {
		case <-done:
		case <-deadline.C:
			s.logger.Printf("grace period of %s elapsed with workers still running", s.cfg.GracePeriod)
		}

		unaccounted := 0
		s.lock.Lock()
		for _, w := range s.workers {
			if w.Phase() != PhaseStopped {
				unaccounted++
			}
		}
		s.state = PoolStopped
		s.lock.Unlock()

		s.report = FinalReport{Snapshot: s.metrics.Snapshot(), Unaccounted: unaccounted}
		s.printFinal()
	})
	return s.report
}

func (s *Supervisor) printFinal() {
	heading := color.New(color.Bold)
	heading.Fprintln(s.out, "=== Final Stats ===")
	fmt.Fprintf(s.out, "Total Connected:    %d\n", s.report.Snapshot.Connected)
	fmt.Fprintf(s.out, "Total Disconnected: %d\n", s.report.Snapshot.Disconnected)
	fmt.Fprintf(s.out, "Total Errors:       %d\n", s.report.Snapshot.Errors)
	fmt.Fprintf(s.out, "Total Messages:     %d\n", s.report.Snapshot.Messages)
	if s.report.Unaccounted > 0 {
		warn := color.New(color.FgYellow)
		warn.Fprintf(s.out, "Unaccounted workers: %d (still running when the grace period elapsed)\n",
			s.report.Unaccounted)
	}
}
