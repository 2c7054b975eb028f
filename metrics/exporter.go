package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const listenerStartTimeout = 10 * time.Second

// Exporter publishes the aggregator's counters in Prometheus exposition
// format. It uses its own registry so the endpoint carries only harness
// metrics, with no process or Go runtime collectors mixed in.
type Exporter struct {
	registry *prometheus.Registry
}

// NewExporter creates an Exporter reading from agg. The counters are sampled
// lazily on each scrape, so no extra bookkeeping happens on the hot path.
func NewExporter(agg *Aggregator) *Exporter {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, value func(Snapshot) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(value(agg.Snapshot())) },
		)
	}

	registry.MustRegister(
		counter("stream_stress_connected_total",
			"Total number of connections successfully established",
			func(s Snapshot) uint64 { return s.Connected }),
		counter("stream_stress_disconnected_total",
			"Total number of established connections that ended",
			func(s Snapshot) uint64 { return s.Disconnected }),
		counter("stream_stress_errors_total",
			"Total number of failed connection attempts and abnormal closures",
			func(s Snapshot) uint64 { return s.Errors }),
		counter("stream_stress_messages_total",
			"Total number of messages received across all connections",
			func(s Snapshot) uint64 { return s.Messages }),
	)

	return &Exporter{registry: registry}
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics listener on addr and waits until it is confirmed
// to be accepting requests, so a scrape configured at pool start cannot race
// the listener coming up.
func (e *Exporter) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	server := &http.Server{
		Addr: addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "HEAD" {
				w.WriteHeader(200)
				return
			}
			mux.ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	deadline := time.NewTimer(listenerStartTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	for {
		select {
		case <-deadline.C:
			return fmt.Errorf("could not detect metrics listener at %s", addr)
		case <-ticker.C:
			resp, err := http.DefaultClient.Head("http://" + hostAddr(addr))
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == 200 {
					return nil
				}
			}
		}
	}
}

func hostAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}
