// Package config holds the immutable run configuration for the harness:
// the target endpoint and the pool parameters. Values are resolved once at
// startup (defaults, then optional YAML file, then command-line overrides)
// and never mutated afterward.
package config

import "time"

const (
	DefaultEndpointURL = "ws://localhost:8080/"
	DefaultWorkerCount = 500

	DefaultDialTimeout   = 10 * time.Second
	DefaultReadTimeout   = 30 * time.Second
	DefaultStagger       = 20 * time.Millisecond
	DefaultStatsInterval = 5 * time.Second
	DefaultBackoff       = time.Second
	DefaultGracePeriod   = 10 * time.Second
)

// Endpoint describes the target of the load run and per-connection settings.
type Endpoint struct {
	URL     string
	Headers map[string]string

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration

	// ReadTimeout bounds each blocking receive. It is also the ceiling on how
	// long a worker can take to notice a shutdown signal, so it must not be
	// arbitrarily large.
	ReadTimeout time.Duration
}

// Pool describes the shape and timing of the connection pool.
type Pool struct {
	// Workers is the number of concurrent connection slots. Zero is valid:
	// the pool starts, runs with no workers, and reports all-zero totals.
	Workers int

	// Stagger is the pause between successive worker launches.
	Stagger time.Duration

	// StatsInterval is how often the reporter prints a stats line.
	StatsInterval time.Duration

	// Backoff is the minimum wait between a worker's successive connection
	// attempts.
	Backoff time.Duration

	// GracePeriod bounds how long shutdown waits for workers to drain before
	// abandoning them.
	GracePeriod time.Duration

	// MetricsAddr, if non-empty, is the listen address for the Prometheus
	// /metrics endpoint.
	MetricsAddr string
}

func DefaultEndpoint() Endpoint {
	return Endpoint{
		URL:         DefaultEndpointURL,
		DialTimeout: DefaultDialTimeout,
		ReadTimeout: DefaultReadTimeout,
	}
}

func DefaultPool() Pool {
	return Pool{
		Workers:       DefaultWorkerCount,
		Stagger:       DefaultStagger,
		StatsInterval: DefaultStatsInterval,
		Backoff:       DefaultBackoff,
		GracePeriod:   DefaultGracePeriod,
	}
}
