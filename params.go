package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"

	"github.com/ctstream/stream-stress/config"
)

type commandParams struct {
	endpointURL string
	workerCount int

	configPath  string
	stagger     time.Duration
	backoff     time.Duration
	interval    time.Duration
	grace       time.Duration
	dialTimeout time.Duration
	readTimeout time.Duration
	metricsAddr string
	debug       bool

	setFlags map[string]bool
}

func (c *commandParams) Read(args []string) bool {
	fs := flag.NewFlagSet("stream-stress", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stream-stress run [flags] <endpoint> [worker_count]")
		fs.PrintDefaults()
	}
	fs.StringVar(&c.configPath, "config", "", "path to a YAML config file")
	fs.DurationVar(&c.stagger, "stagger", config.DefaultStagger, "delay between successive worker launches")
	fs.DurationVar(&c.backoff, "backoff", config.DefaultBackoff, "minimum wait between a worker's reconnect attempts")
	fs.DurationVar(&c.interval, "interval", config.DefaultStatsInterval, "time between stats lines")
	fs.DurationVar(&c.grace, "grace", config.DefaultGracePeriod, "how long shutdown waits for workers to drain")
	fs.DurationVar(&c.dialTimeout, "dial-timeout", config.DefaultDialTimeout, "timeout for establishing one connection")
	fs.DurationVar(&c.readTimeout, "read-timeout", config.DefaultReadTimeout, "timeout for one blocking receive")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "listen address for the Prometheus /metrics endpoint (off if empty)")
	fs.BoolVar(&c.debug, "debug", false, "log individual connection failures to stderr")

	if len(args) < 2 || args[1] != "run" {
		fs.Usage()
		return false
	}
	if err := fs.Parse(args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return false
	}

	c.setFlags = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { c.setFlags[f.Name] = true })

	c.workerCount = -1 // -1 means "not given on the command line"
	switch fs.NArg() {
	case 0:
	case 2:
		n, err := strconv.Atoi(fs.Arg(1))
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "invalid worker count %q\n", fs.Arg(1))
			return false
		}
		c.workerCount = n
		fallthrough
	case 1:
		c.endpointURL = fs.Arg(0)
	default:
		fs.Usage()
		return false
	}
	return true
}

// Resolve merges defaults, the optional config file, and command-line
// settings (in that order of precedence, lowest first) into the immutable
// run configuration.
func (c *commandParams) Resolve() (config.Endpoint, config.Pool, error) {
	endpoint := config.DefaultEndpoint()
	pool := config.DefaultPool()

	if c.configPath != "" {
		if err := config.Load(c.configPath, &endpoint, &pool); err != nil {
			return endpoint, pool, err
		}
	}

	if c.endpointURL != "" {
		endpoint.URL = c.endpointURL
	}
	if c.workerCount >= 0 {
		pool.Workers = c.workerCount
	}
	if c.setFlags["stagger"] {
		pool.Stagger = c.stagger
	}
	if c.setFlags["backoff"] {
		pool.Backoff = c.backoff
	}
	if c.setFlags["interval"] {
		pool.StatsInterval = c.interval
	}
	if c.setFlags["grace"] {
		pool.GracePeriod = c.grace
	}
	if c.setFlags["dial-timeout"] {
		endpoint.DialTimeout = c.dialTimeout
	}
	if c.setFlags["read-timeout"] {
		endpoint.ReadTimeout = c.readTimeout
	}
	if c.setFlags["metrics-addr"] {
		pool.MetricsAddr = c.metricsAddr
	}

	if err := config.Validate(endpoint, pool); err != nil {
		return endpoint, pool, err
	}
	return endpoint, pool, nil
}

// effectiveCommand renders the flag-equivalent invocation for the resolved
// configuration, so a run driven by a config file can be reproduced without
// that file.
func effectiveCommand(endpoint config.Endpoint, pool config.Pool) string {
	var b commandBuilder
	b.add("stream-stress", "run")
	b.add("-stagger", pool.Stagger.String())
	b.add("-backoff", pool.Backoff.String())
	b.add("-interval", pool.StatsInterval.String())
	b.add("-grace", pool.GracePeriod.String())
	b.add("-dial-timeout", endpoint.DialTimeout.String())
	b.add("-read-timeout", endpoint.ReadTimeout.String())
	if pool.MetricsAddr != "" {
		b.add("-metrics-addr", pool.MetricsAddr)
	}
	b.add(endpoint.URL, strconv.Itoa(pool.Workers))
	return b.String()
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
