package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ctstream/stream-stress/harness"
	"github.com/ctstream/stream-stress/logging"
	"github.com/ctstream/stream-stress/metrics"
	"github.com/ctstream/stream-stress/transport"
)

func main() {
	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	endpoint, pool, err := params.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		os.Exit(1)
	}

	dialer, err := transport.ForURL(endpoint.URL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid endpoint: %s\n", err)
		os.Exit(1)
	}

	// With -debug, diagnostics stream to stderr as they happen. Otherwise
	// they are captured quietly so the tail can be shown if shutdown leaves
	// workers unaccounted for.
	var captured *logging.CapturingLogger
	var logger logging.Logger
	if params.debug {
		logger = logging.NewConsoleLogger(os.Stderr)
	} else {
		captured = &logging.CapturingLogger{}
		logger = captured
	}

	agg := metrics.NewAggregator()
	if pool.MetricsAddr != "" {
		exporter := metrics.NewExporter(agg)
		if err := exporter.Serve(pool.MetricsAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Metrics listener error: %s\n", err)
			os.Exit(1)
		}
		fmt.Printf("Serving metrics at http://%s/metrics\n", pool.MetricsAddr)
	}

	fmt.Printf("Starting stress run with %d workers\n", pool.Workers)
	fmt.Printf("URL: %s\n", endpoint.URL)
	if params.configPath != "" {
		fmt.Printf("Equivalent command line: %s\n", effectiveCommand(endpoint, pool))
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supervisor := harness.NewSupervisor(endpoint, pool, dialer, agg, os.Stdout, logger)
	if err := supervisor.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Pool error: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nAll %d workers spawned. Press Ctrl+C to stop.\n\n", pool.Workers)

	<-ctx.Done()
	stop() // restore default signal handling so a second Ctrl+C is immediate

	fmt.Println("\n\nStopping...")
	report := supervisor.Stop()
	if captured != nil && report.Unaccounted > 0 {
		fmt.Fprintln(os.Stderr, "Recent diagnostics:")
		captured.Output().Dump(os.Stderr, "  ")
	}
}
