package config

import (
	"fmt"
	"net/url"
)

var supportedSchemes = map[string]bool{
	"ws":    true,
	"wss":   true,
	"http":  true,
	"https": true,
	"tcp":   true,
}

// Validate checks a resolved configuration for correctness. It performs
// declarative validation only and MUST NOT mutate the configuration.
func Validate(e Endpoint, p Pool) error {
	if e.URL == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL %q: %w", e.URL, err)
	}
	if !supportedSchemes[u.Scheme] {
		return fmt.Errorf("unsupported endpoint scheme %q (want ws, wss, http, https, or tcp)", u.Scheme)
	}
	if u.Scheme == "tcp" && u.Port() == "" {
		return fmt.Errorf("tcp endpoint %q must include a port", e.URL)
	}

	if e.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive")
	}
	if e.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}

	if p.Workers < 0 {
		return fmt.Errorf("worker count must not be negative")
	}
	if p.Stagger < 0 {
		return fmt.Errorf("stagger delay must not be negative")
	}
	if p.StatsInterval <= 0 {
		return fmt.Errorf("stats interval must be positive")
	}
	if p.Backoff <= 0 {
		return fmt.Errorf("reconnect backoff must be positive")
	}
	if p.GracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}

	return nil
}
