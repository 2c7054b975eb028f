package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML schema. Durations are integer milliseconds; absent
// fields leave the corresponding defaults untouched. Workers is a pointer so
// that an explicit zero can be told apart from "not set".
type fileConfig struct {
	Endpoint struct {
		URL           string            `yaml:"url"`
		Headers       map[string]string `yaml:"headers"`
		DialTimeoutMS int               `yaml:"dial_timeout_ms"`
		ReadTimeoutMS int               `yaml:"read_timeout_ms"`
	} `yaml:"endpoint"`
	Pool struct {
		Workers         *int `yaml:"workers"`
		StaggerMS       int  `yaml:"stagger_ms"`
		StatsIntervalMS int  `yaml:"stats_interval_ms"`
		BackoffMS       int  `yaml:"backoff_ms"`
		GracePeriodMS   int  `yaml:"grace_period_ms"`
	} `yaml:"pool"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads a YAML file and overlays its settings onto e and p.
func Load(path string, e *Endpoint, p *Pool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if fc.Endpoint.URL != "" {
		e.URL = fc.Endpoint.URL
	}
	if len(fc.Endpoint.Headers) > 0 {
		e.Headers = fc.Endpoint.Headers
	}
	if fc.Endpoint.DialTimeoutMS > 0 {
		e.DialTimeout = time.Duration(fc.Endpoint.DialTimeoutMS) * time.Millisecond
	}
	if fc.Endpoint.ReadTimeoutMS > 0 {
		e.ReadTimeout = time.Duration(fc.Endpoint.ReadTimeoutMS) * time.Millisecond
	}

	if fc.Pool.Workers != nil {
		p.Workers = *fc.Pool.Workers
	}
	if fc.Pool.StaggerMS > 0 {
		p.Stagger = time.Duration(fc.Pool.StaggerMS) * time.Millisecond
	}
	if fc.Pool.StatsIntervalMS > 0 {
		p.StatsInterval = time.Duration(fc.Pool.StatsIntervalMS) * time.Millisecond
	}
	if fc.Pool.BackoffMS > 0 {
		p.Backoff = time.Duration(fc.Pool.BackoffMS) * time.Millisecond
	}
	if fc.Pool.GracePeriodMS > 0 {
		p.GracePeriod = time.Duration(fc.Pool.GracePeriodMS) * time.Millisecond
	}
	if fc.MetricsAddr != "" {
		p.MetricsAddr = fc.MetricsAddr
	}

	return nil
}
