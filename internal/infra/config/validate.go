package config

import (
	"fmt"
	"strings"
)

// Validate checks cross-field constraints that YAML parsing cannot.
func Validate(cfg *Config) error {
	if cfg.Runner.URL == "" {
		return fmt.Errorf("runner.url is required")
	}
	if !strings.HasPrefix(cfg.Runner.URL, "ws://") && !strings.HasPrefix(cfg.Runner.URL, "wss://") {
		return fmt.Errorf("runner.url must be a ws:// or wss:// URL, got %q", cfg.Runner.URL)
	}
	if cfg.Runner.CallTimeout <= 0 {
		return fmt.Errorf("runner.call_timeout must be positive")
	}
	if cfg.Session.Harness == "" {
		return fmt.Errorf("session.harness is required")
	}
	if cfg.Cache.Enabled && cfg.Cache.Path == "" {
		return fmt.Errorf("cache.path is required when the cache is enabled")
	}
	if cfg.Cache.MaxSessions < 1 {
		return fmt.Errorf("cache.max_sessions must be at least 1")
	}
	if cfg.Stream.FlushInterval <= 0 {
		return fmt.Errorf("stream.flush_interval must be positive")
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("tracer.exporter must be noop or stdout, got %q", cfg.Tracer.Exporter)
	}
	return nil
}
