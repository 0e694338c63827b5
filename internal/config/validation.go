package config

import (
	"fmt"
	"net/url"
	"strings"
)

func Validate(cfg Config) error {
	if cfg.UpstreamURL == "" {
		return fmt.Errorf("config: upstream_url is required")
	}
	parsed, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return fmt.Errorf("config: upstream_url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: upstream_url %q must be absolute", cfg.UpstreamURL)
	}

	if cfg.FetchTimeoutMS < 0 {
		return fmt.Errorf("config: fetch_timeout_ms must be >= 0")
	}
	if cfg.MaxObjectBytes < 0 {
		return fmt.Errorf("config: max_object_bytes must be >= 0")
	}
	if cfg.ReplayPerSecond < 0 {
		return fmt.Errorf("config: replay_per_second must be >= 0")
	}
	if strings.Contains(cfg.Version, ":") {
		return fmt.Errorf("config: version must not contain ':'")
	}

	if len(cfg.Manifest) == 0 {
		return fmt.Errorf("config: manifest must not be empty")
	}
	for i, path := range cfg.Manifest {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("config: manifest[%d]: %w", i, err)
		}
	}
	for i, prefix := range cfg.CacheableAPI {
		if err := validatePath(prefix); err != nil {
			return fmt.Errorf("config: cacheable_api[%d]: %w", i, err)
		}
	}
	for i, prefix := range cfg.SendPaths {
		if err := validatePath(prefix); err != nil {
			return fmt.Errorf("config: send_paths[%d]: %w", i, err)
		}
	}

	if cfg.Probe.IntervalMS < 0 {
		return fmt.Errorf("config: probe.interval_ms must be >= 0")
	}
	if cfg.Probe.SuccessThreshold < 0 || cfg.Probe.FailureThreshold < 0 {
		return fmt.Errorf("config: probe thresholds must be >= 0")
	}
	return nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path must not be empty")
	}
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path %q must start with '/'", path)
	}
	return nil
}
