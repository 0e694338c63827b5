package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"chat_offline_gateway/internal/policy"
)

type ProbeConfig struct {
	Path             string `yaml:"path"`
	IntervalMS       int    `yaml:"interval_ms"`
	SuccessThreshold int    `yaml:"success_threshold"`
	FailureThreshold int    `yaml:"failure_threshold"`
}

type Config struct {
	ListenAddr      string `yaml:"listen"`
	AdminListenAddr string `yaml:"admin_listen"`
	UpstreamURL     string `yaml:"upstream_url"`
	DataDir         string `yaml:"data_dir"`

	FetchTimeoutMS  int   `yaml:"fetch_timeout_ms"`
	ShutdownGraceMS int   `yaml:"shutdown_grace_ms"`
	MaxObjectBytes  int64 `yaml:"max_object_bytes"`

	// Version pins the generation name; empty derives it from the
	// manifest content hash.
	Version      string   `yaml:"version"`
	Manifest     []string `yaml:"manifest"`
	CacheableAPI []string `yaml:"cacheable_api"`
	SendPaths    []string `yaml:"send_paths"`

	Probe ProbeConfig `yaml:"probe"`

	ReplayPerSecond float64 `yaml:"replay_per_second"`
	ReplayBurst     int     `yaml:"replay_burst"`

	// AdminToken, when set, requires a bearer token on every admin
	// call except /healthz.
	AdminToken string `yaml:"admin_token"`
}

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultAdminListenAddr = "127.0.0.1:9090"
	DefaultDataDir         = "data"
	DefaultShutdownGrace   = 10 * time.Second
)

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	cfg = ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func ApplyDefaults(cfg Config) Config {
	defaults := policy.DefaultRouting()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.AdminListenAddr == "" {
		cfg.AdminListenAddr = DefaultAdminListenAddr
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if len(cfg.Manifest) == 0 {
		cfg.Manifest = defaults.Manifest
	}
	if len(cfg.CacheableAPI) == 0 {
		cfg.CacheableAPI = defaults.CacheableAPI
	}
	if len(cfg.SendPaths) == 0 {
		cfg.SendPaths = defaults.SendPaths
	}
	return cfg
}

func (c Config) Routing() policy.Routing {
	return policy.Routing{
		Manifest:     append([]string(nil), c.Manifest...),
		CacheableAPI: append([]string(nil), c.CacheableAPI...),
		SendPaths:    append([]string(nil), c.SendPaths...),
	}
}

func (c Config) FetchTimeout() time.Duration {
	return durationOrDefault(c.FetchTimeoutMS, policy.DefaultFetchTimeout)
}

func (c Config) ShutdownGrace() time.Duration {
	return durationOrDefault(c.ShutdownGraceMS, DefaultShutdownGrace)
}

func (c Config) ProbeInterval() time.Duration {
	return durationOrDefault(c.Probe.IntervalMS, 0)
}

func durationOrDefault(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
