package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvRedisServiceName = "INTERNAL_REDIS_SERVICE_NAME"
	EnvRedisPort        = "INTERNAL_REDIS_PORT"
	EnvLogLevel         = "ATLAS_LOG_LEVEL"
)

// Config carries the cluster-wide tunables. The handoff constants must be
// identical across every process in the cluster; they are part of the
// protocol, not local preferences.
type Config struct {
	// Manifest store endpoint.
	RedisHost string
	RedisPort int

	// Store connect retry.
	StoreConnectRetries  int
	StoreConnectInterval time.Duration

	// Handoff protocol constants (cluster-wide).
	HandoffLeadTicks  uint64
	PrepareTimeout    time.Duration
	MaxPrepareRetries int
	CommitTimeout     time.Duration

	// Connection management.
	ProbeInterval     time.Duration
	LeaseTTL          time.Duration
	InactivityTimeout time.Duration
	LeaseEnabled      bool

	// Background loop cadence.
	TelemetryPeriod  time.Duration
	LedgerScanPeriod time.Duration
	BoundClaimPeriod time.Duration

	LogLevel string
}

// Default returns the cluster defaults.
func Default() Config {
	probe := 5 * time.Second
	return Config{
		RedisHost: "localhost",
		RedisPort: 6379,

		StoreConnectRetries:  10,
		StoreConnectInterval: 2 * time.Second,

		HandoffLeadTicks:  6,
		PrepareTimeout:    500 * time.Millisecond,
		MaxPrepareRetries: 5,
		CommitTimeout:     2 * time.Second,

		ProbeInterval:     probe,
		LeaseTTL:          probe * 3,
		InactivityTimeout: 30 * time.Second,
		LeaseEnabled:      true,

		TelemetryPeriod:  time.Second,
		LedgerScanPeriod: 50 * time.Millisecond,
		BoundClaimPeriod: 100 * time.Millisecond,

		LogLevel: "info",
	}
}

// FromEnv overlays environment variables onto the defaults.
func FromEnv() (Config, error) {
	cfg := Default()
	if host := os.Getenv(EnvRedisServiceName); host != "" {
		cfg.RedisHost = host
	}
	if raw := os.Getenv(EnvRedisPort); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("parse %s: %w", EnvRedisPort, err)
		}
		cfg.RedisPort = port
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

// fileConfig is the YAML overlay shape. Durations are strings in Go
// duration syntax ("250ms", "2s"); absent keys leave cfg untouched.
type fileConfig struct {
	RedisHost *string `yaml:"redis_host"`
	RedisPort *int    `yaml:"redis_port"`

	StoreConnectRetries  *int    `yaml:"store_connect_retries"`
	StoreConnectInterval *string `yaml:"store_connect_interval"`

	HandoffLeadTicks  *uint64 `yaml:"handoff_lead_ticks"`
	PrepareTimeout    *string `yaml:"prepare_timeout"`
	MaxPrepareRetries *int    `yaml:"max_prepare_retries"`
	CommitTimeout     *string `yaml:"commit_timeout"`

	ProbeInterval     *string `yaml:"probe_interval"`
	LeaseTTL          *string `yaml:"lease_ttl"`
	InactivityTimeout *string `yaml:"inactivity_timeout"`
	LeaseEnabled      *bool   `yaml:"lease_enabled"`

	TelemetryPeriod  *string `yaml:"telemetry_period"`
	LedgerScanPeriod *string `yaml:"ledger_scan_period"`
	BoundClaimPeriod *string `yaml:"bound_claim_period"`

	LogLevel *string `yaml:"log_level"`
}

func overlayDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// LoadFile overlays a YAML config file onto cfg.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if fc.RedisHost != nil {
		cfg.RedisHost = *fc.RedisHost
	}
	if fc.RedisPort != nil {
		cfg.RedisPort = *fc.RedisPort
	}
	if fc.StoreConnectRetries != nil {
		cfg.StoreConnectRetries = *fc.StoreConnectRetries
	}
	if fc.HandoffLeadTicks != nil {
		cfg.HandoffLeadTicks = *fc.HandoffLeadTicks
	}
	if fc.MaxPrepareRetries != nil {
		cfg.MaxPrepareRetries = *fc.MaxPrepareRetries
	}
	if fc.LeaseEnabled != nil {
		cfg.LeaseEnabled = *fc.LeaseEnabled
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	for _, pair := range []struct {
		dst *time.Duration
		src *string
	}{
		{&cfg.StoreConnectInterval, fc.StoreConnectInterval},
		{&cfg.PrepareTimeout, fc.PrepareTimeout},
		{&cfg.CommitTimeout, fc.CommitTimeout},
		{&cfg.ProbeInterval, fc.ProbeInterval},
		{&cfg.LeaseTTL, fc.LeaseTTL},
		{&cfg.InactivityTimeout, fc.InactivityTimeout},
		{&cfg.TelemetryPeriod, fc.TelemetryPeriod},
		{&cfg.LedgerScanPeriod, fc.LedgerScanPeriod},
		{&cfg.BoundClaimPeriod, fc.BoundClaimPeriod},
	} {
		if err := overlayDuration(pair.dst, pair.src); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	return cfg, nil
}

// RedisAddr returns the host:port of the manifest store.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
