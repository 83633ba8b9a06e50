// Copyright 2025-2026 The tlstap Authors. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the tlstap agent.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"TLSTAP_LOG_LEVEL"`
	Capture   CaptureConfig   `yaml:"capture"`
	Hook      HookConfig      `yaml:"hook"`
	Exporters ExportersConfig `yaml:"exporters"`
	Health    HealthConfig    `yaml:"health"`
}

// CaptureConfig bounds the correlation core.
type CaptureConfig struct {
	// MaxCaptureSize caps each event's payload in bytes.
	MaxCaptureSize int `yaml:"max_capture_size"`
	// MaxPendingEntries bounds each direction's in-flight call table.
	MaxPendingEntries int `yaml:"max_pending_entries"`
	// MaxHandleEntries bounds the session handle registry.
	MaxHandleEntries int `yaml:"max_handle_entries"`
	// SinkBuffer is the output channel capacity.
	SinkBuffer int `yaml:"sink_buffer"`
	// SweepInterval controls how often orphaned pending calls are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// PendingMaxAge is how long an entry may wait for its matching exit.
	PendingMaxAge time.Duration `yaml:"pending_max_age"`
}

// HookConfig configures the instrumentation backend.
type HookConfig struct {
	Enabled bool `yaml:"enabled"`
	// ObjectPath is the compiled BPF object loaded at startup.
	ObjectPath string `yaml:"object_path"`
	// Targets maps function symbol to role (write/read/bind/unbind).
	// Empty means the built-in OpenSSL target set.
	Targets map[string]string `yaml:"targets"`
	// LibraryPaths pins the shared objects to instrument. Empty means
	// discover libssl in running processes.
	LibraryPaths []string `yaml:"library_paths"`
	// ScanInterval controls the periodic library rescan.
	ScanInterval time.Duration `yaml:"scan_interval"`
}

// ExportersConfig selects event consumers.
type ExportersConfig struct {
	OTLP   OTLPConfig   `yaml:"otlp"`
	Stdout StdoutConfig `yaml:"stdout"`
}

// OTLPConfig configures the OTLP gRPC log exporter.
type OTLPConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
}

// StdoutConfig configures the stdout event printer.
type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "text" or "json"
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port" env:"TLSTAP_HEALTH_PORT"` // e.g. ":8699"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Capture: CaptureConfig{
			MaxCaptureSize:    4096,
			MaxPendingEntries: 32768,
			MaxHandleEntries:  32768,
			SinkBuffer:        4096,
			SweepInterval:     30 * time.Second,
			PendingMaxAge:     time.Minute,
		},
		Hook: HookConfig{
			Enabled:      true,
			ObjectPath:   "/usr/lib/tlstap/tlstap.bpf.o",
			ScanInterval: 15 * time.Second,
		},
		Exporters: ExportersConfig{
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "text",
			},
			OTLP: OTLPConfig{
				Enabled:  false,
				Endpoint: "localhost:4317",
				Insecure: true,
			},
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    ":8699",
		},
	}
}

// ApplyEnvOverrides reads TLSTAP_* environment variables and applies them to
// the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"TLSTAP_LOG_LEVEL":     func(v string) { c.LogLevel = v },
		"TLSTAP_HEALTH_PORT":   func(v string) { c.Health.Port = v },
		"TLSTAP_OTLP_ENDPOINT": func(v string) { c.Exporters.OTLP.Endpoint = v },
		"TLSTAP_BPF_OBJECT":    func(v string) { c.Hook.ObjectPath = v },
	}

	boolOverrides := map[string]*bool{
		"TLSTAP_HOOK_ENABLED":   &c.Hook.Enabled,
		"TLSTAP_OTLP_ENABLED":   &c.Exporters.OTLP.Enabled,
		"TLSTAP_STDOUT_ENABLED": &c.Exporters.Stdout.Enabled,
		"TLSTAP_HEALTH_ENABLED": &c.Health.Enabled,
	}

	intOverrides := map[string]*int{
		"TLSTAP_MAX_CAPTURE_SIZE": &c.Capture.MaxCaptureSize,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// maxCaptureCeiling matches the largest fixed buffer the original embedded
// record format carried.
const maxCaptureCeiling = 65536

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Capture.MaxCaptureSize <= 0 {
		return fmt.Errorf("capture.max_capture_size must be positive")
	}
	if c.Capture.MaxCaptureSize > maxCaptureCeiling {
		return fmt.Errorf("capture.max_capture_size must be at most %d", maxCaptureCeiling)
	}
	if c.Capture.MaxPendingEntries <= 0 {
		return fmt.Errorf("capture.max_pending_entries must be positive")
	}
	if c.Capture.MaxHandleEntries <= 0 {
		return fmt.Errorf("capture.max_handle_entries must be positive")
	}

	if c.Hook.Enabled && c.Hook.ObjectPath == "" {
		return fmt.Errorf("hook.object_path is required when hook is enabled")
	}
	if err := validateTargets(c.Hook.Targets); err != nil {
		return err
	}

	if c.Exporters.OTLP.Enabled && c.Exporters.OTLP.Endpoint == "" {
		return fmt.Errorf("exporters.otlp.endpoint is required when OTLP is enabled")
	}
	if f := c.Exporters.Stdout.Format; f != "" && f != "text" && f != "json" {
		return fmt.Errorf("exporters.stdout.format must be 'text' or 'json'")
	}

	return nil
}

// validateTargets only checks role names; the hook package owns the real
// parsing. Kept local so config does not depend on hook.
func validateTargets(m map[string]string) error {
	for sym, role := range m {
		if sym == "" {
			return fmt.Errorf("hook.targets contains an empty symbol")
		}
		switch role {
		case "write", "read", "bind", "unbind":
		default:
			return fmt.Errorf("hook.targets[%s]: unknown role %q", sym, role)
		}
	}
	return nil
}
