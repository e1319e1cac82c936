// Package config loads and validates the fault proxy's runtime settings.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the fault-injection proxy.
type Config struct {
	Proxy      ProxyConfig      `yaml:"proxy"`
	Control    ControlConfig    `yaml:"control"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ProxyConfig describes the loopback listener faults bind to and the
// upstream realtime service they forward traffic toward.
type ProxyConfig struct {
	ListenHost  string        `yaml:"listen_host"`
	ListenPort  int           `yaml:"listen_port"`
	TargetHost  string        `yaml:"target_host"`
	TargetPort  int           `yaml:"target_port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ControlConfig describes the REST control surface (C6).
type ControlConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// SecurityConfig hardens the control API beyond the default loopback bind.
type SecurityConfig struct {
	// TailscaleOnly additionally requires that control API callers connect
	// from a Tailscale address, for operators who expose the control
	// listener past loopback via a Tailscale sidecar.
	TailscaleOnly bool `yaml:"tailscale_only"`
}

// LoggingConfig mirrors the ambient logging setup shared across the stack.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MonitoringConfig controls optional Prometheus exposition.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config matching the defaults fixed by §6 of the spec.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			ListenHost:  "127.0.0.1",
			ListenPort:  13579,
			TargetHost:  "realtime.ably.io",
			TargetPort:  443,
			DialTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			ListenAddress: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads an optional YAML config file and applies FAULTPROXY_ prefixed
// environment variable overrides on top of DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors. The proxy is loopback-only
// per spec (not a general MITM), so the proxy listener must bind a loopback
// address, and so must the control listener unless security.tailscale_only
// is set. Hostnames are not resolved; only literal non-loopback IPs are
// rejected.
func (c *Config) Validate() error {
	if c.Proxy.ListenHost == "" {
		return fmt.Errorf("proxy.listen_host is required")
	}
	if err := requireLoopback(c.Proxy.ListenHost); err != nil {
		return fmt.Errorf("proxy.listen_host: %w", err)
	}
	if c.Proxy.ListenPort <= 0 || c.Proxy.ListenPort > 65535 {
		return fmt.Errorf("proxy.listen_port must be in 1-65535")
	}
	if c.Proxy.TargetHost == "" {
		return fmt.Errorf("proxy.target_host is required")
	}
	if c.Proxy.TargetPort <= 0 || c.Proxy.TargetPort > 65535 {
		return fmt.Errorf("proxy.target_port must be in 1-65535")
	}
	if c.Proxy.DialTimeout <= 0 {
		return fmt.Errorf("proxy.dial_timeout must be positive")
	}

	if c.Control.ListenAddress == "" {
		return fmt.Errorf("control.listen_address is required")
	}
	host, _, err := net.SplitHostPort(c.Control.ListenAddress)
	if err != nil {
		return fmt.Errorf("control.listen_address is invalid: %w", err)
	}
	// Binding the control listener off loopback is only acceptable when
	// security.tailscale_only gates callers down to the Tailscale range.
	if !c.Security.TailscaleOnly {
		if err := requireLoopback(host); err != nil {
			return fmt.Errorf("control.listen_address: %w", err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

func requireLoopback(host string) error {
	if host == "" {
		return fmt.Errorf("must not be empty")
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Hostnames (e.g. "localhost") are accepted; only literal
		// non-loopback IPs are rejected.
		return nil
	}
	if !ip.IsLoopback() {
		return fmt.Errorf("must be a loopback address, got %s", host)
	}
	return nil
}

// applyEnvOverrides applies FAULTPROXY_ prefixed environment variables.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"FAULTPROXY_PROXY_LISTEN_HOST":      func(v string) { cfg.Proxy.ListenHost = v },
		"FAULTPROXY_PROXY_LISTEN_PORT":      func(v string) { cfg.Proxy.ListenPort = parseInt(v, cfg.Proxy.ListenPort) },
		"FAULTPROXY_PROXY_TARGET_HOST":      func(v string) { cfg.Proxy.TargetHost = v },
		"FAULTPROXY_PROXY_TARGET_PORT":      func(v string) { cfg.Proxy.TargetPort = parseInt(v, cfg.Proxy.TargetPort) },
		"FAULTPROXY_PROXY_DIAL_TIMEOUT":     func(v string) { cfg.Proxy.DialTimeout = parseDuration(v, cfg.Proxy.DialTimeout) },
		"FAULTPROXY_CONTROL_LISTEN_ADDRESS": func(v string) { cfg.Control.ListenAddress = v },
		"FAULTPROXY_LOGGING_LEVEL":          func(v string) { cfg.Logging.Level = v },
		"FAULTPROXY_LOGGING_FORMAT":         func(v string) { cfg.Logging.Format = v },
		"FAULTPROXY_LOGGING_FILE":           func(v string) { cfg.Logging.File = v },
		"FAULTPROXY_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
		"FAULTPROXY_MONITORING_METRICS_ENDPOINT": func(v string) { cfg.Monitoring.MetricsEndpoint = v },
		"FAULTPROXY_SECURITY_TAILSCALE_ONLY": func(v string) {
			cfg.Security.TailscaleOnly = parseBool(v, cfg.Security.TailscaleOnly)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
