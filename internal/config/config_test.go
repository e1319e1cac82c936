package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Proxy.ListenHost != "127.0.0.1" {
		t.Errorf("listen_host = %q, want 127.0.0.1", cfg.Proxy.ListenHost)
	}
	if cfg.Proxy.ListenPort != 13579 {
		t.Errorf("listen_port = %d, want 13579", cfg.Proxy.ListenPort)
	}
	if cfg.Proxy.TargetHost != "realtime.ably.io" {
		t.Errorf("target_host = %q, want realtime.ably.io", cfg.Proxy.TargetHost)
	}
	if cfg.Proxy.TargetPort != 443 {
		t.Errorf("target_port = %d, want 443", cfg.Proxy.TargetPort)
	}
	if cfg.Control.ListenAddress != "127.0.0.1:8080" {
		t.Errorf("control.listen_address = %q, want 127.0.0.1:8080", cfg.Control.ListenAddress)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
proxy:
  listen_host: "127.0.0.1"
  listen_port: 13580
  target_host: "realtime.ably.io"
  target_port: 443
  dial_timeout: "5s"
control:
  listen_address: "127.0.0.1:9090"
logging:
  level: "debug"
  format: "text"
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Proxy.ListenPort != 13580 {
		t.Errorf("listen_port = %d, want 13580", cfg.Proxy.ListenPort)
	}
	if cfg.Proxy.DialTimeout != 5*time.Second {
		t.Errorf("dial_timeout = %v, want 5s", cfg.Proxy.DialTimeout)
	}
	if cfg.Control.ListenAddress != "127.0.0.1:9090" {
		t.Errorf("control.listen_address = %q, want 127.0.0.1:9090", cfg.Control.ListenAddress)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load('') error: %v", err)
	}
	if cfg.Proxy.TargetHost != "realtime.ably.io" {
		t.Errorf("target_host = %q, want default", cfg.Proxy.TargetHost)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FAULTPROXY_PROXY_LISTEN_PORT", "14000")
	t.Setenv("FAULTPROXY_PROXY_TARGET_HOST", "realtime-sandbox.ably.io")
	t.Setenv("FAULTPROXY_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Proxy.ListenPort != 14000 {
		t.Errorf("listen_port = %d, want 14000 from env override", cfg.Proxy.ListenPort)
	}
	if cfg.Proxy.TargetHost != "realtime-sandbox.ably.io" {
		t.Errorf("target_host = %q, want env override", cfg.Proxy.TargetHost)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Logging.Level)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"empty listen_host", func(c *Config) { c.Proxy.ListenHost = "" }, "proxy.listen_host is required"},
		{"non-loopback listen_host", func(c *Config) { c.Proxy.ListenHost = "0.0.0.0" }, "must be a loopback address"},
		{"bad listen_port", func(c *Config) { c.Proxy.ListenPort = 0 }, "proxy.listen_port must be in 1-65535"},
		{"empty target_host", func(c *Config) { c.Proxy.TargetHost = "" }, "proxy.target_host is required"},
		{"bad dial_timeout", func(c *Config) { c.Proxy.DialTimeout = 0 }, "proxy.dial_timeout must be positive"},
		{"empty control address", func(c *Config) { c.Control.ListenAddress = "" }, "control.listen_address is required"},
		{"non-loopback control address", func(c *Config) { c.Control.ListenAddress = "0.0.0.0:8080" }, "must be a loopback address"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level must be one of"},
		{"invalid log format", func(c *Config) { c.Logging.Format = "csv" }, "logging.format must be one of"},
		{"non-loopback control address allowed under tailscale_only", func(c *Config) {
			c.Security.TailscaleOnly = true
			c.Control.ListenAddress = "100.64.0.5:8080"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}
