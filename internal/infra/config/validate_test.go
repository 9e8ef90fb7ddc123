package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }, `environment "staging" is invalid`},
		{"relative base url", func(c *Config) { c.API.BaseURL = "/api" }, "api.base_url"},
		{"zero api timeout", func(c *Config) { c.API.Timeout = 0 }, "api.timeout must be > 0"},
		{"empty user id", func(c *Config) { c.API.UserID = "" }, "api.user_id must not be empty"},
		{"empty sdk src", func(c *Config) { c.Embed.SDKSrc = "" }, "embed.sdk_src must not be empty"},
		{"non-http sdk src", func(c *Config) { c.Embed.SDKSrc = "file:///sdk.js" }, "embed.sdk_src"},
		{"empty container", func(c *Config) { c.Embed.Container = "" }, "embed.container must not be empty"},
		{"zero mount timeout", func(c *Config) { c.Embed.MountTimeout = 0 }, "embed.mount_timeout must be > 0"},
		{"unknown browser host", func(c *Config) { c.Browser.Host = "webkit" }, `browser.host "webkit" is invalid`},
		{"bad remote url", func(c *Config) { c.Browser.RemoteURL = "ftp://x" }, "browser.remote_url"},
		{"bad log level", func(c *Config) { c.Logger.Level = "verbose" }, "logger.level"},
		{"bad log format", func(c *Config) { c.Logger.Format = "xml" }, "logger.format"},
		{"bad exporter", func(c *Config) { c.Tracer.Enabled = true; c.Tracer.Exporter = "jaeger" }, "tracer.exporter"},
		{"bad backend addr", func(c *Config) { c.Backend.Addr = "8000" }, "backend.addr"},
		{"zero burst", func(c *Config) { c.Backend.BurstSize = 0 }, "backend.burst_size"},
		{"session lifetime", func(c *Config) { c.Backend.QuickSight.SessionLifetimeMinutes = 5 }, "session_lifetime_minutes"},
		{"allowed domain", func(c *Config) { c.Backend.QuickSight.AllowedDomains = []string{"localhost"} }, "allowed_domains[0]"},
		{"history limit", func(c *Config) { c.Backend.Bedrock.HistoryLimit = 0 }, "history_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.API.UserID = ""
	cfg.Embed.Container = ""
	cfg.Logger.Format = "xml"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
