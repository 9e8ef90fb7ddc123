package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateEnvironment(cfg, ve)
	validateAPI(cfg, ve)
	validateEmbed(cfg, ve)
	validateBrowser(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateBackend(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateEnvironment(cfg *Config, ve *ValidationError) {
	if _, ok := defaultBaseURLs[cfg.Environment]; !ok {
		ve.Add("environment %q is invalid (want: development, production)", cfg.Environment)
	}
}

func validateAPI(cfg *Config, ve *ValidationError) {
	if cfg.API.BaseURL != "" {
		validateHTTPURL("api.base_url", cfg.API.BaseURL, ve)
	}
	if cfg.API.Timeout <= 0 {
		ve.Add("api.timeout must be > 0")
	}
	if cfg.API.UserID == "" {
		ve.Add("api.user_id must not be empty")
	}
}

func validateEmbed(cfg *Config, ve *ValidationError) {
	if cfg.Embed.SDKSrc == "" {
		ve.Add("embed.sdk_src must not be empty")
	} else {
		validateHTTPURL("embed.sdk_src", cfg.Embed.SDKSrc, ve)
	}
	if cfg.Embed.SDKGlobal == "" {
		ve.Add("embed.sdk_global must not be empty")
	}
	if cfg.Embed.ExperienceFunc == "" {
		ve.Add("embed.experience_func must not be empty")
	}
	if cfg.Embed.Container == "" {
		ve.Add("embed.container must not be empty")
	}
	if cfg.Embed.LoadTimeout <= 0 {
		ve.Add("embed.load_timeout must be > 0")
	}
	if cfg.Embed.MountTimeout <= 0 {
		ve.Add("embed.mount_timeout must be > 0")
	}
}

var validBrowserHosts = map[string]bool{
	"chromedp": true,
	"jsvm":     true,
}

func validateBrowser(cfg *Config, ve *ValidationError) {
	if !validBrowserHosts[cfg.Browser.Host] {
		ve.Add("browser.host %q is invalid (want: chromedp, jsvm)", cfg.Browser.Host)
	}
	if cfg.Browser.Timeout <= 0 {
		ve.Add("browser.timeout must be > 0")
	}
	if cfg.Browser.RemoteURL != "" {
		u, err := url.Parse(cfg.Browser.RemoteURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") {
			ve.Add("browser.remote_url %q must be a ws(s):// or http(s):// URL", cfg.Browser.RemoteURL)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	if cfg.Tracer.Exporter != "stdout" && cfg.Tracer.Exporter != "noop" {
		ve.Add("tracer.exporter %q is invalid (want: stdout, noop)", cfg.Tracer.Exporter)
	}
}

func validateBackend(cfg *Config, ve *ValidationError) {
	b := cfg.Backend
	if b.Addr == "" {
		ve.Add("backend.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(b.Addr); err != nil {
		ve.Add("backend.addr %q is not a valid host:port", b.Addr)
	}
	if b.RequestsPerMin < 0 {
		ve.Add("backend.requests_per_min must be >= 0")
	}
	if b.RequestsPerMin > 0 && b.BurstSize <= 0 {
		ve.Add("backend.burst_size must be > 0 when rate limiting is enabled")
	}
	if b.AWS.Region == "" {
		ve.Add("backend.aws.region must not be empty")
	}
	if b.QuickSight.SessionLifetimeMinutes < 15 || b.QuickSight.SessionLifetimeMinutes > 600 {
		ve.Add("backend.quicksight.session_lifetime_minutes must be between 15 and 600")
	}
	for i, d := range b.QuickSight.AllowedDomains {
		validateHTTPURL(fmt.Sprintf("backend.quicksight.allowed_domains[%d]", i), d, ve)
	}
	if b.Bedrock.Model == "" {
		ve.Add("backend.bedrock.model must not be empty")
	}
	if b.Bedrock.HistoryLimit <= 0 {
		ve.Add("backend.bedrock.history_limit must be > 0")
	}
	if b.CircuitBreaker.MaxFailures == 0 {
		ve.Add("backend.circuit_breaker.max_failures must be > 0")
	}
}

func validateHTTPURL(field, raw string, ve *ValidationError) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		ve.Add("%s %q must be an absolute http(s) URL", field, raw)
	}
}
