package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"quickchat/internal/adapter/backend"
	"quickchat/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// doctorTimeout bounds each network probe.
const doctorTimeout = 5 * time.Second

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	flags := parseFlags(commandArgs())

	// Some checks work without a config.
	cfg, cfgErr := loadConfig(flags)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(flags.Config, cfgErr)},
		{Name: "Backend", Fn: checkBackend},
		{Name: "Embedding SDK", Fn: checkSDK},
		{Name: "Page host", Fn: checkPageHost},
		{Name: "AWS settings", Fn: checkAWSSettings},
		{Name: "QuickSight user", Fn: checkQuickSightUser},
	}

	fmt.Println("quickchat doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Printf("  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loaded. A missing
// file is only a warning: defaults and QUICKCHAT_* variables still apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and permissions (0600)",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkBackend probes the backend health endpoint.
func checkBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	base := cfg.BaseURL()
	status, err := probe(http.MethodGet, base+"/healthz")
	switch {
	case err != nil:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s unreachable", base),
			Fix:     "Start it with 'quickchat serve' or pass --api",
		}
	case status != http.StatusOK:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s answered %d on /healthz", base, status),
		}
	}
	return CheckResult{Status: StatusPass, Message: base + " is healthy"}
}

// checkSDK verifies the embedding library can be downloaded.
func checkSDK(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	status, err := probe(http.MethodHead, cfg.Embed.SDKSrc)
	if err != nil || status >= 400 {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot fetch " + cfg.Embed.SDKSrc,
			Fix:     "Check network access or set embed.sdk_src",
		}
	}
	return CheckResult{Status: StatusPass, Message: "embedding SDK reachable"}
}

// checkPageHost verifies the configured page host can run.
func checkPageHost(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	if cfg.Browser.Host == "jsvm" {
		return CheckResult{Status: StatusPass, Message: "in-process runtime, no browser required"}
	}
	if cfg.Browser.RemoteURL != "" {
		return CheckResult{Status: StatusPass, Message: "using remote Chrome at " + cfg.Browser.RemoteURL}
	}

	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return CheckResult{
				Status:  StatusPass,
				Message: fmt.Sprintf("found %s at %s", name, path),
			}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "Chromium not found",
		Fix:     "Install Chromium, set browser.remote_url, or use browser.host: jsvm",
	}
}

// checkAWSSettings reports whether the backend has what it needs to issue
// embed URLs. Only 'serve' and 'dev' use these.
func checkAWSSettings(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	var missing []string
	if cfg.Backend.AWS.AccountID == "" {
		missing = append(missing, "AWS_ACCOUNT_ID")
	}
	if cfg.Backend.QuickSight.UserARN == "" {
		missing = append(missing, "AWS_USER_ARN")
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "backend cannot issue embed URLs without " + strings.Join(missing, ", "),
			Fix:     "Set them in the environment or under backend.aws / backend.quicksight",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("region %s, namespace %s", cfg.Backend.AWS.Region, cfg.Backend.QuickSight.Namespace),
	}
}

// checkQuickSightUser asks the backend whether its credentials map to a
// registered QuickSight user, the usual cause of embed URL failures.
func checkQuickSightUser(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "no config"}
	}
	var info backend.UserInfo
	status, err := probeJSON(cfg.BaseURL()+"/api/quicksight/user-info", &info)
	switch {
	case err != nil && status == 0:
		return CheckResult{Status: StatusWarn, Message: "skipped, backend unreachable"}
	case status != http.StatusOK:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("user lookup answered %d", status),
			Fix:     "Check the backend AWS credentials and region",
		}
	case err != nil:
		return CheckResult{Status: StatusWarn, Message: "unreadable user-info response"}
	case info.QuickSightUser == nil:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s has no QuickSight user", info.Identity.Arn),
			Fix:     "Register the user in QuickSight or set AWS_USER_ARN to an existing one",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s (%s)", info.QuickSightUser.UserName, info.QuickSightUser.Role),
	}
}

// probeJSON GETs url and decodes a 200 body into v.
func probeJSON(url string, v any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(v)
}

func probe(method, url string) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
