package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// defaultBaseURLs is the per-environment fallback for the backend base URL.
var defaultBaseURLs = map[string]string{
	EnvDevelopment: "http://localhost:8000",
	EnvProduction:  "https://api.yourdomain.com",
}

// DefaultSDKSrc is the version-pinned QuickSight embedding SDK bundle.
const DefaultSDKSrc = "https://unpkg.com/amazon-quicksight-embedding-sdk@2.0.0/dist/quicksight-embedding-js-sdk.min.js"

// Config is the top-level application configuration.
type Config struct {
	Environment string        `yaml:"environment"`
	API         APIConfig     `yaml:"api"`
	Embed       EmbedConfig   `yaml:"embed"`
	Browser     BrowserConfig `yaml:"browser"`
	Logger      LoggerConfig  `yaml:"logger"`
	Tracer      TracerConfig  `yaml:"tracer"`
	Backend     BackendConfig `yaml:"backend"`
}

// APIConfig holds settings for the chat / embed-url backend exchanges.
type APIConfig struct {
	// BaseURL overrides the per-environment default when set.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	UserID  string        `yaml:"user_id"`
}

// EmbedConfig holds settings for the embedded experience.
type EmbedConfig struct {
	SDKSrc         string        `yaml:"sdk_src"`
	SDKGlobal      string        `yaml:"sdk_global"`      // global namespace installed by the SDK
	ExperienceFunc string        `yaml:"experience_func"` // context method that mounts the experience
	Container      string        `yaml:"container"`       // CSS selector of the mount target
	Height         string        `yaml:"height"`
	Width          string        `yaml:"width"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	MountTimeout   time.Duration `yaml:"mount_timeout"`
}

// BrowserConfig selects and configures the page host.
type BrowserConfig struct {
	Host      string        `yaml:"host"`       // "chromedp" or "jsvm"
	RemoteURL string        `yaml:"remote_url"` // CDP websocket endpoint; empty launches a local Chrome
	Headless  bool          `yaml:"headless"`
	HostPage  string        `yaml:"host_page"` // page navigated to before mounting
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout", or a file path
}

// TracerConfig holds OpenTelemetry settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// BackendConfig holds settings for the companion backend service.
type BackendConfig struct {
	Addr           string               `yaml:"addr"`
	CORSOrigins    []string             `yaml:"cors_origins"`
	RequestsPerMin int                  `yaml:"requests_per_min"`
	BurstSize      int                  `yaml:"burst_size"`
	AWS            AWSConfig            `yaml:"aws"`
	QuickSight     QuickSightConfig     `yaml:"quicksight"`
	Bedrock        BedrockConfig        `yaml:"bedrock"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// AWSConfig holds credentials resolution settings.
type AWSConfig struct {
	Region    string `yaml:"region"`
	Profile   string `yaml:"profile"`
	AccountID string `yaml:"account_id"`
}

// QuickSightConfig holds embed-url issuance settings.
type QuickSightConfig struct {
	UserARN                string   `yaml:"user_arn"`
	Namespace              string   `yaml:"namespace"`
	AllowedDomains         []string `yaml:"allowed_domains"`
	SessionLifetimeMinutes int64    `yaml:"session_lifetime_minutes"`
}

// BedrockConfig holds chat answer generation settings.
type BedrockConfig struct {
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	MaxTokens    int    `yaml:"max_tokens"`
	HistoryLimit int    `yaml:"history_limit"`
}

// CircuitBreakerConfig configures the breaker around AWS calls.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Environment: EnvDevelopment,
		API: APIConfig{
			Timeout: 60 * time.Second,
			UserID:  "localUser1",
		},
		Embed: EmbedConfig{
			SDKSrc:         DefaultSDKSrc,
			SDKGlobal:      "QuickSightEmbedding",
			ExperienceFunc: "embedQuickChat",
			Container:      "#experience-container",
			Height:         "700px",
			Width:          "100%",
			LoadTimeout:    30 * time.Second,
			MountTimeout:   30 * time.Second,
		},
		Browser: BrowserConfig{
			Host:     "chromedp",
			Headless: false,
			HostPage: "about:blank",
			Timeout:  30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Backend: BackendConfig{
			Addr:           ":8000",
			CORSOrigins:    []string{"*"},
			RequestsPerMin: 120,
			BurstSize:      20,
			AWS: AWSConfig{
				Region: "us-east-1",
			},
			QuickSight: QuickSightConfig{
				Namespace:              "default",
				AllowedDomains:         []string{"http://localhost:3000", "http://localhost:8000"},
				SessionLifetimeMinutes: 600,
			},
			Bedrock: BedrockConfig{
				Model:        "anthropic.claude-3-haiku-20240307-v1:0",
				SystemPrompt: "You are a helpful analytics assistant.",
				MaxTokens:    1024,
				HistoryLimit: 20,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
	}
}

// BaseURL resolves the backend base URL: explicit setting first, then the
// fallback for the configured environment.
func (c *Config) BaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	if u, ok := defaultBaseURLs[c.Environment]; ok {
		return u
	}
	return defaultBaseURLs[EnvDevelopment]
}

// Load reads a YAML config file, overlays config.<environment>.yaml when present,
// applies env var overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// The environment may come from the process before any file is read so the
	// right overlay is picked.
	if v := os.Getenv("QUICKCHAT_ENV"); v != "" {
		cfg.Environment = v
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("QUICKCHAT_ENV"); v != "" {
		cfg.Environment = v
	}

	if err := applyEnvironmentOverlay(cfg, absPath); err != nil {
		return nil, err
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps QUICKCHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUICKCHAT_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("QUICKCHAT_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("QUICKCHAT_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.API.Timeout = d
		}
	}
	if v := os.Getenv("QUICKCHAT_API_USER_ID"); v != "" {
		cfg.API.UserID = v
	}
	if v := os.Getenv("QUICKCHAT_EMBED_SDK_SRC"); v != "" {
		cfg.Embed.SDKSrc = v
	}
	if v := os.Getenv("QUICKCHAT_EMBED_CONTAINER"); v != "" {
		cfg.Embed.Container = v
	}
	if v := os.Getenv("QUICKCHAT_BROWSER_HOST"); v != "" {
		cfg.Browser.Host = v
	}
	if v := os.Getenv("QUICKCHAT_BROWSER_CDP_URL"); v != "" {
		cfg.Browser.RemoteURL = v
	}
	if v := os.Getenv("QUICKCHAT_BROWSER_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Browser.Headless = b
		}
	}
	if v := os.Getenv("QUICKCHAT_BROWSER_HOST_PAGE"); v != "" {
		cfg.Browser.HostPage = v
	}
	if v := os.Getenv("QUICKCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("QUICKCHAT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("QUICKCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("QUICKCHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("QUICKCHAT_BACKEND_ADDR"); v != "" {
		cfg.Backend.Addr = v
	}
	if v := os.Getenv("QUICKCHAT_BACKEND_CORS_ORIGINS"); v != "" {
		cfg.Backend.CORSOrigins = splitList(v)
	}

	// AWS settings keep the variable names the original deployment used.
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Backend.AWS.Region = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		cfg.Backend.AWS.Profile = v
	}
	if v := os.Getenv("AWS_ACCOUNT_ID"); v != "" {
		cfg.Backend.AWS.AccountID = v
	}
	if v := os.Getenv("AWS_USER_ARN"); v != "" {
		cfg.Backend.QuickSight.UserARN = v
	}
	if v := os.Getenv("QUICKSIGHT_NAMESPACE"); v != "" {
		cfg.Backend.QuickSight.Namespace = v
	}
	if v := os.Getenv("QUICKCHAT_QUICKSIGHT_ALLOWED_DOMAINS"); v != "" {
		cfg.Backend.QuickSight.AllowedDomains = splitList(v)
	}
	if v := os.Getenv("QUICKCHAT_BEDROCK_MODEL"); v != "" {
		cfg.Backend.Bedrock.Model = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Readable by others is fine; writable is not.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
