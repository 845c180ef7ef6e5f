// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Session policies understood by the suite runner.
const (
	SessionPolicyShared      = "shared"
	SessionPolicyPerScenario = "per_scenario"
)

// Config holds the entire harness configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Capture   CaptureConfig   `mapstructure:"capture" yaml:"capture"`
	Scenario  ScenarioConfig  `mapstructure:"scenario" yaml:"scenario"`
	Target    TargetConfig    `mapstructure:"target" yaml:"target"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for different log levels on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Viewport is a fixed window size in CSS pixels.
type Viewport struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the headless browser process owned by a session.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU    bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	NoSandbox     bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	Viewport      Viewport      `mapstructure:"viewport" yaml:"viewport"`
	ProfilePrefix string        `mapstructure:"profile_prefix" yaml:"profile_prefix"`
	ProfileRoot   string        `mapstructure:"profile_root" yaml:"profile_root"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// CaptureConfig tunes the ephemeral capture endpoint.
type CaptureConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AckBody         string        `mapstructure:"ack_body" yaml:"ack_body"`
}

// ScenarioConfig holds the poll and timeout parameters used by every wait step.
type ScenarioConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	StepTimeout    time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
	SessionPolicy  string        `mapstructure:"session_policy" yaml:"session_policy"`
	Only           []string      `mapstructure:"only" yaml:"only"`
}

// TargetConfig describes where the application under test lives.
type TargetConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	ServeDir  string `mapstructure:"serve_dir" yaml:"serve_dir"`
	ServeAddr string `mapstructure:"serve_addr" yaml:"serve_addr"`
}

// ArtifactsConfig controls where failure artifacts are written.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Screenshots adds labeled screenshot steps to scenarios that define them.
	Screenshots bool `mapstructure:"screenshots" yaml:"screenshots"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harness")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 800)
	v.SetDefault("browser.profile_prefix", "chrome-data-")
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.close_timeout", "10s")

	// -- Capture --
	v.SetDefault("capture.host", "127.0.0.1")
	v.SetDefault("capture.port", 0)
	v.SetDefault("capture.max_body_bytes", 1<<20)
	v.SetDefault("capture.shutdown_timeout", "1s")
	v.SetDefault("capture.ack_body", `{"ok":true}`)

	// -- Scenario --
	v.SetDefault("scenario.poll_interval", "100ms")
	v.SetDefault("scenario.step_timeout", "5s")
	v.SetDefault("scenario.capture_timeout", "6s")
	v.SetDefault("scenario.session_policy", SessionPolicyShared)

	// -- Target --
	v.SetDefault("target.base_url", "http://localhost:8000/index.html")
	v.SetDefault("target.serve_addr", "127.0.0.1:8000")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "tests/debug")
	v.SetDefault("artifacts.screenshots", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves a leading '~' in the directory settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Artifacts.Dir, &c.Browser.ProfileRoot, &c.Target.ServeDir, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport must have positive width and height")
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.Capture.Port < 0 || c.Capture.Port > 65535 {
		return fmt.Errorf("capture.port must be between 0 and 65535")
	}
	if c.Capture.ShutdownTimeout <= 0 {
		return fmt.Errorf("capture.shutdown_timeout must be a positive duration")
	}
	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario configuration invalid: %w", err)
	}
	if strings.TrimSpace(c.Artifacts.Dir) == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	return nil
}

// Validate checks the poll/timeout settings.
func (s *ScenarioConfig) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if s.StepTimeout <= 0 || s.CaptureTimeout <= 0 {
		return fmt.Errorf("step_timeout and capture_timeout must be positive durations")
	}
	if s.PollInterval > s.StepTimeout {
		return fmt.Errorf("poll_interval (%s) must not exceed step_timeout (%s)", s.PollInterval, s.StepTimeout)
	}
	switch s.SessionPolicy {
	case SessionPolicyShared, SessionPolicyPerScenario:
	default:
		return fmt.Errorf("session_policy must be %q or %q, got %q", SessionPolicyShared, SessionPolicyPerScenario, s.SessionPolicy)
	}
	return nil
}
