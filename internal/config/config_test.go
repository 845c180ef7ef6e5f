// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "harness", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.DisableGPU)
	assert.Equal(t, Viewport{Width: 1280, Height: 800}, cfg.Browser.Viewport)
	assert.Equal(t, "127.0.0.1", cfg.Capture.Host)
	assert.Equal(t, 0, cfg.Capture.Port)
	assert.Equal(t, time.Second, cfg.Capture.ShutdownTimeout)
	assert.Equal(t, `{"ok":true}`, cfg.Capture.AckBody)
	assert.Equal(t, 100*time.Millisecond, cfg.Scenario.PollInterval)
	assert.Equal(t, 6*time.Second, cfg.Scenario.CaptureTimeout)
	assert.Equal(t, SessionPolicyShared, cfg.Scenario.SessionPolicy)
	assert.False(t, cfg.Artifacts.Screenshots)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero viewport", func(c *Config) { c.Browser.Viewport.Width = 0 }, "browser.viewport"},
		{"bad port", func(c *Config) { c.Capture.Port = 70000 }, "capture.port"},
		{"no shutdown timeout", func(c *Config) { c.Capture.ShutdownTimeout = 0 }, "capture.shutdown_timeout"},
		{"no poll interval", func(c *Config) { c.Scenario.PollInterval = 0 }, "poll_interval"},
		{"poll exceeds step", func(c *Config) { c.Scenario.PollInterval = 10 * time.Second }, "must not exceed"},
		{"unknown policy", func(c *Config) { c.Scenario.SessionPolicy = "forever" }, "session_policy"},
		{"no artifacts dir", func(c *Config) { c.Artifacts.Dir = " " }, "artifacts.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
browser:
  viewport:
    width: 1920
    height: 1080
  args:
    - --lang=en-US
capture:
  port: 9911
scenario:
  poll_interval: 50ms
  session_policy: per_scenario
artifacts:
  dir: ~/harness-debug
  screenshots: true
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, Viewport{Width: 1920, Height: 1080}, cfg.Browser.Viewport)
	assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser.Args)
	assert.Equal(t, 9911, cfg.Capture.Port)
	assert.Equal(t, 50*time.Millisecond, cfg.Scenario.PollInterval)
	assert.Equal(t, SessionPolicyPerScenario, cfg.Scenario.SessionPolicy)
	// Defaults survive alongside overrides.
	assert.Equal(t, 6*time.Second, cfg.Scenario.CaptureTimeout)

	home, err := homedir.Dir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "harness-debug"), cfg.Artifacts.Dir)
	assert.True(t, cfg.Artifacts.Screenshots)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("scenario.session_policy", "sometimes")

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
