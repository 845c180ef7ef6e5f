// internal/browser/manager_test.go
package browser

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/exegenesis-harness/internal/config"
)

func TestLaunchFlags_Defaults(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless:   true,
		DisableGPU: true,
		Viewport:   config.Viewport{Width: 1280, Height: 800},
	}
	flags := LaunchFlags(cfg, "/tmp/profile")

	assert.Equal(t, true, flags["headless"])
	assert.Equal(t, true, flags["disable-gpu"])
	assert.Equal(t, false, flags["no-sandbox"])
	assert.Equal(t, "1280,800", flags["window-size"])
	assert.Equal(t, "/tmp/profile", flags["user-data-dir"])
	assert.Equal(t, true, flags["no-first-run"])
}

func TestLaunchFlags_UserArgsOverride(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless: true,
		Viewport: config.Viewport{Width: 800, Height: 600},
		Args: []string{
			"--headless=false",
			"--lang=en-US",
			"--mute-audio",
			"--",
			"window-size=1024,768",
		},
	}
	flags := LaunchFlags(cfg, "/tmp/p")

	assert.Equal(t, false, flags["headless"])
	assert.Equal(t, "en-US", flags["lang"])
	assert.Equal(t, true, flags["mute-audio"])
	assert.Equal(t, "1024,768", flags["window-size"])
	assert.NotContains(t, flags, "")
}

func TestAllocatorOptions(t *testing.T) {
	cfg := config.BrowserConfig{Headless: true, Viewport: config.Viewport{Width: 1, Height: 1}}
	flags := LaunchFlags(cfg, "/tmp/p")

	opts := AllocatorOptions(cfg, "/tmp/p")
	assert.Len(t, opts, len(chromedp.DefaultExecAllocatorOptions)+len(flags))

	cfg.ExecPath = "/opt/chrome/chrome"
	assert.Len(t, AllocatorOptions(cfg, "/tmp/p"), len(chromedp.DefaultExecAllocatorOptions)+len(flags)+1)
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	assert.Equal(t, config.Viewport{Width: 1280, Height: 800}, m.cfg.Viewport)
	assert.Equal(t, 30*time.Second, m.cfg.LaunchTimeout)
	assert.Equal(t, 10*time.Second, m.cfg.CloseTimeout)
	assert.Equal(t, "chrome-data-", m.cfg.ProfilePrefix)
	assert.Zero(t, m.Active())
}

func TestFindChrome_ExecPath(t *testing.T) {
	exe := filepath.Join(t.TempDir(), "chrome")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	path, ok := FindChrome(config.BrowserConfig{ExecPath: exe})
	assert.True(t, ok)
	assert.Equal(t, exe, path)

	_, ok = FindChrome(config.BrowserConfig{ExecPath: filepath.Join(t.TempDir(), "missing")})
	assert.False(t, ok)
}

func TestManager_OpenLaunchFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	m := NewManager(config.BrowserConfig{
		Headless:      true,
		ExecPath:      filepath.Join(root, "no-such-browser"),
		ProfileRoot:   root,
		LaunchTimeout: 2 * time.Second,
		CloseTimeout:  time.Second,
	}, zaptest.NewLogger(t))

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Open(context.Background())
		errCh <- err
	}()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(15 * time.Second):
		t.Fatal("Open did not return after a failed launch")
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunchFailed)
	assert.Zero(t, m.Active())

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "the profile directory of a failed launch is removed")
}

func TestManager_OpenMissingProfileRoot(t *testing.T) {
	m := NewManager(config.BrowserConfig{ProfileRoot: filepath.Join(t.TempDir(), "absent", "dir")}, zaptest.NewLogger(t))
	_, err := m.Open(context.Background())
	assert.ErrorIs(t, err, ErrLaunchFailed)
}

func TestManager_ShutdownWithoutSessions(t *testing.T) {
	m := NewManager(config.BrowserConfig{}, zaptest.NewLogger(t))
	assert.NoError(t, m.Shutdown(context.Background()))
}
