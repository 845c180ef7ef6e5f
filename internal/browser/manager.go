// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/config"
)

// ErrLaunchFailed wraps every failure to bring up a browser process.
var ErrLaunchFailed = errors.New("browser launch failed")

// Manager opens isolated headless browser sessions and tracks the ones still
// open so Shutdown can reclaim them.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewManager creates a manager. No browser is started until Open.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if cfg.Viewport.Width <= 0 || cfg.Viewport.Height <= 0 {
		cfg.Viewport = config.Viewport{Width: 1280, Height: 800}
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	if cfg.ProfilePrefix == "" {
		cfg.ProfilePrefix = "chrome-data-"
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		sessions: make(map[string]*Session),
	}
}

// LaunchFlags returns the command-line switches for a browser using profileDir.
// User-supplied args override the defaults.
func LaunchFlags(cfg config.BrowserConfig, profileDir string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                 cfg.Headless,
		"disable-gpu":              cfg.DisableGPU,
		"no-sandbox":               cfg.NoSandbox,
		"disable-dev-shm-usage":    true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-extensions":       true,
		"disable-sync":             true,
		"window-size":              fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height),
		"user-data-dir":            profileDir,
	}

	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if !hasValue {
			flags[name] = true
			continue
		}
		if b, err := strconv.ParseBool(value); err == nil {
			flags[name] = b
			continue
		}
		flags[name] = value
	}
	return flags
}

// AllocatorOptions converts the launch flags into chromedp allocator options.
func AllocatorOptions(cfg config.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := LaunchFlags(cfg, profileDir)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// chromeNames mirrors the PATH lookup in chromedp's default allocator. It only
// feeds FindChrome; a stale entry costs a misleading warning, never a launch,
// because Open reports ErrLaunchFailed on its own.
var chromeNames = []string{
	"headless_shell", "headless-shell", "chromium", "chromium-browser",
	"google-chrome", "google-chrome-stable", "google-chrome-beta", "google-chrome-unstable",
}

// FindChrome returns the browser executable the manager would launch: the
// configured path when set, otherwise the first known name found on PATH.
// Callers use it for an early warning and to skip browser tests.
func FindChrome(cfg config.BrowserConfig) (string, bool) {
	if cfg.ExecPath != "" {
		if _, err := os.Stat(cfg.ExecPath); err != nil {
			return "", false
		}
		return cfg.ExecPath, true
	}
	for _, name := range chromeNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

// Open launches a fresh browser with its own temporary profile. On any failure
// the partially built session is torn down before returning.
func (m *Manager) Open(ctx context.Context) (*Session, error) {
	profileDir, err := os.MkdirTemp(m.cfg.ProfileRoot, m.cfg.ProfilePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: could not create profile directory: %v", ErrLaunchFailed, err)
	}

	id := uuid.New().String()
	s := newSession(id, profileDir, m.cfg.Viewport, m.cfg.CloseTimeout, m.logger)

	// The allocator must not inherit ctx: the session outlives the Open call.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), AllocatorOptions(m.cfg, profileDir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Debugf),
	)
	s.attach(browserCtx, browserCancel, allocCancel)

	m.register(s)

	// The first Run starts the process. It runs on the browser context itself,
	// so a launch deadline is enforced by racing it rather than deriving from it.
	launched := make(chan error, 1)
	go func() {
		launched <- chromedp.Run(browserCtx, chromedp.EmulateViewport(int64(m.cfg.Viewport.Width), int64(m.cfg.Viewport.Height)))
	}()

	var launchErr error
	select {
	case launchErr = <-launched:
	case <-time.After(m.cfg.LaunchTimeout):
		launchErr = fmt.Errorf("no response within %s", m.cfg.LaunchTimeout)
	case <-ctx.Done():
		launchErr = ctx.Err()
	}

	if launchErr != nil {
		_ = s.Close(detach(ctx))
		return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, launchErr)
	}

	s.logger.Info("Browser session opened.",
		zap.String("profile_dir", profileDir),
		zap.Int("width", m.cfg.Viewport.Width),
		zap.Int("height", m.cfg.Viewport.Height),
	)
	return s, nil
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
	}
}

// Active returns the number of sessions not yet closed.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open session and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		go func(s *Session) {
			_ = s.Close(ctx)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for browser sessions to close.", zap.Int("remaining", m.Active()))
		return ctx.Err()
	}
}
