// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/config"
)

// ErrSessionClosed is returned by page operations after Close.
var ErrSessionClosed = errors.New("browser session closed")

// Session is one browser process with a disposable profile. It is owned by
// the Manager that opened it and loaned to callers through the Page methods.
type Session struct {
	id           string
	profileDir   string
	viewport     config.Viewport
	closeTimeout time.Duration
	logger       *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	onClose   func()
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Page = (*Session)(nil)

func newSession(id, profileDir string, viewport config.Viewport, closeTimeout time.Duration, logger *zap.Logger) *Session {
	return &Session{
		id:           id,
		profileDir:   profileDir,
		viewport:     viewport,
		closeTimeout: closeTimeout,
		logger:       logger.With(zap.String("session_id", id)),
	}
}

func (s *Session) attach(ctx context.Context, cancel, allocCancel context.CancelFunc) {
	s.ctx = ctx
	s.cancel = cancel
	s.allocCancel = allocCancel
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ProfileDir returns the temporary profile directory. It no longer exists after Close.
func (s *Session) ProfileDir() string { return s.profileDir }

// Viewport returns the configured window dimensions.
func (s *Session) Viewport() config.Viewport { return s.viewport }

// Close quits the browser and removes the profile directory. It is safe to
// call more than once and after a failed launch. Teardown problems are logged,
// never returned, so they cannot mask a scenario's own outcome.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.logger.Debug("Closing browser session.")

		if s.ctx != nil {
			s.teardown(ctx)
		}

		if s.profileDir != "" {
			if err := os.RemoveAll(s.profileDir); err != nil {
				s.logger.Warn("Could not remove browser profile.", zap.String("profile_dir", s.profileDir), zap.Error(err))
			}
		}

		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// teardown stops the browser and its allocator, giving up after closeTimeout.
// Exactly one of chromedp.Cancel and the context cancel func is called: both
// wait on the same allocation signal, which is delivered only once.
func (s *Session) teardown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if c := chromedp.FromContext(s.ctx); c != nil && c.Browser != nil {
			if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("Browser quit returned an error.", zap.Error(err))
			}
		} else if s.cancel != nil {
			// No process was attached; there is nothing to quit gracefully.
			s.cancel()
		}
		// Cancelling the allocator waits for the process to exit.
		if s.allocCancel != nil {
			s.allocCancel()
		}
	}()

	timeout := s.closeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("Browser did not stop in time, abandoning it.", zap.Duration("timeout", timeout))
	case <-ctx.Done():
		s.logger.Debug("Close context done before browser stopped.", zap.Error(ctx.Err()))
	}
}

// run executes chromedp actions bounded by both the session lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() || s.ctx == nil {
		return ErrSessionClosed
	}
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.closed.Load() {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Evaluate runs expression in the page and decodes the result into res.
func (s *Session) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return s.run(ctx, chromedp.Evaluate(expression, res))
}

// Exists reports whether q matches an element right now.
func (s *Session) Exists(ctx context.Context, q Query) (bool, error) {
	el, err := elementJS(q)
	if err != nil {
		return false, err
	}
	var found bool
	if err := s.Evaluate(ctx, fmt.Sprintf("(%s) !== null", el), &found); err != nil {
		return false, fmt.Errorf("query %s: %w", q, err)
	}
	return found, nil
}

// Click dispatches a real mouse click on the first visible element matching q.
func (s *Session) Click(ctx context.Context, q Query) error {
	sel, opts, err := chromedpSelector(q)
	if err != nil {
		return err
	}
	opts = append(opts, chromedp.NodeVisible)
	if err := s.run(ctx, chromedp.Click(sel, opts...)); err != nil {
		return fmt.Errorf("click %s: %w", q, err)
	}
	return nil
}

// SetValue assigns value to the element and fires input/change events.
func (s *Session) SetValue(ctx context.Context, q Query, value string) error {
	return s.callElement(ctx, q, setValueJS, value)
}

// SelectByText chooses the option whose trimmed label equals text.
func (s *Session) SelectByText(ctx context.Context, q Query, text string) error {
	return s.callElement(ctx, q, selectByTextJS, text)
}

// Type focuses the element and sends text as key events.
func (s *Session) Type(ctx context.Context, q Query, text string) error {
	sel, opts, err := chromedpSelector(q)
	if err != nil {
		return err
	}
	opts = append(opts, chromedp.NodeVisible)
	if err := s.run(ctx, chromedp.SendKeys(sel, text, opts...)); err != nil {
		return fmt.Errorf("type into %s: %w", q, err)
	}
	return nil
}

// Attribute returns the named attribute of the element; ok is false when the
// element or the attribute is missing.
func (s *Session) Attribute(ctx context.Context, q Query, name string) (string, bool, error) {
	el, err := elementJS(q)
	if err != nil {
		return "", false, err
	}
	quoted, err := json.MarshalToString(name)
	if err != nil {
		return "", false, err
	}
	var value *string
	if err := s.Evaluate(ctx, fmt.Sprintf(attributeJS, el, quoted), &value); err != nil {
		return "", false, fmt.Errorf("attribute %s of %s: %w", name, q, err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

// OuterHTML returns the serialized document.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return markup, nil
}

// Screenshot captures the full scrollable page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Resize changes the emulated viewport for subsequent rendering.
func (s *Session) Resize(ctx context.Context, width, height int) error {
	if err := s.run(ctx, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		return fmt.Errorf("resize to %dx%d: %w", width, height, err)
	}
	return nil
}

// AddScriptOnNewDocument registers script to run before any page script on
// every document loaded after this call.
func (s *Session) AddScriptOnNewDocument(ctx context.Context, script string) error {
	var scriptID page.ScriptIdentifier
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		scriptID, err = page.AddScriptToEvaluateOnNewDocument(script).Do(c)
		return err
	}))
	if err != nil {
		return fmt.Errorf("could not register document script: %w", err)
	}
	s.logger.Debug("Registered document script.", zap.String("script_id", string(scriptID)))
	return nil
}

func (s *Session) callElement(ctx context.Context, q Query, template, arg string) error {
	el, err := elementJS(q)
	if err != nil {
		return err
	}
	quoted, err := json.MarshalToString(arg)
	if err != nil {
		return err
	}
	var ok bool
	if err := s.Evaluate(ctx, fmt.Sprintf(template, el, quoted), &ok); err != nil {
		return fmt.Errorf("element %s: %w", q, err)
	}
	if !ok {
		return fmt.Errorf("element %s: %w", q, ErrNoSuchElement)
	}
	return nil
}

// ErrNoSuchElement is returned when an action's target is absent or unsuitable.
var ErrNoSuchElement = errors.New("no such element")

func chromedpSelector(q Query) (string, []chromedp.QueryOption, error) {
	switch q.Kind {
	case ByCSS, "":
		return q.Selector, []chromedp.QueryOption{chromedp.ByQuery}, nil
	case ByID:
		return q.Selector, []chromedp.QueryOption{chromedp.ByID}, nil
	case ByXPath:
		return q.Selector, []chromedp.QueryOption{chromedp.BySearch}, nil
	default:
		return "", nil, fmt.Errorf("unsupported selector kind %q", q.Kind)
	}
}
