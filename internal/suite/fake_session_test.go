// internal/suite/fake_session_test.go
package suite

import (
	"context"
	"errors"
	"sync"

	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
)

var errNoBrowser = errors.New("no browser in unit tests")

// fakeSession records navigation and lifecycle calls. Element operations
// fail, so any scenario that reaches for the DOM fails at that step.
type fakeSession struct {
	mu        sync.Mutex
	id        int
	navigated []string
	sizes     [][2]int
	closed    int
	shot      []byte
}

var _ Session = (*fakeSession)(nil)

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSession) Resize(_ context.Context, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes = append(s.sizes, [2]int{width, height})
	return nil
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) Evaluate(context.Context, string, interface{}) error { return errNoBrowser }
func (s *fakeSession) Exists(context.Context, browser.Query) (bool, error)  { return false, nil }
func (s *fakeSession) Click(context.Context, browser.Query) error           { return errNoBrowser }
func (s *fakeSession) SetValue(context.Context, browser.Query, string) error {
	return errNoBrowser
}
func (s *fakeSession) Type(context.Context, browser.Query, string) error { return errNoBrowser }
func (s *fakeSession) SelectByText(context.Context, browser.Query, string) error {
	return errNoBrowser
}
func (s *fakeSession) Attribute(context.Context, browser.Query, string) (string, bool, error) {
	return "", false, errNoBrowser
}
func (s *fakeSession) OuterHTML(context.Context) (string, error) { return "<html></html>", nil }
func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.shot == nil {
		return nil, errNoBrowser
	}
	return s.shot, nil
}
func (s *fakeSession) AddScriptOnNewDocument(context.Context, string) error { return nil }

// opener hands out fresh fake sessions and remembers them.
type opener struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (o *opener) open(context.Context) (Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	s := &fakeSession{id: len(o.sessions)}
	o.sessions = append(o.sessions, s)
	return s, nil
}
