// internal/scenario/fake_page_test.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
)

// fakeElement is an element of fakePage. onClick runs with the page lock released.
type fakeElement struct {
	attrs   map[string]string
	value   string
	options []string
	onClick func(p *fakePage)
}

// fakePage is an in-memory browser.Page. Elements are keyed by the exact
// query that finds them, which is what the locator layer produces.
type fakePage struct {
	mu        sync.Mutex
	elements  map[browser.Query]*fakeElement
	existsErr map[browser.Query]error
	markup    string
	navigated []string
	scripts   []string
	clicks    []browser.Query
	evalErr   error
	shotErr   error
}

var _ browser.Page = (*fakePage)(nil)

func newFakePage() *fakePage {
	return &fakePage{
		elements:  make(map[browser.Query]*fakeElement),
		existsErr: make(map[browser.Query]error),
		markup:    "<html><head></head><body></body></html>",
	}
}

func (p *fakePage) add(q browser.Query, el *fakeElement) *fakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el.attrs == nil {
		el.attrs = map[string]string{}
	}
	p.elements[q] = el
	return el
}

func (p *fakePage) get(q browser.Query) *fakeElement {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[q]
}

func (p *fakePage) setAttr(q browser.Query, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[q].attrs[name] = value
}

func (p *fakePage) setMarkup(markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markup = markup
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

// Evaluate accepts any script; a *bool result is set to true, as the capture shim reports.
func (p *fakePage) Evaluate(_ context.Context, expression string, res interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.evalErr != nil {
		return p.evalErr
	}
	p.scripts = append(p.scripts, expression)
	if b, ok := res.(*bool); ok {
		*b = true
	}
	return nil
}

func (p *fakePage) Exists(_ context.Context, q browser.Query) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.existsErr[q]; err != nil {
		return false, err
	}
	_, ok := p.elements[q]
	return ok, nil
}

func (p *fakePage) Click(_ context.Context, q browser.Query) error {
	p.mu.Lock()
	el, ok := p.elements[q]
	if ok {
		p.clicks = append(p.clicks, q)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("click %s: %w", q, browser.ErrNoSuchElement)
	}
	if el.onClick != nil {
		el.onClick(p)
	}
	return nil
}

func (p *fakePage) SetValue(_ context.Context, q browser.Query, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[q]
	if !ok {
		return fmt.Errorf("element %s: %w", q, browser.ErrNoSuchElement)
	}
	el.value = value
	return nil
}

func (p *fakePage) Type(ctx context.Context, q browser.Query, text string) error {
	return p.SetValue(ctx, q, text)
}

func (p *fakePage) SelectByText(_ context.Context, q browser.Query, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[q]
	if !ok {
		return fmt.Errorf("element %s: %w", q, browser.ErrNoSuchElement)
	}
	for _, opt := range el.options {
		if strings.TrimSpace(opt) == text {
			el.value = opt
			return nil
		}
	}
	return fmt.Errorf("element %s: %w", q, browser.ErrNoSuchElement)
}

func (p *fakePage) Attribute(_ context.Context, q browser.Query, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[q]
	if !ok {
		return "", false, nil
	}
	v, ok := el.attrs[name]
	return v, ok, nil
}

func (p *fakePage) OuterHTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markup, nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) {
	if p.shotErr != nil {
		return nil, p.shotErr
	}
	return []byte("\x89PNG fake"), nil
}

func (p *fakePage) AddScriptOnNewDocument(_ context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, script)
	return nil
}

// value returns the value held by the element q, or "" when absent.
func (p *fakePage) value(q browser.Query) string {
	if el := p.get(q); el != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return el.value
	}
	return ""
}

func (p *fakePage) clickedSelectors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.clicks))
	for i, q := range p.clicks {
		out[i] = q.Selector
	}
	return out
}

// queryOf panics on invalid locators; tests only build valid ones.
func queryOf(l Locator) browser.Query {
	q, err := l.Query()
	if err != nil {
		panic(err)
	}
	return q
}

var errExists = errors.New("execution context was destroyed")

