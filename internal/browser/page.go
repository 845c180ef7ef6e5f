// internal/browser/page.go
package browser

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SelectorKind is how a Query's selector is interpreted in the page.
type SelectorKind string

const (
	ByCSS   SelectorKind = "css"
	ByID    SelectorKind = "id"
	ByXPath SelectorKind = "xpath"
)

// Query identifies a single element in the current document.
type Query struct {
	Kind     SelectorKind
	Selector string
}

// CSS, ID and XPath are shorthand constructors.
func CSS(sel string) Query { return Query{Kind: ByCSS, Selector: sel} }
func ID(id string) Query { return Query{Kind: ByID, Selector: id} }
func XPath(expr string) Query { return Query{Kind: ByXPath, Selector: expr} }

func (q Query) String() string {
	return fmt.Sprintf("%s=%s", q.Kind, q.Selector)
}

// Page is the driver surface the scenario runner needs. Session implements it
// over chromedp; tests substitute a fake.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Evaluate runs a JavaScript expression and decodes its result into res (which may be nil).
	Evaluate(ctx context.Context, expression string, res interface{}) error
	// Exists reports whether the element is in the document right now. It never waits.
	Exists(ctx context.Context, q Query) (bool, error)
	Click(ctx context.Context, q Query) error
	// SetValue assigns the value and fires input and change events.
	SetValue(ctx context.Context, q Query, value string) error
	// Type sends key events, as a user typing into the focused element.
	Type(ctx context.Context, q Query, text string) error
	// SelectByText selects the option of a <select> whose visible label matches text.
	SelectByText(ctx context.Context, q Query, text string) error
	Attribute(ctx context.Context, q Query, name string) (string, bool, error)
	OuterHTML(ctx context.Context) (string, error)
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	AddScriptOnNewDocument(ctx context.Context, script string) error
}

// elementJS returns a JavaScript expression evaluating to the element matched
// by q, or null.
func elementJS(q Query) (string, error) {
	sel, err := json.MarshalToString(q.Selector)
	if err != nil {
		return "", err
	}
	switch q.Kind {
	case ByCSS, "":
		return fmt.Sprintf("document.querySelector(%s)", sel), nil
	case ByID:
		return fmt.Sprintf("document.getElementById(%s)", sel), nil
	case ByXPath:
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", sel), nil
	default:
		return "", fmt.Errorf("unsupported selector kind %q", q.Kind)
	}
}

const setValueJS = `(function(el, value) {
	if (!el) { return false; }
	el.focus();
	el.value = value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
})(%s, %s)`

const selectByTextJS = `(function(el, label) {
	if (!el || !el.options) { return false; }
	for (var i = 0; i < el.options.length; i++) {
		if (el.options[i].text.trim() === label) {
			el.selectedIndex = i;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return true;
		}
	}
	return false;
})(%s, %s)`

const attributeJS = `(function(el, name) {
	if (!el || !el.hasAttribute(name)) { return null; }
	return el.getAttribute(name);
})(%s, %s)`
