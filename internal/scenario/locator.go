// internal/scenario/locator.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
)

// Strategy is how a Locator finds its element.
type Strategy string

const (
	ByID    Strategy = "id"
	ByName  Strategy = "name"
	ByCSS   Strategy = "css"
	ByXPath Strategy = "xpath"
	// ByText matches an element of Tag whose normalized visible text contains
	// Value, ignoring ASCII case.
	ByText Strategy = "text"
)

// Locator is a strategy and value with an optional fallback. Resolution tries
// the chain in order and fails only when every strategy misses.
type Locator struct {
	Strategy Strategy
	Value    string
	Tag      string
	Fallback *Locator
}

func ID(id string) Locator { return Locator{Strategy: ByID, Value: id} }
func Name(name string) Locator { return Locator{Strategy: ByName, Value: name} }
func CSS(sel string) Locator { return Locator{Strategy: ByCSS, Value: sel} }
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Value: expr} }

// Text locates the first tag element containing text. An empty tag matches any element.
func Text(tag, text string) Locator { return Locator{Strategy: ByText, Value: text, Tag: tag} }

// Or returns a copy of l with next appended to the end of its fallback chain.
func (l Locator) Or(next Locator) Locator {
	chain := append(l.Chain(), next.Chain()...)
	return link(chain)
}

// Chain flattens the locator into its ordered strategies, each without a fallback.
func (l Locator) Chain() []Locator {
	var out []Locator
	for cur := &l; cur != nil; cur = cur.Fallback {
		step := *cur
		step.Fallback = nil
		out = append(out, step)
	}
	return out
}

func link(chain []Locator) Locator {
	for i := len(chain) - 2; i >= 0; i-- {
		next := chain[i+1]
		chain[i].Fallback = &next
	}
	return chain[0]
}

func (l Locator) String() string {
	parts := make([]string, 0, 2)
	for _, step := range l.Chain() {
		if step.Strategy == ByText {
			tag := step.Tag
			if tag == "" {
				tag = "*"
			}
			parts = append(parts, fmt.Sprintf("text=%s:%q", tag, step.Value))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", step.Strategy, step.Value))
	}
	return strings.Join(parts, " | ")
}

// Query converts the primary strategy into a page query.
func (l Locator) Query() (browser.Query, error) {
	if l.Value == "" {
		return browser.Query{}, fmt.Errorf("locator %s has an empty value", l.Strategy)
	}
	switch l.Strategy {
	case ByID:
		return browser.ID(l.Value), nil
	case ByName:
		return browser.CSS("[name=" + cssString(l.Value) + "]"), nil
	case ByCSS:
		return browser.CSS(l.Value), nil
	case ByXPath:
		return browser.XPath(l.Value), nil
	case ByText:
		return browser.XPath(textXPath(l.Tag, l.Value)), nil
	default:
		return browser.Query{}, fmt.Errorf("unknown locator strategy %q", l.Strategy)
	}
}

const (
	upperASCII = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerASCII = "abcdefghijklmnopqrstuvwxyz"
)

func textXPath(tag, text string) string {
	if tag == "" {
		tag = "*"
	}
	return fmt.Sprintf("//%s[contains(translate(normalize-space(.), '%s', '%s'), %s)]",
		tag, upperASCII, lowerASCII, xpathLiteral(strings.ToLower(text)))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	pieces := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(pieces))
	for i, p := range pieces {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func cssString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\A `)
	return `"` + r.Replace(s) + `"`
}

// Finder reports whether a query currently matches an element.
type Finder interface {
	Exists(ctx context.Context, q browser.Query) (bool, error)
}

// Resolution is the outcome of resolving a locator chain.
type Resolution struct {
	Found   bool
	Matched Locator
	Query   browser.Query
	// Tried lists the strategies attempted, in order.
	Tried []string
	// Err joins the failures of strategies that could not be evaluated at all.
	Err error
}

// NotFound describes a failed resolution as an error wrapping ErrNotFound.
func (r Resolution) NotFound() error {
	if r.Err != nil {
		return fmt.Errorf("%w: tried %s: %w", ErrNotFound, strings.Join(r.Tried, ", "), r.Err)
	}
	return fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(r.Tried, ", "))
}

// Resolve tries each strategy of loc in order against the current document
// and reports the first match. It does not wait.
func Resolve(ctx context.Context, page Finder, loc Locator) Resolution {
	var res Resolution
	var errs []error
	for _, step := range loc.Chain() {
		res.Tried = append(res.Tried, step.String())
		q, err := step.Query()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		found, err := page.Exists(ctx, q)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step, err))
			continue
		}
		if found {
			res.Found = true
			res.Matched = step
			res.Query = q
			return res
		}
	}
	res.Err = errors.Join(errs...)
	return res
}
