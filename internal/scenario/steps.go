// internal/scenario/steps.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/browser/shim"
)

type waitKind int

const (
	waitNone waitKind = iota
	waitUI
	waitCapture
)

// Step is one action or check in a scenario.
type Step struct {
	Name string
	// Optional steps tolerate locator and timeout failures; the run continues.
	Optional bool
	// Wait is the poll timeout of a waiting step. Zero selects the configured default.
	Wait time.Duration

	waits waitKind
	run   func(ctx context.Context, st *State, wait time.Duration) error
}

// Do wraps fn as a step.
func Do(name string, fn func(ctx context.Context, st *State) error) Step {
	return Step{Name: name, run: func(ctx context.Context, st *State, _ time.Duration) error {
		return fn(ctx, st)
	}}
}

// Optional marks step as optional.
func Optional(step Step) Step {
	step.Optional = true
	return step
}

// Navigate loads url in the page.
func Navigate(url string) Step {
	return Step{Name: "navigate " + url, run: func(ctx context.Context, st *State, _ time.Duration) error {
		return st.Page.Navigate(ctx, url)
	}}
}

// WaitFor polls until loc resolves or timeout elapses.
func WaitFor(loc Locator, timeout time.Duration) Step {
	return Step{
		Name:  "wait for " + loc.String(),
		Wait:  timeout,
		waits: waitUI,
		run: func(ctx context.Context, st *State, wait time.Duration) error {
			var last Resolution
			err := Poll(ctx, st.cfg.PollInterval, wait, func(ctx context.Context) (bool, error) {
				last = Resolve(ctx, st.Page, loc)
				return last.Found, last.Err
			})
			if errors.Is(err, ErrTimeout) {
				return fmt.Errorf("%s never appeared: %w", loc, err)
			}
			return err
		},
	}
}

// Click resolves loc through its fallback chain and clicks the match.
func Click(loc Locator) Step {
	return Step{Name: "click " + loc.String(), run: func(ctx context.Context, st *State, _ time.Duration) error {
		res := Resolve(ctx, st.Page, loc)
		if !res.Found {
			return res.NotFound()
		}
		return st.Page.Click(ctx, res.Query)
	}}
}

// OpenDisclosure clicks the button whose visible text contains text, trying
// fallbacks in order when no such button exists.
func OpenDisclosure(text string, fallbacks ...Locator) Step {
	loc := Text("button", text)
	for _, f := range fallbacks {
		loc = loc.Or(f)
	}
	step := Click(loc)
	step.Name = fmt.Sprintf("open disclosure %q", text)
	return step
}

// Fill sets the value of the input matched by loc.
func Fill(loc Locator, text string) Step {
	return Step{Name: "fill " + loc.String(), run: func(ctx context.Context, st *State, _ time.Duration) error {
		res := Resolve(ctx, st.Page, loc)
		if !res.Found {
			return res.NotFound()
		}
		return st.Page.SetValue(ctx, res.Query, text)
	}}
}

// SelectOption picks the option of the select matched by loc whose visible text is label.
func SelectOption(loc Locator, label string) Step {
	return Step{Name: "select " + loc.String(), run: func(ctx context.Context, st *State, _ time.Duration) error {
		res := Resolve(ctx, st.Page, loc)
		if !res.Found {
			return res.NotFound()
		}
		return st.Page.SelectByText(ctx, res.Query, label)
	}}
}

// AssertPresent checks that every locator resolves right now.
func AssertPresent(locs ...Locator) Step {
	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.String()
	}
	return Step{Name: "assert present " + strings.Join(names, ", "), run: func(ctx context.Context, st *State, _ time.Duration) error {
		var missing []string
		for _, loc := range locs {
			res := Resolve(ctx, st.Page, loc)
			if res.Err != nil && !res.Found {
				return res.NotFound()
			}
			if !res.Found {
				missing = append(missing, loc.String())
			}
		}
		if len(missing) > 0 {
			return assertionf("elements not rendered: %s", strings.Join(missing, ", "))
		}
		return nil
	}}
}

// Instrument installs the capture shim into the current document. Records
// already in the store are ignored by a later WaitForCapture.
func Instrument() Step {
	return Step{Name: "instrument page", run: func(ctx context.Context, st *State, _ time.Duration) error {
		if st.CaptureURL == "" {
			return errors.New("no capture server is available to this scenario")
		}
		if err := shim.Instrument(ctx, st.Page, st.CaptureURL); err != nil {
			return err
		}
		if st.Store != nil {
			st.captureMark = st.Store.Len()
		}
		return nil
	}}
}

// SnapshotInputs records which of the named form controls are rendered. Take
// it just before submitting; AssertSchema uses it for optional keys.
func SnapshotInputs(names ...string) Step {
	return Step{Name: "snapshot inputs", run: func(ctx context.Context, st *State, _ time.Duration) error {
		present, err := snapshotInputs(ctx, st, names)
		if err != nil {
			return err
		}
		if st.inputs == nil {
			st.inputs = make(map[string]bool, len(present))
		}
		maps.Copy(st.inputs, present)
		st.Logger.Debug("Rendered inputs.", zap.Any("inputs", present))
		return nil
	}}
}

func snapshotInputs(ctx context.Context, st *State, names []string) (map[string]bool, error) {
	markup, err := st.Page.OuterHTML(ctx)
	if err != nil {
		return nil, err
	}
	return PresentInputs(markup, names)
}

// WaitForCapture polls the store until a request arrives after the page was
// instrumented, or timeout elapses.
func WaitForCapture(timeout time.Duration) Step {
	return Step{
		Name:  "wait for capture",
		Wait:  timeout,
		waits: waitCapture,
		run: func(ctx context.Context, st *State, wait time.Duration) error {
			if st.Store == nil {
				return errors.New("no capture store is available to this scenario")
			}
			err := Poll(ctx, st.cfg.PollInterval, wait, func(context.Context) (bool, error) {
				return st.Store.Len() > st.captureMark, nil
			})
			if err != nil {
				return fmt.Errorf("no request captured by server: %w", err)
			}
			rec, _ := st.Store.At(st.captureMark)
			st.record = &rec
			st.payload = rec.Body
			st.Logger.Info("Captured request.", zap.String("path", rec.Path), zap.Bool("structured", rec.Structured))
			return nil
		},
	}
}

// AssertSchema checks the captured payload: required keys present and
// non-empty, and optional keys present whenever their input was rendered.
func AssertSchema(required, optional []string) Step {
	return Step{Name: "assert payload schema", run: func(ctx context.Context, st *State, _ time.Duration) error {
		obj, err := capturedObject(st)
		if err != nil {
			return err
		}

		var unknown []string
		for _, name := range optional {
			if _, ok := st.inputs[name]; !ok {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			present, err := snapshotInputs(ctx, st, unknown)
			if err != nil {
				return err
			}
			if st.inputs == nil {
				st.inputs = make(map[string]bool, len(present))
			}
			maps.Copy(st.inputs, present)
		}

		presence := make(map[string]bool, len(optional))
		for _, name := range optional {
			presence[name] = st.inputs[name]
		}
		return CheckSchema(obj, required, presence)
	}}
}

// AssertPayload checks that the captured payload holds exactly these string values.
func AssertPayload(expected map[string]string) Step {
	return Step{Name: "assert payload values", run: func(_ context.Context, st *State, _ time.Duration) error {
		obj, err := capturedObject(st)
		if err != nil {
			return err
		}
		var mismatches []string
		for _, key := range slices.Sorted(maps.Keys(expected)) {
			got, ok := obj[key]
			if s, isString := got.(string); !ok || !isString || s != expected[key] {
				mismatches = append(mismatches, fmt.Sprintf("%s = %v, want %q", key, got, expected[key]))
			}
		}
		if len(mismatches) > 0 {
			return assertionf("payload values differ: %s", strings.Join(mismatches, "; "))
		}
		return nil
	}}
}

func capturedObject(st *State) (map[string]interface{}, error) {
	if st.record == nil {
		return nil, assertionf("no captured payload to check")
	}
	obj, err := DecodePayload(*st.record)
	if err != nil {
		return nil, err
	}
	st.payload = obj
	return obj, nil
}

// AssertThemeToggle clicks toggle and checks that root carries exactly one of
// the two theme classes both before and after, and that it changed.
func AssertThemeToggle(root, toggle Locator, themes [2]string, timeout time.Duration) Step {
	return Step{
		Name:  "assert theme toggle",
		Wait:  timeout,
		waits: waitUI,
		run: func(ctx context.Context, st *State, wait time.Duration) error {
			classes, err := classList(ctx, st, root)
			if err != nil {
				return err
			}
			before, ok := exactlyOne(classes, themes)
			if !ok {
				return assertionf("root classes %q carry %d of %v before toggling, want exactly one", classes, countThemes(classes, themes), themes)
			}

			res := Resolve(ctx, st.Page, toggle)
			if !res.Found {
				return res.NotFound()
			}
			if err := st.Page.Click(ctx, res.Query); err != nil {
				return err
			}

			var last []string
			err = Poll(ctx, st.cfg.PollInterval, wait, func(ctx context.Context) (bool, error) {
				classes, err := classList(ctx, st, root)
				if err != nil {
					return false, err
				}
				last = classes
				after, ok := exactlyOne(classes, themes)
				return ok && after != before, nil
			})
			if err != nil {
				return fmt.Errorf("theme did not switch away from %q (classes %q): %w", before, last, err)
			}
			st.Logger.Info("Theme toggled.", zap.String("from", before), zap.Strings("classes", last))
			return nil
		},
	}
}

func classList(ctx context.Context, st *State, root Locator) ([]string, error) {
	res := Resolve(ctx, st.Page, root)
	if !res.Found {
		return nil, res.NotFound()
	}
	class, _, err := st.Page.Attribute(ctx, res.Query, "class")
	if err != nil {
		return nil, err
	}
	return strings.Fields(class), nil
}

func countThemes(classes []string, themes [2]string) int {
	n := 0
	for _, t := range themes {
		if slices.Contains(classes, t) {
			n++
		}
	}
	return n
}

func exactlyOne(classes []string, themes [2]string) (string, bool) {
	if countThemes(classes, themes) != 1 {
		return "", false
	}
	if slices.Contains(classes, themes[0]) {
		return themes[0], true
	}
	return themes[1], true
}

// Screenshot saves a labelled screenshot into the artifact directory. It is a
// no-op when the runner has no dumper.
func Screenshot(label string) Step {
	return Step{Name: "screenshot " + label, run: func(ctx context.Context, st *State, _ time.Duration) error {
		if st.Dumper == nil {
			return nil
		}
		path, err := st.Dumper.Screenshot(ctx, st.Page, label)
		if err != nil {
			return err
		}
		st.Logger.Info("Saved screenshot.", zap.String("path", path))
		return nil
	}}
}
