// internal/scenario/errors.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no strategy of a locator matches.
	ErrNotFound = errors.New("element not found")
	// ErrAssertion marks a check against the page or the payload that did not hold.
	ErrAssertion = errors.New("assertion failed")
	// ErrDecode is returned when a captured body is needed as a JSON object but is not one.
	ErrDecode = errors.New("captured payload is not structured")
)

// Kind classifies a step failure.
type Kind string

const (
	KindEnvironment Kind = "environment"
	KindLocator     Kind = "locator"
	KindTimeout     Kind = "timeout"
	KindDecode      Kind = "decode"
	KindAssertion   Kind = "assertion"
)

// StepError reports which step of a scenario failed and why.
type StepError struct {
	Index int
	Step  string
	Kind  Kind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %q failed (%s): %v", e.Index+1, e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// classify maps an error onto the failure taxonomy. Anything unrecognized is
// treated as an environment failure.
func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrAssertion):
		return KindAssertion
	case errors.Is(err, ErrNotFound):
		return KindLocator
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindEnvironment
	}
}

// SchemaError lists every key that failed a schema check.
type SchemaError struct {
	MissingRequired []string
	EmptyRequired   []string
	// MissingOptional are optional keys whose input was rendered but that the payload lacks.
	MissingOptional []string
}

func (e *SchemaError) Error() string {
	var parts []string
	if len(e.MissingRequired) > 0 {
		parts = append(parts, "missing required keys: "+strings.Join(e.MissingRequired, ", "))
	}
	if len(e.EmptyRequired) > 0 {
		parts = append(parts, "empty required keys: "+strings.Join(e.EmptyRequired, ", "))
	}
	if len(e.MissingOptional) > 0 {
		parts = append(parts, "keys missing for rendered inputs: "+strings.Join(e.MissingOptional, ", "))
	}
	return "payload schema mismatch: " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrAssertion) match schema failures.
func (e *SchemaError) Is(target error) bool { return target == ErrAssertion }

// Missing returns every failing key.
func (e *SchemaError) Missing() []string {
	out := make([]string, 0, len(e.MissingRequired)+len(e.EmptyRequired)+len(e.MissingOptional))
	out = append(out, e.MissingRequired...)
	out = append(out, e.EmptyRequired...)
	return append(out, e.MissingOptional...)
}

func assertionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrAssertion, fmt.Sprintf(format, args...))
}
