// internal/scenario/schema.go
package scenario

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/exegenesis-harness/internal/capture"
)

// DecodePayload returns a captured body as a JSON object, decoding it first
// when it arrived as text.
func DecodePayload(rec capture.Record) (map[string]interface{}, error) {
	obj, err := rec.JSON()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return obj, nil
}

// CheckSchema verifies that every required key is present and non-empty, and
// that every optional key whose input was rendered (presence[key] is true) is
// present. An optional key whose input was not rendered may be absent.
func CheckSchema(payload map[string]interface{}, required []string, presence map[string]bool) error {
	var schemaErr SchemaError
	for _, key := range required {
		v, ok := payload[key]
		switch {
		case !ok:
			schemaErr.MissingRequired = append(schemaErr.MissingRequired, key)
		case isEmpty(v):
			schemaErr.EmptyRequired = append(schemaErr.EmptyRequired, key)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(presence)) {
		if !presence[key] {
			continue
		}
		if _, ok := payload[key]; !ok {
			schemaErr.MissingOptional = append(schemaErr.MissingOptional, key)
		}
	}

	if len(schemaErr.MissingRequired)+len(schemaErr.EmptyRequired)+len(schemaErr.MissingOptional) > 0 {
		return &schemaErr
	}
	return nil
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// PresentInputs reports, for each name, whether the markup contains a form
// control (input, select or textarea) with that name attribute.
func PresentInputs(markup string, names []string) (map[string]bool, error) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("could not parse page markup: %w", err)
	}

	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = false
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Input, atom.Select, atom.Textarea:
				for _, a := range n.Attr {
					if a.Key == "name" {
						if _, wanted := out[a.Val]; wanted {
							out[a.Val] = true
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}
