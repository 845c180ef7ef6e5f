// internal/browser/shim/shim.go
package shim

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

const (
	// URLPlaceholder is replaced in the JS template with the JSON-encoded capture base URL.
	URLPlaceholder = "/*{{HARNESS_CAPTURE_URL}}*/"
)

//go:embed capture_shim.js
var captureTemplate string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs an expression in the page and decodes the result into res.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, res interface{}) error
}

// DocumentScripter registers a script to run at the start of every new document.
type DocumentScripter interface {
	AddScriptOnNewDocument(ctx context.Context, script string) error
}

// Template returns the embedded shim source with the placeholder intact.
func Template() string {
	return captureTemplate
}

// Build returns the capture shim pointed at baseURL.
func Build(baseURL string) (string, error) {
	return BuildFromTemplate(captureTemplate, baseURL)
}

// BuildFromTemplate injects baseURL into template.
func BuildFromTemplate(template, baseURL string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("template is empty")
	}
	if !strings.Contains(template, URLPlaceholder) {
		return "", fmt.Errorf("template does not contain the required placeholder: %s", URLPlaceholder)
	}

	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	quoted, err := json.MarshalToString(normalized)
	if err != nil {
		return "", fmt.Errorf("could not encode capture URL: %w", err)
	}
	return strings.Replace(template, URLPlaceholder, quoted, 1), nil
}

// normalizeBaseURL accepts only absolute http(s) URLs and drops a trailing slash,
// since the shim appends "/<channel>" itself.
func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid capture URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("capture URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("capture URL %q has no host", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

// Instrument installs the shim into the current document. Call it once per
// navigation, before the interaction that sends the request.
func Instrument(ctx context.Context, page Evaluator, baseURL string) error {
	script, err := Build(baseURL)
	if err != nil {
		return err
	}
	var installed bool
	if err := page.Evaluate(ctx, script, &installed); err != nil {
		return fmt.Errorf("could not install capture shim: %w", err)
	}
	if !installed {
		return fmt.Errorf("capture shim did not report installation")
	}
	return nil
}

// InstrumentPersistent registers the shim for every document loaded after
// this call, so it survives navigations and runs before application scripts.
func InstrumentPersistent(ctx context.Context, page DocumentScripter, baseURL string) error {
	script, err := Build(baseURL)
	if err != nil {
		return err
	}
	return page.AddScriptOnNewDocument(ctx, script)
}

// Forwarded returns how many request copies the shim has attempted to send
// from the current document. It is zero when the shim is not installed.
func Forwarded(ctx context.Context, page Evaluator) (int, error) {
	var n int
	if err := page.Evaluate(ctx, "(window.__harnessForwarded || 0)", &n); err != nil {
		return 0, fmt.Errorf("could not read forward counter: %w", err)
	}
	return n, nil
}
