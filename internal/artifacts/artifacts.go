// internal/artifacts/artifacts.go
package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is the part of a browser page an artifact dump reads from.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	OuterHTML(ctx context.Context) (string, error)
}

// Dumper persists failure artifacts into a single directory. File names carry
// the scenario name, a UTC timestamp and a short random suffix, so repeated
// runs never overwrite each other.
type Dumper struct {
	dir    string
	logger *zap.Logger

	now   func() time.Time
	newID func() string
}

// NewDumper creates a dumper writing into dir. The directory is created lazily.
func NewDumper(dir string, logger *zap.Logger) *Dumper {
	return &Dumper{
		dir:    dir,
		logger: logger.Named("artifacts"),
		now:    time.Now,
		newID:  func() string { return uuid.New().String()[:8] },
	}
}

// Dir returns the artifact directory.
func (d *Dumper) Dir() string { return d.dir }

// Dump writes a screenshot, the rendered markup and the payload. Each write
// is attempted independently; failures are logged and the paths that were
// actually written are returned. page may be nil when no browser is available.
func (d *Dumper) Dump(ctx context.Context, page Page, name string, payload interface{}) []string {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.logger.Warn("Could not create artifact directory.", zap.String("dir", d.dir), zap.Error(err))
		return nil
	}

	base := d.baseName(name)
	var written []string

	keep := func(kind, path string, err error) {
		if err != nil {
			d.logger.Warn("Artifact not written.", zap.String("kind", kind), zap.String("path", path), zap.Error(err))
			return
		}
		written = append(written, path)
	}

	if page != nil {
		path := filepath.Join(d.dir, base+".png")
		keep("screenshot", path, d.writeScreenshot(ctx, page, path))

		path = filepath.Join(d.dir, base+".html")
		keep("markup", path, d.writeMarkup(ctx, page, path))
	}

	path := filepath.Join(d.dir, base+".json")
	keep("payload", path, writePayload(path, payload))

	d.logger.Info("Wrote failure artifacts.", zap.String("scenario", name), zap.Strings("paths", written))
	return written
}

// Screenshot saves a single labelled screenshot outside of the failure path.
func (d *Dumper) Screenshot(ctx context.Context, page Page, label string) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create artifact directory: %w", err)
	}
	path := filepath.Join(d.dir, d.baseName(label)+".png")
	if err := d.writeScreenshot(ctx, page, path); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile stores data under a fixed name in the artifact directory,
// replacing any previous file of that name.
func (d *Dumper) WriteFile(name string, data []byte) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("could not create artifact directory: %w", err)
	}
	path := filepath.Join(d.dir, sanitize(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (d *Dumper) writeScreenshot(ctx context.Context, page Page, path string) error {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0o644)
}

func (d *Dumper) writeMarkup(ctx context.Context, page Page, path string) error {
	markup, err := page.OuterHTML(ctx)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(markup), 0o644)
}

func writePayload(path string, payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		// Unencodable payloads are still worth keeping in some form.
		data, _ = json.Marshal(fmt.Sprintf("%v", payload))
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (d *Dumper) baseName(name string) string {
	stamp := d.now().UTC().Format("20060102T150405.000Z")
	return fmt.Sprintf("%s-%s-%s", sanitize(name), stamp, d.newID())
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "scenario"
	}
	return name
}
