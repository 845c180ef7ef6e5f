// internal/suite/viewports.go
package suite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/artifacts"
)

// Viewport is a named device size for layout screenshots.
type Viewport struct {
	Name   string
	Width  int
	Height int
}

// DefaultViewports are the desktop, tablet and phone sizes captured by the
// screenshots command.
var DefaultViewports = []Viewport{
	{Name: "desktop", Width: 1366, Height: 768},
	{Name: "tablet", Width: 768, Height: 1024},
	{Name: "phone", Width: 375, Height: 812},
}

// ResizablePage is a page that can change its viewport.
type ResizablePage interface {
	artifacts.Page
	Navigate(ctx context.Context, url string) error
	Resize(ctx context.Context, width, height int) error
}

// CaptureViewports loads url at each viewport and writes a full-page
// screenshot named index-<viewport>.png. It stops at the first failure.
func CaptureViewports(ctx context.Context, page ResizablePage, url string, viewports []Viewport, dumper *artifacts.Dumper, logger *zap.Logger) ([]string, error) {
	var written []string
	for _, vp := range viewports {
		logger.Info("Capturing viewport.", zap.String("viewport", vp.Name), zap.String("url", url))
		if err := page.Resize(ctx, vp.Width, vp.Height); err != nil {
			return written, err
		}
		if err := page.Navigate(ctx, url); err != nil {
			return written, err
		}
		png, err := page.Screenshot(ctx)
		if err != nil {
			return written, fmt.Errorf("viewport %s: %w", vp.Name, err)
		}
		path, err := dumper.WriteFile(fmt.Sprintf("index-%s.png", vp.Name), png)
		if err != nil {
			return written, fmt.Errorf("viewport %s: %w", vp.Name, err)
		}
		logger.Info("Saved viewport screenshot.", zap.String("path", path))
		written = append(written, path)
	}
	return written, nil
}
