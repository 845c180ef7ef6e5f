// cmd/probe.go
package cmd

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/observability"
	"github.com/xkilldash9x/exegenesis-harness/internal/suite"
)

func newProbeCmd() *cobra.Command {
	var (
		path     string
		encoding string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <capture-url>",
		Short: "POST a sample form payload to a capture endpoint",
		Long: `Sends the same JSON body the submission scenario expects to see, so a
running capture server (see the capture command) can be checked by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := samplePayload()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, reply, err := probe(ctx, strings.TrimRight(args[0], "/")+path, body, encoding)
			if err != nil {
				return err
			}
			observability.GetLogger().Info("Probe answered.", zap.Int("status", status))
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", status, reply)
			if status != http.StatusOK {
				return fmt.Errorf("capture endpoint answered %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "/fetch", "request path appended to the capture URL")
	cmd.Flags().StringVar(&encoding, "encoding", "identity", "Content-Encoding for the body: identity, gzip or br")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

func samplePayload() ([]byte, error) {
	return json.Marshal(map[string]string{
		"goal":     suite.SampleGoal,
		"audience": suite.SampleAudience,
	})
}

// probe posts body to target, compressed with encoding, and returns the
// response status and body.
func probe(ctx context.Context, target string, body []byte, encoding string) (int, string, error) {
	payload, err := encodeBody(body, encoding)
	if err != nil {
		return 0, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("invalid capture URL: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" && encoding != "identity" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("capture endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, strings.TrimSpace(string(reply)), nil
}

func encodeBody(body []byte, encoding string) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		w = gzip.NewWriter(&buf)
	case "br":
		w = brotli.NewWriter(&buf)
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
