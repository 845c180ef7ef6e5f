// cmd/capture.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/capture"
	"github.com/xkilldash9x/exegenesis-harness/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// followInterval is how often the capture command checks for new records.
const followInterval = 100 * time.Millisecond

func newCaptureCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run a standalone capture server and print each request it receives",
		Long: `Starts the capture endpoint on capture.host:capture.port and writes every
received request to stdout as one JSON object per line. Stops on interrupt,
or after --count records.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			srv := capture.NewServer(cfg.Capture, nil, logger)
			baseURL, store, err := srv.Start(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := srv.Shutdown(context.WithoutCancel(cmd.Context())); err != nil {
					logger.Warn("Capture server shutdown incomplete.", zap.Error(err))
				}
			}()
			fmt.Fprintf(cmd.ErrOrStderr(), "capture endpoint: %s\n", baseURL)

			err = followRecords(cmd.Context(), store, cmd.OutOrStdout(), count)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("host", "", "listen host")
	cmd.Flags().Int("port", 0, "listen port (0 picks a free port)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many records (0 runs until interrupted)")
	return cmd
}

// followRecords writes records to out as they are appended to store. It
// returns after limit records when limit is positive, or when ctx ends.
func followRecords(ctx context.Context, store *capture.Store, out io.Writer, limit int) error {
	ticker := time.NewTicker(followInterval)
	defer ticker.Stop()

	enc := json.NewEncoder(out)
	seen := 0
	for {
		for _, rec := range store.Since(seen) {
			if err := enc.Encode(rec); err != nil {
				return fmt.Errorf("could not write record: %w", err)
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
