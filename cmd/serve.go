// cmd/serve.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/appserver"
	"github.com/xkilldash9x/exegenesis-harness/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve the application directory over HTTP until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			dir := cfg.Target.ServeDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return errors.New("no directory to serve: pass one or set target.serve_dir")
			}
			logger := observability.GetLogger()

			app := appserver.New(dir, cfg.Target.ServeAddr, logger)
			baseURL, err := app.Start(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "serving %s at %s\n", dir, baseURL)

			// Runs until interrupted; the only wait here without a deadline.
			<-cmd.Context().Done()
			if err := app.Shutdown(appShutdownTimeout); err != nil {
				logger.Warn("App server shutdown incomplete.", zap.Error(err))
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("serve-addr", "", "listen address")
	return cmd
}
