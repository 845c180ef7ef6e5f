// cmd/screenshots.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/appserver"
	"github.com/xkilldash9x/exegenesis-harness/internal/artifacts"
	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
	"github.com/xkilldash9x/exegenesis-harness/internal/observability"
	"github.com/xkilldash9x/exegenesis-harness/internal/suite"
)

func newScreenshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screenshots",
		Short: "Capture full-page screenshots of the target at desktop, tablet and phone sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			logger := observability.GetLogger()

			target := cfg.Target.BaseURL
			if cfg.Target.ServeDir != "" {
				app := appserver.New(cfg.Target.ServeDir, cfg.Target.ServeAddr, logger)
				baseURL, err := app.Start(ctx)
				if err != nil {
					return err
				}
				defer func() { _ = app.Shutdown(appShutdownTimeout) }()
				if target, err = servedTarget(baseURL, target); err != nil {
					return err
				}
			}

			mgr := browser.NewManager(cfg.Browser, logger)
			sess, err := mgr.Open(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("Browser session close failed.", zap.Error(err))
				}
			}()

			paths, err := suite.CaptureViewports(ctx, sess, target, suite.DefaultViewports, artifacts.NewDumper(cfg.Artifacts.Dir, logger), logger)
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().String("target", "", "URL of the page to capture")
	cmd.Flags().String("serve", "", "serve this directory and capture it")
	cmd.Flags().String("serve-addr", "", "listen address for --serve")
	cmd.Flags().String("artifacts", "", "output directory")
	cmd.Flags().String("exec-path", "", "browser executable")
	return cmd
}
