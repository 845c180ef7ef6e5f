// cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/exegenesis-harness/internal/appserver"
	"github.com/xkilldash9x/exegenesis-harness/internal/artifacts"
	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
	"github.com/xkilldash9x/exegenesis-harness/internal/config"
	"github.com/xkilldash9x/exegenesis-harness/internal/observability"
	"github.com/xkilldash9x/exegenesis-harness/internal/scenario"
	"github.com/xkilldash9x/exegenesis-harness/internal/suite"
)

// errSuiteFailed is returned when the suite ran but at least one scenario
// failed. The report has already been printed.
var errSuiteFailed = errors.New("one or more scenarios failed")

// appShutdownTimeout bounds the wait for the static app server to stop.
const appShutdownTimeout = 2 * time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the browser scenarios against the target application",
		Long: `Runs every scenario (or those named with --only) in a headless browser.
When --serve is set, the application directory is served locally first and
the target URL is pointed at it. Exits non-zero if any scenario fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			return runSuite(cmd, cfg)
		},
	}
	cmd.Flags().String("target", "", "URL of the application under test")
	cmd.Flags().String("serve", "", "serve this directory as the application under test")
	cmd.Flags().String("serve-addr", "", "listen address for --serve")
	cmd.Flags().StringSlice("only", nil, "run only the named scenarios")
	cmd.Flags().String("session-policy", "", "browser session policy: shared or per_scenario")
	cmd.Flags().String("artifacts", "", "directory for failure artifacts")
	cmd.Flags().Bool("screenshots", false, "add labelled screenshots to scenarios that define them")
	cmd.Flags().Bool("headless", true, "run the browser headless")
	cmd.Flags().String("exec-path", "", "browser executable")
	return cmd
}

func runSuite(cmd *cobra.Command, cfg *config.Config) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	cases, err := suite.Select(suite.Cases(), cfg.Scenario.Only)
	if err != nil {
		return err
	}
	if path, ok := browser.FindChrome(cfg.Browser); ok {
		logger.Debug("Using browser.", zap.String("path", path))
	} else {
		logger.Warn("No Chrome or Chromium executable found; set browser.exec_path if launch fails.")
	}

	mgr := browser.NewManager(cfg.Browser, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Browser.CloseTimeout)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser sessions did not all close.", zap.Error(err))
		}
	}()

	runner := scenario.NewRunner(cfg.Scenario, artifacts.NewDumper(cfg.Artifacts.Dir, logger), logger)
	s := suite.New(cfg, suite.ManagerOpener(mgr), runner, logger)

	var report suite.Report
	if cfg.Target.ServeDir == "" {
		report, err = s.Run(ctx, cases)
	} else {
		report, err = runWithAppServer(ctx, cfg, s, cases, logger)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), report.String())
	if !report.Passed() {
		return errSuiteFailed
	}
	return nil
}

// runWithAppServer serves the application directory while the suite runs.
// The app server stopping early fails the run.
func runWithAppServer(ctx context.Context, cfg *config.Config, s *suite.Suite, cases []suite.Case, logger *zap.Logger) (suite.Report, error) {
	app := appserver.New(cfg.Target.ServeDir, cfg.Target.ServeAddr, logger)
	baseURL, err := app.Start(ctx)
	if err != nil {
		return suite.Report{}, err
	}
	defer func() {
		if err := app.Shutdown(appShutdownTimeout); err != nil {
			logger.Warn("App server shutdown incomplete.", zap.Error(err))
		}
	}()

	target, err := servedTarget(baseURL, cfg.Target.BaseURL)
	if err != nil {
		return suite.Report{}, err
	}
	cfg.Target.BaseURL = target
	logger.Info("Running against served application.", zap.String("target", target))

	var report suite.Report
	g, gctx := errgroup.WithContext(ctx)
	suiteCtx, suiteDone := context.WithCancel(gctx)

	g.Go(func() error {
		defer suiteDone()
		var runErr error
		report, runErr = s.Run(suiteCtx, cases)
		return runErr
	})
	g.Go(func() error {
		if err := app.Wait(suiteCtx); err == nil {
			return errors.New("app server stopped before the suite finished")
		}
		return nil
	})

	err = g.Wait()
	return report, err
}

// servedTarget keeps the path, query and fragment of the configured target
// and points it at the locally served base URL.
func servedTarget(baseURL, configured string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	target, err := url.Parse(configured)
	if err != nil {
		return "", fmt.Errorf("invalid target URL %q: %w", configured, err)
	}
	target.Scheme = base.Scheme
	target.Host = base.Host
	if target.Path == "" {
		target.Path = "/"
	}
	return target.String(), nil
}
