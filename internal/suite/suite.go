// internal/suite/suite.go
package suite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
	"github.com/xkilldash9x/exegenesis-harness/internal/capture"
	"github.com/xkilldash9x/exegenesis-harness/internal/config"
	"github.com/xkilldash9x/exegenesis-harness/internal/scenario"
)

// Session is a browser page the suite can close when it is done with it.
type Session interface {
	browser.Page
	Close(ctx context.Context) error
}

// Opener starts a new browser session.
type Opener func(ctx context.Context) (Session, error)

// ManagerOpener adapts a browser.Manager to an Opener.
func ManagerOpener(m *browser.Manager) Opener {
	return func(ctx context.Context) (Session, error) {
		s, err := m.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Report aggregates the results of a suite run.
type Report struct {
	Results []scenario.Result
}

// Passed reports whether every scenario passed.
func (r Report) Passed() bool {
	return r.Failed() == 0
}

// Failed returns the number of failed scenarios.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed {
			n++
		}
	}
	return n
}

func (r Report) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		b.WriteString(res.Report())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d passed, %d failed", len(r.Results)-r.Failed(), r.Failed())
	return b.String()
}

// Suite runs cases against the target application, managing browser
// sessions according to the configured policy and a fresh capture server for
// every case that needs one.
type Suite struct {
	cfg    *config.Config
	open   Opener
	runner *scenario.Runner
	logger *zap.Logger
}

// New creates a suite.
func New(cfg *config.Config, open Opener, runner *scenario.Runner, logger *zap.Logger) *Suite {
	return &Suite{cfg: cfg, open: open, runner: runner, logger: logger.Named("suite")}
}

// Run executes cases in order. Scenario failures are reported in the
// Report; an error is returned only for environment failures (a browser that
// will not launch, a capture port that will not bind) which end the run.
func (s *Suite) Run(ctx context.Context, cases []Case) (Report, error) {
	var report Report
	var shared Session

	if s.cfg.Scenario.SessionPolicy != config.SessionPolicyPerScenario {
		sess, err := s.open(ctx)
		if err != nil {
			return report, fmt.Errorf("could not open browser session: %w", err)
		}
		shared = sess
		defer s.closeSession(ctx, sess)
	}

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.runCase(ctx, c, shared)
		if err != nil {
			return report, fmt.Errorf("scenario %s: %w", c.Name, err)
		}
		report.Results = append(report.Results, res)
	}

	s.logger.Info("Suite finished.", zap.Int("scenarios", len(report.Results)), zap.Int("failed", report.Failed()))
	return report, nil
}

func (s *Suite) runCase(ctx context.Context, c Case, shared Session) (scenario.Result, error) {
	sess := shared
	if sess == nil {
		opened, err := s.open(ctx)
		if err != nil {
			return scenario.Result{}, fmt.Errorf("could not open browser session: %w", err)
		}
		sess = opened
		defer s.closeSession(ctx, sess)
	}

	var env scenario.Env
	if c.NeedsCapture {
		srv := capture.NewServer(s.cfg.Capture, capture.NewStore(), s.logger)
		baseURL, store, err := srv.Start(ctx)
		if err != nil {
			return scenario.Result{}, fmt.Errorf("could not start capture server: %w", err)
		}
		// Deferred after the session close, so it runs first: the capture
		// server is no longer needed once the scenario has returned.
		defer func() {
			if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Capture server shutdown incomplete.", zap.Error(err))
			}
		}()
		env = scenario.Env{Store: store, CaptureURL: baseURL}
	}

	sc := c.Build(Options{TargetURL: s.cfg.Target.BaseURL, Screenshots: s.cfg.Artifacts.Screenshots})
	return s.runner.Run(ctx, sess, sc, env), nil
}

// closeSession tears a session down even when ctx is already canceled.
// Failures are logged and never change the run's outcome.
func (s *Suite) closeSession(ctx context.Context, sess Session) {
	timeout := s.cfg.Browser.CloseTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		s.logger.Warn("Browser session close failed.", zap.Error(err))
	}
}
