// internal/scenario/runner.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/exegenesis-harness/internal/artifacts"
	"github.com/xkilldash9x/exegenesis-harness/internal/browser"
	"github.com/xkilldash9x/exegenesis-harness/internal/capture"
	"github.com/xkilldash9x/exegenesis-harness/internal/config"
)

// Scenario is a named, ordered list of steps.
type Scenario struct {
	Name  string
	Steps []Step
}

// Env carries the collaborators a scenario may need beyond the page. Both
// fields may be empty for scenarios that never touch the capture server.
type Env struct {
	Store      *capture.Store
	CaptureURL string
}

// Result is the outcome of one scenario run.
type Result struct {
	Name   string
	Passed bool
	// Payload is the last captured body: a decoded JSON value, or raw text.
	Payload       interface{}
	ArtifactPaths []string
	FailedStep    string
	Err           error
	Duration      time.Duration
}

// Report renders the result for a person reading test output.
func (r Result) Report() string {
	if r.Passed {
		return fmt.Sprintf("PASS %s (%s)", r.Name, r.Duration.Round(time.Millisecond))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FAIL %s (%s)\n", r.Name, r.Duration.Round(time.Millisecond))
	if r.FailedStep != "" {
		fmt.Fprintf(&b, "  step:      %s\n", r.FailedStep)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "  error:     %v\n", r.Err)
	}
	var schemaErr *SchemaError
	if errors.As(r.Err, &schemaErr) {
		fmt.Fprintf(&b, "  missing:   %s\n", strings.Join(schemaErr.Missing(), ", "))
	}
	for _, p := range r.ArtifactPaths {
		fmt.Fprintf(&b, "  artifact:  %s\n", p)
	}
	return strings.TrimRight(b.String(), "\n")
}

// State is the mutable context threaded through the steps of one run.
type State struct {
	Page       browser.Page
	Store      *capture.Store
	CaptureURL string
	Dumper     *artifacts.Dumper
	Logger     *zap.Logger

	cfg         config.ScenarioConfig
	captureMark int
	record      *capture.Record
	payload     interface{}
	inputs      map[string]bool
}

// Record returns the captured record consumed by WaitForCapture, if any.
func (st *State) Record() (capture.Record, bool) {
	if st.record == nil {
		return capture.Record{}, false
	}
	return *st.record, true
}

// Payload returns the last captured payload.
func (st *State) Payload() interface{} { return st.payload }

// Inputs returns the optional-input snapshot taken by SnapshotInputs.
func (st *State) Inputs() map[string]bool { return st.inputs }

// Runner executes scenarios step by step and dumps artifacts on failure.
type Runner struct {
	cfg    config.ScenarioConfig
	dumper *artifacts.Dumper
	logger *zap.Logger
}

// NewRunner creates a runner. dumper may be nil to skip failure artifacts.
func NewRunner(cfg config.ScenarioConfig, dumper *artifacts.Dumper, logger *zap.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 5 * time.Second
	}
	if cfg.CaptureTimeout <= 0 {
		cfg.CaptureTimeout = 6 * time.Second
	}
	return &Runner{cfg: cfg, dumper: dumper, logger: logger.Named("scenario")}
}

// Run executes sc against page. The first failing step stops the run; the
// failure is classified, artifacts are dumped and the result returned. Run
// never blocks longer than the sum of its steps' bounded budgets.
func (r *Runner) Run(ctx context.Context, page browser.Page, sc Scenario, env Env) Result {
	logger := r.logger.With(zap.String("scenario", sc.Name))
	st := &State{
		Page:       page,
		Store:      env.Store,
		CaptureURL: env.CaptureURL,
		Dumper:     r.dumper,
		Logger:     logger,
		cfg:        r.cfg,
	}
	res := Result{Name: sc.Name}
	start := time.Now()

	logger.Info("Running scenario.", zap.Int("steps", len(sc.Steps)))

	for i, step := range sc.Steps {
		err := r.runStep(ctx, st, step)
		if err == nil {
			continue
		}

		kind := classify(err)
		if step.Optional && (kind == KindLocator || kind == KindTimeout) {
			logger.Debug("Optional step skipped.", zap.String("step", step.Name), zap.Error(err))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			kind = KindEnvironment
			err = fmt.Errorf("scenario interrupted: %w", ctxErr)
		}

		stepErr := &StepError{Index: i, Step: step.Name, Kind: kind, Err: err}
		res.Err = stepErr
		res.FailedStep = step.Name
		res.Payload = st.payload
		logger.Warn("Scenario step failed.", zap.String("step", step.Name), zap.String("kind", string(kind)), zap.Error(err))

		if r.dumper != nil {
			// The caller's context may already be gone; artifacts are still worth a bounded attempt.
			dumpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.StepTimeout)
			res.ArtifactPaths = r.dumper.Dump(dumpCtx, pageOrNil(page), sc.Name, st.payload)
			cancel()
		}
		res.Duration = time.Since(start)
		return res
	}

	res.Passed = true
	res.Payload = st.payload
	res.Duration = time.Since(start)
	logger.Info("Scenario passed.", zap.Duration("elapsed", res.Duration))
	return res
}

func (r *Runner) runStep(ctx context.Context, st *State, step Step) error {
	if step.run == nil {
		return fmt.Errorf("step %q has no action", step.Name)
	}
	wait := step.Wait
	if wait <= 0 {
		switch step.waits {
		case waitUI:
			wait = r.cfg.StepTimeout
		case waitCapture:
			wait = r.cfg.CaptureTimeout
		}
	}

	// Every step gets a hard deadline; waiting steps get their poll timeout on top.
	budget := r.cfg.StepTimeout + wait + r.cfg.PollInterval
	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	st.Logger.Debug("Step.", zap.String("step", step.Name), zap.Duration("wait", wait))
	return step.run(stepCtx, st, wait)
}

// pageOrNil avoids handing the dumper a typed nil.
func pageOrNil(page browser.Page) artifacts.Page {
	if page == nil {
		return nil
	}
	return page
}
