// Package executor runs parsed automation scripts against a browser
// session: sequential step dispatch with retries and delays, workflow
// control flow, escalation-backed targeting, and result aggregation.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/escalation"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/storage"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	defaultActionTimeout     = 30 * time.Second

	// Buffered screenshots are flushed to storage every flushInterval
	// steps so a crash late in a long run loses at most a few captures.
	flushInterval = 5
)

// Config holds run-independent executor settings.
type Config struct {
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration

	// RunTimeout, when positive, bounds the whole run. A stuck step
	// cannot hold the run open past this deadline.
	RunTimeout time.Duration

	Store     storage.Store
	Extractor Extractor
	Logger    log.Logger
}

// Executor runs scripts against a driver. One Executor may run many
// scripts; all per-run state lives in a runContext.
type Executor struct {
	driver browser.Driver
	cfg    Config
}

func New(driver browser.Driver, cfg Config) *Executor {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Nop()
	}
	if cfg.Store == nil {
		cfg.Store = storage.NewLocalStore("")
	}
	return &Executor{driver: driver, cfg: cfg}
}

// Run executes one script to completion. It always returns a non-nil
// result, even on fatal errors, and always tears the browser session
// down before returning.
func (ex *Executor) Run(ctx context.Context, sc *script.Script, vars script.VarContext) (result *ExecutionResult) {
	if ex.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ex.cfg.RunTimeout)
		defer cancel()
	}

	executionID := sc.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	if vars == nil {
		vars = script.VarContext{}
	}

	result = &ExecutionResult{
		Success:     true,
		ScriptName:  sc.Name,
		StepsTotal:  countSteps(sc.Steps),
		ExecutionID: executionID,
	}

	rctx := &runContext{
		driver:    ex.driver,
		script:    sc,
		vars:      vars,
		result:    result,
		extractor: ex.cfg.Extractor,
		store:     ex.cfg.Store,
		logger:    ex.cfg.Logger.With().Str("execution_id", executionID).Logger(),
	}
	rctx.escalation = escalation.NewEngine(ex.driver, ex.cfg.Extractor, rctx.logger)

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("run panicked: %v", r)
		}
		ex.flushScreenshots(context.WithoutCancel(ctx), rctx, true)
		if rctx.escalation.Used() {
			stats := rctx.escalation.Stats()
			result.EscalationStats = &stats
		}
		if err := ex.driver.Close(); err != nil {
			rctx.logger.Warn().Str("error", err.Error()).Msg("Browser teardown failed")
		}
	}()

	rctx.logger.Info().
		Str("script", sc.Name).
		Int("steps", result.StepsTotal).
		Msg("Starting script execution")

	if sc.StartingPage != "" {
		url := script.Substitute(sc.StartingPage, vars)
		if err := ex.driver.Navigate(ctx, url, ex.cfg.NavigationTimeout); err != nil {
			result.Success = false
			result.Error = fmt.Sprintf("failed to open starting page %s: %v", url, err)
			return result
		}
	}

	if hasControlFlow(sc.Steps) {
		ex.runWorkflow(ctx, rctx, sc.Steps)
	} else {
		ex.runLinear(ctx, rctx, sc.Steps)
	}

	rctx.logger.Info().
		Int("steps_executed", result.StepsExecuted).
		Interface("success", result.Success).
		Msg("Script execution finished")
	return result
}

// runLinear executes steps strictly in order. Step N+1 never starts
// before step N's retry budget is exhausted.
func (ex *Executor) runLinear(ctx context.Context, rctx *runContext, steps []script.Step) {
	for i := range steps {
		if !ex.runOne(ctx, rctx, &steps[i]) {
			return
		}
	}
}

// runOne handles delay, execution, recording, periodic flushing, and the
// abort decision for one step. It reports whether the run continues.
func (ex *Executor) runOne(ctx context.Context, rctx *runContext, step *script.Step) bool {
	if err := ctx.Err(); err != nil {
		rctx.result.Success = false
		rctx.result.Error = fmt.Sprintf("run aborted: %v", err)
		return false
	}

	if d := ex.stepDelay(rctx.script, step); d > 0 {
		if err := sleepCtx(ctx, d); err != nil {
			rctx.result.Success = false
			rctx.result.Error = fmt.Sprintf("run aborted: %v", err)
			return false
		}
	}

	res := ex.runStep(ctx, rctx, step)
	rctx.record(res)

	if rctx.result.StepsExecuted%flushInterval == 0 {
		ex.flushScreenshots(ctx, rctx, false)
	}

	if !res.Success && rctx.script.AbortOnError {
		rctx.result.Success = false
		rctx.result.Error = fmt.Sprintf("aborted at step %d (%s): %s", res.StepNumber, res.Action, res.Error)
		rctx.logger.Error().
			Int("step_number", res.StepNumber).
			Str("action", res.Action).
			Msg("Aborting run on step failure")
		return false
	}
	return true
}

// stepDelay resolves the pre-step delay: the step's own delay wins,
// otherwise the script default. Ranged delays are sampled uniformly.
func (ex *Executor) stepDelay(sc *script.Script, step *script.Step) time.Duration {
	d := step.Delay
	if d == nil {
		d = sc.DefaultDelay
	}
	if d == nil {
		return 0
	}
	ms := d.Fixed
	if d.Max > d.Min {
		ms = d.Min + rand.Intn(d.Max-d.Min+1)
	} else if d.Max == d.Min && d.Min > 0 {
		ms = d.Min
	}
	return time.Duration(ms) * time.Millisecond
}

// flushScreenshots persists buffered captures. Storage failures fall back
// to local disk so a capture is never silently lost; persistence errors
// degrade the record, not the run.
func (ex *Executor) flushScreenshots(ctx context.Context, rctx *runContext, final bool) {
	for _, shot := range rctx.shots {
		if shot.persisted {
			continue
		}

		location, err := ex.persistScreenshot(ctx, rctx, shot)
		if err != nil {
			rctx.logger.Warn().
				Str("filename", shot.filename).
				Str("error", err.Error()).
				Msg("Failed to persist screenshot")
			if !final {
				continue // retried on the next flush
			}
			location = ""
		}
		shot.persisted = true
		shot.location = location
		rctx.recordScreenshot(shot)
	}
}

// persistScreenshot writes one capture to its preferred store, falling
// back to local disk when a remote store fails.
func (ex *Executor) persistScreenshot(ctx context.Context, rctx *runContext, shot *screenshot) (string, error) {
	store := rctx.store
	if !shot.uploadToS3 && store.Kind() != "local" {
		store = storage.NewLocalStore("")
	}

	location, err := store.Save(ctx, rctx.result.ExecutionID, shot.filename, shot.data)
	if err != nil && store.Kind() != "local" {
		rctx.logger.Warn().
			Str("filename", shot.filename).
			Str("error", err.Error()).
			Msg("Remote screenshot upload failed, saving locally")
		return storage.NewLocalStore("").Save(ctx, rctx.result.ExecutionID, shot.filename, shot.data)
	}
	return location, err
}

// hasControlFlow reports whether any top-level step needs the workflow
// interpreter.
func hasControlFlow(steps []script.Step) bool {
	for i := range steps {
		if steps[i].Kind().IsControlFlow() {
			return true
		}
	}
	return false
}

// countSteps counts leaf steps, descending into control-flow bodies. The
// count is static; record raises the run total past it when a backward
// goto re-executes leaves.
func countSteps(steps []script.Step) int {
	n := 0
	for i := range steps {
		s := &steps[i]
		if !s.Kind().IsControlFlow() {
			n++
			continue
		}
		n += countSteps(s.Then) + countSteps(s.Else) + countSteps(s.Steps) +
			countSteps(s.Catch) + countSteps(s.Default)
		for _, body := range s.Cases {
			n += countSteps(body)
		}
		if s.Kind() == script.StepGoto {
			n++
		}
	}
	return n
}
