package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/escalation"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
)

// runStep executes one non-control-flow step: variable substitution,
// result scaffolding, retry, dispatch. Every outcome is recorded; a
// failing step never aborts the run by itself.
func (ex *Executor) runStep(ctx context.Context, rctx *runContext, raw *script.Step) StepResult {
	number := rctx.stepNumber()

	step, err := script.SubstituteStep(raw, rctx.vars)
	if err != nil {
		return StepResult{
			Success:     false,
			Action:      string(raw.Kind()),
			StepNumber:  number,
			Description: raw.Description,
			Error:       fmt.Sprintf("variable substitution failed: %v", err),
			Attempts:    1,
		}
	}

	kind := step.Kind()
	base := StepResult{
		Action:      string(kind),
		StepNumber:  number,
		Description: step.Description,
	}

	rctx.logger.Info().
		Str("action", string(kind)).
		Int("step_number", number).
		Msg("Executing step")

	policy := newRetryPolicy(step.Retry)
	res := runWithRetry(ctx, rctx, policy, func() StepResult {
		return ex.dispatch(ctx, rctx, step, base)
	})

	if res.Success {
		rctx.logger.Debug().
			Str("action", string(kind)).
			Int("step_number", number).
			Msg("Step succeeded")
	} else {
		rctx.logger.Warn().
			Str("action", string(kind)).
			Int("step_number", number).
			Str("error", res.Error).
			Msg("Step failed")
	}
	return res
}

// dispatch routes one attempt to its handler. The step type set is
// closed; anything else is an unknown-type failure, not a panic.
func (ex *Executor) dispatch(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	switch step.Kind() {
	case script.StepNavigate:
		return ex.stepNavigate(ctx, rctx, step, base)
	case script.StepClick:
		return ex.stepClick(ctx, rctx, step, base)
	case script.StepFill:
		return ex.stepFill(ctx, rctx, step, base)
	case script.StepWait:
		return ex.stepWait(ctx, step, base)
	case script.StepWaitForLoadState:
		return ex.stepWaitForLoadState(ctx, rctx, step, base)
	case script.StepScreenshot:
		return ex.stepScreenshot(ctx, rctx, step, base)
	case script.StepExtract:
		return ex.stepExtract(ctx, rctx, step, base)
	case script.StepExecuteJS:
		return ex.stepExecuteJS(ctx, rctx, step, base)
	case script.StepPress:
		return ex.stepPress(ctx, rctx, step, base)
	case script.StepError:
		return ex.stepError(step, base)
	default:
		return fail(base, fmt.Sprintf("Unknown step type: %s", step.Kind()))
	}
}

func fail(base StepResult, msg string) StepResult {
	base.Success = false
	base.Error = msg
	return base
}

func ok(base StepResult) StepResult {
	base.Success = true
	return base
}

func (ex *Executor) stepNavigate(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	if step.URL == "" {
		return fail(base, "navigate step requires a url")
	}
	base.URL = step.URL
	if err := rctx.driver.Navigate(ctx, step.URL, ex.stepTimeout(step, ex.cfg.NavigationTimeout)); err != nil {
		return fail(base, fmt.Sprintf("navigation to %s failed: %v", step.URL, err))
	}
	return ok(base)
}

// stepClick resolves its target through the escalation chain when one is
// declared, otherwise through plain locator resolution, then clicks.
func (ex *Executor) stepClick(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	res, err := ex.resolveTarget(ctx, rctx, step)
	if err != nil {
		var exhausted *escalation.ExhaustedError
		if errors.As(err, &exhausted) {
			return fail(base, fmt.Sprintf("all location strategies failed: %v", exhausted))
		}
		return fail(base, fmt.Sprintf("could not locate click target: %v", err))
	}

	switch res.Method {
	case escalation.MethodCoordinates:
		if err := rctx.driver.ClickAt(ctx, res.X, res.Y); err != nil {
			return fail(base, fmt.Sprintf("coordinate click at (%.0f, %.0f) failed: %v", res.X, res.Y, err))
		}
	default:
		if err := res.Element.ScrollIntoView(ctx); err != nil {
			rctx.logger.Debug().Str("error", err.Error()).Msg("Scroll into view failed, clicking anyway")
		}
		if err := res.Element.Click(ctx); err != nil {
			return fail(base, fmt.Sprintf("click failed: %v", err))
		}
	}
	return ok(base)
}

func (ex *Executor) stepFill(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	base.Value = step.Value
	res, err := ex.resolveTarget(ctx, rctx, step)
	if err != nil {
		return fail(base, fmt.Sprintf("could not locate fill target: %v", err))
	}
	if res.Method == escalation.MethodCoordinates {
		return fail(base, "fill target resolved to coordinates; fill requires an element")
	}
	if err := res.Element.Fill(ctx, step.Value); err != nil {
		return fail(base, fmt.Sprintf("fill failed: %v", err))
	}
	return ok(base)
}

func (ex *Executor) stepWait(ctx context.Context, step *script.Step, base StepResult) StepResult {
	d := time.Duration(step.Seconds * float64(time.Second))
	if d <= 0 {
		return fail(base, "wait step requires a positive seconds value")
	}
	if err := sleepCtx(ctx, d); err != nil {
		return fail(base, fmt.Sprintf("wait interrupted: %v", err))
	}
	return ok(base)
}

func (ex *Executor) stepWaitForLoadState(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	state := step.State
	if state == "" {
		state = browser.LoadStateLoad
	}
	if err := rctx.driver.WaitForLoadState(ctx, state, ex.stepTimeout(step, ex.cfg.NavigationTimeout)); err != nil {
		return fail(base, fmt.Sprintf("wait for load state %q failed: %v", state, err))
	}
	return ok(base)
}

func (ex *Executor) stepScreenshot(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	data, err := rctx.driver.Screenshot(ctx, step.FullPage)
	if err != nil {
		return fail(base, fmt.Sprintf("screenshot capture failed: %v", err))
	}

	filename := step.SaveTo
	if filename == "" {
		filename = fmt.Sprintf("step_%d.png", base.StepNumber)
	}
	base.Filename = filename

	upload, include := rctx.screenshotPolicy(step)
	shot := &screenshot{
		filename:        filename,
		data:            data,
		step:            base.StepNumber,
		uploadToS3:      upload,
		includeInResult: include,
	}

	// Upload-requested captures persist immediately so the step result can
	// carry their final location; the rest wait for a batch flush.
	if upload {
		location, err := ex.persistScreenshot(ctx, rctx, shot)
		if err != nil {
			return fail(base, fmt.Sprintf("screenshot persistence failed: %v", err))
		}
		shot.persisted = true
		shot.location = location
		if strings.HasPrefix(location, "s3://") {
			base.S3Key = location
		} else {
			base.LocalPath = location
		}
		rctx.recordScreenshot(shot)
		return ok(base)
	}

	rctx.bufferScreenshot(shot)
	return ok(base)
}

// stepExtract runs the vision bridge. Plain extraction stores structured
// data; find_element mode locates something on screen. With execute_action
// set, the extraction's own parsed output drives the follow-up: a
// schema-constrained extraction is interpreted as a match, while a
// schema-less step falls back to an element lookup.
func (ex *Executor) stepExtract(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	if rctx.extractor == nil {
		return fail(base, "extract step requires a configured LLM provider")
	}
	if step.Prompt == "" {
		return fail(base, "extract step requires a prompt")
	}

	if step.Method == "find_element" || (step.ExecuteAction && len(step.Schema) == 0) {
		match, err := rctx.extractor.FindElement(ctx, step.Prompt)
		if err != nil {
			return fail(base, fmt.Sprintf("vision element lookup failed: %v", err))
		}
		base.Data = match
		if !match.Found {
			return fail(base, fmt.Sprintf("vision lookup found no match for %q", step.Prompt))
		}
		if step.ExecuteAction {
			if err := rctx.extractor.ExecuteFollowUp(ctx, match); err != nil {
				return fail(base, fmt.Sprintf("vision follow-up action failed: %v", err))
			}
		}
		return ok(base)
	}

	data, err := rctx.extractor.Extract(ctx, step.Prompt, step.Schema)
	if err != nil {
		return fail(base, fmt.Sprintf("extraction failed: %v", err))
	}
	base.Data = data

	if step.ExecuteAction {
		match, err := vision.MatchFromExtraction(data)
		if err != nil {
			return fail(base, fmt.Sprintf("extraction result does not describe an action: %v", err))
		}
		if !match.Found {
			return fail(base, fmt.Sprintf("extraction found no actionable match for %q", step.Prompt))
		}
		if err := rctx.extractor.ExecuteFollowUp(ctx, match); err != nil {
			return fail(base, fmt.Sprintf("vision follow-up action failed: %v", err))
		}
	}
	return ok(base)
}

func (ex *Executor) stepExecuteJS(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	if step.Script == "" {
		return fail(base, "execute_js step requires a script")
	}
	val, err := rctx.driver.Eval(ctx, step.Script)
	if err != nil {
		return fail(base, fmt.Sprintf("script evaluation failed: %v", err))
	}
	base.Data = val
	return ok(base)
}

func (ex *Executor) stepPress(ctx context.Context, rctx *runContext, step *script.Step, base StepResult) StepResult {
	if step.Key == "" {
		return fail(base, "press step requires a key")
	}
	base.Key = step.Key

	if step.Locator != nil || len(step.Escalation) > 0 {
		res, err := ex.resolveTarget(ctx, rctx, step)
		if err != nil {
			return fail(base, fmt.Sprintf("could not locate press target: %v", err))
		}
		if res.Method == escalation.MethodCoordinates {
			return fail(base, "press target resolved to coordinates; press requires an element or the page")
		}
		if err := res.Element.Press(ctx, step.Key); err != nil {
			return fail(base, fmt.Sprintf("key press %q failed: %v", step.Key, err))
		}
		return ok(base)
	}

	if err := rctx.driver.Press(ctx, step.Key); err != nil {
		return fail(base, fmt.Sprintf("key press %q failed: %v", step.Key, err))
	}
	return ok(base)
}

// stepError is a deliberate failure marker placed by script authors.
func (ex *Executor) stepError(step *script.Step, base StepResult) StepResult {
	msg := step.Message
	if msg == "" {
		msg = "error step reached"
	}
	return fail(base, msg)
}

// resolveTarget finds the element (or coordinates) an interaction step
// acts on. A declared escalation chain runs through the engine, which
// tracks per-strategy statistics; a plain locator resolves directly and
// stays out of them.
func (ex *Executor) resolveTarget(ctx context.Context, rctx *runContext, step *script.Step) (*escalation.Resolution, error) {
	if len(step.Escalation) > 0 {
		return rctx.escalation.Execute(ctx, step.Escalation)
	}
	if step.Locator == nil {
		return nil, fmt.Errorf("step has neither a locator nor an escalation chain")
	}

	if step.Locator.Strategy == script.StrategyCoordinates {
		return &escalation.Resolution{
			Method: escalation.MethodCoordinates,
			X:      step.Locator.X,
			Y:      step.Locator.Y,
		}, nil
	}

	el, err := browser.Resolve(ctx, rctx.driver, step.Locator)
	if err != nil {
		return nil, err
	}
	return &escalation.Resolution{Method: escalation.MethodElement, Element: el}, nil
}

// stepTimeout returns the per-step timeout override or the configured
// default.
func (ex *Executor) stepTimeout(step *script.Step, def time.Duration) time.Duration {
	if step.TimeoutMS > 0 {
		return time.Duration(step.TimeoutMS) * time.Millisecond
	}
	return def
}

// screenshotPolicy resolves the effective upload/include flags for one
// screenshot step: step-level pointers override the script policy.
func (rctx *runContext) screenshotPolicy(step *script.Step) (upload, include bool) {
	if p := rctx.script.Screenshots; p != nil {
		upload, include = p.UploadToS3, p.IncludeInResult
	}
	if step.UploadToS3 != nil {
		upload = *step.UploadToS3
	}
	if step.IncludeInResult != nil {
		include = *step.IncludeInResult
	}
	return upload, include
}
