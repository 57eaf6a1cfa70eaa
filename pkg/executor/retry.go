package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
)

const defaultRetryDelay = 500 * time.Millisecond

// retryDecision is the outcome of one attempt in the retry state machine:
// Attempt(n) -> Success | Retry(n+1) | GiveUp.
type retryDecision int

const (
	decisionSuccess retryDecision = iota
	decisionRetry
	decisionGiveUp
)

// retryPolicy is the resolved per-step retry configuration.
type retryPolicy struct {
	attempts int
	delay    time.Duration
	cond     *script.Predicate
}

func newRetryPolicy(r *script.Retry) retryPolicy {
	p := retryPolicy{attempts: 1, delay: defaultRetryDelay}
	if r == nil {
		return p
	}
	if r.Attempts > 1 {
		p.attempts = r.Attempts
	}
	if r.DelayMS > 0 {
		p.delay = time.Duration(r.DelayMS) * time.Millisecond
	}
	p.cond = r.RetryIf
	return p
}

// decide evaluates one failed attempt. The retry_if predicate is advisory:
// absence means "always retry", and an error during evaluation also allows
// the retry (fail open) so a broken predicate never costs the step its
// remaining budget.
func (p retryPolicy) decide(ctx context.Context, rctx *runContext, attempt int, failed bool) retryDecision {
	if !failed {
		return decisionSuccess
	}
	if attempt >= p.attempts {
		return decisionGiveUp
	}
	if p.cond != nil {
		ok, err := browser.EvalPredicate(ctx, rctx.driver, p.cond)
		if err != nil {
			rctx.logger.Warn().
				Str("condition", p.cond.Condition).
				Str("error", err.Error()).
				Msg("Retry condition evaluation failed, allowing retry")
		} else if !ok {
			return decisionGiveUp
		}
	}
	return decisionRetry
}

// runWithRetry drives the retry state machine around a step handler. The
// handler is invoked at most policy.attempts times; a later step never
// starts until this step's budget is exhausted.
func runWithRetry(ctx context.Context, rctx *runContext, policy retryPolicy, handler func() StepResult) StepResult {
	var last StepResult
	for attempt := 1; ; attempt++ {
		last = invokeHandler(handler)
		last.Attempts = attempt

		switch policy.decide(ctx, rctx, attempt, !last.Success) {
		case decisionSuccess, decisionGiveUp:
			return last
		case decisionRetry:
			rctx.logger.Debug().
				Int("attempt", attempt).
				Int("max_attempts", policy.attempts).
				Msg("Step failed, retrying")
			if err := sleepCtx(ctx, policy.delay); err != nil {
				last.Error = fmt.Sprintf("%s (retry interrupted: %v)", last.Error, err)
				return last
			}
		}
	}
}

// invokeHandler isolates handler panics into failed step results so a
// misbehaving handler can never take down the run.
func invokeHandler(handler func() StepResult) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = StepResult{Success: false, Error: fmt.Sprintf("step handler panicked: %v", r)}
		}
	}()
	return handler()
}

// sleepCtx is a context-aware sleep used for retry delays and step delays.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
