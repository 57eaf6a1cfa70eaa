package executor

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
)

// maxWorkflowTransitions bounds the number of workflow interpreter moves
// in one run so a goto cycle cannot spin forever.
const maxWorkflowTransitions = 1000

// blockOutcome is the result of interpreting a step block.
type blockOutcome struct {
	cont       bool   // false: the run stops here
	gotoTarget string // non-empty: a goto is propagating to the top level
}

// runWorkflow is the control-flow interpreter. Top-level steps form the
// jump table for goto; nested blocks propagate gotos upward until the
// top level resolves them by name.
func (ex *Executor) runWorkflow(ctx context.Context, rctx *runContext, steps []script.Step) {
	names := make(map[string]int, len(steps))
	for i := range steps {
		if steps[i].Name != "" {
			names[steps[i].Name] = i
		}
	}

	pc := 0
	transitions := 0
	for pc < len(steps) {
		transitions++
		if transitions > maxWorkflowTransitions {
			rctx.result.Success = false
			rctx.result.Error = fmt.Sprintf("workflow exceeded %d transitions, likely a goto cycle", maxWorkflowTransitions)
			rctx.logger.Error().Int("transitions", transitions).Msg("Workflow transition budget exhausted")
			return
		}

		out := ex.runWorkflowStep(ctx, rctx, &steps[pc])
		if !out.cont {
			return
		}
		if out.gotoTarget != "" {
			target, found := names[out.gotoTarget]
			if !found {
				rctx.result.Success = false
				rctx.result.Error = fmt.Sprintf("goto target %q does not name a top-level step", out.gotoTarget)
				return
			}
			pc = target
			continue
		}
		pc++
	}
}

// runWorkflowStep interprets one step, which may itself be a nested
// control-flow construct.
func (ex *Executor) runWorkflowStep(ctx context.Context, rctx *runContext, step *script.Step) blockOutcome {
	switch step.Kind() {
	case script.StepIf:
		return ex.runIf(ctx, rctx, step)
	case script.StepTry:
		return ex.runTry(ctx, rctx, step)
	case script.StepSequence:
		return ex.runBlock(ctx, rctx, step.Steps)
	case script.StepGoto:
		return blockOutcome{cont: true, gotoTarget: step.Target}
	case script.StepSwitch:
		return ex.runSwitch(ctx, rctx, step)
	default:
		return blockOutcome{cont: ex.runOne(ctx, rctx, step)}
	}
}

// runBlock interprets a nested step list.
func (ex *Executor) runBlock(ctx context.Context, rctx *runContext, steps []script.Step) blockOutcome {
	for i := range steps {
		out := ex.runWorkflowStep(ctx, rctx, &steps[i])
		if !out.cont || out.gotoTarget != "" {
			return out
		}
	}
	return blockOutcome{cont: true}
}

func (ex *Executor) runIf(ctx context.Context, rctx *runContext, step *script.Step) blockOutcome {
	take, err := ex.evalCondition(ctx, rctx, step.Condition)
	if err != nil {
		rctx.logger.Warn().Str("error", err.Error()).Msg("Condition evaluation failed, taking else branch")
		take = false
	}
	if take {
		return ex.runBlock(ctx, rctx, step.Then)
	}
	return ex.runBlock(ctx, rctx, step.Else)
}

// runTry executes its body with failures contained: the first failing
// body step triggers the catch block instead of the run-level abort
// policy.
func (ex *Executor) runTry(ctx context.Context, rctx *runContext, step *script.Step) blockOutcome {
	for i := range step.Steps {
		s := &step.Steps[i]
		if s.Kind().IsControlFlow() {
			out := ex.runWorkflowStep(ctx, rctx, s)
			if !out.cont || out.gotoTarget != "" {
				return out
			}
			continue
		}

		res := ex.runStep(ctx, rctx, s)
		rctx.record(res)
		if !res.Success {
			rctx.logger.Debug().
				Int("step_number", res.StepNumber).
				Str("error", res.Error).
				Msg("Try block step failed, running catch block")
			return ex.runBlock(ctx, rctx, step.Catch)
		}
	}
	return blockOutcome{cont: true}
}

func (ex *Executor) runSwitch(ctx context.Context, rctx *runContext, step *script.Step) blockOutcome {
	value := script.Substitute(step.On, rctx.vars)
	if body, found := step.Cases[value]; found {
		return ex.runBlock(ctx, rctx, body)
	}
	return ex.runBlock(ctx, rctx, step.Default)
}

// evalCondition evaluates a workflow branch condition: a page-state
// predicate against the live driver, or an expr expression over the
// run's variables.
func (ex *Executor) evalCondition(ctx context.Context, rctx *runContext, cond *script.Condition) (bool, error) {
	if cond == nil {
		return false, fmt.Errorf("if step has no condition")
	}
	if cond.Predicate != nil {
		return browser.EvalPredicate(ctx, rctx.driver, cond.Predicate)
	}
	if cond.Expr != "" {
		env := make(map[string]any, len(rctx.vars))
		for k, v := range rctx.vars {
			env[k] = v
		}
		out, err := expr.Eval(cond.Expr, env)
		if err != nil {
			return false, fmt.Errorf("expression %q: %w", cond.Expr, err)
		}
		b, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("expression %q evaluated to %T, want bool", cond.Expr, out)
		}
		return b, nil
	}
	return false, fmt.Errorf("condition has neither a predicate nor an expression")
}
