package executor_test

import (
	"context"
	"testing"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/executor"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowIfPredicateBranch(t *testing.T) {
	d := newFakeDriver()
	d.selectors["#cookie-banner"] = []browser.Element{&fakeElement{visible: true}}
	accept := &fakeElement{visible: true}
	d.selectors["#accept"] = []browser.Element{accept}
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "if-predicate",
		Steps: []script.Step{{
			Type: script.StepIf,
			Condition: &script.Condition{
				Predicate: &script.Predicate{Condition: script.PredElementVisible, Selector: "#cookie-banner"},
			},
			Then: []script.Step{{
				Type:    script.StepClick,
				Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#accept"},
			}},
			Else: []script.Step{{Type: script.StepPress, Key: "Escape"}},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1, accept.clicks)
	assert.Empty(t, d.pressed, "else branch must not run")
}

func TestWorkflowIfExprBranch(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "if-expr",
		Steps: []script.Step{{
			Type:      script.StepIf,
			Condition: &script.Condition{Expr: `env == "production"`},
			Then:      []script.Step{{Type: script.StepNavigate, URL: "https://prod.example.com"}},
			Else:      []script.Step{{Type: script.StepNavigate, URL: "https://staging.example.com"}},
		}},
	}

	result := ex.Run(context.Background(), sc, script.VarContext{"env": "staging"})

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://staging.example.com"}, d.navigated)
}

func TestWorkflowTryCatch(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:         "try-catch",
		AbortOnError: true,
		Steps: []script.Step{
			{
				Type: script.StepTry,
				Steps: []script.Step{{
					Type:    script.StepClick,
					Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#flaky"},
				}},
				Catch: []script.Step{{Type: script.StepPress, Key: "Escape"}},
			},
			{Type: script.StepExecuteJS, Script: "1"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success, "a caught failure must not abort the run")
	assert.Equal(t, []string{"Escape"}, d.pressed)
	// failed try step + catch step + trailing step
	assert.Equal(t, 3, result.StepsExecuted)
}

func TestWorkflowSwitch(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "switch",
		Steps: []script.Step{{
			Type: script.StepSwitch,
			On:   "{{plan}}",
			Cases: map[string][]script.Step{
				"pro":  {{Type: script.StepNavigate, URL: "https://example.com/pro"}},
				"free": {{Type: script.StepNavigate, URL: "https://example.com/free"}},
			},
			Default: []script.Step{{Type: script.StepNavigate, URL: "https://example.com/signup"}},
		}},
	}

	result := ex.Run(context.Background(), sc, script.VarContext{"plan": "pro"})
	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://example.com/pro"}, d.navigated)

	d2 := newFakeDriver()
	ex2 := newExecutor(t, d2, executor.Config{})
	result = ex2.Run(context.Background(), sc, script.VarContext{"plan": "enterprise"})
	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://example.com/signup"}, d2.navigated)
}

func TestWorkflowGotoJumpsByName(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "goto",
		Steps: []script.Step{
			{Type: script.StepGoto, Target: "finish"},
			{Type: script.StepNavigate, URL: "https://example.com/skipped"},
			{Name: "finish", Type: script.StepNavigate, URL: "https://example.com/done"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://example.com/done"}, d.navigated)
}

func TestWorkflowGotoUnknownTargetFailsRun(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "goto-bad",
		Steps: []script.Step{
			{Type: script.StepGoto, Target: "nowhere"},
			{Name: "here", Type: script.StepExecuteJS, Script: "1"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, `goto target "nowhere"`)
}

func TestWorkflowGotoCycleIsBounded(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "goto-cycle",
		Steps: []script.Step{
			{Name: "loop", Type: script.StepGoto, Target: "loop"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "goto cycle")
}

func TestWorkflowGotoLoopKeepsStepCountsConsistent(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "goto-loop-counts",
		Steps: []script.Step{
			{Name: "start", Type: script.StepExecuteJS, Script: "1"},
			{Type: script.StepGoto, Target: "start"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	assert.Greater(t, result.StepsExecuted, 2)
	assert.LessOrEqual(t, result.StepsExecuted, result.StepsTotal)
	assert.Equal(t, result.StepsExecuted, len(result.StepResults))
}

func TestWorkflowSequenceGroupsSteps(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "sequence",
		Steps: []script.Step{{
			Type: script.StepSequence,
			Steps: []script.Step{
				{Type: script.StepNavigate, URL: "https://example.com/a"},
				{Type: script.StepNavigate, URL: "https://example.com/b"},
			},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, d.navigated)
	assert.Equal(t, 2, result.StepsExecuted)
}

func TestWorkflowErrorStepAborts(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:         "deliberate-error",
		AbortOnError: true,
		Steps: []script.Step{{
			Type: script.StepIf,
			Condition: &script.Condition{
				Predicate: &script.Predicate{Condition: script.PredElementNotVisible, Selector: "#expected"},
			},
			Then: []script.Step{{Type: script.StepError, Message: "expected element never appeared"}},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	require.Len(t, result.StepResults, 1)
	assert.Equal(t, "expected element never appeared", result.StepResults[0].Error)
}
