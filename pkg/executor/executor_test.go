package executor_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/executor"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/storage"
	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeElement struct {
	visible  bool
	clickErr error
	clicks   int
	filled   []string
	pressed  []string
}

func (e *fakeElement) Click(ctx context.Context) error {
	e.clicks++
	return e.clickErr
}
func (e *fakeElement) Fill(ctx context.Context, value string) error {
	e.filled = append(e.filled, value)
	return nil
}
func (e *fakeElement) Press(ctx context.Context, key string) error {
	e.pressed = append(e.pressed, key)
	return nil
}
func (e *fakeElement) Visible(ctx context.Context) (bool, error) { return e.visible, nil }
func (e *fakeElement) Text(ctx context.Context) (string, error)  { return "", nil }
func (e *fakeElement) Attribute(ctx context.Context, name string) (string, error) {
	return "", nil
}
func (e *fakeElement) ScrollIntoView(ctx context.Context) error { return nil }
func (e *fakeElement) BoundingBox(ctx context.Context) (*browser.Box, error) {
	return nil, nil
}

type fakeDriver struct {
	selectors     map[string][]browser.Element
	texts         map[string][]browser.Element
	selectorCalls map[string]int

	navigated   []string
	navigateErr error
	screenshot  []byte
	evalResult  any
	pressed     []string
	clickedAt   [][2]float64
	closed      bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		selectors:     map[string][]browser.Element{},
		texts:         map[string][]browser.Element{},
		selectorCalls: map[string]int{},
		screenshot:    []byte("png-bytes"),
	}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if d.navigateErr != nil {
		return d.navigateErr
	}
	d.navigated = append(d.navigated, url)
	return nil
}
func (d *fakeDriver) WaitForLoadState(ctx context.Context, state string, _ time.Duration) error {
	return nil
}
func (d *fakeDriver) QuerySelectorAll(ctx context.Context, sel string) ([]browser.Element, error) {
	d.selectorCalls[sel]++
	return d.selectors[sel], nil
}
func (d *fakeDriver) QueryText(ctx context.Context, text string) ([]browser.Element, error) {
	return d.texts[text], nil
}
func (d *fakeDriver) QueryXPath(ctx context.Context, xp string) ([]browser.Element, error) {
	return nil, nil
}
func (d *fakeDriver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	return d.screenshot, nil
}
func (d *fakeDriver) Eval(ctx context.Context, js string) (any, error) { return d.evalResult, nil }
func (d *fakeDriver) Press(ctx context.Context, key string) error {
	d.pressed = append(d.pressed, key)
	return nil
}
func (d *fakeDriver) ClickAt(ctx context.Context, x, y float64) error {
	d.clickedAt = append(d.clickedAt, [2]float64{x, y})
	return nil
}
func (d *fakeDriver) ScrollBy(ctx context.Context, dx, dy float64) error { return nil }
func (d *fakeDriver) Close() error                                       { d.closed = true; return nil }

type fakeExtractor struct {
	data    any
	match   *vision.Match
	err     error
	prompts []string

	extractCalls int
	findCalls    int
	followUps    []*vision.Match
}

func (f *fakeExtractor) Extract(ctx context.Context, prompt string, schema map[string]any) (any, error) {
	f.extractCalls++
	f.prompts = append(f.prompts, prompt)
	return f.data, f.err
}
func (f *fakeExtractor) FindElement(ctx context.Context, prompt string) (*vision.Match, error) {
	f.findCalls++
	f.prompts = append(f.prompts, prompt)
	return f.match, f.err
}
func (f *fakeExtractor) ExecuteFollowUp(ctx context.Context, match *vision.Match) error {
	f.followUps = append(f.followUps, match)
	return f.err
}

func newExecutor(t *testing.T, d *fakeDriver, cfg executor.Config) *executor.Executor {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = storage.NewLocalStore(t.TempDir())
	}
	return executor.New(d, cfg)
}

func TestRunExecutesStepsInOrder(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "ordering",
		Steps: []script.Step{
			{Type: script.StepNavigate, URL: "https://example.com"},
			{Type: script.StepExecuteJS, Script: "1 + 1"},
			{Type: script.StepPress, Key: "Enter"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.StepsExecuted)
	require.Len(t, result.StepResults, result.StepsExecuted)
	for i, res := range result.StepResults {
		assert.Equal(t, i+1, res.StepNumber)
		assert.True(t, res.Success)
	}
	assert.True(t, d.closed, "browser must be torn down")
}

func TestRunRetryBudget(t *testing.T) {
	d := newFakeDriver()
	// The click target exists but clicking always fails, so every retry
	// attempt is consumed.
	el := &fakeElement{visible: true, clickErr: fmt.Errorf("element is obscured")}
	d.selectors["#buy"] = []browser.Element{el}
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "retry",
		Steps: []script.Step{{
			Type:    script.StepClick,
			Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#buy"},
			Retry:   &script.Retry{Attempts: 3, DelayMS: 1},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	res := result.StepResults[0]
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, el.clicks, "handler must run exactly attempts times")
	assert.True(t, result.Success, "a failed step without abort_on_error does not fail the run")
}

func TestRunAbortOnError(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:         "abort",
		AbortOnError: true,
		Steps: []script.Step{
			{Type: script.StepExecuteJS, Script: "1"},
			{Type: script.StepClick, Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#missing"}},
			{Type: script.StepNavigate, URL: "https://example.com/never"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 2, result.StepsExecuted)
	require.Len(t, result.StepResults, 2)
	assert.NotContains(t, d.navigated, "https://example.com/never")
	assert.Contains(t, result.Error, "aborted at step 2")
	assert.True(t, d.closed)
}

func TestRunRetryConditionFailsOpen(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "fail-open",
		Steps: []script.Step{{
			Type:    script.StepClick,
			Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#gone"},
			Retry: &script.Retry{
				Attempts: 2,
				DelayMS:  1,
				// An unknown condition makes predicate evaluation error;
				// the retry must still happen.
				RetryIf: &script.Predicate{Condition: "unknown_condition"},
			},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	assert.Equal(t, 2, result.StepResults[0].Attempts)
}

func TestRunRetryConditionGivesUpWhenFalse(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "give-up",
		Steps: []script.Step{{
			Type:    script.StepClick,
			Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#gone"},
			Retry: &script.Retry{
				Attempts: 5,
				DelayMS:  1,
				RetryIf:  &script.Predicate{Condition: script.PredElementVisible, Selector: "#retry-banner"},
			},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	assert.Equal(t, 1, result.StepResults[0].Attempts, "a false retry_if ends the budget early")
}

func TestRunTemplateSubstitutionRoundTrip(t *testing.T) {
	d := newFakeDriver()
	field := &fakeElement{visible: true}
	d.selectors["#user"] = []browser.Element{field}
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "templating",
		Steps: []script.Step{
			{
				Type:    script.StepFill,
				Value:   "{{user}}",
				Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#user"},
			},
			{
				Type:    script.StepFill,
				Value:   "{{missing}}",
				Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#user"},
			},
		},
	}

	result := ex.Run(context.Background(), sc, script.VarContext{"user": "alice"})

	assert.True(t, result.Success)
	require.Len(t, field.filled, 2)
	assert.Equal(t, "alice", field.filled[0])
	assert.Equal(t, "{{missing}}", field.filled[1], "unresolved tokens stay literal")
}

func TestRunScreenshotLocalFallback(t *testing.T) {
	base := t.TempDir()
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{Store: storage.NewLocalStore(base)})

	upload := true
	sc := &script.Script{
		Name:        "shots",
		ExecutionID: "exec-7",
		Steps: []script.Step{{
			Type:       script.StepScreenshot,
			SaveTo:     "verify.png",
			UploadToS3: &upload,
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	res := result.StepResults[0]
	assert.True(t, res.Success)
	assert.Equal(t, "verify.png", res.Filename)

	wantPath := filepath.Join(base, "exec-7", "verify.png")
	assert.Equal(t, wantPath, res.LocalPath)

	data, err := os.ReadFile(wantPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	require.Len(t, result.Screenshots, 1)
	assert.Equal(t, "verify.png", result.Screenshots[0].Filename)
}

func TestRunScreenshotIncludeInResult(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:        "verification",
		Screenshots: &script.ScreenshotPolicy{IncludeInResult: true},
		Steps: []script.Step{{
			Type:   script.StepScreenshot,
			SaveTo: "proof.png",
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.Screenshots, 1)
	require.Len(t, result.VerificationScreenshots, 1)
	assert.Equal(t, "proof.png", result.VerificationScreenshots[0].Filename)
}

func TestRunUnknownStepType(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "unknown",
		Steps: []script.Step{
			{Type: "teleport"},
			{Type: script.StepExecuteJS, Script: "1"},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 2)
	assert.False(t, result.StepResults[0].Success)
	assert.Equal(t, "Unknown step type: teleport", result.StepResults[0].Error)
	assert.True(t, result.StepResults[1].Success, "the run continues past an unknown type")
}

func TestRunStoresStepDataAsVariables(t *testing.T) {
	d := newFakeDriver()
	d.evalResult = "token-123"
	field := &fakeElement{visible: true}
	d.selectors["#code"] = []browser.Element{field}
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "data-vars",
		Steps: []script.Step{
			{Type: script.StepExecuteJS, Script: "document.title"},
			{
				Type:    script.StepFill,
				Value:   "{{step_1_data}}",
				Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#code"},
			},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	require.Len(t, field.filled, 1)
	assert.Equal(t, "token-123", field.filled[0])
}

func TestRunStartingPageFailureIsFatal(t *testing.T) {
	d := newFakeDriver()
	d.navigateErr = fmt.Errorf("net::ERR_NAME_NOT_RESOLVED")
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:         "dead-start",
		StartingPage: "https://unreachable.invalid",
		Steps:        []script.Step{{Type: script.StepExecuteJS, Script: "1"}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.False(t, result.Success)
	assert.Zero(t, result.StepsExecuted)
	assert.Contains(t, result.Error, "starting page")
	assert.True(t, d.closed, "teardown runs even when setup fails")
}

func TestRunEscalationChainClickAndStats(t *testing.T) {
	d := newFakeDriver()
	el := &fakeElement{visible: true}
	d.texts["Submit order"] = []browser.Element{el}
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "escalate",
		Steps: []script.Step{{
			Type: script.StepClick,
			Escalation: []script.EscalationStrategy{
				{Method: script.EscalationLocator, Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#submit"}},
				{Method: script.EscalationText, Text: "Submit order"},
			},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1, el.clicks)
	require.NotNil(t, result.EscalationStats)
	assert.Equal(t, 1, result.EscalationStats.Failures["locator"])
	assert.Equal(t, 1, result.EscalationStats.Successes["text"])
}

func TestRunEscalationExhaustionSurfacesInStepError(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "exhausted",
		Steps: []script.Step{{
			Type: script.StepClick,
			Escalation: []script.EscalationStrategy{
				{Method: script.EscalationLocator, Locator: &script.Locator{Strategy: script.StrategySelector, Value: "#a"}},
				{Method: script.EscalationText, Text: "B"},
			},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	res := result.StepResults[0]
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "all location strategies failed")
	assert.Contains(t, res.Error, "locator -> text")
	require.NotNil(t, result.EscalationStats)
	assert.Equal(t, 1, result.EscalationStats.Exhausted)
}

func TestRunCoordinateLocatorClick(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name: "coords",
		Steps: []script.Step{{
			Type:    script.StepClick,
			Locator: &script.Locator{Strategy: script.StrategyCoordinates, X: 100, Y: 200},
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	require.Len(t, d.clickedAt, 1)
	assert.Equal(t, [2]float64{100, 200}, d.clickedAt[0])
}

func TestRunEndToEndWithStubbedVision(t *testing.T) {
	d := newFakeDriver()
	extractor := &fakeExtractor{data: map[string]any{"title": "Example Domain"}}
	ex := newExecutor(t, d, executor.Config{Extractor: extractor})

	sc := &script.Script{
		Name: "end-to-end",
		Steps: []script.Step{
			{Type: script.StepNavigate, URL: "https://example.com"},
			{Type: script.StepScreenshot, SaveTo: "a.png"},
			{
				Type:   script.StepExtract,
				Method: "vision",
				Prompt: "Extract title",
				Schema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
					},
				},
			},
		},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.StepsExecuted)
	require.Len(t, result.StepResults, 3)
	assert.Equal(t, map[string]any{"title": "Example Domain"}, result.StepResults[2].Data)
	assert.Equal(t, []string{"https://example.com"}, d.navigated)
	assert.NotEmpty(t, result.ExecutionID)
}

func TestRunExtractWithSchemaDrivesFollowUpAction(t *testing.T) {
	d := newFakeDriver()
	extractor := &fakeExtractor{data: map[string]any{
		"match_found":  true,
		"match_method": "coordinates",
		"x":            120.0,
		"y":            48.0,
	}}
	ex := newExecutor(t, d, executor.Config{Extractor: extractor})

	sc := &script.Script{
		Name: "extract-action",
		Steps: []script.Step{{
			Type:          script.StepExtract,
			Prompt:        "Find the Submit button",
			Schema:        map[string]any{"type": "object"},
			ExecuteAction: true,
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1, extractor.extractCalls, "schema-constrained extraction drives the action")
	assert.Zero(t, extractor.findCalls)
	require.Len(t, extractor.followUps, 1)
	assert.True(t, extractor.followUps[0].Found)
	assert.Equal(t, vision.MatchCoordinates, extractor.followUps[0].Method)
	assert.InDelta(t, 120.0, extractor.followUps[0].X, 0.001)
	assert.InDelta(t, 48.0, extractor.followUps[0].Y, 0.001)
}

func TestRunExtractWithSchemaNoMatchSkipsAction(t *testing.T) {
	d := newFakeDriver()
	extractor := &fakeExtractor{data: map[string]any{"match_found": false}}
	ex := newExecutor(t, d, executor.Config{Extractor: extractor})

	sc := &script.Script{
		Name: "extract-no-match",
		Steps: []script.Step{{
			Type:          script.StepExtract,
			Prompt:        "Find the missing button",
			Schema:        map[string]any{"type": "object"},
			ExecuteAction: true,
		}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	assert.False(t, result.StepResults[0].Success)
	assert.Contains(t, result.StepResults[0].Error, "no actionable match")
	assert.Empty(t, extractor.followUps)
}

func TestRunExtractWithoutProviderFails(t *testing.T) {
	d := newFakeDriver()
	ex := newExecutor(t, d, executor.Config{})

	sc := &script.Script{
		Name:  "no-provider",
		Steps: []script.Step{{Type: script.StepExtract, Prompt: "read the page"}},
	}

	result := ex.Run(context.Background(), sc, nil)

	require.Len(t, result.StepResults, 1)
	assert.False(t, result.StepResults[0].Success)
	assert.Contains(t, result.StepResults[0].Error, "LLM provider")
}
