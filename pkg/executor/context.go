package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/escalation"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/storage"
	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
)

// screenshot is one buffered capture awaiting upload or batch flush.
type screenshot struct {
	filename        string
	data            []byte
	step            int
	uploadToS3      bool
	includeInResult bool
	location        string
	persisted       bool
}

// runContext is the explicit per-run state passed to every step handler.
// Nothing in it outlives one Run call, so repeated or concurrent runs of
// the same Executor configuration never share mutable state.
type runContext struct {
	driver     browser.Driver
	script     *script.Script
	vars       script.VarContext
	result     *ExecutionResult
	shots      []*screenshot
	escalation *escalation.Engine
	extractor  Extractor
	store      storage.Store
	logger     log.Logger
	nextStep   int
}

// Extractor is the vision capability the executor needs. Satisfied by
// *vision.Extractor; tests substitute fakes.
type Extractor interface {
	Extract(ctx context.Context, prompt string, schema map[string]any) (any, error)
	FindElement(ctx context.Context, prompt string) (*vision.Match, error)
	ExecuteFollowUp(ctx context.Context, match *vision.Match) error
}

// record appends a step outcome and advances the executed-step counters.
// Step numbering is monotonic and 1-based within a run. The static leaf
// count in StepsTotal is raised whenever a backward goto revisits steps,
// so executed never exceeds total.
func (rctx *runContext) record(res StepResult) {
	rctx.result.StepResults = append(rctx.result.StepResults, res)
	rctx.result.StepsExecuted++
	if rctx.result.StepsExecuted > rctx.result.StepsTotal {
		rctx.result.StepsTotal = rctx.result.StepsExecuted
	}

	if res.Data != nil {
		key := fmt.Sprintf("step_%d_data", res.StepNumber)
		rctx.vars[key] = stringifyData(res.Data)
	}
}

// stepNumber allocates the next 1-based step number.
func (rctx *runContext) stepNumber() int {
	rctx.nextStep++
	return rctx.nextStep
}

// bufferScreenshot stores a capture for a later batch flush.
func (rctx *runContext) bufferScreenshot(s *screenshot) {
	rctx.shots = append(rctx.shots, s)
}

// recordScreenshot mirrors one persisted capture into the result records.
func (rctx *runContext) recordScreenshot(s *screenshot) {
	rec := ScreenshotRecord{Filename: s.filename, Location: s.location, Step: s.step}
	rctx.result.Screenshots = append(rctx.result.Screenshots, rec)
	if s.includeInResult {
		rctx.result.VerificationScreenshots = append(rctx.result.VerificationScreenshots, rec)
	}
}

// stringifyData converts step data to the string form stored in variables:
// plain strings as-is, everything else as JSON.
func stringifyData(data any) string {
	if s, ok := data.(string); ok {
		return s
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(b)
}
