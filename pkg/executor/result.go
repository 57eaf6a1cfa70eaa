package executor

import (
	"github.com/guyernest/step-functions-agent-sub000/pkg/escalation"
)

// StepResult is the normalized outcome record of one executed step.
// Append-only: once created it is never modified by the aggregator.
type StepResult struct {
	Success     bool   `json:"success"`
	Action      string `json:"action"`
	StepNumber  int    `json:"step_number"`
	Description string `json:"description,omitempty"`
	Error       string `json:"error,omitempty"`

	URL       string `json:"url,omitempty"`
	Value     string `json:"value,omitempty"`
	Key       string `json:"key,omitempty"`
	Filename  string `json:"filename,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	S3Key     string `json:"s3_key,omitempty"`
	Data      any    `json:"data,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
}

// ScreenshotRecord is the result-facing view of one captured screenshot.
type ScreenshotRecord struct {
	Filename string `json:"filename"`
	Location string `json:"location,omitempty"`
	Step     int    `json:"step"`
}

// ExecutionResult is the top-level artifact of one run. It is mutated
// incrementally by the executor as steps complete and returned whole at
// run end; Run never fails without returning one.
type ExecutionResult struct {
	Success                 bool               `json:"success"`
	ScriptName              string             `json:"script_name"`
	StepsExecuted           int                `json:"steps_executed"`
	StepsTotal              int                `json:"steps_total"`
	StepResults             []StepResult       `json:"step_results"`
	Screenshots             []ScreenshotRecord `json:"screenshots"`
	VerificationScreenshots []ScreenshotRecord `json:"verification_screenshots"`
	EscalationStats         *escalation.Stats  `json:"escalation_stats,omitempty"`
	Error                   string             `json:"error,omitempty"`
	ExecutionID             string             `json:"execution_id"`
}
