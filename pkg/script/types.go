// Package script defines the declarative browser-automation script model:
// a named sequence of typed steps plus global execution settings.
package script

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StepType identifies a step variant. The executor dispatches on this as a
// closed set; anything outside it is reported as an unknown step type.
type StepType string

const (
	StepNavigate         StepType = "navigate"
	StepClick            StepType = "click"
	StepFill             StepType = "fill"
	StepWait             StepType = "wait"
	StepWaitForLoadState StepType = "wait_for_load_state"
	StepScreenshot       StepType = "screenshot"
	StepExtract          StepType = "extract"
	StepExecuteJS        StepType = "execute_js"
	StepPress            StepType = "press"
	StepError            StepType = "error"

	// Control-flow variants, handled by the workflow interpreter.
	StepIf       StepType = "if"
	StepTry      StepType = "try"
	StepSequence StepType = "sequence"
	StepGoto     StepType = "goto"
	StepSwitch   StepType = "switch"
)

// IsControlFlow reports whether the step type requires the workflow
// interpreter rather than the linear executor.
func (t StepType) IsControlFlow() bool {
	switch t {
	case StepIf, StepTry, StepSequence, StepGoto, StepSwitch:
		return true
	}
	return false
}

// Script is one automation script. It is immutable once execution starts.
type Script struct {
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	StartingPage string            `json:"starting_page,omitempty" yaml:"starting_page,omitempty"`
	LLMProvider  string            `json:"llm_provider,omitempty" yaml:"llm_provider,omitempty"`
	LLMModel     string            `json:"llm_model,omitempty" yaml:"llm_model,omitempty"`
	AbortOnError bool              `json:"abort_on_error,omitempty" yaml:"abort_on_error,omitempty"`
	DefaultDelay *Delay            `json:"default_delay,omitempty" yaml:"default_delay,omitempty"`
	Screenshots  *ScreenshotPolicy `json:"screenshot_config,omitempty" yaml:"screenshot_config,omitempty"`
	Browser      *BrowserOptions   `json:"browser,omitempty" yaml:"browser,omitempty"`
	ExecutionID  string            `json:"execution_id,omitempty" yaml:"execution_id,omitempty"`
	Steps        []Step            `json:"steps" yaml:"steps"`
}

// ScreenshotPolicy holds script-level screenshot defaults.
type ScreenshotPolicy struct {
	UploadToS3      bool   `json:"upload_to_s3,omitempty" yaml:"upload_to_s3,omitempty"`
	IncludeInResult bool   `json:"include_in_result,omitempty" yaml:"include_in_result,omitempty"`
	Prefix          string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// BrowserOptions configures the browser session for one run.
type BrowserOptions struct {
	Headless    *bool  `json:"headless,omitempty" yaml:"headless,omitempty"`
	UserDataDir string `json:"user_data_dir,omitempty" yaml:"user_data_dir,omitempty"`
	Viewport    *struct {
		Width  int `json:"width" yaml:"width"`
		Height int `json:"height" yaml:"height"`
	} `json:"viewport,omitempty" yaml:"viewport,omitempty"`
}

// Step is one declarative unit of browser interaction or control flow.
// Exactly one variant applies, keyed by Type (or Action for
// externally-driven steps).
type Step struct {
	Type   StepType `json:"type,omitempty" yaml:"type,omitempty"`
	Action StepType `json:"action,omitempty" yaml:"action,omitempty"`

	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// navigate
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// fill
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// wait
	Seconds float64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// wait_for_load_state
	State string `json:"state,omitempty" yaml:"state,omitempty"`

	// screenshot
	SaveTo          string `json:"save_to,omitempty" yaml:"save_to,omitempty"`
	FullPage        bool   `json:"full_page,omitempty" yaml:"full_page,omitempty"`
	UploadToS3      *bool  `json:"upload_to_s3,omitempty" yaml:"upload_to_s3,omitempty"`
	IncludeInResult *bool  `json:"include_in_result,omitempty" yaml:"include_in_result,omitempty"`

	// extract
	Method        string         `json:"method,omitempty" yaml:"method,omitempty"`
	Prompt        string         `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Schema        map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
	ExecuteAction bool           `json:"execute_action,omitempty" yaml:"execute_action,omitempty"`

	// execute_js
	Script string `json:"script,omitempty" yaml:"script,omitempty"`

	// press
	Key string `json:"key,omitempty" yaml:"key,omitempty"`

	// error
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// Cross-cutting fields.
	Locator    *Locator             `json:"locator,omitempty" yaml:"locator,omitempty"`
	Delay      *Delay               `json:"delay,omitempty" yaml:"delay,omitempty"`
	Retry      *Retry               `json:"retry,omitempty" yaml:"retry,omitempty"`
	TimeoutMS  int                  `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Escalation []EscalationStrategy `json:"escalation_chain,omitempty" yaml:"escalation_chain,omitempty"`

	// Control flow.
	Condition *Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []Step            `json:"then,omitempty" yaml:"then,omitempty"`
	Else      []Step            `json:"else,omitempty" yaml:"else,omitempty"`
	Steps     []Step            `json:"steps,omitempty" yaml:"steps,omitempty"`
	Catch     []Step            `json:"catch,omitempty" yaml:"catch,omitempty"`
	Target    string            `json:"target,omitempty" yaml:"target,omitempty"`
	On        string            `json:"on,omitempty" yaml:"on,omitempty"`
	Cases     map[string][]Step `json:"cases,omitempty" yaml:"cases,omitempty"`
	Default   []Step            `json:"default,omitempty" yaml:"default,omitempty"`
}

// Kind resolves the effective step type: Type wins, Action is the alias
// used by externally-driven steps.
func (s *Step) Kind() StepType {
	if s.Type != "" {
		return s.Type
	}
	return s.Action
}

// Locator describes how to find a page element.
type Locator struct {
	Strategy  string  `json:"strategy" yaml:"strategy"`
	Value     string  `json:"value,omitempty" yaml:"value,omitempty"`
	Nth       *int    `json:"nth,omitempty" yaml:"nth,omitempty"`
	Label     string  `json:"label,omitempty" yaml:"label,omitempty"`
	FieldType string  `json:"field_type,omitempty" yaml:"field_type,omitempty"`
	X         float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y         float64 `json:"y,omitempty" yaml:"y,omitempty"`
}

const (
	StrategySelector    = "selector"
	StrategyRole        = "role"
	StrategyText        = "text"
	StrategyXPath       = "xpath"
	StrategyCoordinates = "coordinates"
	StrategyFormField   = "form_field"
)

// Retry is the per-step retry policy.
type Retry struct {
	Attempts int        `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	DelayMS  int        `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	RetryIf  *Predicate `json:"retry_if,omitempty" yaml:"retry_if,omitempty"`
}

// Predicate is a page-state condition used by retry_if and workflow if
// steps.
type Predicate struct {
	Condition string `json:"condition" yaml:"condition"`
	Selector  string `json:"selector,omitempty" yaml:"selector,omitempty"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
}

const (
	PredElementVisible    = "element_visible"
	PredElementNotVisible = "element_not_visible"
	PredTextVisible       = "text_visible"
	PredTextNotVisible    = "text_not_visible"
)

// Condition is a workflow branch condition: either a page predicate or an
// expr-lang expression over the run's variables.
type Condition struct {
	Predicate *Predicate `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	Expr      string     `json:"expr,omitempty" yaml:"expr,omitempty"`
}

// EscalationStrategy is one entry in a step's escalation chain.
type EscalationStrategy struct {
	Method  string   `json:"method" yaml:"method"`
	Locator *Locator `json:"locator,omitempty" yaml:"locator,omitempty"`
	Text    string   `json:"text,omitempty" yaml:"text,omitempty"`
	Prompt  string   `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

const (
	EscalationLocator = "locator"
	EscalationText    = "text"
	EscalationVision  = "vision"
)

// Delay is a pre-step pause: either a fixed number of milliseconds or a
// {min,max} range sampled uniformly per step.
type Delay struct {
	Fixed int `json:"-" yaml:"-"`
	Min   int `json:"-" yaml:"-"`
	Max   int `json:"-" yaml:"-"`
}

type delayRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

func (d *Delay) UnmarshalJSON(data []byte) error {
	var fixed int
	if err := json.Unmarshal(data, &fixed); err == nil {
		d.Fixed = fixed
		return nil
	}
	var r delayRange
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("delay must be a number of milliseconds or a {min,max} object: %w", err)
	}
	if r.Max < r.Min {
		return fmt.Errorf("delay range max (%d) is below min (%d)", r.Max, r.Min)
	}
	d.Min, d.Max = r.Min, r.Max
	return nil
}

func (d Delay) MarshalJSON() ([]byte, error) {
	if d.Min != 0 || d.Max != 0 {
		return json.Marshal(delayRange{Min: d.Min, Max: d.Max})
	}
	return json.Marshal(d.Fixed)
}

func (d *Delay) UnmarshalYAML(value *yaml.Node) error {
	var fixed int
	if err := value.Decode(&fixed); err == nil {
		d.Fixed = fixed
		return nil
	}
	var r delayRange
	if err := value.Decode(&r); err != nil {
		return fmt.Errorf("delay must be a number of milliseconds or a {min,max} object: %w", err)
	}
	if r.Max < r.Min {
		return fmt.Errorf("delay range max (%d) is below min (%d)", r.Max, r.Min)
	}
	d.Min, d.Max = r.Min, r.Max
	return nil
}
