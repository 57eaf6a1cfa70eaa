package script

import (
	"fmt"
)

// knownStepTypes is the closed set the executor dispatches over. Membership
// is a lint concern, not a validation error: an unknown type at run time is
// reported as a failed step, so scripts produced by external systems degrade
// per step instead of being rejected wholesale.
var knownStepTypes = map[StepType]struct{}{
	StepNavigate: {}, StepClick: {}, StepFill: {}, StepWait: {},
	StepWaitForLoadState: {}, StepScreenshot: {}, StepExtract: {},
	StepExecuteJS: {}, StepPress: {}, StepError: {},
	StepIf: {}, StepTry: {}, StepSequence: {}, StepGoto: {}, StepSwitch: {},
}

// KnownStepType reports whether t is a type the executor can dispatch.
func KnownStepType(t StepType) bool {
	_, ok := knownStepTypes[t]
	return ok
}

// Validate checks script-level structure: name, step typing, locator
// strategies, retry policies, and control-flow shape. It does not touch the
// page or the network.
func Validate(s *Script) error {
	if s.Name == "" {
		return fmt.Errorf("script is missing 'name'")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %q has no steps", s.Name)
	}
	return validateSteps(s.Steps, "steps")
}

func validateSteps(steps []Step, path string) error {
	names := make(map[string]bool)
	for i := range steps {
		step := &steps[i]
		where := fmt.Sprintf("%s[%d]", path, i)

		if step.Kind() == "" {
			return fmt.Errorf("%s is missing 'type'", where)
		}
		if step.Name != "" {
			if names[step.Name] {
				return fmt.Errorf("%s: duplicate step name %q", where, step.Name)
			}
			names[step.Name] = true
		}

		if err := validateStepFields(step, where); err != nil {
			return err
		}
	}
	return nil
}

func validateStepFields(step *Step, where string) error {
	switch step.Kind() {
	case StepNavigate:
		if step.URL == "" {
			return fmt.Errorf("%s: navigate step must define 'url'", where)
		}
	case StepFill:
		if step.Locator == nil && len(step.Escalation) == 0 {
			return fmt.Errorf("%s: fill step must define 'locator' or 'escalation_chain'", where)
		}
	case StepClick:
		if step.Locator == nil && len(step.Escalation) == 0 {
			return fmt.Errorf("%s: click step must define 'locator' or 'escalation_chain'", where)
		}
	case StepExtract:
		if step.Prompt == "" {
			return fmt.Errorf("%s: extract step must define 'prompt'", where)
		}
	case StepExecuteJS:
		if step.Script == "" {
			return fmt.Errorf("%s: execute_js step must define 'script'", where)
		}
	case StepPress:
		if step.Key == "" {
			return fmt.Errorf("%s: press step must define 'key'", where)
		}
	case StepIf:
		if step.Condition == nil {
			return fmt.Errorf("%s: if step must define 'condition'", where)
		}
		if err := validateSteps(step.Then, where+".then"); err != nil {
			return err
		}
		if err := validateSteps(step.Else, where+".else"); err != nil {
			return err
		}
	case StepTry:
		if len(step.Steps) == 0 {
			return fmt.Errorf("%s: try step must define 'steps'", where)
		}
		if err := validateSteps(step.Steps, where+".steps"); err != nil {
			return err
		}
		if err := validateSteps(step.Catch, where+".catch"); err != nil {
			return err
		}
	case StepSequence:
		if len(step.Steps) == 0 {
			return fmt.Errorf("%s: sequence step must define 'steps'", where)
		}
		if err := validateSteps(step.Steps, where+".steps"); err != nil {
			return err
		}
	case StepGoto:
		if step.Target == "" {
			return fmt.Errorf("%s: goto step must define 'target'", where)
		}
	case StepSwitch:
		if step.On == "" {
			return fmt.Errorf("%s: switch step must define 'on'", where)
		}
		for val, branch := range step.Cases {
			if err := validateSteps(branch, fmt.Sprintf("%s.cases[%s]", where, val)); err != nil {
				return err
			}
		}
		if err := validateSteps(step.Default, where+".default"); err != nil {
			return err
		}
	}

	if step.Locator != nil {
		if err := validateLocator(step.Locator, where); err != nil {
			return err
		}
	}
	if step.Retry != nil && step.Retry.Attempts < 0 {
		return fmt.Errorf("%s: retry.attempts must not be negative", where)
	}
	for i, strat := range step.Escalation {
		switch strat.Method {
		case EscalationLocator:
			if strat.Locator == nil {
				return fmt.Errorf("%s.escalation_chain[%d]: locator strategy must define 'locator'", where, i)
			}
			if err := validateLocator(strat.Locator, fmt.Sprintf("%s.escalation_chain[%d]", where, i)); err != nil {
				return err
			}
		case EscalationText:
			if strat.Text == "" {
				return fmt.Errorf("%s.escalation_chain[%d]: text strategy must define 'text'", where, i)
			}
		case EscalationVision:
			if strat.Prompt == "" {
				return fmt.Errorf("%s.escalation_chain[%d]: vision strategy must define 'prompt'", where, i)
			}
		default:
			return fmt.Errorf("%s.escalation_chain[%d]: unknown method %q", where, i, strat.Method)
		}
	}
	return nil
}

func validateLocator(loc *Locator, where string) error {
	switch loc.Strategy {
	case StrategySelector, StrategyRole, StrategyText, StrategyXPath:
		if loc.Value == "" {
			return fmt.Errorf("%s: %s locator must define 'value'", where, loc.Strategy)
		}
	case StrategyCoordinates:
		// Rejected at resolution time; structurally legal so lint can flag it
		// without failing external scripts that never reach the step.
	case StrategyFormField:
		if loc.Label == "" {
			return fmt.Errorf("%s: form_field locator must define 'label'", where)
		}
	case "":
		return fmt.Errorf("%s: locator is missing 'strategy'", where)
	default:
		return fmt.Errorf("%s: unknown locator strategy %q", where, loc.Strategy)
	}
	if loc.Nth != nil && *loc.Nth < 0 {
		return fmt.Errorf("%s: locator nth must not be negative", where)
	}
	return nil
}
