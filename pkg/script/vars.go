package script

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// VarContext holds the run's mutable string variables: varfile inputs plus
// per-step extracted data stored under step_N_data keys.
type VarContext map[string]string

// varRegex is a package-level compiled regular expression for matching {{ varName }} placeholders.
var varRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9\._-]+)\s*\}\}`)

// envRegex matches varfile values of the form {{ env.NAME }}.
var envRegex = regexp.MustCompile(`^\s*\{\{\s*env\.([A-Za-z0-9_]+)\s*}}\s*$`)

// ResolveVarfile loads a YAML varfile, parses it, and resolves {{ env.* }}
// values against the process environment.
func ResolveVarfile(path string) (VarContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading varfile %q: %w", path, err)
	}

	var rawVars map[string]string
	if err := yaml.Unmarshal(data, &rawVars); err != nil {
		return nil, fmt.Errorf("parsing varfile YAML from %q: %w", path, err)
	}

	resolved := make(VarContext, len(rawVars))
	for key, val := range rawVars {
		if match := envRegex.FindStringSubmatch(val); match != nil {
			resolved[key] = os.Getenv(match[1])
		} else {
			resolved[key] = val
		}
	}
	return resolved, nil
}

// Substitute replaces {{name}} tokens in input with values from vars. An
// unresolved token stays literal in the output so scripts that reference
// data produced by a later step degrade visibly instead of erroring.
func Substitute(input string, vars VarContext) string {
	if input == "" || len(vars) == 0 {
		return input
	}
	return varRegex.ReplaceAllStringFunc(input, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		if val, ok := vars[key]; ok {
			return val
		}
		return match
	})
}

// SubstituteStep returns a deep copy of step with every templated string
// field resolved against vars. The original step is never modified; the
// script stays immutable for the duration of the run.
func SubstituteStep(step *Step, vars VarContext) (*Step, error) {
	b, err := json.Marshal(step)
	if err != nil {
		return nil, fmt.Errorf("deep copying step for resolution: %w", err)
	}
	var resolved Step
	if err := json.Unmarshal(b, &resolved); err != nil {
		return nil, fmt.Errorf("deep copying step for resolution: %w", err)
	}

	resolved.URL = Substitute(resolved.URL, vars)
	resolved.Value = Substitute(resolved.Value, vars)
	resolved.Prompt = Substitute(resolved.Prompt, vars)
	resolved.SaveTo = Substitute(resolved.SaveTo, vars)
	resolved.Script = Substitute(resolved.Script, vars)
	resolved.Key = Substitute(resolved.Key, vars)
	resolved.Message = Substitute(resolved.Message, vars)

	if resolved.Locator != nil {
		resolved.Locator.Value = Substitute(resolved.Locator.Value, vars)
		resolved.Locator.Label = Substitute(resolved.Locator.Label, vars)
	}
	for i := range resolved.Escalation {
		strat := &resolved.Escalation[i]
		strat.Text = Substitute(strat.Text, vars)
		strat.Prompt = Substitute(strat.Prompt, vars)
		if strat.Locator != nil {
			strat.Locator.Value = Substitute(strat.Locator.Value, vars)
			strat.Locator.Label = Substitute(strat.Locator.Label, vars)
		}
	}
	if resolved.Retry != nil && resolved.Retry.RetryIf != nil {
		resolved.Retry.RetryIf.Selector = Substitute(resolved.Retry.RetryIf.Selector, vars)
		resolved.Retry.RetryIf.Text = Substitute(resolved.Retry.RetryIf.Text, vars)
	}
	if resolved.Condition != nil && resolved.Condition.Predicate != nil {
		resolved.Condition.Predicate.Selector = Substitute(resolved.Condition.Predicate.Selector, vars)
		resolved.Condition.Predicate.Text = Substitute(resolved.Condition.Predicate.Text, vars)
	}

	return &resolved, nil
}
