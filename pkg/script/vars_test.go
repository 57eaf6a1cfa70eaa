package script_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubstitute(t *testing.T) {
	vars := script.VarContext{"user": "alice", "domain": "example.com"}

	assert.Equal(t, "alice", script.Substitute("{{user}}", vars))
	assert.Equal(t, "alice", script.Substitute("{{ user }}", vars))
	assert.Equal(t, "https://example.com/alice", script.Substitute("https://{{domain}}/{{user}}", vars))
}

func TestSubstituteLeavesUnresolvedTokensLiteral(t *testing.T) {
	vars := script.VarContext{"user": "alice"}

	assert.Equal(t, "{{missing}}", script.Substitute("{{missing}}", vars))
	assert.Equal(t, "alice and {{missing}}", script.Substitute("{{user}} and {{missing}}", vars))
}

func TestSubstituteStepDeepCopies(t *testing.T) {
	step := &script.Step{
		Type:  script.StepFill,
		Value: "{{user}}",
		Locator: &script.Locator{
			Strategy: script.StrategyFormField,
			Label:    "{{field}}",
		},
		Retry: &script.Retry{
			Attempts: 2,
			RetryIf:  &script.Predicate{Condition: script.PredElementVisible, Selector: "{{box}}"},
		},
		Escalation: []script.EscalationStrategy{
			{Method: script.EscalationText, Text: "{{user}}"},
			{Method: script.EscalationVision, Prompt: "find the {{field}} field"},
		},
	}
	vars := script.VarContext{"user": "alice", "field": "Username", "box": "#login"}

	resolved, err := script.SubstituteStep(step, vars)
	require.NoError(t, err)

	assert.Equal(t, "alice", resolved.Value)
	assert.Equal(t, "Username", resolved.Locator.Label)
	assert.Equal(t, "#login", resolved.Retry.RetryIf.Selector)
	assert.Equal(t, "alice", resolved.Escalation[0].Text)
	assert.Equal(t, "find the Username field", resolved.Escalation[1].Prompt)

	// The original step is untouched.
	assert.Equal(t, "{{user}}", step.Value)
	assert.Equal(t, "{{field}}", step.Locator.Label)
	assert.Equal(t, "{{box}}", step.Retry.RetryIf.Selector)
}

func TestResolveVarfile(t *testing.T) {
	t.Setenv("SCRIPT_TEST_TOKEN", "tok-123")

	path := filepath.Join(t.TempDir(), "vars.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
username: alice
api_token: "{{ env.SCRIPT_TEST_TOKEN }}"
absent: "{{ env.SCRIPT_TEST_ABSENT }}"
`), 0644))

	vars, err := script.ResolveVarfile(path)
	require.NoError(t, err)

	assert.Equal(t, "alice", vars["username"])
	assert.Equal(t, "tok-123", vars["api_token"])
	assert.Equal(t, "", vars["absent"])

	_, err = script.ResolveVarfile("does_not_exist.yml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading varfile")
}
