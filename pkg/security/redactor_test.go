package security_test

import (
	"testing"

	"github.com/guyernest/step-functions-agent-sub000/pkg/security"
	"github.com/stretchr/testify/assert"
)

func TestRedactMasksAllSecrets(t *testing.T) {
	r := security.NewRedactor("sk-test-key", "hunter2")

	out := r.Redact("calling api with sk-test-key and password hunter2")
	assert.Equal(t, "calling api with ******** and password ********", out)
}

func TestRedactLongerSecretsFirst(t *testing.T) {
	r := security.NewRedactor("abc", "abcdef")

	out := r.Redact("token abcdef here")
	assert.Equal(t, "token ******** here", out)
}

func TestRedactEmptyAndNil(t *testing.T) {
	var r *security.Redactor
	assert.Equal(t, "unchanged", r.Redact("unchanged"))

	r = security.NewRedactor("")
	assert.Equal(t, "unchanged", r.Redact("unchanged"))
}

func TestAddSecret(t *testing.T) {
	r := security.NewRedactor()
	r.Add("later-secret")
	assert.Equal(t, "found ********", r.Redact("found later-secret"))
}
