package security

import (
	"sort"
	"strings"
)

// Redactor masks secret values (API keys, varfile secrets) in log output.
type Redactor struct {
	Secrets []string
}

func NewRedactor(secrets ...string) *Redactor {
	var values []string
	for _, s := range secrets {
		if s != "" {
			values = append(values, s)
		}
	}
	return &Redactor{Secrets: values}
}

// secretKeyHints are variable-name fragments that mark a value as
// sensitive.
var secretKeyHints = []string{"key", "token", "password", "secret", "credential"}

// NewRedactorFromVars builds a redactor over the values of
// sensitive-looking variables.
func NewRedactorFromVars(vars map[string]string) *Redactor {
	r := NewRedactor()
	for name, value := range vars {
		lower := strings.ToLower(name)
		for _, hint := range secretKeyHints {
			if strings.Contains(lower, hint) {
				r.Add(value)
				break
			}
		}
	}
	return r
}

func (r *Redactor) Add(secret string) {
	if secret != "" {
		r.Secrets = append(r.Secrets, secret)
	}
}

func (r *Redactor) Redact(s string) string {
	if r == nil || len(r.Secrets) == 0 {
		return s
	}

	// Sort secrets by length in descending order to handle overlapping secrets properly
	// This ensures longer secrets are replaced before their substrings
	secrets := make([]string, len(r.Secrets))
	copy(secrets, r.Secrets)
	sort.Slice(secrets, func(i, j int) bool {
		return len(secrets[i]) > len(secrets[j])
	})

	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "********")
	}
	return s
}
