// Package vision bridges page state to multimodal LLM calls: data
// extraction against a screenshot, vision-assisted element finding, and
// the optional follow-up action an extraction can trigger.
package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrUnsupportedProvider marks a request for a provider this build does not
// know at all.
var ErrUnsupportedProvider = errors.New("unsupported llm provider")

// ErrNotImplemented marks a declared provider whose backend is not wired
// yet. Calls fail fast; there is no silent fallback to another provider.
var ErrNotImplemented = errors.New("llm provider not yet implemented")

// Request is one vision-capable chat completion: a prompt plus a
// screenshot, optionally constrained to JSON output.
type Request struct {
	Prompt   string
	ImagePNG []byte
	JSONMode bool
}

// Provider is a vision-capable chat completion backend.
type Provider interface {
	Name() string
	Completion(ctx context.Context, req Request) (string, error)
}

// Config holds provider construction settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewProvider constructs the named provider. openai is fully implemented;
// claude and gemini are declared but stubbed.
func NewProvider(name string, cfg Config) (Provider, error) {
	switch name {
	case "openai", "":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		return newOpenAIProvider(cfg), nil
	case "claude", "gemini":
		return &stubProvider{name: name}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
}

// stubProvider is a declared-but-unimplemented backend. Constructing it
// succeeds so scripts can be linted; calling it fails with an explicit
// error.
type stubProvider struct {
	name string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Completion(ctx context.Context, req Request) (string, error) {
	return "", fmt.Errorf("%w: %q", ErrNotImplemented, s.name)
}
