package vision_test

import (
	"context"
	"testing"

	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProviderUnknownNameFailsFast(t *testing.T) {
	_, err := vision.NewProvider("llama-at-home", vision.Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, vision.ErrUnsupportedProvider)
}

func TestStubProvidersConstructButRefuseCalls(t *testing.T) {
	for _, name := range []string{"claude", "gemini"} {
		p, err := vision.NewProvider(name, vision.Config{})
		require.NoError(t, err, name)
		assert.Equal(t, name, p.Name())

		_, err = p.Completion(context.Background(), vision.Request{Prompt: "read this"})
		require.Error(t, err, name)
		assert.ErrorIs(t, err, vision.ErrNotImplemented)
	}
}

func TestStubProviderFailsExtractionNotSilently(t *testing.T) {
	p, err := vision.NewProvider("claude", vision.Config{})
	require.NoError(t, err)

	x := vision.NewExtractor(&stubDriver{}, p, nil)
	_, err = x.Extract(context.Background(), "Extract title", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vision.ErrNotImplemented)
}

func TestNewProviderDefaultsToOpenAI(t *testing.T) {
	p, err := vision.NewProvider("", vision.Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}
