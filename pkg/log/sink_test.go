package log_test

import (
	"testing"

	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/security"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink captures routed events for assertions.
type memorySink struct {
	events []*log.LogEvent
	closed bool
}

func (s *memorySink) Write(event *log.LogEvent) error {
	s.events = append(s.events, event)
	return nil
}

func (s *memorySink) Close() error {
	s.closed = true
	return nil
}

func TestRouterDecodesZerologLines(t *testing.T) {
	sink := &memorySink{}
	router := log.NewRouter(sink)

	logger := log.NewZerologAdapter(zerolog.New(router).With().Timestamp().Logger())
	logger.Info().Str("action", "navigate").Int("step_number", 3).Msg("Executing step")

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	assert.Equal(t, log.InfoLevel, evt.Level)
	assert.Equal(t, "Executing step", evt.Message)
	assert.Equal(t, "navigate", evt.Fields["action"])
	assert.EqualValues(t, 3, evt.Fields["step_number"])
	assert.False(t, evt.Timestamp.IsZero())
}

func TestRouterRedactsSecrets(t *testing.T) {
	sink := &memorySink{}
	router := log.NewRouter(sink)
	router.Redactor = security.NewRedactor("sk-secret-key")

	logger := log.NewZerologAdapter(zerolog.New(router))
	logger.Warn().Str("api_key", "sk-secret-key").Msg("calling api with sk-secret-key")

	require.Len(t, sink.events, 1)
	evt := sink.events[0]
	assert.Equal(t, "calling api with ********", evt.Message)
	assert.Equal(t, "********", evt.Fields["api_key"])
}

func TestRouterFansOutToAllSinks(t *testing.T) {
	first := &memorySink{}
	second := &memorySink{}
	router := log.NewRouter()
	router.AddSink(first)
	router.AddSink(second)

	logger := log.NewZerologAdapter(zerolog.New(router))
	logger.Error().Msg("boom")

	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1)
	assert.Equal(t, log.ErrorLevel, first.events[0].Level)
}

func TestRouterCloseClosesSinks(t *testing.T) {
	first := &memorySink{}
	second := &memorySink{}
	router := log.NewRouter(first, second)

	require.NoError(t, router.Close())
	assert.True(t, first.closed)
	assert.True(t, second.closed)
}

func TestRouterToleratesNonJSONLines(t *testing.T) {
	sink := &memorySink{}
	router := log.NewRouter(sink)

	n, err := router.Write([]byte("not json"))
	assert.NoError(t, err)
	assert.Equal(t, len("not json"), n)
	assert.Empty(t, sink.events)
}
