package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log/sinks"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
)

type LintCmd struct {
	Script  string `arg:"" help:"The automation script file (JSON or YAML)."`
	Varfile string `help:"The YAML varfile for input variables." default:"vars.yml"`
}

func (l *LintCmd) Run() error {
	consoleSink := sinks.NewConsoleSink()

	logRouter := log.NewRouter()
	logRouter.AddSink(consoleSink)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	cmdLogger.Info().Msgf("Validating %s", l.Script)

	if err := godotenv.Load(); err != nil {
		cmdLogger.Warn().Err(err).Msgf("No .env file found or error thrown while loading it. Relying on existing ENV if vars use {{ env.* }}")
	}

	sc, err := script.LoadFromFile(l.Script)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Failed to load script file %s", l.Script)
		return fmt.Errorf("loading script file %q: %w", l.Script, err)
	}
	cmdLogger.Info().Msgf("Successfully loaded script: %q", sc.Name)

	if _, statErr := os.Stat(l.Varfile); os.IsNotExist(statErr) {
		cmdLogger.Warn().Msgf("Varfile %s not found. Unresolved variables will be reported as-is.", l.Varfile)
	} else if _, err := script.ResolveVarfile(l.Varfile); err != nil {
		cmdLogger.Warn().Err(err).Msgf("Could not resolve varfile %q", l.Varfile)
	}

	for warning := range lintWarnings(sc) {
		cmdLogger.Warn().Msg(warning)
	}

	cmdLogger.Info().Msg("Script validation passed")
	return nil
}

// lintWarnings reports non-fatal issues validation allows through:
// strategies that will fail at runtime, steps that depend on an LLM
// provider, and so on.
func lintWarnings(sc *script.Script) map[string]struct{} {
	warnings := make(map[string]struct{})
	var walk func(steps []script.Step)
	walk = func(steps []script.Step) {
		for i := range steps {
			s := &steps[i]
			if s.Locator != nil && s.Locator.Strategy == script.StrategyCoordinates {
				warnings[fmt.Sprintf("step %q uses the coordinates locator strategy, which only supports clicks", s.Name)] = struct{}{}
			}
			if !script.KnownStepType(s.Kind()) {
				warnings[fmt.Sprintf("step %q has unknown type %q and will fail when executed", s.Name, s.Kind())] = struct{}{}
			}
			if s.Kind() == script.StepExtract && sc.LLMProvider == "" {
				warnings[fmt.Sprintf("step %q requires an LLM provider; set llm_provider in the script or pass --llm-provider at run time", s.Name)] = struct{}{}
			}
			walk(s.Then)
			walk(s.Else)
			walk(s.Steps)
			walk(s.Catch)
			walk(s.Default)
			for _, body := range s.Cases {
				walk(body)
			}
		}
	}
	walk(sc.Steps)
	return warnings
}
