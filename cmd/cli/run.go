package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/guyernest/step-functions-agent-sub000/pkg/browser"
	"github.com/guyernest/step-functions-agent-sub000/pkg/executor"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log/sinks"
	"github.com/guyernest/step-functions-agent-sub000/pkg/script"
	"github.com/guyernest/step-functions-agent-sub000/pkg/security"
	"github.com/guyernest/step-functions-agent-sub000/pkg/storage"
	"github.com/guyernest/step-functions-agent-sub000/pkg/vision"
)

type RunCmd struct {
	Script      string `arg:"" help:"The automation script file (JSON or YAML)."`
	Varfile     string `help:"The YAML varfile for input variables." default:"vars.yml"`
	LLMProvider string `help:"Vision LLM provider (openai, claude, gemini). Overrides the script setting."`
	LLMModel    string `help:"Vision LLM model name. Overrides the script setting."`
	S3Bucket    string `help:"S3 bucket for screenshot uploads. Empty means local disk."`
	S3Prefix    string `help:"Key prefix for uploaded screenshots."`
	Headless    bool   `help:"Run the browser headless." default:"true" negatable:""`
	ExecutionID string `help:"Execution ID for this run. Generated when empty."`
}

func getFallbackKey(providerType string) string {
	switch providerType {
	case "openai", "":
		return os.Getenv("OPENAI_API_KEY")
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	default:
		return ""
	}
}

func (r *RunCmd) Run() error {
	runID := r.ExecutionID
	if runID == "" {
		runID = uuid.New().String()
	}

	consoleSink := sinks.NewConsoleSink()

	logsDir := ".webauto/logs"
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs directory %q: %w", logsDir, err)
	}
	logFilePath := filepath.Join(logsDir, fmt.Sprintf("%s.json", runID))
	fileSink, err := sinks.NewFileSink(logFilePath)
	if err != nil {
		return fmt.Errorf("creating file log sink: %w", err)
	}

	logRouter := log.NewRouter()
	logRouter.AddSink(consoleSink)
	logRouter.AddSink(fileSink)

	baseZerologInstance := zerolog.New(logRouter).With().Timestamp().Logger()
	cmdLogger := log.NewZerologAdapter(baseZerologInstance)

	cmdLogger.Info().Msgf("Starting execution with ID: %s", runID)
	cmdLogger.Info().Msgf("Logs will be saved to %q", logFilePath)

	defer func() {
		if err := logRouter.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during log shutdown: %v\n", err)
		}
	}()

	if err := godotenv.Load(); err != nil {
		cmdLogger.Warn().Err(err).Msgf("No .env file found or error thrown while loading it. Relying on existing ENV if vars use {{ env.* }}")
	}

	sc, err := script.LoadFromFile(r.Script)
	if err != nil {
		cmdLogger.Error().Err(err).Msgf("Failed to load script file %s", r.Script)
		return fmt.Errorf("loading script file %q: %w", r.Script, err)
	}
	cmdLogger.Info().Msgf("Successfully loaded script: %q", sc.Name)

	var varCtx script.VarContext
	if _, statErr := os.Stat(r.Varfile); os.IsNotExist(statErr) {
		cmdLogger.Warn().Msgf("Varfile %s not found. Proceeding without input variables.", r.Varfile)
		varCtx = make(script.VarContext)
	} else {
		varCtx, err = script.ResolveVarfile(r.Varfile)
		if err != nil {
			cmdLogger.Error().Err(err).Msgf("Could not resolve varfile %q", r.Varfile)
			return fmt.Errorf("resolving varfile %q: %w", r.Varfile, err)
		}
		cmdLogger.Info().Msgf("Successfully loaded and resolved varfile: %s", r.Varfile)
	}

	logRouter.Redactor = security.NewRedactorFromVars(varCtx)

	providerName := r.LLMProvider
	if providerName == "" {
		providerName = sc.LLMProvider
	}
	model := r.LLMModel
	if model == "" {
		model = sc.LLMModel
	}

	ctx := context.Background()

	var provider vision.Provider
	if scriptUsesVision(sc) {
		apiKey := getFallbackKey(providerName)
		logRouter.Redactor.Add(apiKey)
		provider, err = vision.NewProvider(providerName, vision.Config{APIKey: apiKey, Model: model})
		if err != nil {
			cmdLogger.Error().Err(err).Msgf("Failed to initialize vision provider %q", providerName)
			return fmt.Errorf("initializing vision provider %q: %w", providerName, err)
		}
		cmdLogger.Info().Msgf("Vision provider initialized: %s", provider.Name())
	}

	driver, err := launchDriver(sc, r.Headless)
	if err != nil {
		cmdLogger.Error().Err(err).Msg("Failed to launch browser")
		return fmt.Errorf("launching browser: %w", err)
	}

	var extractor executor.Extractor
	if provider != nil {
		extractor = vision.NewExtractor(driver, provider, cmdLogger)
	}
	return r.execute(ctx, cmdLogger, sc, varCtx, driver, extractor, runID)
}

func (r *RunCmd) execute(
	ctx context.Context,
	cmdLogger log.Logger,
	sc *script.Script,
	varCtx script.VarContext,
	driver browser.Driver,
	extractor executor.Extractor,
	runID string,
) error {
	var store storage.Store
	if r.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(ctx, r.S3Bucket, r.S3Prefix)
		if err != nil {
			cmdLogger.Warn().Err(err).Msg("S3 store initialization failed, falling back to local disk")
			store = storage.NewLocalStore("")
		} else {
			store = s3Store
			cmdLogger.Info().Msgf("Screenshots will be uploaded to s3://%s", r.S3Bucket)
		}
	} else {
		store = storage.NewLocalStore("")
	}

	sc.ExecutionID = runID

	ex := executor.New(driver, executor.Config{
		Store:     store,
		Extractor: extractor,
		Logger:    cmdLogger,
	})
	result := ex.Run(ctx, sc, varCtx)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding execution result: %w", err)
	}
	fmt.Println(string(out))

	if !result.Success {
		return fmt.Errorf("execution failed: %s", result.Error)
	}
	cmdLogger.Info().Msgf("Execution completed successfully (%d/%d steps)", result.StepsExecuted, result.StepsTotal)
	return nil
}

// launchDriver builds a browser session from the script's browser options
// plus the CLI headless flag.
func launchDriver(sc *script.Script, headless bool) (*browser.RodDriver, error) {
	opts := browser.Options{Headless: headless}
	if b := sc.Browser; b != nil {
		if b.Headless != nil {
			opts.Headless = *b.Headless
		}
		opts.UserDataDir = b.UserDataDir
		if b.Viewport != nil {
			opts.Viewport = &browser.Viewport{Width: b.Viewport.Width, Height: b.Viewport.Height}
		}
	}
	return browser.Launch(opts)
}

// scriptUsesVision reports whether any step needs the LLM bridge: extract
// steps or escalation chains ending in vision.
func scriptUsesVision(sc *script.Script) bool {
	return stepsUseVision(sc.Steps)
}

func stepsUseVision(steps []script.Step) bool {
	for i := range steps {
		s := &steps[i]
		if s.Kind() == script.StepExtract {
			return true
		}
		for _, strat := range s.Escalation {
			if strat.Method == script.EscalationVision {
				return true
			}
		}
		if stepsUseVision(s.Then) || stepsUseVision(s.Else) || stepsUseVision(s.Steps) ||
			stepsUseVision(s.Catch) || stepsUseVision(s.Default) {
			return true
		}
		for _, body := range s.Cases {
			if stepsUseVision(body) {
				return true
			}
		}
	}
	return false
}
