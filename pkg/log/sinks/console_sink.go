package sinks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
)

type ConsoleSink struct{}

func NewConsoleSink() *ConsoleSink {
	return &ConsoleSink{}
}

func (c *ConsoleSink) Write(event *log.LogEvent) error {
	action := getStringField(event.Fields, "action")
	stepNumber := getIntField(event.Fields, "step_number")
	errorMsg := getStringField(event.Fields, "error")
	levelStr := strings.ToUpper(levelToString(event.Level))
	timestampStr := event.Timestamp.Format(time.RFC3339)

	levelColorMap := map[log.Level]*color.Color{
		log.DebugLevel: color.New(color.FgCyan),
		log.InfoLevel:  color.New(color.FgGreen),
		log.WarnLevel:  color.New(color.FgYellow),
		log.ErrorLevel: color.New(color.FgRed),
		log.FatalLevel: color.New(color.FgRed, color.Bold),
	}

	levelFmt := color.New(color.FgWhite).SprintFunc()
	if lc, ok := levelColorMap[event.Level]; ok {
		levelFmt = lc.SprintFunc()
	}

	stepLabel := "run"
	if stepNumber > 0 {
		stepLabel = fmt.Sprintf("step %d", stepNumber)
		if action != "" {
			stepLabel = fmt.Sprintf("step %d/%s", stepNumber, action)
		}
	} else if action != "" {
		stepLabel = action
	}

	timestampFmt := color.New(color.FgWhite).SprintFunc()
	commonPrefix := fmt.Sprintf("[%s %s] %s: ",
		levelFmt(levelStr),
		timestampFmt(timestampStr),
		color.CyanString(stepLabel),
	)

	var output string
	switch {
	case errorMsg != "" && event.Message != "":
		output = fmt.Sprintf("%s%s: %s", commonPrefix, event.Message, errorMsg)
	case errorMsg != "":
		output = fmt.Sprintf("%s%s", commonPrefix, errorMsg)
	case event.Message != "":
		output = fmt.Sprintf("%s%s", commonPrefix, event.Message)
	default:
		fieldsStr, _ := json.Marshal(event.Fields)
		output = fmt.Sprintf("%s%s", commonPrefix, string(fieldsStr))
	}
	fmt.Println(output)
	return nil
}

// Helper to safely get string field from LogEvent.Fields
func getStringField(fields map[string]any, key string) string {
	if val, ok := fields[key]; ok {
		if strVal, isStr := val.(string); isStr {
			return strVal
		}
	}
	return ""
}

// Numbers arrive as float64 after the router's JSON round trip.
func getIntField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func levelToString(l log.Level) string {
	switch l {
	case log.DebugLevel:
		return "debug"
	case log.InfoLevel:
		return "info"
	case log.WarnLevel:
		return "warn"
	case log.ErrorLevel:
		return "error"
	case log.FatalLevel:
		return "fatal"
	default:
		return "unknown"
	}
}

func (c *ConsoleSink) Close() error {
	return nil // Console doesn't need closing
}
