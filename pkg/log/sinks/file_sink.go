package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/guyernest/step-functions-agent-sub000/pkg/log"
)

// runLogEntry is one JSON line in a run's log file. The run identity
// fields the executor attaches are promoted to stable top-level keys so
// a run file can be filtered by execution and step without digging
// through the field bag.
type runLogEntry struct {
	Level       string         `json:"level"`
	Time        time.Time      `json:"time"`
	ExecutionID string         `json:"execution_id,omitempty"`
	StepNumber  int            `json:"step_number,omitempty"`
	Action      string         `json:"action,omitempty"`
	Message     string         `json:"message"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// FileSink persists a run's events as JSON lines, one entry per event.
// Each run gets its own file, so the sink truncates on open.
type FileSink struct {
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

func (fs *FileSink) Write(event *log.LogEvent) error {
	entry := runLogEntry{
		Level:   levelToString(event.Level),
		Time:    event.Timestamp,
		Message: event.Message,
	}
	for k, v := range event.Fields {
		switch k {
		case "execution_id":
			if id, ok := v.(string); ok {
				entry.ExecutionID = id
				continue
			}
		case "action":
			if action, ok := v.(string); ok {
				entry.Action = action
				continue
			}
		case "step_number":
			if n := getIntField(event.Fields, k); n > 0 {
				entry.StepNumber = n
				continue
			}
		}
		if entry.Fields == nil {
			entry.Fields = make(map[string]any)
		}
		entry.Fields[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log event for file sink: %w", err)
	}

	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to file sink: %w", err)
	}

	return nil
}

func (fs *FileSink) Close() error {
	if fs.file != nil {
		return fs.file.Close()
	}
	return nil
}
