package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile reads a script document from disk. JSON is the native
// format; YAML is accepted for hand-written scripts. The format is chosen
// by extension, falling back to content sniffing.
func LoadFromFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file %q: %w", path, err)
	}

	var s *Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		s, err = parseYAML(data)
	case ".json":
		s, err = parseJSON(data)
	default:
		s, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing script %q: %w", path, err)
	}

	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}

	return s, nil
}

// Parse decodes a script from raw bytes, sniffing JSON vs YAML.
func Parse(data []byte) (*Script, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return parseJSON(data)
	}
	return parseYAML(data)
}

func parseJSON(data []byte) (*Script, error) {
	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding script JSON: %w", err)
	}
	return &s, nil
}

func parseYAML(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding script YAML: %w", err)
	}
	return &s, nil
}
