// Package config loads the workspace description and the evaluation
// tuning knobs from JSON or YAML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MaxFileSize bounds every config file read by this package.
const MaxFileSize = 1 * 1024 * 1024 // 1MB

// Format is a config file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := filepath.Ext(path); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}
}

// readFile validates the path and size of a config file and returns its
// contents and format.
func readFile(path string) ([]byte, Format, error) {
	cleanPath := filepath.Clean(path)
	format, err := FormatFromPath(cleanPath)
	if err != nil {
		return nil, "", err
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > MaxFileSize {
		return nil, "", fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), MaxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config file: %w", err)
	}
	return data, format, nil
}

func decode(data []byte, format Format, v any) error {
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return fmt.Errorf("unknown config format %q", format)
	}
	return nil
}
