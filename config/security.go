package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// Security limits for configuration
	maxConfigSize = 10 << 20 // 10MB max config file size
	maxDepth      = 100      // Maximum document nesting depth
	maxEnvVarLen  = 10000    // Maximum environment variable value length
	maxPathLen    = 4096     // Maximum file path length
)

// document formats by file extension
const (
	formatYAML = "yaml"
	formatTOML = "toml"
	formatJSON = "json"
)

// formatOf maps a config path to its document format.
func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML, nil
	case ".toml":
		return formatTOML, nil
	case ".json":
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file extension %q (want .yaml, .yml, .toml or .json)", filepath.Ext(path))
	}
}

// safeReadFile reads a config file with size and type checks.
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("empty config path")
	}
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// checkDepth rejects decoded documents nested deeper than maxDepth.
func checkDepth(v any, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("document nesting too deep: > %d", maxDepth)
	}
	switch x := v.(type) {
	case map[string]any:
		for _, item := range x {
			if err := checkDepth(item, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, item := range x {
			if err := checkDepth(item, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
