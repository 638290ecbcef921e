package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/errors"
)

//go:embed schema.json
var schemaJSON []byte

var schemaLoader = gojsonschema.NewBytesLoader(schemaJSON)

// Schema returns a copy of the JSON Schema every pipeline document is
// checked against.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "WPIPE",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over DefaultConfig, applies environment
// overrides and, when enabled, validates the result. Unnamed sources and
// sinks are always named.
func (l *Loader) Load() (*Config, error) {
	merged := map[string]any{}
	for _, path := range l.layers {
		doc, err := ReadDocument(path)
		if err != nil {
			return nil, err
		}
		merged = deepMergeMaps(merged, doc)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged document")
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged document")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.AssignNames()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// ReadDocument reads one file, decodes it by extension and checks it
// against the pipeline schema. The result holds only map[string]any,
// []any and scalar values.
func ReadDocument(path string) (map[string]any, error) {
	format, err := formatOf(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "ReadDocument", "detect format")
	}
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "ReadDocument", "read "+path)
	}
	doc, err := decode(format, data)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", path, err), "Loader", "ReadDocument", "decode "+format)
	}
	if err := checkDepth(doc, 0); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", path, err), "Loader", "ReadDocument", "check depth")
	}
	if err := validateSchema(doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%s: %w", path, err), "Loader", "ReadDocument", "validate schema")
	}
	return doc, nil
}

func decode(format string, data []byte) (map[string]any, error) {
	raw := map[string]any{}
	var err error
	switch format {
	case formatYAML:
		err = yaml.Unmarshal(data, &raw)
	case formatTOML:
		err = toml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return connector.NormalizeMap(raw), nil
}

// validateSchema checks a decoded document against the embedded schema.
func validateSchema(doc map[string]any) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var b strings.Builder
	b.WriteString("document does not match the pipeline schema:")
	for _, desc := range result.Errors() {
		fmt.Fprintf(&b, "\n  - %s: %s", desc.Field(), desc.Description())
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, b.String())
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "read "+key)
		}
		return val, true, nil
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"WORK_ROOT", &cfg.WorkRoot},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
	}
	for _, s := range strs {
		val, ok, err := lookup(s.name)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := lookup("NATS_URLS"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URLs = strings.Split(val, ",")
	}

	if val, ok, err := lookup("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", "parse "+l.envPrefix+"_METRICS_PORT")
		}
		cfg.Metrics.Port = port
	}
	return nil
}
