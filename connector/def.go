package connector

import (
	"fmt"

	"github.com/wp-labs/wp-open-api/errors"
)

// Scope says which side of the pipeline a connector definition serves.
type Scope int

const (
	ScopeSource Scope = iota
	ScopeSink
)

func (s Scope) String() string {
	if s == ScopeSink {
		return "sink"
	}
	return "source"
}

// Def is a named connector definition: a kind, its default parameters and
// the parameter names a pipeline spec is allowed to override.
type Def struct {
	ID            string   `json:"id" yaml:"id" toml:"id"`
	Kind          string   `json:"type" yaml:"type" toml:"type"`
	Scope         Scope    `json:"-" yaml:"-" toml:"-"`
	AllowOverride []string `json:"allow_override,omitempty" yaml:"allow_override,omitempty" toml:"allow_override,omitempty"`
	Params        ParamMap `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Origin        string   `json:"-" yaml:"-" toml:"-"`
}

// WithScope returns a copy of d with the given scope.
func (d Def) WithScope(scope Scope) Def {
	d.Scope = scope
	return d
}

// Validate checks the required fields.
func (d Def) Validate() error {
	if d.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Def", "Validate", "connector id is required")
	}
	if d.Kind == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connector %q has no type", errors.ErrMissingConfig, d.ID),
			"Def", "Validate", "check type")
	}
	return nil
}

// Resolve merges spec-level overrides into the definition defaults.
func (d Def) Resolve(overrides ParamMap) (ParamMap, error) {
	allowed := d.AllowOverride
	if allowed == nil {
		allowed = []string{}
	}
	if len(overrides) == 0 {
		return d.Params.Clone(), nil
	}
	params, err := d.Params.Merge(overrides, allowed)
	if err != nil {
		return nil, errors.Wrap(err, "Def", "Resolve", fmt.Sprintf("resolve %s params", d.ID))
	}
	return params, nil
}

// DefProvider is implemented by factories that publish default definitions.
type DefProvider interface {
	SourceDef() (Def, bool)
	SinkDef() (Def, bool)
}

// Adapter turns a connector URL into flattened params and supplies defaults.
type Adapter interface {
	Kind() string
	Defaults() ParamMap
	URLToParams(url string) (ParamMap, error)
}
