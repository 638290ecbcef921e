package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// BuildCtx is handed to every source factory.
type BuildCtx struct {
	// WorkRoot is an isolated directory the instance may use for state.
	WorkRoot string
}

// Spec is a resolved source specification: connector defaults merged with
// pipeline overrides, parameters flattened.
type Spec struct {
	Name        string             `json:"name" yaml:"name" toml:"name"`
	Kind        string             `json:"kind" yaml:"kind" toml:"kind"`
	ConnectorID string             `json:"connector_id" yaml:"connector_id" toml:"connector_id"`
	Params      connector.ParamMap `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Tags        []string           `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
}

// TagSet parses Tags entries of the form "key:value" or "key=value". An
// entry without a separator becomes a key with an empty value.
func (s Spec) TagSet() model.SharedTags {
	tags := model.NewTags()
	for _, entry := range s.Tags {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, ":")
		if !ok {
			key, value, _ = strings.Cut(entry, "=")
		}
		tags.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return tags.Share()
}

// Validate checks the fields every factory relies on.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Spec", "Validate", "source name is required")
	}
	if s.Kind == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: source %q has no kind", errors.ErrMissingConfig, s.Name),
			"Spec", "Validate", "check kind")
	}
	return nil
}

// Meta describes a built source for scheduling and reporting.
type Meta struct {
	Name string
	Kind string
	Tags model.SharedTags
}

// NewMeta creates metadata without tags.
func NewMeta(name, kind string) Meta { return Meta{Name: name, Kind: kind} }

// Handle pairs a source with its metadata.
type Handle struct {
	Source Source
	Meta   Meta
}

func (h Handle) String() string {
	return fmt.Sprintf("Handle{name: %s, kind: %s}", h.Meta.Name, h.Meta.Kind)
}

// Acceptor is a server-style source front end (listeners that accept
// connections and feed sources). It runs until stopped through ctrl or ctx.
type Acceptor interface {
	Accept(ctx context.Context, ctrl *Subscription) error
}

// AcceptorHandle names an Acceptor.
type AcceptorHandle struct {
	Name     string
	Acceptor Acceptor
}

// Instances is what a factory build returns: the sources and an optional
// acceptor driving them.
type Instances struct {
	Sources  []Handle
	Acceptor *AcceptorHandle
}

// Add appends a source.
func (in *Instances) Add(h Handle) { in.Sources = append(in.Sources, h) }

// WithAcceptor sets the acceptor.
func (in Instances) WithAcceptor(a AcceptorHandle) Instances {
	in.Acceptor = &a
	return in
}

func (in Instances) String() string {
	acceptor := "none"
	if in.Acceptor != nil {
		acceptor = in.Acceptor.Name
	}
	return fmt.Sprintf("Instances{sources: %d, acceptor: %s}", len(in.Sources), acceptor)
}

// Factory builds sources of one kind.
type Factory interface {
	Kind() string

	// ValidateSpec checks parameters without doing I/O.
	ValidateSpec(spec Spec) error

	// Build creates the instances described by spec. Failures are
	// errors.ConfigError or errors.StartupError.
	Build(ctx context.Context, spec Spec, bctx BuildCtx) (Instances, error)
}
