package config

import (
	"fmt"
	"strings"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
)

// AdapterLookup finds URL adapters by kind.
type AdapterLookup interface {
	Adapter(kind string) (connector.Adapter, bool)
}

// SinkGroup is a resolved sink group.
type SinkGroup struct {
	Name         string
	Replicas     int
	RateLimitRPS int
	Specs        []sink.Spec
}

// SourceSpecs resolves the enabled sources. The config must be valid.
func (c *Config) SourceSpecs(adapters AdapterLookup) ([]source.Spec, error) {
	defs := c.defs(ScopeSource)
	specs := make([]source.Spec, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Disabled {
			continue
		}
		kind, connID, params, err := s.Endpoint.resolve(defs, adapters)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "SourceSpecs", "resolve source "+s.Name)
		}
		specs = append(specs, source.Spec{
			Name:        s.Name,
			Kind:        kind,
			ConnectorID: connID,
			Params:      params,
			Tags:        s.Tags,
		})
	}
	return specs, nil
}

// ResolveSinkGroups resolves every sink group. Replicas default to 1.
func (c *Config) ResolveSinkGroups(adapters AdapterLookup) ([]SinkGroup, error) {
	defs := c.defs(ScopeSink)
	groups := make([]SinkGroup, 0, len(c.SinkGroups))
	for _, g := range c.SinkGroups {
		out := SinkGroup{Name: g.Name, Replicas: max(g.Replicas, 1), RateLimitRPS: g.RateLimitRPS}
		for _, s := range g.Sinks {
			kind, connID, params, err := s.Endpoint.resolve(defs, adapters)
			if err != nil {
				return nil, errors.WrapInvalid(err, "Config", "ResolveSinkGroups", "resolve sink "+g.Name+"/"+s.Name)
			}
			out.Specs = append(out.Specs, sink.Spec{
				Group:       g.Name,
				Name:        s.Name,
				Kind:        kind,
				ConnectorID: connID,
				Params:      params,
				Filter:      s.Filter,
			})
		}
		groups = append(groups, out)
	}
	return groups, nil
}

func (c *Config) defs(scope string) map[string]connector.Def {
	defs := make(map[string]connector.Def)
	for _, cc := range c.Connectors {
		if cc.Scope == scope {
			defs[cc.ID] = cc.Def("config")
		}
	}
	return defs
}

func (e Endpoint) resolve(defs map[string]connector.Def, adapters AdapterLookup) (string, string, connector.ParamMap, error) {
	overrides := connector.NormalizeMap(e.Params)
	switch {
	case e.Connector != "":
		def, ok := defs[e.Connector]
		if !ok {
			return "", "", nil, fmt.Errorf("%w: unknown connector %q", errors.ErrInvalidConfig, e.Connector)
		}
		params, err := def.Resolve(overrides)
		if err != nil {
			return "", "", nil, err
		}
		return def.Kind, def.ID, params, nil

	case e.URL != "":
		kind, _, ok := strings.Cut(e.URL, ":")
		if !ok || kind == "" {
			return "", "", nil, fmt.Errorf("%w: url %q has no scheme", errors.ErrInvalidConfig, e.URL)
		}
		if adapters == nil {
			return "", "", nil, fmt.Errorf("%w: no adapters for url %q", errors.ErrUnsupported, e.URL)
		}
		adapter, ok := adapters.Adapter(kind)
		if !ok {
			return "", "", nil, fmt.Errorf("%w: no url adapter for kind %q", errors.ErrUnsupported, kind)
		}
		fromURL, err := adapter.URLToParams(e.URL)
		if err != nil {
			return "", "", nil, err
		}
		params, err := adapter.Defaults().Merge(fromURL, nil)
		if err != nil {
			return "", "", nil, err
		}
		if params, err = params.Merge(overrides, nil); err != nil {
			return "", "", nil, err
		}
		return kind, "", params, nil

	default:
		return e.Kind, "", overrides, nil
	}
}
