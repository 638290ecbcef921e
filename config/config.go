package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/errors"
)

// Connector scopes as written in documents.
const (
	ScopeSource = "source"
	ScopeSink   = "sink"
)

// DefaultControlSubject is the NATS subject the control bridge listens on.
const DefaultControlSubject = "wpipe.control"

// Config is a complete pipeline document.
type Config struct {
	// Version is an optional semantic version of the document.
	Version    string            `json:"version,omitempty"`
	WorkRoot   string            `json:"work_root,omitempty"`
	NATS       NATSConfig        `json:"nats"`
	Metrics    MetricsConfig     `json:"metrics"`
	Connectors []ConnectorConfig `json:"connectors,omitempty"`
	Sources    []SourceConfig    `json:"sources"`
	SinkGroups []SinkGroupConfig `json:"sink_groups"`
}

// NATSConfig defines the shared NATS connection. Without URLs no client is
// created and NATS connectors fail their build.
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`

	// Zero keeps the client defaults.
	PingInterval Duration `json:"ping_interval,omitempty"`
	DrainTimeout Duration `json:"drain_timeout,omitempty"`
	MaxBackoff   Duration `json:"max_backoff,omitempty"`

	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Token          string        `json:"token,omitempty"`
	TLS            NATSTLSConfig `json:"tls,omitempty"`
	ControlSubject string        `json:"control_subject,omitempty"`
}

// Enabled reports whether a client should be created.
func (n NATSConfig) Enabled() bool { return len(n.URLs) > 0 }

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Addr is the listen address for the metrics server.
func (m MetricsConfig) Addr() string { return ":" + strconv.Itoa(m.Port) }

// ConnectorConfig is a named connector definition.
type ConnectorConfig struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Scope         string         `json:"scope"`
	AllowOverride []string       `json:"allow_override,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
}

// Def converts the entry to a connector definition.
func (c ConnectorConfig) Def(origin string) connector.Def {
	scope := connector.ScopeSource
	if c.Scope == ScopeSink {
		scope = connector.ScopeSink
	}
	def := connector.Def{
		ID:            c.ID,
		Kind:          c.Type,
		AllowOverride: c.AllowOverride,
		Params:        connector.NormalizeMap(c.Params),
		Origin:        origin,
	}
	return def.WithScope(scope)
}

// Endpoint selects a connector: exactly one of Kind, Connector and URL is
// set.
type Endpoint struct {
	Kind      string         `json:"kind,omitempty"`
	Connector string         `json:"connector,omitempty"`
	URL       string         `json:"url,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

func (e Endpoint) selectors() int {
	n := 0
	for _, s := range []string{e.Kind, e.Connector, e.URL} {
		if s != "" {
			n++
		}
	}
	return n
}

// label names the endpoint in generated names and messages.
func (e Endpoint) label() string {
	switch {
	case e.Kind != "":
		return e.Kind
	case e.Connector != "":
		return e.Connector
	default:
		scheme, _, _ := strings.Cut(e.URL, ":")
		return scheme
	}
}

// SourceConfig is one source entry.
type SourceConfig struct {
	Name string `json:"name,omitempty"`
	Endpoint
	Tags []string `json:"tags,omitempty"`

	// Disabled entries are validated but not built.
	Disabled bool `json:"disabled,omitempty"`
}

// SinkGroupConfig is a group of sinks fed the same data.
type SinkGroupConfig struct {
	Name         string       `json:"name"`
	Replicas     int          `json:"replicas,omitempty"`
	RateLimitRPS int          `json:"rate_limit_rps,omitempty"`
	Sinks        []SinkConfig `json:"sinks"`
}

// SinkConfig is one sink entry.
type SinkConfig struct {
	Name string `json:"name,omitempty"`
	Endpoint
	Filter string `json:"filter,omitempty"`
}

// DefaultConfig returns the defaults every loaded document starts from.
func DefaultConfig() *Config {
	return &Config{
		WorkRoot: "./data",
		NATS: NATSConfig{
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
			ControlSubject: DefaultControlSubject,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation with secrets masked.
func (c *Config) String() string {
	masked := c.Clone()
	for _, s := range []*string{&masked.NATS.Password, &masked.NATS.Token} {
		if *s != "" {
			*s = "***"
		}
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// AssignNames gives unnamed sources and sinks a generated name of the form
// "<kind>-<8 hex digits>". Generated names change on every load, so such
// instances keep no state across runs.
func (c *Config) AssignNames() {
	for i := range c.Sources {
		if c.Sources[i].Name == "" {
			c.Sources[i].Name = generatedName(c.Sources[i].label())
		}
	}
	for g := range c.SinkGroups {
		for i := range c.SinkGroups[g].Sinks {
			s := &c.SinkGroups[g].Sinks[i]
			if s.Name == "" {
				s.Name = generatedName(s.label())
			}
		}
	}
}

func generatedName(label string) string {
	if label == "" {
		label = "instance"
	}
	return label + "-" + uuid.NewString()[:8]
}

// Validate checks the document. Unnamed entries are named first.
func (c *Config) Validate() error {
	c.AssignNames()

	var errs []error
	if c.Version != "" {
		if _, _, _, err := parseSemVer(c.Version); err != nil {
			errs = append(errs, fmt.Errorf("version: %w", err))
		}
	}
	if c.WorkRoot == "" {
		errs = append(errs, fmt.Errorf("%w: work_root", errors.ErrMissingConfig))
	}
	errs = append(errs, c.NATS.validate()...)
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port %d out of range", c.Metrics.Port))
	}

	defs := make(map[string]ConnectorConfig, len(c.Connectors))
	for i, cc := range c.Connectors {
		if err := cc.Def("").Validate(); err != nil {
			errs = append(errs, fmt.Errorf("connectors[%d]: %w", i, err))
			continue
		}
		if cc.Scope != ScopeSource && cc.Scope != ScopeSink {
			errs = append(errs, fmt.Errorf("connectors[%d]: scope %q must be %q or %q", i, cc.Scope, ScopeSource, ScopeSink))
		}
		if _, dup := defs[cc.ID]; dup {
			errs = append(errs, fmt.Errorf("connectors[%d]: duplicate id %q", i, cc.ID))
		}
		defs[cc.ID] = cc
	}

	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one source", errors.ErrMissingConfig))
	}
	seen := make(map[string]bool)
	for i, s := range c.Sources {
		where := fmt.Sprintf("sources[%d] %q", i, s.Name)
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name", where))
		}
		seen[s.Name] = true
		errs = append(errs, s.Endpoint.validate(where, ScopeSource, defs)...)
	}

	if len(c.SinkGroups) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one sink group", errors.ErrMissingConfig))
	}
	groups := make(map[string]bool)
	for g, grp := range c.SinkGroups {
		where := fmt.Sprintf("sink_groups[%d] %q", g, grp.Name)
		switch {
		case grp.Name == "":
			errs = append(errs, fmt.Errorf("sink_groups[%d]: %w: name", g, errors.ErrMissingConfig))
		case strings.Contains(grp.Name, "/"):
			errs = append(errs, fmt.Errorf("%s: name must not contain '/'", where))
		case groups[grp.Name]:
			errs = append(errs, fmt.Errorf("%s: duplicate name", where))
		}
		groups[grp.Name] = true
		if grp.Replicas < 0 || grp.RateLimitRPS < 0 {
			errs = append(errs, fmt.Errorf("%s: replicas and rate_limit_rps must not be negative", where))
		}
		if len(grp.Sinks) == 0 {
			errs = append(errs, fmt.Errorf("%s: %w: at least one sink", where, errors.ErrMissingConfig))
		}
		names := make(map[string]bool)
		for i, s := range grp.Sinks {
			sw := fmt.Sprintf("%s sinks[%d] %q", where, i, s.Name)
			if names[s.Name] {
				errs = append(errs, fmt.Errorf("%s: duplicate name", sw))
			}
			names[s.Name] = true
			errs = append(errs, s.Endpoint.validate(sw, ScopeSink, defs)...)
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "validate pipeline")
	}
	return nil
}

func (n NATSConfig) validate() []error {
	var errs []error
	for _, d := range []struct {
		key string
		val Duration
	}{
		{"reconnect_wait", n.ReconnectWait},
		{"ping_interval", n.PingInterval},
		{"drain_timeout", n.DrainTimeout},
		{"max_backoff", n.MaxBackoff},
	} {
		if d.val < 0 {
			errs = append(errs, fmt.Errorf("nats.%s must not be negative", d.key))
		}
	}
	if n.TLS.Enabled && (n.TLS.CertFile == "") != (n.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("nats.tls: cert_file and key_file must be set together"))
	}
	if n.Token != "" && n.Username != "" {
		errs = append(errs, fmt.Errorf("nats: token and username are mutually exclusive"))
	}
	return errs
}

func (e Endpoint) validate(where, scope string, defs map[string]ConnectorConfig) []error {
	if e.selectors() != 1 {
		return []error{fmt.Errorf("%s: exactly one of kind, connector and url must be set", where)}
	}
	if e.Connector == "" {
		return nil
	}
	def, ok := defs[e.Connector]
	if !ok {
		return []error{fmt.Errorf("%s: unknown connector %q", where, e.Connector)}
	}
	if def.Scope != scope {
		return []error{fmt.Errorf("%s: connector %q is a %s connector", where, e.Connector, def.Scope)}
	}
	var errs []error
	for _, k := range connector.NormalizeMap(e.Params).Keys() {
		if !slices.Contains(def.AllowOverride, k) {
			errs = append(errs, fmt.Errorf("%s: connector %q does not allow overriding %q", where, e.Connector, k))
		}
	}
	return errs
}

// parseSemVer parses a semantic version string (e.g., "1.2.3")
// Returns major, minor, patch, error
func parseSemVer(version string) (int, int, int, error) {
	if version == "" {
		return 0, 0, 0, stderrors.New("version cannot be empty")
	}
	version = strings.TrimPrefix(version, "v")

	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("version must be in format 'major.minor.patch', got '%s'", version)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, 0, fmt.Errorf("invalid version component '%s'", part)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}
