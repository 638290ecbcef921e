package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

// BuildCtx carries per-instance build hints. None of them is enforced by
// the factory itself; Wrap applies RateLimitRPS.
type BuildCtx struct {
	WorkRoot     string
	ReplicaIdx   int
	ReplicaCnt   int
	RateLimitRPS int
}

// NewBuildCtx returns a single-replica context without a rate limit.
func NewBuildCtx(workRoot string) BuildCtx {
	return BuildCtx{WorkRoot: workRoot, ReplicaCnt: 1}
}

// WithReplica sets the replica position. The count is at least 1.
func (c BuildCtx) WithReplica(idx, cnt int) BuildCtx {
	c.ReplicaIdx = idx
	c.ReplicaCnt = max(cnt, 1)
	return c
}

// WithLimit sets the advisory rate limit in items per second.
func (c BuildCtx) WithLimit(rps int) BuildCtx {
	c.RateLimitRPS = rps
	return c
}

// Spec is a resolved sink specification.
type Spec struct {
	Group       string             `json:"group" yaml:"group" toml:"group"`
	Name        string             `json:"name" yaml:"name" toml:"name"`
	Kind        string             `json:"kind" yaml:"kind" toml:"kind"`
	ConnectorID string             `json:"connector_id" yaml:"connector_id" toml:"connector_id"`
	Params      connector.ParamMap `json:"params,omitempty" yaml:"params,omitempty" toml:"params,omitempty"`
	Filter      string             `json:"filter,omitempty" yaml:"filter,omitempty" toml:"filter,omitempty"`
}

// FullName is "group/name", or the name alone without a group.
func (s Spec) FullName() string {
	if s.Group == "" {
		return s.Name
	}
	return s.Group + "/" + s.Name
}

// Validate checks the fields every factory relies on.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Spec", "Validate", "sink name is required")
	}
	if s.Kind == "" {
		return errors.WrapInvalid(
			fmt.Errorf("%w: sink %q has no kind", errors.ErrMissingConfig, s.Name),
			"Spec", "Validate", "check kind")
	}
	return nil
}

// Handle is a built sink.
type Handle struct {
	Name string
	Sink Sink
}

func (h Handle) String() string { return fmt.Sprintf("Handle{name: %s}", h.Name) }

// Factory builds sinks of one kind.
type Factory interface {
	Kind() string

	// ValidateSpec checks parameters without doing I/O.
	ValidateSpec(spec Spec) error

	// Build creates the sink. Failures are errors.ConfigError or
	// errors.StartupError.
	Build(ctx context.Context, spec Spec, bctx BuildCtx) (Handle, error)
}

// WrapOptions selects the decorators Wrap applies.
type WrapOptions struct {
	Batch   *BatchConfig
	Retry   *retry.Config
	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// Wrap decorates a freshly built sink, innermost first: Retrying, the
// build context rate limit, Batcher, Instrumented and finally Guard. The
// batcher therefore only sees errors that survived retries, and Guard
// owns the stop contract for the whole chain.
func Wrap(name string, s Sink, bctx BuildCtx, opts WrapOptions) *Guard {
	if opts.Retry != nil {
		s = NewRetrying(name, s, *opts.Retry, opts.Logger)
	}
	s = NewRateLimited(s, bctx.RateLimitRPS)
	if opts.Batch != nil {
		s = NewBatcher(name, s, *opts.Batch, opts.Logger)
	}
	s = NewInstrumented(name, s, opts.Metrics)
	return NewGuard(name, s, opts.Logger)
}

// Common parameters read by WrapOptionsFromParams.
const (
	ParamBatchSize     = "batch_size"
	ParamBatchInterval = "batch_interval"
	ParamRetryAttempts = "retry_attempts"
	ParamRetryDelay    = "retry_delay"
)

// WrapOptionsFromParams builds WrapOptions from the common sink parameters.
// batch_size 0 disables batching and retry_attempts below 2 disables
// retries. Metrics and logger come from deps.
func WrapOptionsFromParams(params connector.ParamMap, deps connector.Dependencies) (WrapOptions, error) {
	opts := WrapOptions{Metrics: deps.Metrics(), Logger: deps.GetLogger()}

	def := DefaultBatchConfig()
	size, err := params.Int(ParamBatchSize, int64(def.Size))
	if err != nil {
		return opts, err
	}
	interval, err := params.Duration(ParamBatchInterval, def.Interval)
	if err != nil {
		return opts, err
	}
	if size > 0 {
		opts.Batch = &BatchConfig{Size: int(size), Interval: interval}
	}

	attempts, err := params.Int(ParamRetryAttempts, 3)
	if err != nil {
		return opts, err
	}
	delay, err := params.Duration(ParamRetryDelay, 100*time.Millisecond)
	if err != nil {
		return opts, err
	}
	if attempts > 1 {
		cfg := retry.DefaultConfig()
		cfg.MaxAttempts = int(attempts)
		cfg.InitialDelay = delay
		cfg.MaxDelay = max(cfg.MaxDelay, delay)
		opts.Retry = &cfg
	}
	return opts, nil
}
