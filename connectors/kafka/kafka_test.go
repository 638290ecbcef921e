package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

func TestSourceConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SourceConfig)
		ok     bool
	}{
		{"defaults", func(*SourceConfig) {}, true},
		{"latest", func(c *SourceConfig) { c.Reset = "latest" }, true},
		{"no brokers", func(c *SourceConfig) { c.Brokers = "" }, false},
		{"no topic", func(c *SourceConfig) { c.Topic = "" }, false},
		{"no group", func(c *SourceConfig) { c.Group = "" }, false},
		{"negative partition", func(c *SourceConfig) { c.Partition = -1 }, false},
		{"bad reset", func(c *SourceConfig) { c.Reset = "middle" }, false},
		{"zero batch", func(c *SourceConfig) { c.BatchSize = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSourceConfig("localhost:9092", "orders", "wpipe")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsInvalid(err), "got %v", err)
			}
		})
	}
}

func TestSourceConfigs(t *testing.T) {
	spec := source.Spec{
		Name: "orders",
		Kind: Kind,
		Params: connector.ParamMap{
			"brokers":    "localhost:9092",
			"topic":      "orders",
			"partitions": []any{0, 2},
			"reset":      "latest",
		},
	}

	cfgs, err := sourceConfigs(spec)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	assert.Equal(t, int32(0), cfgs[0].Partition)
	assert.Equal(t, int32(2), cfgs[1].Partition)
	assert.Equal(t, "orders", cfgs[0].Group, "group defaults to the source name")
	assert.Equal(t, "latest", cfgs[1].Reset)

	single := spec
	single.Params = connector.ParamMap{"brokers": "b:1", "topic": "t", "group": "g"}
	cfgs, err = sourceConfigs(single)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, int32(0), cfgs[0].Partition)
	assert.Equal(t, "g", cfgs[0].Group)

	for name, params := range map[string]connector.ParamMap{
		"no topic":        {"brokers": "b:1"},
		"dup partition":   {"brokers": "b:1", "topic": "t", "partitions": []any{1, 1}},
		"empty partition": {"brokers": "b:1", "topic": "t", "partitions": []any{}},
		"bad partition":   {"brokers": "b:1", "topic": "t", "partitions": []any{"x"}},
	} {
		t.Run(name, func(t *testing.T) {
			bad := spec
			bad.Params = params
			_, err := sourceConfigs(bad)
			assert.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSourceFactory_OneSourcePerPartition(t *testing.T) {
	f := NewSourceFactory(connector.Dependencies{})
	assert.Equal(t, Kind, f.Kind())

	inst, err := f.Build(context.Background(), source.Spec{
		Name: "orders",
		Kind: Kind,
		Params: connector.ParamMap{
			"brokers":    "localhost:9092",
			"topic":      "orders",
			"partitions": []any{0, 1, 2},
		},
		Tags: []string{"team:core"},
	}, source.BuildCtx{})
	require.NoError(t, err)
	require.Len(t, inst.Sources, 3)

	var names []string
	for _, h := range inst.Sources {
		names = append(names, h.Meta.Name)
		assert.Equal(t, Kind, h.Meta.Kind)
		assert.Equal(t, source.Caps{Ack: true, Seek: true}, h.Source.Caps())
	}
	assert.Equal(t, []string{"orders-p0", "orders-p1", "orders-p2"}, names)

	_, err = f.Build(context.Background(), source.Spec{Name: "x", Kind: Kind}, source.BuildCtx{})
	assert.True(t, errors.IsConfigError(err))
}

func TestSource_AckAndSeekRequireStart(t *testing.T) {
	src, err := NewSource("orders", DefaultSourceConfig("localhost:9092", "orders", "g"), nil)
	require.NoError(t, err)
	ctx := context.Background()

	err = src.Ack(ctx, source.Offset(3))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))

	err = src.Seek(ctx, source.Offset(-1))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "negative offsets are rejected before the consumer is touched")
}

func TestSource_CommitDeliveredDropsReplays(t *testing.T) {
	src, err := NewSource("orders", DefaultSourceConfig("localhost:9092", "orders", "g"), nil)
	require.NoError(t, err)

	batch := source.Batch{
		source.NewEvent(4, "orders", source.TextPayload("a")),
		source.NewEvent(5, "orders", source.TextPayload("b")),
	}
	assert.Len(t, src.commitDelivered(batch), 2)

	again := source.Batch{
		source.NewEvent(5, "orders", source.TextPayload("b")),
		source.NewEvent(6, "orders", source.TextPayload("c")),
	}
	out := src.commitDelivered(again)
	require.Len(t, out, 1)
	assert.EqualValues(t, 6, out[0].ID)
}

func TestSinkConfig(t *testing.T) {
	cfg, err := sinkConfig(sink.Spec{
		Group: "out",
		Name:  "kafka",
		Kind:  Kind,
		Params: connector.ParamMap{
			"brokers":   "localhost:9092",
			"topic":     "events",
			"format":    "kv",
			"key_field": "user",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.FmtKV, cfg.Format)
	assert.Equal(t, "user", cfg.KeyField)

	_, err = sinkConfig(sink.Spec{Group: "out", Name: "kafka", Kind: Kind,
		Params: connector.ParamMap{"brokers": "localhost:9092"}})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	f := NewSinkFactory(connector.Dependencies{})
	assert.NoError(t, f.ValidateSpec(sink.Spec{Group: "out", Name: "k", Kind: Kind,
		Params: connector.ParamMap{"brokers": "b:1", "topic": "t"}}))
	_, err = f.Build(context.Background(), sink.Spec{Group: "out", Name: "k", Kind: Kind},
		sink.NewBuildCtx(t.TempDir()))
	assert.True(t, errors.IsConfigError(err))
}

func TestSink_StopIsIdempotent(t *testing.T) {
	ks, err := NewSink("out/k", SinkConfig{Brokers: "localhost:1", Topic: "t", Format: model.FmtJSON}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ks.Stop(ctx))
	require.NoError(t, ks.Stop(ctx))
	assert.ErrorIs(t, ks.SinkString(ctx, "late"), errors.ErrClosed)
	assert.ErrorIs(t, ks.Reconnect(ctx), errors.ErrClosed)
	assert.NoError(t, ks.SinkStrings(ctx, nil), "empty batches never reach the producer")
}
