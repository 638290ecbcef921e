package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/config"
	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/connectors/file"
	"github.com/wp-labs/wp-open-api/connectors/memory"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/health"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry registers memory and file connectors and returns the memory
// sink factory so tests can read what was written.
func testRegistry(t *testing.T) (*registry.Registry, *memory.SinkFactory) {
	t.Helper()
	deps := connector.Dependencies{Logger: discardLogger()}
	reg := registry.New()
	mem := memory.NewSinkFactory(deps)
	require.NoError(t, reg.RegisterSource(memory.NewSourceFactory(deps)))
	require.NoError(t, reg.RegisterSource(file.NewSourceFactory(deps)))
	require.NoError(t, reg.RegisterSink(mem))
	require.NoError(t, reg.RegisterSink(file.NewSinkFactory(deps)))
	require.NoError(t, reg.RegisterAdapter(file.Adapter{}))
	return reg, mem
}

func memoryPipeline(t *testing.T, replicas int, lines ...string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.WorkRoot = t.TempDir()
	items := make([]any, len(lines))
	for i, l := range lines {
		items[i] = l
	}
	cfg.Sources = []config.SourceConfig{{
		Name:     "in",
		Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"lines": items, "batch_size": 2}},
	}}
	cfg.SinkGroups = []config.SinkGroupConfig{
		{
			Name:     "main",
			Replicas: replicas,
			Sinks: []config.SinkConfig{
				{Name: "a", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_size": 0}}},
				{Name: "b", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_size": 0}}},
			},
		},
		{
			Name:  "audit",
			Sinks: []config.SinkConfig{{Name: "all", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_size": 0}}}},
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func memLines(t *testing.T, f *memory.SinkFactory, name string) []string {
	t.Helper()
	s, ok := f.Sink(name)
	require.True(t, ok, "sink %s not built", name)
	lines, err := s.Lines(model.FmtRaw)
	require.NoError(t, err)
	return lines
}

func runToEnd(t *testing.T, p *pump) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.run(ctx))
	require.NoError(t, p.stop(ctx))
}

func TestPump_DeliversToEveryGroup(t *testing.T) {
	reg, mem := testRegistry(t)
	cfg := memoryPipeline(t, 1, "l1", "l2", "l3", "l4", "l5")

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	require.Len(t, p.sources, 1)
	require.Len(t, p.groups, 2)

	runToEnd(t, p)

	want := []string{"l1", "l2", "l3", "l4", "l5"}
	assert.Equal(t, want, memLines(t, mem, "main/a"))
	assert.Equal(t, want, memLines(t, mem, "main/b"))
	assert.Equal(t, want, memLines(t, mem, "audit/all"))
	assert.Equal(t, int64(5), p.delivered.Load())

	s, _ := mem.Sink("main/a")
	assert.Equal(t, 1, s.Stops(), "sinks stopped once")
}

func TestPump_ReportsHealth(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := memoryPipeline(t, 1, "l1", "l2", "l3")

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	p.health = health.NewMonitor()
	runToEnd(t, p)

	assert.Equal(t, []string{"sink/audit", "sink/main", "source/in"}, p.health.Components())
	src, ok := p.health.Get("source/in")
	require.True(t, ok)
	assert.Equal(t, "finished", src.Message)
	assert.Equal(t, int64(3), src.Activity.Events)

	grp, _ := p.health.Get("sink/main")
	assert.True(t, grp.IsHealthy())
	assert.Equal(t, int64(3), grp.Activity.Events)
}

func TestPump_ReplicasShareTheStream(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := memoryPipeline(t, 2, "l1", "l2", "l3", "l4", "l5", "l6")

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	require.Len(t, p.groups[0].replicas, 2)

	// memory sinks are keyed by full name, so the second replica's sinks
	// replace the first's in the factory; count through a wrapper instead.
	counters := make([]*countingSink, len(p.groups[0].replicas))
	for i, r := range p.groups[0].replicas {
		counters[i] = &countingSink{Sink: r}
		p.groups[0].replicas[i] = counters[i]
	}

	runToEnd(t, p)

	// batch_size 2: three batches alternate between the replicas.
	assert.Equal(t, 4, counters[0].items)
	assert.Equal(t, 2, counters[1].items)
}

type countingSink struct {
	sink.Sink
	items int
}

func (c *countingSink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	c.items += len(batch)
	return c.Sink.SinkBytesBatch(ctx, batch)
}

func TestPump_FileSourceResumesFromCursor(t *testing.T) {
	reg, mem := testRegistry(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.log")
	require.NoError(t, os.WriteFile(input, []byte("a\nb\nc\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.WorkRoot = filepath.Join(dir, "work")
	cfg.Sources = []config.SourceConfig{{Name: "log", Endpoint: config.Endpoint{URL: "file://" + input}}}
	cfg.SinkGroups = []config.SinkGroupConfig{{
		Name:  "main",
		Sinks: []config.SinkConfig{{Name: "out", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_size": 0}}}},
	}}
	require.NoError(t, cfg.Validate())

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	runToEnd(t, p)
	assert.Equal(t, []string{"a", "b", "c"}, memLines(t, mem, "main/out"))

	f, err := os.OpenFile(input, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("d\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p, err = buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	runToEnd(t, p)
	assert.Equal(t, []string{"d"}, memLines(t, mem, "main/out"), "acked lines are not delivered again")
}

func TestPump_AckedDataIsNotLeftInBatches(t *testing.T) {
	reg, mem := testRegistry(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.log")
	require.NoError(t, os.WriteFile(input, []byte("a\nb\nc\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.WorkRoot = filepath.Join(dir, "work")
	cfg.Sources = []config.SourceConfig{{Name: "log", Endpoint: config.Endpoint{URL: "file://" + input}}}
	cfg.SinkGroups = []config.SinkGroupConfig{{
		Name: "main",
		// default batch_size with an interval that never fires in the test
		Sinks: []config.SinkConfig{{Name: "out", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_interval": "1h"}}}},
	}}
	require.NoError(t, cfg.Validate())

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.run(ctx))

	// Nothing is stopped yet: a crash here must not lose acked lines.
	cursor, err := file.OpenCursor(filepath.Join(cfg.WorkRoot, "sources", "log", ".cursors", "log.pos"))
	require.NoError(t, err)
	assert.Equal(t, int64(6), cursor.Position())
	assert.Equal(t, []string{"a", "b", "c"}, memLines(t, mem, "main/out"))

	require.NoError(t, p.stop(ctx))
	assert.Equal(t, []string{"a", "b", "c"}, memLines(t, mem, "main/out"))
}

func TestPump_FlushFailureSkipsAck(t *testing.T) {
	reg, mem := testRegistry(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.log")
	require.NoError(t, os.WriteFile(input, []byte("a\nb\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.WorkRoot = filepath.Join(dir, "work")
	cfg.Sources = []config.SourceConfig{{Name: "log", Endpoint: config.Endpoint{URL: "file://" + input}}}
	cfg.SinkGroups = []config.SinkGroupConfig{{
		Name:  "main",
		Sinks: []config.SinkConfig{{Name: "out", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_interval": "1h"}}}},
	}}
	require.NoError(t, cfg.Validate())

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	p.groups[0].replicas[0] = &unflushableSink{Sink: p.groups[0].replicas[0]}

	err = p.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush sink group main")

	cursor, err := file.OpenCursor(filepath.Join(cfg.WorkRoot, "sources", "log", ".cursors", "log.pos"))
	require.NoError(t, err)
	assert.Zero(t, cursor.Position(), "unflushed lines are not acknowledged")

	require.NoError(t, p.stop(context.Background()))
	assert.Equal(t, []string{"a", "b"}, memLines(t, mem, "main/out"), "stop still writes the buffer")
}

type unflushableSink struct{ sink.Sink }

func (u *unflushableSink) Flush(context.Context) error {
	return errors.SinkUnavailable("flush", fmt.Errorf("down"))
}

func TestPump_StopEventEndsSources(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := memoryPipeline(t, 1)
	cfg.Sources[0].Params["close_input"] = false

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()

	require.Eventually(t, func() bool { return p.ctrl.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p.ctrl.Publish(ctx, source.Stop{}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("pump did not stop")
	}
	require.NoError(t, p.stop(ctx))
}

func TestPump_CancelStops(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := memoryPipeline(t, 1)
	cfg.Sources[0].Params["close_input"] = false

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.run(ctx) }()
	require.Eventually(t, func() bool { return p.ctrl.Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not stop")
	}
	require.NoError(t, p.stop(context.Background()))
}

func TestPump_SinkFailureStopsRun(t *testing.T) {
	reg, _ := testRegistry(t)
	cfg := memoryPipeline(t, 1, "l1", "l2")

	p, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.NoError(t, err)
	p.groups[0].replicas[0] = &failingSink{Sink: p.groups[0].replicas[0]}
	p.health = health.NewMonitor()

	err = p.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink group main")
	assert.True(t, errors.IsTransient(err))

	st, ok := p.health.Get("sink/main")
	require.True(t, ok)
	assert.True(t, st.IsUnhealthy())
	assert.True(t, p.health.AggregateHealth(appName).IsUnhealthy())
	require.NoError(t, p.stop(context.Background()))
}

type failingSink struct{ sink.Sink }

func (f *failingSink) SinkBytesBatch(context.Context, [][]byte) error {
	return errors.SinkUnavailable("write", fmt.Errorf("down"))
}

func TestBuildPipeline_Errors(t *testing.T) {
	reg, _ := testRegistry(t)

	t.Run("unknown sink kind", func(t *testing.T) {
		cfg := memoryPipeline(t, 1, "x")
		cfg.SinkGroups[1].Sinks[0].Kind = "nope"
		_, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.IsUnsupported(err))
	})

	t.Run("bad source params", func(t *testing.T) {
		cfg := memoryPipeline(t, 1, "x")
		cfg.Sources[0].Params["batch_size"] = "many"
		_, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
		require.Error(t, err)
		assert.True(t, errors.IsConfigError(err))
	})
}

// countedSources builds memory sources whose Close calls are counted.
type countedSources struct {
	*memory.SourceFactory
	closes atomic.Int32
}

func (f *countedSources) Kind() string { return "counted" }

func (f *countedSources) Build(ctx context.Context, spec source.Spec, bctx source.BuildCtx) (source.Instances, error) {
	ins, err := f.SourceFactory.Build(ctx, spec, bctx)
	for i, h := range ins.Sources {
		ins.Sources[i].Source = &countedClose{Source: h.Source, closes: &f.closes}
	}
	return ins, err
}

type countedClose struct {
	source.Source
	closes *atomic.Int32
}

func (c *countedClose) Close(ctx context.Context) error {
	c.closes.Add(1)
	return c.Source.Close(ctx)
}

func TestBuildPipeline_FailureClosesBuiltSources(t *testing.T) {
	reg, mem := testRegistry(t)
	counted := &countedSources{SourceFactory: memory.NewSourceFactory(connector.Dependencies{Logger: discardLogger()})}
	require.NoError(t, reg.RegisterSource(counted))

	cfg := memoryPipeline(t, 1, "x")
	cfg.Sources = []config.SourceConfig{
		{Name: "first", Endpoint: config.Endpoint{Kind: "counted", Params: map[string]any{"lines": []any{"x"}}}},
		{Name: "second", Endpoint: config.Endpoint{Kind: memory.Kind, Params: map[string]any{"batch_size": "many"}}},
	}

	_, err := buildPipeline(context.Background(), cfg, reg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build source second")
	assert.Equal(t, int32(1), counted.closes.Load(), "the source built before the failure is closed")

	s, ok := mem.Sink("audit/all")
	require.True(t, ok)
	assert.Equal(t, 1, s.Stops(), "sinks are stopped too")
}

func TestValidatePipeline(t *testing.T) {
	reg, _ := testRegistry(t)

	cfg := memoryPipeline(t, 2, "x")
	var out bytes.Buffer
	require.NoError(t, validatePipeline(&out, cfg, reg))
	text := out.String()
	assert.Contains(t, text, "source")
	assert.Contains(t, text, "main/a")
	assert.Contains(t, text, "x2")
	assert.NotContains(t, text, "invalid")

	cfg.SinkGroups[0].Sinks[1].Params["retry_delay"] = "never"
	cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: "f", Endpoint: config.Endpoint{Kind: file.Kind}})
	out.Reset()
	err := validatePipeline(&out, cfg, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink main/b")
	assert.Contains(t, err.Error(), "source f")
	text = out.String()
	assert.Contains(t, text, "invalid: source f:")
	assert.Contains(t, text, "invalid: sink main/b:")
	assert.Equal(t, 3, strings.Count(text, "ok\n"), "in, main/a and audit/all stay valid")
}
