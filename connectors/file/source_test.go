package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/connector/source/sourcetest"
	"github.com/wp-labs/wp-open-api/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newTestSource(t *testing.T, content string, mutate func(*SourceConfig)) (*Source, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "input.log")
	writeFile(t, path, content)

	cfg := DefaultSourceConfig(path)
	cfg.CursorPath = filepath.Join(dir, "input.cursor")
	cfg.PollInterval = 50 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	src, err := NewSource("file-in", cfg, nil)
	require.NoError(t, err)
	return src, path
}

func texts(batch source.Batch) []string {
	out := make([]string, len(batch))
	for i, ev := range batch {
		out[i] = ev.Payload.Text()
	}
	return out
}

func TestSource_Conformance(t *testing.T) {
	sourcetest.StandardSourceTests(t, func(t *testing.T, idle bool) source.Source {
		if idle {
			src, _ := newTestSource(t, "", func(c *SourceConfig) { c.Tail = true })
			return src
		}
		src, _ := newTestSource(t, "one\ntwo\n", nil)
		return src
	})
}

func TestSource_ReadsLinesThenEOF(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t, "alpha\n\nbeta\r\ngamma", func(c *SourceConfig) { c.BatchSize = 2 })
	require.NoError(t, src.Start(ctx, nil))
	defer src.Close(ctx)

	first, err := src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, texts(first))
	assert.Equal(t, uint64(6), first[0].ID, "id is the offset past the line")
	assert.Equal(t, uint64(13), first[1].ID)

	second, err := src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, texts(second), "unterminated last line is delivered")
	assert.Equal(t, uint64(18), second[0].ID)

	_, err = src.Receive(ctx)
	assert.True(t, errors.IsEOF(err))
}

func TestSource_AckResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	src, path := newTestSource(t, "a\nb\nc\n", func(c *SourceConfig) { c.BatchSize = 1 })
	assert.True(t, src.Caps().Ack)
	require.NoError(t, src.Start(ctx, nil))

	batch, err := src.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Ack(ctx, source.Offset(batch[0].ID)))

	err = src.Ack(ctx, source.Offset(100))
	assert.True(t, errors.IsFatal(err), "ack beyond read offset is a logic error")
	require.NoError(t, src.Close(ctx))

	cfg := src.cfg
	again, err := NewSource("file-in", cfg, nil)
	require.NoError(t, err)
	require.NoError(t, again.Start(ctx, nil))
	defer again.Close(ctx)

	batch, err = again.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, texts(batch))

	data, err := os.ReadFile(cfg.CursorPath)
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(data))
	assert.FileExists(t, path)
}

func TestSource_SeekViaControl(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t, "a\nb\nc\n", nil)
	b := source.NewBroadcaster(1)
	defer b.Close()
	require.NoError(t, src.Start(ctx, b.Subscribe()))
	defer src.Close(ctx)

	batch, err := src.Receive(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.NoError(t, b.Publish(ctx, source.Seek{Position: source.Offset(2)}))
	require.Eventually(t, func() bool { return src.Offset() == 2 }, time.Second, 5*time.Millisecond)

	batch, err = src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, texts(batch))
}

func TestSource_SeekRejectsForeignPositions(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t, "a\n", nil)
	require.NoError(t, src.Start(ctx, nil))
	defer src.Close(ctx)

	assert.True(t, errors.IsInvalid(src.Seek(ctx, source.Offset(-1))))
	assert.True(t, errors.IsInvalid(src.Ack(ctx, stringPos("x"))))
}

type stringPos string

func (p stringPos) String() string { return string(p) }

func TestSource_WithoutCursorCannotAck(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestSource(t, "a\n", func(c *SourceConfig) { c.CursorPath = "" })
	assert.False(t, src.Caps().Ack)
	require.NoError(t, src.Start(ctx, nil))
	defer src.Close(ctx)
	assert.True(t, errors.IsUnsupported(src.Ack(ctx, source.Offset(1))))
}

func TestSource_TailPicksUpAppends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, path := newTestSource(t, "first\npart", func(c *SourceConfig) { c.Tail = true })
	require.NoError(t, src.Start(ctx, nil))
	defer src.Close(ctx)

	batch, err := src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, texts(batch), "partial line waits for its newline")

	go func() {
		time.Sleep(30 * time.Millisecond)
		appendFile(t, path, "ial\nnext\n")
	}()

	batch, err = src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial", "next"}, texts(batch))
}

func TestSource_TailRestartsAfterTruncate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src, path := newTestSource(t, "long line one\n", func(c *SourceConfig) { c.Tail = true })
	require.NoError(t, src.Start(ctx, nil))
	defer src.Close(ctx)

	_, err := src.Receive(ctx)
	require.NoError(t, err)

	writeFile(t, path, "new\n")
	batch, err := src.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, texts(batch))
}

func TestSource_MissingFile(t *testing.T) {
	cfg := DefaultSourceConfig(filepath.Join(t.TempDir(), "absent.log"))
	src, err := NewSource("missing", cfg, nil)
	require.NoError(t, err)
	err = src.Start(context.Background(), nil)
	assert.True(t, errors.IsTransient(err))
}

func TestCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "c.pos")
	c, err := OpenCursor(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), c.Position())

	require.NoError(t, c.Advance(10))
	require.NoError(t, c.Advance(5))
	assert.Equal(t, int64(10), c.Position(), "advance never moves back")

	require.NoError(t, c.Reset(3))
	reopened, err := OpenCursor(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), reopened.Position())

	writeFile(t, path, "garbage")
	_, err = OpenCursor(path)
	assert.True(t, errors.IsInvalid(err))
}
