package httppost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wp-labs/wp-open-api/connector"
	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/connector/sink/sinktest"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// recorder is an endpoint that stores every request body.
type recorder struct {
	mu      sync.Mutex
	bodies  []string
	headers []http.Header
	status  []int // served in order, then 204
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.status) > 0 {
		code := r.status[0]
		r.status = r.status[1:]
		if code >= 300 {
			http.Error(w, "nope", code)
			return
		}
	}
	r.bodies = append(r.bodies, string(body))
	r.headers = append(r.headers, req.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (r *recorder) snapshot() ([]string, []http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.bodies...), append([]http.Header(nil), r.headers...)
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, b := range r.bodies {
		out = append(out, strings.Split(strings.TrimSuffix(b, "\n"), "\n")...)
	}
	return out
}

func newServer(t *testing.T, status ...int) (*recorder, *httptest.Server) {
	t.Helper()
	rec := &recorder{status: status}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	return rec, srv
}

func newTestSink(t *testing.T, target string, mutate func(*Config)) *Sink {
	t.Helper()
	cfg := DefaultConfig(target)
	cfg.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSink("http-out", cfg, nil)
	require.NoError(t, err)
	s.retry.InitialDelay = time.Millisecond
	s.retry.AddJitter = false
	return s
}

func TestSink_Conformance(t *testing.T) {
	sinktest.StandardSinkTests(t, func(t *testing.T) sinktest.Harness {
		rec, srv := newServer(t)
		s := newTestSink(t, srv.URL, func(c *Config) { c.Format = model.FmtKV })
		return sinktest.Harness{
			Sink: s,
			Written: func(t *testing.T) []string {
				var seqs []string
				for _, line := range rec.lines() {
					if v, ok := sinktest.SeqFromKV(line); ok {
						seqs = append(seqs, v)
					}
				}
				return seqs
			},
		}
	})
}

func TestSink_BatchIsOneRequest(t *testing.T) {
	rec, srv := newServer(t)
	s := newTestSink(t, srv.URL, func(c *Config) {
		c.Headers = map[string]string{"Authorization": "Bearer token"}
	})

	require.NoError(t, s.SinkRecords(context.Background(), sinktest.Records(1, 3)))
	require.NoError(t, s.SinkStrings(context.Background(), nil))

	bodies, headers := rec.snapshot()
	require.Len(t, bodies, 1)
	lines := rec.lines()
	require.Len(t, lines, 3)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "event-1", first["msg"])
	assert.Equal(t, "Bearer token", headers[0].Get("Authorization"))
	assert.Equal(t, "application/x-ndjson", headers[0].Get("Content-Type"))
	assert.Equal(t, int64(1), s.Requests())
}

func TestSink_ArrayFraming(t *testing.T) {
	rec, srv := newServer(t)
	s := newTestSink(t, srv.URL, func(c *Config) { c.Framing = FramingArray })
	ctx := context.Background()

	require.NoError(t, s.SinkRecords(ctx, sinktest.Records(1, 2)))
	require.NoError(t, s.SinkStrings(ctx, []string{`plain "text"`}))

	bodies, headers := rec.snapshot()
	require.Len(t, bodies, 2)
	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "event-2", records[1]["msg"])

	var raw []string
	require.NoError(t, json.Unmarshal([]byte(bodies[1]), &raw))
	assert.Equal(t, []string{`plain "text"`}, raw)
	assert.Equal(t, "application/json", headers[0].Get("Content-Type"))
}

func TestSink_RetriesServerErrors(t *testing.T) {
	rec, srv := newServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	s := newTestSink(t, srv.URL, nil)

	require.NoError(t, s.SinkString(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, rec.lines())
	assert.Equal(t, int64(2), s.Retries())
}

func TestSink_GivesUpAsTransient(t *testing.T) {
	_, srv := newServer(t, 500, 500, 500)
	s := newTestSink(t, srv.URL, func(c *Config) { c.RetryCount = 2 })

	err := s.SinkString(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int64(2), s.Retries())
}

func TestSink_ClientErrorIsNotRetried(t *testing.T) {
	_, srv := newServer(t, http.StatusBadRequest)
	s := newTestSink(t, srv.URL, nil)

	err := s.SinkString(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
	assert.Contains(t, err.Error(), "HTTP 400")
	assert.Zero(t, s.Retries())
}

func TestSink_UnreachableIsTransient(t *testing.T) {
	s := newTestSink(t, "http://127.0.0.1:1/hook", func(c *Config) { c.RetryCount = 0 })
	err := s.SinkString(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.NoError(t, s.Reconnect(context.Background()))
}

func TestSink_CancelledContext(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	s := newTestSink(t, srv.URL, func(c *Config) { c.RetryCount = 10 })
	s.retry.InitialDelay = time.Hour
	s.retry.MaxDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := s.SinkString(ctx, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "cancelled while waiting to retry")
	assert.Equal(t, int32(1), hits.Load())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing url", func(c *Config) { c.URL = "" }, false},
		{"bad scheme", func(c *Config) { c.URL = "ftp://example.com" }, false},
		{"bad framing", func(c *Config) { c.Framing = "csv" }, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, false},
		{"too many retries", func(c *Config) { c.RetryCount = 11 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("https://example.com/hook")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSinkFactory(t *testing.T) {
	f := NewSinkFactory(connector.Dependencies{})
	assert.Equal(t, Kind, f.Kind())

	spec := sink.Spec{
		Group: "alerts",
		Name:  "webhook",
		Kind:  Kind,
		Params: connector.ParamMap{
			"url":             "https://hooks.example.com/x",
			"headers":         map[string]any{"X-Token": "abc"},
			"framing":         "array",
			"timeout":         "2s",
			"retry_count":     1,
			"tls_min_version": "1.3",
		},
	}
	require.NoError(t, f.ValidateSpec(spec))

	cfg, err := sinkConfig(spec)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Token": "abc"}, cfg.Headers)
	assert.Equal(t, FramingArray, cfg.Framing)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.RetryCount)
	assert.Equal(t, "1.3", cfg.TLS.MinVersion)

	h, err := f.Build(context.Background(), spec, sink.NewBuildCtx(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, spec.FullName(), h.Name)
	require.NoError(t, h.Sink.Stop(context.Background()))

	spec.Params = connector.ParamMap{"url": "https://x", "tls_ca_files": []any{"/nonexistent/ca.pem"}}
	_, err = f.Build(context.Background(), spec, sink.NewBuildCtx(""))
	require.Error(t, err)
}
