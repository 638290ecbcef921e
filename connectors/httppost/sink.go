package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/retry"
	"github.com/wp-labs/wp-open-api/pkg/tlsutil"
)

// Body framings.
const (
	FramingLines = "lines"
	FramingArray = "array"
)

// Config configures an HTTP POST sink.
type Config struct {
	URL         string
	Headers     map[string]string
	ContentType string
	Format      model.TextFmt
	Framing     string
	Timeout     time.Duration

	// RetryCount is the number of retries after the first attempt.
	RetryCount int

	TLS tlsutil.ClientConfig
}

// DefaultConfig returns the defaults for target.
func DefaultConfig(target string) Config {
	return Config{
		URL:         target,
		Headers:     map[string]string{},
		ContentType: "application/x-ndjson",
		Format:      model.FmtJSON,
		Framing:     FramingLines,
		Timeout:     30 * time.Second,
		RetryCount:  3,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(fmt.Errorf("%w: scheme %q", errors.ErrInvalidConfig, u.Scheme),
			"Config", "Validate", "check url scheme")
	}
	if c.Framing != FramingLines && c.Framing != FramingArray {
		return errors.WrapInvalid(fmt.Errorf("%w: framing %q", errors.ErrInvalidConfig, c.Framing),
			"Config", "Validate", "check framing")
	}
	if c.Timeout <= 0 || c.Timeout > 5*time.Minute {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"timeout must be between 0 and 5m")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"retry_count must be between 0 and 10")
	}
	return nil
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("HTTP %d", e.code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

type payload struct {
	data []byte
	json bool
}

// Sink posts batches to one endpoint.
type Sink struct {
	name   string
	cfg    Config
	client *http.Client
	retry  retry.Config
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool

	requests atomic.Int64
	retries  atomic.Int64
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates a sink. TLS settings are loaded immediately so bad files
// fail at build time.
func NewSink(name string, cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS.Enabled() {
		tc, err := cfg.TLS.Load()
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}

	s := &Sink{
		name:   name,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger: logger,
	}
	s.retry = retry.Config{
		MaxAttempts:  cfg.RetryCount + 1,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
		BeforeRetry: func(_ context.Context, attempt int, err error) error {
			s.retries.Add(1)
			s.logger.Debug("HTTP POST retry", "sink", s.name, "attempt", attempt, "error", err)
			return nil
		},
	}
	return s, nil
}

// Requests returns the number of successful requests.
func (s *Sink) Requests() int64 { return s.requests.Load() }

// Retries returns the number of retried attempts.
func (s *Sink) Retries() int64 { return s.retries.Load() }

func (s *Sink) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.client.CloseIdleConnections()
	return nil
}

// Reconnect drops pooled connections so the next request dials again.
func (s *Sink) Reconnect(_ context.Context) error {
	if s.isStopped() {
		return errors.SinkStopped(s.name)
	}
	s.client.CloseIdleConnections()
	return nil
}

func (s *Sink) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Sink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *Sink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	batch := make([]payload, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		batch[i] = payload{data: []byte(text), json: s.cfg.Format == model.FmtJSON}
	}
	return s.post(ctx, batch)
}

func (s *Sink) SinkString(ctx context.Context, data string) error {
	return s.SinkStrings(ctx, []string{data})
}

func (s *Sink) SinkBytes(ctx context.Context, data []byte) error {
	return s.post(ctx, []payload{{data: data}})
}

func (s *Sink) SinkStrings(ctx context.Context, batch []string) error {
	out := make([]payload, len(batch))
	for i, data := range batch {
		out[i] = payload{data: []byte(data)}
	}
	return s.post(ctx, out)
}

func (s *Sink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	out := make([]payload, len(batch))
	for i, data := range batch {
		out[i] = payload{data: data}
	}
	return s.post(ctx, out)
}

func (s *Sink) encode(batch []payload) ([]byte, error) {
	var buf bytes.Buffer
	if s.cfg.Framing == FramingLines {
		for _, p := range batch {
			buf.Write(bytes.TrimRight(p.data, "\n"))
			buf.WriteByte('\n')
		}
		return buf.Bytes(), nil
	}

	buf.WriteByte('[')
	for i, p := range batch {
		if i > 0 {
			buf.WriteByte(',')
		}
		if p.json {
			buf.Write(p.data)
			continue
		}
		quoted, err := json.Marshal(string(p.data))
		if err != nil {
			return nil, err
		}
		buf.Write(quoted)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (s *Sink) post(ctx context.Context, batch []payload) error {
	if s.isStopped() {
		return errors.SinkStopped(s.name)
	}
	if len(batch) == 0 {
		return nil
	}
	body, err := s.encode(batch)
	if err != nil {
		return errors.SinkUvs(errors.UvsData, "encode body", err)
	}

	err = retry.Do(ctx, s.retry, func() error {
		err := s.send(ctx, body)
		var se *statusError
		if stderrors.As(err, &se) && !se.retryable() {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err == nil {
		s.requests.Add(1)
		return nil
	}

	var se *statusError
	if stderrors.As(err, &se) && !se.retryable() {
		return errors.SinkUvs(errors.UvsData, "POST "+s.cfg.URL, err)
	}
	return errors.SinkUnavailable("POST "+s.cfg.URL, err)
}

func (s *Sink) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}
	contentType := s.cfg.ContentType
	if s.cfg.Framing == FramingArray && contentType == DefaultConfig("").ContentType {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
}
