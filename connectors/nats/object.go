package nats

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// ObjectKind is the kind served by the object store sink.
const ObjectKind = "nats-object"

// ObjectConfig configures an object store sink.
type ObjectConfig struct {
	Bucket string
	// Prefix starts every object name; names are "<prefix>/<unix nanos>"
	// zero padded, strictly increasing per sink.
	Prefix string
	Format model.TextFmt

	// TTL and MaxBytes apply when the bucket is created.
	TTL      time.Duration
	MaxBytes int64
}

// Validate checks the configuration.
func (c ObjectConfig) Validate() error {
	if c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ObjectConfig", "Validate", "bucket is required")
	}
	if c.Prefix == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ObjectConfig", "Validate", "prefix is required")
	}
	if c.TTL < 0 || c.MaxBytes < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: ttl and max_bytes must not be negative", errors.ErrInvalidConfig),
			"ObjectConfig", "Validate", "check limits")
	}
	return nil
}

func (c ObjectConfig) storeConfig() jetstream.ObjectStoreConfig {
	cfg := jetstream.ObjectStoreConfig{
		Bucket:      c.Bucket,
		Description: "wpipe sink output",
		TTL:         c.TTL,
	}
	if c.MaxBytes > 0 {
		cfg.MaxBytes = c.MaxBytes
	}
	return cfg
}

// ObjectSink stores every write as one immutable object. A batch becomes a
// newline-terminated object holding its items in order, so a bucket listing
// sorted by name replays the stream.
type ObjectSink struct {
	name   string
	cfg    ObjectConfig
	client *natsclient.Client
	store  jetstream.ObjectStore
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	last    int64
	stopped bool
}

var _ sink.Sink = (*ObjectSink)(nil)

// NewObjectSink creates the bucket when missing and returns the sink.
func NewObjectSink(ctx context.Context, name string, client *natsclient.Client, cfg ObjectConfig, logger *slog.Logger) (*ObjectSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "ObjectSink", "New", "NATS client required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	store, err := client.CreateObjectStore(ctx, cfg.storeConfig())
	if err != nil {
		return nil, errors.SinkUnavailable("open bucket "+cfg.Bucket, err)
	}
	logger.Debug("Object sink ready", "sink", name, "bucket", cfg.Bucket, "prefix", cfg.Prefix)
	return &ObjectSink{name: name, cfg: cfg, client: client, store: store, logger: logger, now: time.Now}, nil
}

func (s *ObjectSink) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Reconnect waits for the shared client to be connected again.
func (s *ObjectSink) Reconnect(ctx context.Context) error {
	if err := s.client.WaitForConnection(ctx); err != nil {
		return errors.SinkUnavailable("wait for NATS connection", err)
	}
	return nil
}

func (s *ObjectSink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *ObjectSink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	items := make([][]byte, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		items[i] = []byte(text)
	}
	return s.put(ctx, items)
}

func (s *ObjectSink) SinkString(ctx context.Context, data string) error {
	return s.put(ctx, [][]byte{[]byte(data)})
}

func (s *ObjectSink) SinkBytes(ctx context.Context, data []byte) error {
	return s.put(ctx, [][]byte{data})
}

func (s *ObjectSink) SinkStrings(ctx context.Context, batch []string) error {
	items := make([][]byte, len(batch))
	for i, data := range batch {
		items[i] = []byte(data)
	}
	return s.put(ctx, items)
}

func (s *ObjectSink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return s.put(ctx, batch)
}

// objectName returns the next object name. Callers hold mu.
func (s *ObjectSink) objectName() string {
	ts := s.now().UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	s.last = ts
	return fmt.Sprintf("%s/%020d", s.cfg.Prefix, ts)
}

func (s *ObjectSink) put(ctx context.Context, items [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if len(items) == 0 {
		return nil
	}

	var body bytes.Buffer
	for _, item := range items {
		body.Write(item)
		if len(item) == 0 || item[len(item)-1] != '\n' {
			body.WriteByte('\n')
		}
	}

	meta := jetstream.ObjectMeta{
		Name: s.objectName(),
		Metadata: map[string]string{
			"sink":  s.name,
			"items": strconv.Itoa(len(items)),
		},
	}
	if _, err := s.store.Put(ctx, meta, &body); err != nil {
		return errors.SinkUnavailable("put "+meta.Name, err)
	}
	return nil
}
