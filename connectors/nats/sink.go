package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// PublishConfig configures a NATS publish sink.
type PublishConfig struct {
	Subject string
	Format  model.TextFmt

	// JetStream publishes through the stream API and waits for the
	// storage acknowledgement of every message.
	JetStream bool
}

// Validate checks the configuration.
func (c PublishConfig) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "PublishConfig", "Validate", "subject is required")
	}
	return nil
}

// PublishSink publishes every write as one NATS message. Batches are
// published in order and flushed before the call returns.
type PublishSink struct {
	name   string
	client *natsclient.Client
	cfg    PublishConfig
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
}

var _ sink.Sink = (*PublishSink)(nil)

// NewPublishSink creates a sink on client.
func NewPublishSink(name string, client *natsclient.Client, cfg PublishConfig, logger *slog.Logger) (*PublishSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "PublishSink", "New", "NATS client required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishSink{name: name, client: client, cfg: cfg, logger: logger}, nil
}

func (s *PublishSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.cfg.JetStream {
		return nil
	}
	if err := s.client.Flush(ctx); err != nil && !errors.IsTransient(err) {
		return errors.StgCtrl("flush "+s.cfg.Subject, err)
	}
	return nil
}

// Reconnect waits for the shared client to be connected again.
func (s *PublishSink) Reconnect(ctx context.Context) error {
	if err := s.client.WaitForConnection(ctx); err != nil {
		return errors.SinkUnavailable("wait for NATS connection", err)
	}
	return nil
}

func (s *PublishSink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *PublishSink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	payloads := make([][]byte, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		payloads[i] = []byte(text)
	}
	return s.publish(ctx, payloads)
}

func (s *PublishSink) SinkString(ctx context.Context, data string) error {
	return s.publish(ctx, [][]byte{[]byte(data)})
}

func (s *PublishSink) SinkBytes(ctx context.Context, data []byte) error {
	return s.publish(ctx, [][]byte{data})
}

func (s *PublishSink) SinkStrings(ctx context.Context, batch []string) error {
	payloads := make([][]byte, len(batch))
	for i, data := range batch {
		payloads[i] = []byte(data)
	}
	return s.publish(ctx, payloads)
}

func (s *PublishSink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return s.publish(ctx, batch)
}

func (s *PublishSink) publish(ctx context.Context, payloads [][]byte) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return errors.SinkStopped(s.name)
	}

	for _, data := range payloads {
		var err error
		if s.cfg.JetStream {
			_, err = s.client.PublishToStream(ctx, s.cfg.Subject, data)
		} else {
			err = s.client.Publish(ctx, s.cfg.Subject, data)
		}
		if err != nil {
			return s.classify(err)
		}
	}
	if s.cfg.JetStream {
		return nil
	}
	if err := s.client.Flush(ctx); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *PublishSink) classify(err error) error {
	if errors.IsTransient(err) {
		return errors.SinkUnavailable("publish "+s.cfg.Subject, err)
	}
	return errors.SinkUvs(errors.UvsExternal, "publish "+s.cfg.Subject, err)
}
