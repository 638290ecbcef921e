package nats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// SubjectConfig configures a core NATS subscription source.
type SubjectConfig struct {
	Subject string

	// Queue joins a queue group so replicas share the subject.
	Queue string

	BatchSize  int
	BufferSize int
}

// DefaultSubjectConfig returns the defaults for subject.
func DefaultSubjectConfig(subject string) SubjectConfig {
	return SubjectConfig{Subject: subject, BatchSize: 128, BufferSize: 1024}
}

// Validate checks the configuration.
func (c SubjectConfig) Validate() error {
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SubjectConfig", "Validate", "subject is required")
	}
	if c.BatchSize <= 0 || c.BufferSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SubjectConfig", "Validate",
			"batch_size and buffer_size must be positive")
	}
	return nil
}

// SubjectSource delivers messages from a core NATS subscription. Core NATS
// is at-most-once, so the source has no ack or seek. A full buffer blocks
// the subscription callback and the client reports a slow consumer.
type SubjectSource struct {
	*source.Base

	client *natsclient.Client
	cfg    SubjectConfig
	tags   model.SharedTags

	msgs chan *nats.Msg

	mu  sync.Mutex
	sub *nats.Subscription
}

var (
	_ source.Source      = (*SubjectSource)(nil)
	_ source.TryReceiver = (*SubjectSource)(nil)
)

// NewSubjectSource creates an unstarted source on client.
func NewSubjectSource(id string, client *natsclient.Client, cfg SubjectConfig, logger *slog.Logger) (*SubjectSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "SubjectSource", "New", "NATS client required")
	}
	return &SubjectSource{
		Base:   source.NewBase(id, logger),
		client: client,
		cfg:    cfg,
		msgs:   make(chan *nats.Msg, cfg.BufferSize),
	}, nil
}

// WithTags attaches tags to every event.
func (s *SubjectSource) WithTags(tags model.SharedTags) *SubjectSource {
	s.tags = tags
	return s
}

func (s *SubjectSource) Caps() source.Caps {
	return source.Caps{Parallel: s.cfg.Queue != ""}
}

func (s *SubjectSource) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	sub, err := s.client.Subscribe(ctx, s.cfg.Subject, s.cfg.Queue, s.handle)
	if err != nil {
		return errors.Disconnected("subscribe "+s.cfg.Subject, err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	s.OnClose(s.unsubscribe)

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("NATS source subscribed",
		"component", s.Identifier(),
		"subject", s.cfg.Subject,
		"queue", s.cfg.Queue)
	return nil
}

func (s *SubjectSource) handle(_ context.Context, msg *nats.Msg) {
	select {
	case s.msgs <- msg:
	case <-s.Done():
	}
}

func (s *SubjectSource) unsubscribe() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil || !sub.IsValid() {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return errors.WrapTransient(err, "SubjectSource", "Close", "unsubscribe "+s.cfg.Subject)
	}
	return nil
}

func (s *SubjectSource) Receive(ctx context.Context) (source.Batch, error) {
	if err := s.Gate(ctx); err != nil {
		return nil, err
	}
	select {
	case msg := <-s.msgs:
		return s.drain(msg), nil
	case <-s.Done():
		return nil, errors.EOF()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain turns first plus whatever is already buffered into a batch.
func (s *SubjectSource) drain(first *nats.Msg) source.Batch {
	batch := make(source.Batch, 0, s.cfg.BatchSize)
	batch = append(batch, s.event(first))
	for len(batch) < s.cfg.BatchSize {
		select {
		case msg := <-s.msgs:
			batch = append(batch, s.event(msg))
		default:
			return batch
		}
	}
	return batch
}

func (s *SubjectSource) event(msg *nats.Msg) source.Event {
	return source.NewEvent(s.NextID(), s.Identifier(), source.BytesPayload(msg.Data)).WithTags(s.tags)
}

func (s *SubjectSource) SupportsTryReceive() bool { return true }

func (s *SubjectSource) CanTryReceive() bool {
	if s.Stopped() {
		return false
	}
	st := s.State()
	return st == source.StateStarted || st == source.StateRunning
}

func (s *SubjectSource) TryReceive() (source.Batch, bool) {
	if !s.CanTryReceive() {
		return nil, false
	}
	select {
	case msg := <-s.msgs:
		return s.drain(msg), true
	default:
		return nil, false
	}
}
