package amqp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// SourceConfig configures a queue consumer.
type SourceConfig struct {
	URL   string
	Queue string

	// Exchange, when set, is declared and the queue bound to it with
	// BindingKey.
	Exchange     string
	ExchangeType string
	BindingKey   string

	// Prefetch bounds unacknowledged deliveries held by the source.
	Prefetch  int
	BatchSize int
}

// DefaultSourceConfig returns the defaults for queue.
func DefaultSourceConfig(url, queue string) SourceConfig {
	return SourceConfig{URL: url, Queue: queue, ExchangeType: "topic", Prefetch: 512, BatchSize: 128}
}

// Validate checks the configuration.
func (c SourceConfig) Validate() error {
	switch {
	case c.URL == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "url is required")
	case c.Queue == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "queue is required")
	case c.BatchSize <= 0 || c.Prefetch <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate",
			"batch_size and prefetch must be positive")
	}
	if _, err := amqp.ParseURI(c.URL); err != nil {
		return errors.WrapInvalid(err, "SourceConfig", "Validate", "parse url")
	}
	return nil
}

// Source consumes one queue.
type Source struct {
	*source.Base

	cfg  SourceConfig
	tags model.SharedTags

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	delivered  uint64
}

var _ source.Source = (*Source)(nil)

// NewSource creates an unconnected source.
func NewSource(id string, cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{Base: source.NewBase(id, logger), cfg: cfg}, nil
}

// WithTags attaches tags to every event.
func (s *Source) WithTags(tags model.SharedTags) *Source {
	s.tags = tags
	return s
}

// Caps reports ack support. Competing consumers on one queue are the
// normal AMQP scale-out, so the source is parallel.
func (s *Source) Caps() source.Caps { return source.Caps{Ack: true, Parallel: true} }

// declare sets up the exchange, queue and binding.
func declare(ch *amqp.Channel, cfg SourceConfig) error {
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
		}
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(cfg.Queue, cfg.BindingKey, cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", cfg.Queue, err)
		}
	}
	return nil
}

// Start dials the broker, declares the topology and starts consuming.
func (s *Source) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return errors.Disconnected("dial AMQP broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Disconnected("open channel", err)
	}
	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return errors.SupplierError("set prefetch", err)
	}
	if err := declare(ch, s.cfg); err != nil {
		_ = conn.Close()
		return errors.SourceUvs(errors.UvsConfig, "declare topology", err)
	}
	deliveries, err := ch.Consume(s.cfg.Queue, s.Identifier(), false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return errors.SupplierError("consume "+s.cfg.Queue, err)
	}

	s.mu.Lock()
	s.conn, s.channel, s.deliveries = conn, ch, deliveries
	s.mu.Unlock()
	s.OnClose(s.release)

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("AMQP source consuming",
		"component", s.Identifier(),
		"queue", s.cfg.Queue,
		"exchange", s.cfg.Exchange,
		"binding_key", s.cfg.BindingKey)
	return nil
}

func (s *Source) release() error {
	s.mu.Lock()
	conn, ch := s.conn, s.channel
	s.conn, s.channel = nil, nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := ch.Cancel(s.Identifier(), false); err != nil {
		s.Logger().Debug("AMQP cancel failed", "component", s.Identifier(), "error", err)
	}
	if err := conn.Close(); err != nil && !stderrors.Is(err, amqp.ErrClosed) {
		return errors.WrapTransient(err, "AMQPSource", "Close", "close connection")
	}
	return nil
}

func (s *Source) Receive(ctx context.Context) (source.Batch, error) {
	if err := s.Gate(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	deliveries := s.deliveries
	s.mu.Unlock()

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, s.closedErr()
		}
		return s.drain(d, deliveries), nil
	case <-s.Done():
		return nil, errors.EOF()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// closedErr distinguishes our own shutdown from a broker-side close.
func (s *Source) closedErr() error {
	if s.Stopped() {
		return errors.EOF()
	}
	return errors.Disconnected("delivery channel closed", errors.ErrConnectionLost)
}

func (s *Source) drain(first amqp.Delivery, deliveries <-chan amqp.Delivery) source.Batch {
	batch := make(source.Batch, 0, s.cfg.BatchSize)
	batch = append(batch, s.event(first))
	for len(batch) < s.cfg.BatchSize {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return batch
			}
			batch = append(batch, s.event(d))
		default:
			return batch
		}
	}
	return batch
}

func (s *Source) event(d amqp.Delivery) source.Event {
	s.mu.Lock()
	if d.DeliveryTag > s.delivered {
		s.delivered = d.DeliveryTag
	}
	s.mu.Unlock()
	return source.NewEvent(d.DeliveryTag, s.Identifier(), source.BytesPayload(d.Body)).WithTags(s.tags)
}

// Ack acknowledges the delivery tag and all earlier ones.
func (s *Source) Ack(_ context.Context, token source.AckToken) error {
	off, ok := token.(source.Offset)
	if !ok || off < 1 {
		return errors.SourceUvs(errors.UvsValidation,
			fmt.Sprintf("ack: want delivery tag as source.Offset >= 1, got %T(%v)", token, token), errors.ErrInvalidData)
	}
	s.mu.Lock()
	ch, delivered := s.channel, s.delivered
	s.mu.Unlock()
	if ch == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "AMQPSource", "Ack", "check channel")
	}
	if uint64(off) > delivered {
		return errors.SourceUvs(errors.UvsLogic,
			fmt.Sprintf("ack %d beyond delivered tag %d", off, delivered), errors.ErrInvalidData)
	}
	if err := ch.Ack(uint64(off), true); err != nil {
		return errors.Disconnected(fmt.Sprintf("ack delivery %d", off), err)
	}
	return nil
}
