package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

const (
	pollTimeout   = 100 * time.Millisecond
	commitTimeout = 5 * time.Second
)

// SourceConfig configures a single-partition source.
type SourceConfig struct {
	Brokers   string
	Topic     string
	Partition int32
	Group     string

	// Reset is where a group without a committed offset starts:
	// "earliest" or "latest".
	Reset     string
	BatchSize int
}

// DefaultSourceConfig returns the defaults for topic.
func DefaultSourceConfig(brokers, topic, group string) SourceConfig {
	return SourceConfig{Brokers: brokers, Topic: topic, Group: group, Reset: "earliest", BatchSize: 256}
}

// Validate checks the configuration.
func (c SourceConfig) Validate() error {
	switch {
	case c.Brokers == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "brokers is required")
	case c.Topic == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "topic is required")
	case c.Group == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "group is required")
	case c.Partition < 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate", "partition must not be negative")
	case c.Reset != "earliest" && c.Reset != "latest":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate", "reset must be earliest or latest")
	case c.BatchSize <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate", "batch_size must be positive")
	}
	return nil
}

func (c SourceConfig) consumerConfig() *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  c.Brokers,
		"group.id":           c.Group,
		"enable.auto.commit": false,
		"auto.offset.reset":  c.Reset,
	}
}

// Source reads one partition. Offsets double as event ids.
type Source struct {
	*source.Base

	cfg  SourceConfig
	tags model.SharedTags

	mu        sync.Mutex
	consumer  *kafka.Consumer
	delivered int64
}

var _ source.Source = (*Source)(nil)

// NewSource creates an unstarted source.
func NewSource(id string, cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		Base:      source.NewBase(id, logger),
		cfg:       cfg,
		delivered: -1,
	}, nil
}

// WithTags attaches tags to every event.
func (s *Source) WithTags(tags model.SharedTags) *Source {
	s.tags = tags
	return s
}

func (s *Source) Caps() source.Caps { return source.Caps{Ack: true, Seek: true} }

func (s *Source) partition(off kafka.Offset) kafka.TopicPartition {
	topic := s.cfg.Topic
	return kafka.TopicPartition{Topic: &topic, Partition: s.cfg.Partition, Offset: off}
}

// Start assigns the partition at the group's committed offset.
func (s *Source) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	consumer, err := kafka.NewConsumer(s.cfg.consumerConfig())
	if err != nil {
		return errors.SourceUvs(errors.UvsConfig, "create consumer", err)
	}
	if err := consumer.Assign([]kafka.TopicPartition{s.partition(kafka.OffsetStored)}); err != nil {
		_ = consumer.Close()
		return errors.Disconnected(fmt.Sprintf("assign %s[%d]", s.cfg.Topic, s.cfg.Partition), err)
	}

	s.mu.Lock()
	s.consumer = consumer
	s.mu.Unlock()
	s.OnClose(s.release)
	s.OnSeek(s.Seek)

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("Kafka source assigned",
		"component", s.Identifier(),
		"topic", s.cfg.Topic,
		"partition", s.cfg.Partition,
		"group", s.cfg.Group)
	return nil
}

func (s *Source) release() error {
	s.mu.Lock()
	consumer := s.consumer
	s.consumer = nil
	s.mu.Unlock()
	if consumer == nil {
		return nil
	}
	if err := consumer.Close(); err != nil {
		return errors.WrapTransient(err, "KafkaSource", "Close", "close consumer")
	}
	return nil
}

func (s *Source) client() (*kafka.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumer == nil {
		return nil, errors.WrapFatal(errors.ErrNotStarted, "KafkaSource", "client", "check consumer")
	}
	return s.consumer, nil
}

// Receive polls until at least one message arrives, then drains up to
// BatchSize without waiting further.
func (s *Source) Receive(ctx context.Context) (source.Batch, error) {
	for {
		if err := s.Gate(ctx); err != nil {
			return nil, err
		}
		consumer, err := s.client()
		if err != nil {
			return nil, errors.EOF()
		}

		batch := make(source.Batch, 0, s.cfg.BatchSize)
		wait := pollTimeout
		for len(batch) < s.cfg.BatchSize {
			ev := consumer.Poll(int(wait.Milliseconds()))
			if ev == nil {
				break
			}
			wait = 0
			if err := s.handle(ev, &batch); err != nil {
				return nil, err
			}
		}
		if len(batch) > 0 {
			return s.commitDelivered(batch), nil
		}

		select {
		case <-s.Done():
			return nil, errors.EOF()
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

func (s *Source) handle(ev kafka.Event, batch *source.Batch) error {
	switch e := ev.(type) {
	case *kafka.Message:
		if e.TopicPartition.Error != nil {
			return errors.SupplierError("consume "+s.cfg.Topic, e.TopicPartition.Error)
		}
		off := int64(e.TopicPartition.Offset)
		out := source.NewEvent(uint64(off), s.Identifier(), source.BytesPayload(e.Value)).WithTags(s.tags)
		*batch = append(*batch, out)
	case kafka.Error:
		if e.IsFatal() {
			return errors.SupplierError("consumer failed", e)
		}
		s.Logger().Warn("Kafka consumer error", "component", s.Identifier(), "error", e)
	case kafka.PartitionEOF, kafka.OffsetsCommitted:
	default:
		s.Logger().Debug("Kafka event ignored", "component", s.Identifier(), "event", e.String())
	}
	return nil
}

// commitDelivered records the highest offset handed out. Messages fetched
// before a seek are dropped.
func (s *Source) commitDelivered(batch source.Batch) source.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := batch[:0]
	for _, ev := range batch {
		off := int64(ev.ID)
		if off <= s.delivered {
			continue
		}
		s.delivered = off
		out = append(out, ev)
	}
	return out
}

func offsetOf(v fmt.Stringer, method string) (int64, error) {
	off, ok := v.(source.Offset)
	if !ok || off < 0 {
		return 0, errors.SourceUvs(errors.UvsValidation,
			fmt.Sprintf("%s: want Kafka offset as source.Offset >= 0, got %T(%v)", method, v, v), errors.ErrInvalidData)
	}
	return int64(off), nil
}

// Ack commits the offset after token for the group.
func (s *Source) Ack(_ context.Context, token source.AckToken) error {
	off, err := offsetOf(token, "ack")
	if err != nil {
		return err
	}
	consumer, err := s.client()
	if err != nil {
		return err
	}
	s.mu.Lock()
	delivered := s.delivered
	s.mu.Unlock()
	if off > delivered {
		return errors.SourceUvs(errors.UvsLogic,
			fmt.Sprintf("ack %d beyond delivered offset %d", off, delivered), errors.ErrInvalidData)
	}
	if _, err := consumer.CommitOffsets([]kafka.TopicPartition{s.partition(kafka.Offset(off + 1))}); err != nil {
		return errors.SupplierError(fmt.Sprintf("commit %s[%d]@%d", s.cfg.Topic, s.cfg.Partition, off+1), err)
	}
	return nil
}

// Seek restarts delivery at pos and commits it as the group's next offset.
func (s *Source) Seek(_ context.Context, pos source.Position) error {
	off, err := offsetOf(pos, "seek")
	if err != nil {
		return err
	}
	consumer, err := s.client()
	if err != nil {
		return err
	}
	if err := consumer.Seek(s.partition(kafka.Offset(off)), int(commitTimeout.Milliseconds())); err != nil {
		return errors.Disconnected(fmt.Sprintf("seek %s[%d]@%d", s.cfg.Topic, s.cfg.Partition, off), err)
	}
	s.mu.Lock()
	s.delivered = off - 1
	s.mu.Unlock()

	if _, err := consumer.CommitOffsets([]kafka.TopicPartition{s.partition(kafka.Offset(off))}); err != nil {
		return errors.SupplierError("commit seek position", err)
	}
	s.Logger().Info("Kafka source seek", "component", s.Identifier(), "offset", off)
	return nil
}
