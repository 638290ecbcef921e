package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

const flushTimeout = 15 * time.Second

// SinkConfig configures a producer sink.
type SinkConfig struct {
	Brokers string
	Topic   string
	Format  model.TextFmt

	// KeyField names the record field used as message key. Raw writes and
	// records without the field are produced without a key.
	KeyField string
}

// Validate checks the configuration.
func (c SinkConfig) Validate() error {
	if c.Brokers == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SinkConfig", "Validate", "brokers is required")
	}
	if c.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SinkConfig", "Validate", "topic is required")
	}
	return nil
}

type message struct {
	key   []byte
	value []byte
}

// Sink produces to one topic with idempotence enabled, so retries inside
// the producer do not reorder or duplicate messages.
type Sink struct {
	name   string
	cfg    SinkConfig
	logger *slog.Logger

	mu       sync.Mutex
	producer *kafka.Producer
	stopped  bool
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates the producer. No broker round trip happens until the
// first write.
func NewSink(name string, cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{name: name, cfg: cfg, logger: logger}
	p, err := s.newProducer()
	if err != nil {
		return nil, err
	}
	s.producer = p
	return s, nil
}

func (s *Sink) newProducer() (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  s.cfg.Brokers,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, errors.SinkUvs(errors.UvsConfig, "create producer", err)
	}
	go s.drainEvents(p)
	return p, nil
}

// drainEvents consumes producer-level events so the channel never fills.
// Delivery reports go to per-batch channels instead.
func (s *Sink) drainEvents(p *kafka.Producer) {
	for ev := range p.Events() {
		if e, ok := ev.(kafka.Error); ok {
			s.logger.Warn("Kafka producer error", "sink", s.name, "error", e)
		}
	}
}

func (s *Sink) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.closeProducer()
}

// closeProducer flushes and closes. Caller holds mu.
func (s *Sink) closeProducer() error {
	if s.producer == nil {
		return nil
	}
	p := s.producer
	s.producer = nil
	left := p.Flush(int(flushTimeout.Milliseconds()))
	p.Close()
	if left > 0 {
		return errors.StgCtrl(fmt.Sprintf("flush %s", s.cfg.Topic),
			fmt.Errorf("%d messages not delivered", left))
	}
	return nil
}

// Reconnect replaces the producer.
func (s *Sink) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if err := s.closeProducer(); err != nil {
		s.logger.Warn("Kafka producer closed with pending messages", "sink", s.name, "error", err)
	}
	p, err := s.newProducer()
	if err != nil {
		return err
	}
	s.producer = p
	return nil
}

func (s *Sink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *Sink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	msgs := make([]message, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		msgs[i].value = []byte(text)
		if s.cfg.KeyField != "" {
			if v, ok := rec.Value(s.cfg.KeyField); ok {
				msgs[i].key = []byte(v.String())
			}
		}
	}
	return s.produce(ctx, msgs)
}

func (s *Sink) SinkString(ctx context.Context, data string) error {
	return s.produce(ctx, []message{{value: []byte(data)}})
}

func (s *Sink) SinkBytes(ctx context.Context, data []byte) error {
	return s.produce(ctx, []message{{value: data}})
}

func (s *Sink) SinkStrings(ctx context.Context, batch []string) error {
	msgs := make([]message, len(batch))
	for i, data := range batch {
		msgs[i].value = []byte(data)
	}
	return s.produce(ctx, msgs)
}

func (s *Sink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	msgs := make([]message, len(batch))
	for i, data := range batch {
		msgs[i].value = data
	}
	return s.produce(ctx, msgs)
}

// produce enqueues msgs in order and waits for every delivery report.
func (s *Sink) produce(ctx context.Context, msgs []message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if s.producer == nil {
		return errors.SinkUnavailable("producer closed", errors.ErrNoConnection)
	}

	topic := s.cfg.Topic
	reports := make(chan kafka.Event, len(msgs))
	for _, m := range msgs {
		err := s.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Key:            m.key,
			Value:          m.value,
		}, reports)
		if err != nil {
			return errors.SinkUnavailable("produce to "+topic, err)
		}
	}

	var failed error
	for range msgs {
		select {
		case ev := <-reports:
			if m, ok := ev.(*kafka.Message); ok && m.TopicPartition.Error != nil && failed == nil {
				failed = m.TopicPartition.Error
			}
		case <-ctx.Done():
			return errors.SinkUnavailable("wait for delivery to "+topic, ctx.Err())
		}
	}
	if failed != nil {
		return errors.SinkUnavailable("deliver to "+topic, failed)
	}
	return nil
}
