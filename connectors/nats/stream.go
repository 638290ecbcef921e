package nats

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/natsclient"
)

// DefaultCheckpointBucket holds the acknowledged positions of all stream
// sources sharing a NATS account.
const DefaultCheckpointBucket = "wpipe_checkpoints"

// StreamConfig configures a JetStream source.
type StreamConfig struct {
	Stream string

	// Subject filters the stream. Empty reads every subject.
	Subject string

	// Durable keys the checkpoint. Sources sharing it resume from the
	// same position.
	Durable string
	Bucket  string

	BatchSize int
	FetchWait time.Duration
}

// MaxFetchWait caps fetch_wait. A fetch cannot be interrupted, so it bounds
// how long Stop waits for a pending Receive.
const MaxFetchWait = 500 * time.Millisecond

// DefaultStreamConfig returns the defaults for stream.
func DefaultStreamConfig(stream string) StreamConfig {
	return StreamConfig{
		Stream:    stream,
		Bucket:    DefaultCheckpointBucket,
		BatchSize: 128,
		FetchWait: 250 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c StreamConfig) Validate() error {
	switch {
	case c.Stream == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamConfig", "Validate", "stream is required")
	case c.Durable == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamConfig", "Validate", "durable is required")
	case c.Bucket == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "StreamConfig", "Validate", "bucket is required")
	case c.BatchSize <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamConfig", "Validate", "batch_size must be positive")
	case c.FetchWait <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamConfig", "Validate", "fetch_wait must be positive")
	case c.FetchWait > MaxFetchWait:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "StreamConfig", "Validate",
			"fetch_wait must not exceed "+MaxFetchWait.String())
	}
	return nil
}

// StreamSource reads a JetStream stream in sequence order through an
// ordered consumer. Event ids are stream sequences: Ack(Offset(id))
// checkpoints that sequence and Seek(Offset(seq)) restarts delivery at it.
type StreamSource struct {
	*source.Base

	client *natsclient.Client
	cfg    StreamConfig
	tags   model.SharedTags

	checkpoints *natsclient.Checkpoints

	mu        sync.Mutex
	consumer  jetstream.Consumer
	gen       uint64
	delivered uint64
}

var _ source.Source = (*StreamSource)(nil)

// NewStreamSource creates an unstarted source on client.
func NewStreamSource(id string, client *natsclient.Client, cfg StreamConfig, logger *slog.Logger) (*StreamSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection, "StreamSource", "New", "NATS client required")
	}
	return &StreamSource{
		Base:   source.NewBase(id, logger),
		client: client,
		cfg:    cfg,
	}, nil
}

// WithTags attaches tags to every event.
func (s *StreamSource) WithTags(tags model.SharedTags) *StreamSource {
	s.tags = tags
	return s
}

func (s *StreamSource) Caps() source.Caps { return source.Caps{Ack: true, Seek: true} }

// Start resumes after the checkpointed sequence, or at the start of the
// stream when there is none.
func (s *StreamSource) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	cp, err := s.client.NewCheckpoints(ctx, s.cfg.Bucket)
	if err != nil {
		return errors.Disconnected("open checkpoint bucket "+s.cfg.Bucket, err)
	}
	last, _, err := cp.Load(ctx, s.cfg.Durable)
	if err != nil {
		return errors.SupplierError("load checkpoint "+s.cfg.Durable, err)
	}
	s.checkpoints = cp

	if err := s.resetConsumer(ctx, last+1); err != nil {
		return err
	}
	s.OnSeek(s.Seek)

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("JetStream source started",
		"component", s.Identifier(),
		"stream", s.cfg.Stream,
		"subject", s.cfg.Subject,
		"start_sequence", last+1)
	return nil
}

func (s *StreamSource) resetConsumer(ctx context.Context, start uint64) error {
	cfg := jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:   start,
	}
	if s.cfg.Subject != "" {
		cfg.FilterSubjects = []string{s.cfg.Subject}
	}
	consumer, err := s.client.OrderedConsumer(ctx, s.cfg.Stream, cfg)
	if err != nil {
		if errors.IsInvalid(err) {
			return errors.SourceUvs(errors.UvsConfig, "stream "+s.cfg.Stream, err)
		}
		return errors.Disconnected("create consumer on "+s.cfg.Stream, err)
	}

	s.mu.Lock()
	s.consumer = consumer
	s.gen++
	s.delivered = start - 1
	s.mu.Unlock()
	return nil
}

func (s *StreamSource) Receive(ctx context.Context) (source.Batch, error) {
	for {
		if err := s.Gate(ctx); err != nil {
			return nil, err
		}
		batch, err := s.fetch()
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
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

// fetch pulls one batch. Results from a consumer replaced by Seek while
// the fetch was in flight are dropped.
func (s *StreamSource) fetch() (source.Batch, error) {
	s.mu.Lock()
	consumer, gen := s.consumer, s.gen
	s.mu.Unlock()

	msgs, err := consumer.Fetch(s.cfg.BatchSize, jetstream.FetchMaxWait(s.cfg.FetchWait))
	if err != nil {
		return nil, errors.Disconnected("fetch from "+s.cfg.Stream, err)
	}

	batch := make(source.Batch, 0, s.cfg.BatchSize)
	var last uint64
	for msg := range msgs.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			s.Logger().Warn("message without metadata", "component", s.Identifier(), "error", err)
			continue
		}
		last = md.Sequence.Stream
		ev := source.NewEvent(last, s.Identifier(), source.BytesPayload(msg.Data())).WithTags(s.tags)
		batch = append(batch, ev)
	}
	if err := msgs.Error(); err != nil && !stderrors.Is(err, nats.ErrTimeout) && !stderrors.Is(err, context.DeadlineExceeded) {
		return nil, errors.Disconnected("fetch from "+s.cfg.Stream, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil, nil
	}
	if last > s.delivered {
		s.delivered = last
	}
	return batch, nil
}

func sequenceOf(v fmt.Stringer, method string) (uint64, error) {
	off, ok := v.(source.Offset)
	if !ok || off < 1 {
		return 0, errors.SourceUvs(errors.UvsValidation,
			fmt.Sprintf("%s: want stream sequence as source.Offset >= 1, got %T(%v)", method, v, v), errors.ErrInvalidData)
	}
	return uint64(off), nil
}

// Ack checkpoints a delivered sequence. Older sequences never move the
// checkpoint back.
func (s *StreamSource) Ack(ctx context.Context, token source.AckToken) error {
	seq, err := sequenceOf(token, "ack")
	if err != nil {
		return err
	}
	s.mu.Lock()
	delivered := s.delivered
	s.mu.Unlock()
	if s.checkpoints == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "StreamSource", "Ack", "check checkpoints")
	}
	if seq > delivered {
		return errors.SourceUvs(errors.UvsLogic,
			fmt.Sprintf("ack %d beyond delivered sequence %d", seq, delivered), errors.ErrInvalidData)
	}
	if err := s.checkpoints.Save(ctx, s.cfg.Durable, seq); err != nil {
		return errors.SupplierError("save checkpoint "+s.cfg.Durable, err)
	}
	return nil
}

// Seek restarts delivery at a stream sequence and rewrites the checkpoint
// to the sequence before it.
func (s *StreamSource) Seek(ctx context.Context, pos source.Position) error {
	seq, err := sequenceOf(pos, "seek")
	if err != nil {
		return err
	}
	if s.checkpoints == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "StreamSource", "Seek", "check checkpoints")
	}
	if err := s.resetConsumer(ctx, seq); err != nil {
		return err
	}
	if err := s.checkpoints.Reset(ctx, s.cfg.Durable, seq-1); err != nil {
		return errors.SupplierError("reset checkpoint "+s.cfg.Durable, err)
	}
	s.Logger().Info("JetStream source seek", "component", s.Identifier(), "sequence", seq)
	return nil
}
