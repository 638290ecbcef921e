package amqp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streadway/amqp"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// SinkConfig configures an exchange publisher.
type SinkConfig struct {
	URL string

	// Exchange may be empty to publish to the default exchange, in which
	// case RoutingKey names the queue.
	Exchange   string
	RoutingKey string
	Format     model.TextFmt
}

// Validate checks the configuration.
func (c SinkConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SinkConfig", "Validate", "url is required")
	}
	if c.Exchange == "" && c.RoutingKey == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SinkConfig", "Validate",
			"exchange or routing_key is required")
	}
	if _, err := amqp.ParseURI(c.URL); err != nil {
		return errors.WrapInvalid(err, "SinkConfig", "Validate", "parse url")
	}
	return nil
}

// Sink publishes persistent messages in confirm mode.
type Sink struct {
	name   string
	cfg    SinkConfig
	logger *slog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
	stopped  bool
}

var _ sink.Sink = (*Sink)(nil)

// NewSink creates a sink. The connection is dialed on first use.
func NewSink(name string, cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{name: name, cfg: cfg, logger: logger}, nil
}

// connect dials and enables confirms. Caller holds mu.
func (s *Sink) connect() error {
	if s.channel != nil {
		return nil
	}
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return errors.SinkUnavailable("dial AMQP broker", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.SinkUnavailable("open channel", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return errors.SinkUvs(errors.UvsExternal, "enable confirms", err)
	}
	s.conn, s.channel = conn, ch
	s.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 256))
	s.logger.Debug("AMQP sink connected", "sink", s.name, "exchange", s.cfg.Exchange)
	return nil
}

// disconnect closes the connection. Caller holds mu.
func (s *Sink) disconnect() error {
	conn := s.conn
	s.conn, s.channel, s.confirms = nil, nil, nil
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !stderrors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func (s *Sink) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if err := s.disconnect(); err != nil {
		return errors.StgCtrl("close AMQP connection", err)
	}
	return nil
}

// Reconnect drops the connection; the next write dials again.
func (s *Sink) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if err := s.disconnect(); err != nil {
		s.logger.Debug("AMQP close before reconnect failed", "sink", s.name, "error", err)
	}
	return s.connect()
}

func (s *Sink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *Sink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	bodies := make([][]byte, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		bodies[i] = []byte(text)
	}
	return s.publish(ctx, bodies)
}

func (s *Sink) SinkString(ctx context.Context, data string) error {
	return s.publish(ctx, [][]byte{[]byte(data)})
}

func (s *Sink) SinkBytes(ctx context.Context, data []byte) error {
	return s.publish(ctx, [][]byte{data})
}

func (s *Sink) SinkStrings(ctx context.Context, batch []string) error {
	bodies := make([][]byte, len(batch))
	for i, data := range batch {
		bodies[i] = []byte(data)
	}
	return s.publish(ctx, bodies)
}

func (s *Sink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	return s.publish(ctx, batch)
}

func (s *Sink) publish(ctx context.Context, bodies [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if len(bodies) == 0 {
		return nil
	}
	if err := s.connect(); err != nil {
		return err
	}

	contentType := "text/plain"
	if s.cfg.Format == model.FmtJSON {
		contentType = "application/json"
	}
	for _, body := range bodies {
		err := s.channel.Publish(s.cfg.Exchange, s.cfg.RoutingKey, false, false, amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
		if err != nil {
			_ = s.disconnect()
			return errors.SinkUnavailable("publish to "+s.cfg.Exchange, err)
		}
	}

	nacked := 0
	for range bodies {
		select {
		case c, ok := <-s.confirms:
			if !ok {
				_ = s.disconnect()
				return errors.SinkUnavailable("wait for confirms", errors.ErrConnectionLost)
			}
			if !c.Ack {
				nacked++
			}
		case <-ctx.Done():
			// confirms for this batch would be read by the next one
			_ = s.disconnect()
			return errors.SinkUnavailable("wait for confirms", ctx.Err())
		}
	}
	if nacked > 0 {
		return errors.SinkUnavailable("publish to "+s.cfg.Exchange,
			fmt.Errorf("%d of %d messages nacked", nacked, len(bodies)))
	}
	return nil
}
