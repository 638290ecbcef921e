package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/buffer"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

const (
	maxDatagram    = 65536
	readBufferSize = 2 * 1024 * 1024
	readDeadline   = 100 * time.Millisecond
)

// Config configures a UDP source.
type Config struct {
	// Addr is the host:port to bind. Port 0 picks a free port.
	Addr string

	BatchSize  int
	BufferSize int
	Overflow   buffer.OverflowPolicy
}

// DefaultConfig returns the defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{Addr: addr, BatchSize: 256, BufferSize: 5000, Overflow: buffer.DropOldest}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	}
	if _, err := net.ResolveUDPAddr("udp", c.Addr); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "resolve addr")
	}
	if c.BatchSize <= 0 || c.BufferSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"batch_size and buffer_size must be positive")
	}
	return nil
}

type datagram struct {
	data []byte
	from netip.Addr
}

type sourceMetrics struct {
	packets      prometheus.Counter
	bytes        prometheus.Counter
	dropped      prometheus.Counter
	socketErrors prometheus.Counter
}

func newSourceMetrics(registry *metric.MetricsRegistry, id string) (*sourceMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "wpipe",
			Subsystem:   "udp",
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"source": id},
		})
	}
	m := &sourceMetrics{
		packets:      counter("packets_received_total", "Datagrams received"),
		bytes:        counter("bytes_received_total", "Datagram bytes received"),
		dropped:      counter("packets_dropped_total", "Datagrams lost to buffer overflow"),
		socketErrors: counter("socket_errors_total", "Socket read errors"),
	}
	for name, c := range map[string]prometheus.Counter{
		"packets_received": m.packets,
		"bytes_received":   m.bytes,
		"packets_dropped":  m.dropped,
		"socket_errors":    m.socketErrors,
	} {
		if err := registry.RegisterCounter(id, name, c); err != nil {
			unregisterSourceMetrics(registry, id)
			return nil, err
		}
	}
	return m, nil
}

var sourceMetricNames = []string{"packets_received", "bytes_received", "packets_dropped", "socket_errors"}

func unregisterSourceMetrics(registry *metric.MetricsRegistry, id string) {
	for _, name := range sourceMetricNames {
		registry.Unregister(id, name)
	}
}

// Source receives datagrams on a bound UDP socket.
type Source struct {
	*source.Base

	cfg   Config
	tags  model.SharedTags
	retry retry.Config

	registry *metric.MetricsRegistry
	metrics  *sourceMetrics

	queue buffer.Buffer[datagram]

	mu   sync.Mutex
	conn *net.UDPConn
	wg   sync.WaitGroup

	received atomic.Int64
	dropped  atomic.Int64
}

var (
	_ source.Source      = (*Source)(nil)
	_ source.TryReceiver = (*Source)(nil)
)

// NewSource creates an unbound source. registry may be nil.
func NewSource(id string, cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Source{
		Base:     source.NewBase(id, logger),
		cfg:      cfg,
		retry:    retry.Quick(),
		registry: registry,
	}

	queue, err := buffer.New(cfg.BufferSize,
		buffer.WithOverflowPolicy[datagram](cfg.Overflow),
		buffer.WithMetrics[datagram](registry, id),
		buffer.WithDropCallback(func(datagram) {
			s.dropped.Add(1)
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
		}))
	if err != nil {
		return nil, err
	}
	s.queue = queue

	if registry != nil {
		if s.metrics, err = newSourceMetrics(registry, id); err != nil {
			_ = queue.Close()
			return nil, err
		}
	}
	s.OnClose(s.release)
	return s, nil
}

// WithTags attaches tags to every event.
func (s *Source) WithTags(tags model.SharedTags) *Source {
	s.tags = tags
	return s
}

func (s *Source) Caps() source.Caps { return source.Caps{} }

// LocalAddr returns the bound address, nil before Start.
func (s *Source) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Received returns the number of datagrams read from the socket.
func (s *Source) Received() int64 { return s.received.Load() }

// Dropped returns the number of datagrams lost to buffer overflow.
func (s *Source) Dropped() int64 { return s.dropped.Load() }

// Start binds the socket, retrying transient failures, and starts the read
// loop.
func (s *Source) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	err := retry.Do(ctx, s.retry, func() error {
		conn, err := bind(s.cfg.Addr)
		if err != nil {
			if errors.IsInvalid(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		return nil
	})
	if err != nil {
		return errors.SourceUvs(errors.UvsNetwork, "bind "+s.cfg.Addr, err)
	}

	s.wg.Add(1)
	go s.readLoop()

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("UDP source listening",
		"component", s.Identifier(),
		"addr", s.LocalAddr().String(),
		"buffer_size", s.cfg.BufferSize,
		"overflow", s.cfg.Overflow.String())
	return nil
}

func bind(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Source", "bind", "resolve "+addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.WrapTransient(err, "Source", "bind", "listen "+addr)
	}
	// Kernels may cap the buffer below the request; keep the socket anyway.
	_ = conn.SetReadBuffer(readBufferSize)
	return conn, nil
}

func (s *Source) readLoop() {
	defer s.wg.Done()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-s.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			if s.metrics != nil {
				s.metrics.socketErrors.Inc()
			}
			s.Logger().Warn("UDP read failed", "component", s.Identifier(), "error", err)
			continue
		}

		s.received.Add(1)
		if s.metrics != nil {
			s.metrics.packets.Inc()
			s.metrics.bytes.Add(float64(n))
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := s.queue.Write(datagram{data: data, from: from.Addr().Unmap()}); err != nil {
			return
		}
	}
}

func (s *Source) release() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	_ = s.queue.Close()
	s.wg.Wait()

	if s.metrics != nil {
		unregisterSourceMetrics(s.registry, s.Identifier())
	}
	if err != nil {
		return errors.WrapTransient(err, "Source", "Close", "close socket")
	}
	return nil
}

func (s *Source) Receive(ctx context.Context) (source.Batch, error) {
	for {
		if err := s.Gate(ctx); err != nil {
			return nil, err
		}
		if batch := s.drain(); len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-s.queue.Ready():
		case <-s.Done():
			return nil, errors.EOF()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Source) drain() source.Batch {
	items := s.queue.ReadBatch(s.cfg.BatchSize)
	if len(items) == 0 {
		return nil
	}
	batch := make(source.Batch, len(items))
	for i, d := range items {
		ev := source.NewEvent(s.NextID(), s.Identifier(), source.BytesPayload(d.data)).WithTags(s.tags)
		ev.UpstreamIP = d.from
		batch[i] = ev
	}
	return batch
}

func (s *Source) SupportsTryReceive() bool { return true }

func (s *Source) CanTryReceive() bool {
	if s.Stopped() {
		return false
	}
	st := s.State()
	return st == source.StateStarted || st == source.StateRunning
}

// TryReceive returns buffered datagrams without waiting.
func (s *Source) TryReceive() (source.Batch, bool) {
	if !s.CanTryReceive() {
		return nil, false
	}
	batch := s.drain()
	return batch, len(batch) > 0
}

func (s *Source) String() string {
	return fmt.Sprintf("udp(%s)", s.cfg.Addr)
}
