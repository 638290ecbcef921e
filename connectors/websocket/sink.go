package websocket

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/metric"
	"github.com/wp-labs/wp-open-api/model"
	"github.com/wp-labs/wp-open-api/pkg/buffer"
	"github.com/wp-labs/wp-open-api/pkg/tlsutil"
)

// Config configures a WebSocket sink.
type Config struct {
	Addr   string
	Path   string
	Format model.TextFmt

	// ClientBuffer is the number of frames queued per client.
	ClientBuffer int
	WriteTimeout time.Duration
	PingInterval time.Duration

	// AllowedOrigins restricts browser clients. Empty allows any origin.
	AllowedOrigins []string

	TLS tlsutil.ServerConfig
}

// DefaultConfig returns the defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		Path:         "/ws",
		Format:       model.FmtJSON,
		ClientBuffer: 256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "addr is required")
	case c.Path == "" || c.Path[0] != '/':
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "path must start with /")
	case c.ClientBuffer <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "client_buffer must be positive")
	case c.WriteTimeout <= 0 || c.PingInterval <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"write_timeout and ping_interval must be positive")
	}
	return nil
}

type sinkMetrics struct {
	clients prometheus.Gauge
	sent    prometheus.Counter
	dropped prometheus.Counter
}

var sinkMetricNames = []string{"websocket_clients", "websocket_frames_sent", "websocket_frames_dropped"}

func newSinkMetrics(registry *metric.MetricsRegistry, name string) (*sinkMetrics, error) {
	labels := prometheus.Labels{"sink": name}
	m := &sinkMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wpipe", Subsystem: "websocket", Name: "clients",
			Help: "Connected WebSocket clients", ConstLabels: labels,
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpipe", Subsystem: "websocket", Name: "frames_sent_total",
			Help: "Frames written to clients", ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpipe", Subsystem: "websocket", Name: "frames_dropped_total",
			Help: "Frames dropped from slow client queues", ConstLabels: labels,
		}),
	}
	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterGauge(name, sinkMetricNames[0], m.clients); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(name, sinkMetricNames[1], m.sent); err != nil {
		registry.Unregister(name, sinkMetricNames[0])
		return nil, err
	}
	if err := registry.RegisterCounter(name, sinkMetricNames[2], m.dropped); err != nil {
		registry.Unregister(name, sinkMetricNames[0])
		registry.Unregister(name, sinkMetricNames[1])
		return nil, err
	}
	return m, nil
}

// client is one connection with its own frame queue and writer goroutine.
type client struct {
	conn  *websocket.Conn
	queue buffer.Buffer[[]byte]

	// drain asks the writer to flush the queue, say goodbye and exit.
	drain     chan struct{}
	drainOnce sync.Once
	done      chan struct{}
	once      sync.Once
}

func (c *client) startDrain() {
	c.drainOnce.Do(func() { close(c.drain) })
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.queue.Close()
		_ = c.conn.Close()
	})
}

// Sink is a broadcasting WebSocket server.
type Sink struct {
	name     string
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *sinkMetrics

	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	stopTLS  func()
	wg       sync.WaitGroup
	stopping chan struct{}

	mu      sync.Mutex
	clients map[*client]struct{}
	stopped bool

	sent    atomic.Int64
	dropped atomic.Int64
}

var _ sink.Sink = (*Sink)(nil)

// NewSink binds the listener and starts serving. A nil registry disables
// metrics.
func NewSink(ctx context.Context, name string, cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	tlsCfg, stopTLS, err := cfg.TLS.Load(ctx, logger)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		stopTLS()
		return nil, errors.SinkUvs(errors.UvsNetwork, "listen on "+cfg.Addr, err)
	}
	metrics, err := newSinkMetrics(registry, name)
	if err != nil {
		stopTLS()
		_ = ln.Close()
		return nil, err
	}

	s := &Sink{
		name:     name,
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  metrics,
		listener: ln,
		stopTLS:  stopTLS,
		stopping: make(chan struct{}),
		clients:  make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleUpgrade)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second, TLSConfig: tlsCfg}

	served := ln
	if tlsCfg != nil {
		served = tls.NewListener(ln, tlsCfg)
	}
	s.wg.Add(2)
	go s.serve(served)
	go s.pingLoop()

	logger.Info("WebSocket sink listening", "sink", name, "addr", ln.Addr().String(),
		"path", cfg.Path, "tls", tlsCfg != nil)
	return s, nil
}

// Addr returns the bound address.
func (s *Sink) Addr() net.Addr { return s.listener.Addr() }

// Clients returns the number of connected clients.
func (s *Sink) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Sent returns the frames written to clients.
func (s *Sink) Sent() int64 { return s.sent.Load() }

// Dropped returns the frames lost to full client queues.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

func (s *Sink) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *Sink) serve(ln net.Listener) {
	defer s.wg.Done()
	if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		s.logger.Error("WebSocket server stopped", "sink", s.name, "error", err)
	}
}

func (s *Sink) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", "sink", s.name, "remote", r.RemoteAddr, "error", err)
		return
	}

	queue, err := buffer.New[[]byte](s.cfg.ClientBuffer,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback[[]byte](func([]byte) {
			s.dropped.Add(1)
			s.metrics.dropped.Inc()
		}),
	)
	if err != nil {
		_ = conn.Close()
		return
	}
	c := &client{conn: conn, queue: queue, drain: make(chan struct{}), done: make(chan struct{})}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		c.close()
		return
	}
	s.clients[c] = struct{}{}
	s.metrics.clients.Set(float64(len(s.clients)))
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Debug("WebSocket client connected", "sink", s.name, "remote", r.RemoteAddr)
	go s.writeLoop(c)
	go s.readLoop(c)
}

// readLoop consumes control frames. Application frames from clients are
// ignored.
func (s *Sink) readLoop(c *client) {
	defer s.wg.Done()
	defer s.remove(c)
	deadline := 2 * s.cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Sink) writeLoop(c *client) {
	defer s.wg.Done()
	defer s.remove(c)
	for {
		frames := c.queue.ReadBatch(64)
		if len(frames) == 0 {
			select {
			case <-c.queue.Ready():
			case <-c.drain:
				if c.queue.IsEmpty() {
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "sink stopped"),
						time.Now().Add(s.cfg.WriteTimeout))
					return
				}
			case <-c.done:
				return
			}
			continue
		}
		for _, frame := range frames {
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			s.sent.Add(1)
			s.metrics.sent.Inc()
		}
	}
}

// pingLoop keeps idle connections alive and detects dead peers.
func (s *Sink) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopping:
			return
		case <-ticker.C:
		}
		for _, c := range s.snapshot() {
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.remove(c)
			}
		}
	}
}

func (s *Sink) snapshot() []*client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Sink) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.metrics.clients.Set(float64(len(s.clients)))
	s.mu.Unlock()
	c.close()
	if ok {
		s.logger.Debug("WebSocket client disconnected", "sink", s.name)
	}
}

// Stop closes the listener, lets every client receive its queued frames
// and a close frame, then releases the server. Clients still flushing when
// ctx ends are dropped.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopping)
	err := s.server.Shutdown(ctx)
	for _, c := range s.snapshot() {
		c.startDrain()
	}

	flushed := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-ctx.Done():
		for _, c := range s.snapshot() {
			s.remove(c)
		}
		<-flushed
	}

	s.stopTLS()
	if s.registry != nil {
		for _, name := range sinkMetricNames {
			s.registry.Unregister(s.name, name)
		}
	}
	if err != nil {
		return errors.StgCtrl("shut down "+s.cfg.Addr, err)
	}
	return nil
}

// Reconnect has nothing to re-establish; clients reconnect on their own.
func (s *Sink) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	return nil
}

func (s *Sink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *Sink) SinkRecords(_ context.Context, recs []model.SharedRecord) error {
	frames := make([][]byte, len(recs))
	for i, rec := range recs {
		text, err := model.Format(s.cfg.Format, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		frames[i] = []byte(text)
	}
	return s.broadcast(frames)
}

func (s *Sink) SinkString(_ context.Context, data string) error {
	return s.broadcast([][]byte{[]byte(data)})
}

func (s *Sink) SinkBytes(_ context.Context, data []byte) error {
	return s.broadcast([][]byte{slices.Clone(data)})
}

func (s *Sink) SinkStrings(_ context.Context, batch []string) error {
	frames := make([][]byte, len(batch))
	for i, data := range batch {
		frames[i] = []byte(data)
	}
	return s.broadcast(frames)
}

func (s *Sink) SinkBytesBatch(_ context.Context, batch [][]byte) error {
	frames := make([][]byte, len(batch))
	for i, data := range batch {
		frames[i] = slices.Clone(data)
	}
	return s.broadcast(frames)
}

// broadcast queues frames on every client in order. Frames are shared
// between clients and never modified after this point.
func (s *Sink) broadcast(frames [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	for c := range s.clients {
		for _, frame := range frames {
			if err := c.queue.Write(frame); err != nil {
				break
			}
		}
	}
	return nil
}
