package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// SinkConfig configures a file sink.
type SinkConfig struct {
	Path          string
	Format        model.TextFmt
	Append        bool
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultSinkConfig returns the defaults for path: JSON lines appended,
// flushed every 100 lines or every second.
func DefaultSinkConfig(path string) SinkConfig {
	return SinkConfig{
		Path:          path,
		Format:        model.FmtJSON,
		Append:        true,
		BufferSize:    100,
		FlushInterval: time.Second,
	}
}

// Validate checks the configuration.
func (c SinkConfig) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SinkConfig", "Validate", "path is required")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SinkConfig", "Validate", "buffer_size cannot be negative")
	}
	if c.FlushInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SinkConfig", "Validate", "flush_interval must be positive")
	}
	return nil
}

// Sink writes records and raw payloads to a file, one line each. Lines are
// buffered and flushed in arrival order.
type Sink struct {
	name   string
	cfg    SinkConfig
	logger *slog.Logger

	file   *os.File
	fileMu sync.Mutex

	buffer   [][]byte
	bufferMu sync.Mutex
	stopped  bool

	shutdown chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	linesWritten atomic.Int64
	bytesWritten atomic.Int64
	flushErrors  atomic.Int64
}

var _ sink.Sink = (*Sink)(nil)

// NewSink opens the output file and starts the flush loop.
func NewSink(name string, cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		name:     name,
		cfg:      cfg,
		logger:   logger,
		buffer:   make([][]byte, 0, cfg.BufferSize),
		shutdown: make(chan struct{}),
	}
	if err := s.openFile(cfg.Append); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.flushLoop()

	logger.Info("file sink started",
		"component", name,
		"path", cfg.Path,
		"format", cfg.Format.String(),
		"append", cfg.Append,
		"buffer_size", cfg.BufferSize)
	return s, nil
}

func (s *Sink) openFile(appendMode bool) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return errors.SinkUvs(errors.UvsResource, "create output directory", err)
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(s.cfg.Path, flags, 0o644)
	if err != nil {
		return errors.SinkUnavailable("open "+s.cfg.Path, err)
	}

	s.fileMu.Lock()
	s.file = f
	s.fileMu.Unlock()
	return nil
}

// Stop flushes the buffer and closes the file. Later calls return the
// first result.
func (s *Sink) Stop(context.Context) error {
	s.stopOnce.Do(func() {
		s.bufferMu.Lock()
		s.stopped = true
		s.bufferMu.Unlock()

		close(s.shutdown)
		s.wg.Wait()

		flushErr := s.flush()

		s.fileMu.Lock()
		if s.file != nil {
			if err := s.file.Close(); err != nil && flushErr == nil {
				flushErr = errors.StgCtrl("close "+s.cfg.Path, err)
			}
			s.file = nil
		}
		s.fileMu.Unlock()

		s.stopErr = flushErr
		s.logger.Info("file sink stopped",
			"component", s.name,
			"lines_written", s.linesWritten.Load(),
			"bytes_written", s.bytesWritten.Load(),
			"flush_errors", s.flushErrors.Load())
	})
	return s.stopErr
}

// Reconnect reopens the file in append mode, picking up a rotated path.
func (s *Sink) Reconnect(context.Context) error {
	if err := s.flush(); err != nil {
		return err
	}
	s.fileMu.Lock()
	old := s.file
	s.file = nil
	s.fileMu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close output file", "component", s.name, "error", err, "path", s.cfg.Path)
		}
	}
	return s.openFile(true)
}

func (s *Sink) SinkRecord(_ context.Context, rec model.SharedRecord) error {
	line, err := s.render(rec)
	if err != nil {
		return err
	}
	return s.enqueue(line)
}

func (s *Sink) SinkRecords(_ context.Context, recs []model.SharedRecord) error {
	lines := make([][]byte, 0, len(recs))
	for _, rec := range recs {
		line, err := s.render(rec)
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	return s.enqueue(lines...)
}

func (s *Sink) SinkString(_ context.Context, data string) error {
	return s.enqueue(terminate([]byte(data)))
}

func (s *Sink) SinkBytes(_ context.Context, data []byte) error {
	return s.enqueue(terminate(data))
}

func (s *Sink) SinkStrings(_ context.Context, batch []string) error {
	lines := make([][]byte, len(batch))
	for i, data := range batch {
		lines[i] = terminate([]byte(data))
	}
	return s.enqueue(lines...)
}

func (s *Sink) SinkBytesBatch(_ context.Context, batch [][]byte) error {
	lines := make([][]byte, len(batch))
	for i, data := range batch {
		lines[i] = terminate(data)
	}
	return s.enqueue(lines...)
}

func (s *Sink) render(rec model.SharedRecord) ([]byte, error) {
	text, err := model.Format(s.cfg.Format, rec)
	if err != nil {
		return nil, errors.SinkUvs(errors.UvsData, "format record", err)
	}
	return terminate([]byte(text)), nil
}

// terminate returns a copy of data ending in a newline.
func terminate(data []byte) []byte {
	out := make([]byte, len(data), len(data)+1)
	copy(out, data)
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out
}

func (s *Sink) enqueue(lines ...[]byte) error {
	s.bufferMu.Lock()
	if s.stopped {
		s.bufferMu.Unlock()
		return errors.SinkStopped(s.name)
	}
	s.buffer = append(s.buffer, lines...)
	shouldFlush := len(s.buffer) >= s.cfg.BufferSize
	s.bufferMu.Unlock()

	if shouldFlush {
		return s.flush()
	}
	return nil
}

func (s *Sink) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if err := s.flush(); err != nil {
				s.logger.Warn("periodic flush failed", "component", s.name, "error", err)
			}
		}
	}
}

// flush writes the buffered lines. Lines that could not be written go
// back to the front of the buffer so order survives a retry.
func (s *Sink) flush() error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	s.bufferMu.Lock()
	lines := s.buffer
	s.buffer = make([][]byte, 0, s.cfg.BufferSize)
	s.bufferMu.Unlock()

	if len(lines) == 0 {
		return nil
	}

	if s.file == nil {
		s.requeue(lines)
		s.flushErrors.Add(1)
		return errors.SinkUnavailable("flush "+s.cfg.Path, errors.ErrClosed)
	}

	for i, line := range lines {
		n, err := s.file.Write(line)
		s.bytesWritten.Add(int64(n))
		if err != nil {
			s.requeue(lines[i:])
			s.flushErrors.Add(1)
			s.logger.Error("failed to write to file",
				"component", s.name,
				"path", s.cfg.Path,
				"pending", len(lines)-i,
				"error", err)
			return errors.SinkUnavailable("write "+s.cfg.Path, err)
		}
		s.linesWritten.Add(1)
	}

	s.logger.Debug("flush completed",
		"component", s.name,
		"lines", len(lines),
		"total_written", s.linesWritten.Load())
	return nil
}

func (s *Sink) requeue(lines [][]byte) {
	s.bufferMu.Lock()
	s.buffer = append(lines, s.buffer...)
	s.bufferMu.Unlock()
}

// LinesWritten returns the number of lines that reached the file.
func (s *Sink) LinesWritten() int64 { return s.linesWritten.Load() }
