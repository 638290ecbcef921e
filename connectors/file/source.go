package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wp-labs/wp-open-api/connector/source"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

// SourceConfig configures a file source.
type SourceConfig struct {
	Path      string
	BatchSize int

	// Tail keeps the source waiting at end of file instead of returning EOF.
	Tail bool

	// CursorPath enables acknowledgement. Empty means the source always
	// starts at offset zero and Ack is unsupported.
	CursorPath string

	// PollInterval bounds how long a tailing Receive waits without a
	// filesystem notification before checking the file again.
	PollInterval time.Duration
}

// DefaultSourceConfig returns the defaults for path.
func DefaultSourceConfig(path string) SourceConfig {
	return SourceConfig{Path: path, BatchSize: 256, PollInterval: time.Second}
}

// Validate checks the configuration.
func (c SourceConfig) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SourceConfig", "Validate", "path is required")
	}
	if c.BatchSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate", "batch_size must be positive")
	}
	if c.Tail && c.PollInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SourceConfig", "Validate", "poll_interval must be positive")
	}
	return nil
}

// Source reads newline-delimited events from a file.
type Source struct {
	*source.Base

	cfg  SourceConfig
	tags model.SharedTags

	mu      sync.Mutex
	file    *os.File
	reader  *bufio.Reader
	offset  int64
	partial []byte
	cursor  *Cursor
	watcher *fsnotify.Watcher

	wake chan struct{}
}

var _ source.Source = (*Source)(nil)

// NewSource creates an unstarted file source.
func NewSource(id string, cfg SourceConfig, logger *slog.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		Base: source.NewBase(id, logger),
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}, nil
}

// WithTags attaches tags to every event.
func (s *Source) WithTags(tags model.SharedTags) *Source {
	s.tags = tags
	return s
}

func (s *Source) Caps() source.Caps {
	return source.Caps{Ack: s.cfg.CursorPath != "", Seek: true}
}

// Start opens the file at the stored cursor and, when tailing, begins
// watching it for writes.
func (s *Source) Start(ctx context.Context, ctrl *source.Subscription) error {
	if s.State() != source.StateCreated {
		return s.Base.Start(ctx, ctrl)
	}

	if err := s.open(); err != nil {
		return err
	}
	s.OnClose(s.release)
	s.OnSeek(s.Seek)

	if err := s.Base.Start(ctx, ctrl); err != nil {
		return err
	}
	s.Logger().Info("file source started",
		"component", s.Identifier(),
		"path", s.cfg.Path,
		"offset", s.Offset(),
		"tail", s.cfg.Tail)
	return nil
}

func (s *Source) open() error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return errors.SourceUvs(errors.UvsResource, "open "+s.cfg.Path, err)
	}

	var start int64
	var cursor *Cursor
	if s.cfg.CursorPath != "" {
		cursor, err = OpenCursor(s.cfg.CursorPath)
		if err != nil {
			f.Close()
			return err
		}
		start = cursor.Position()
	}

	if info, err := f.Stat(); err == nil && start > info.Size() {
		s.Logger().Warn("cursor beyond end of file, starting over",
			"component", s.Identifier(), "cursor", start, "size", info.Size())
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return errors.SourceUvs(errors.UvsResource, "seek "+s.cfg.Path, err)
	}

	var watcher *fsnotify.Watcher
	if s.cfg.Tail {
		watcher, err = fsnotify.NewWatcher()
		if err == nil {
			err = watcher.Add(s.cfg.Path)
		}
		if err != nil {
			if watcher != nil {
				watcher.Close()
			}
			f.Close()
			return errors.SourceUvs(errors.UvsSystem, "watch "+s.cfg.Path, err)
		}
		go s.watch(watcher)
	}

	s.mu.Lock()
	s.file = f
	s.reader = bufio.NewReaderSize(f, 64*1024)
	s.offset = start
	s.cursor = cursor
	s.watcher = watcher
	s.mu.Unlock()
	return nil
}

func (s *Source) release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
		s.watcher = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
		s.reader = nil
	}
	for _, err := range errs {
		if err != nil {
			return errors.WrapTransient(err, "FileSource", "Close", "release file")
		}
	}
	return nil
}

func (s *Source) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				s.notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.Logger().Warn("file watch error", "component", s.Identifier(), "error", err)
		}
	}
}

func (s *Source) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Offset returns the byte offset of the next unread line.
func (s *Source) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset - int64(len(s.partial))
}

func (s *Source) Receive(ctx context.Context) (source.Batch, error) {
	for {
		if err := s.Gate(ctx); err != nil {
			return nil, err
		}
		batch, err := s.readBatch()
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
		if !s.cfg.Tail {
			return nil, errors.EOF()
		}
		if err := s.checkTruncated(); err != nil {
			return nil, err
		}

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-s.wake:
		case <-timer.C:
		case <-s.Done():
			timer.Stop()
			return nil, errors.EOF()
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
		timer.Stop()
	}
}

// readBatch reads up to BatchSize complete lines. Without tail the last
// line is delivered even when it lacks a newline.
func (s *Source) readBatch() (source.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader == nil {
		return nil, errors.WrapFatal(errors.ErrNotStarted, "FileSource", "Receive", "check file")
	}

	batch := make(source.Batch, 0, s.cfg.BatchSize)
	for len(batch) < s.cfg.BatchSize {
		chunk, err := s.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			s.partial = append(s.partial, chunk...)
			s.offset += int64(len(chunk))
		}
		if err == io.EOF {
			if !s.cfg.Tail && len(s.partial) > 0 {
				batch = s.emit(batch)
			}
			break
		}
		if err != nil {
			return batch, errors.SupplierError("read "+s.cfg.Path, err)
		}
		batch = s.emit(batch)
	}
	return batch, nil
}

func (s *Source) emit(batch source.Batch) source.Batch {
	line := bytes.TrimRight(s.partial, "\r\n")
	s.partial = nil
	if len(line) == 0 {
		return batch
	}
	ev := source.NewEvent(uint64(s.offset), s.Identifier(), source.BytesPayload(line)).WithTags(s.tags)
	return append(batch, ev)
}

// checkTruncated restarts from the top when the file shrank below the
// read offset.
func (s *Source) checkTruncated() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	info, err := s.file.Stat()
	if err != nil {
		return errors.SupplierError("stat "+s.cfg.Path, err)
	}
	if info.Size() >= s.offset {
		return nil
	}
	s.Logger().Info("file truncated, reading from start",
		"component", s.Identifier(), "offset", s.offset, "size", info.Size())
	return s.seekLocked(0)
}

func (s *Source) seekLocked(off int64) error {
	if _, err := s.file.Seek(off, io.SeekStart); err != nil {
		return errors.SourceUvs(errors.UvsResource, "seek "+s.cfg.Path, err)
	}
	s.reader.Reset(s.file)
	s.offset = off
	s.partial = nil
	return nil
}

func offsetOf(v fmt.Stringer, method string) (int64, error) {
	off, ok := v.(source.Offset)
	if !ok || off < 0 {
		return 0, errors.SourceUvs(errors.UvsValidation,
			fmt.Sprintf("%s: want non-negative source.Offset, got %T(%v)", method, v, v), errors.ErrInvalidData)
	}
	return int64(off), nil
}

// Ack persists token, an event id of this source, as the resume offset.
func (s *Source) Ack(_ context.Context, token source.AckToken) error {
	if s.cfg.CursorPath == "" {
		return errors.SourceUnsupported("ack")
	}
	off, err := offsetOf(token, "ack")
	if err != nil {
		return err
	}

	s.mu.Lock()
	cursor, read := s.cursor, s.offset
	s.mu.Unlock()

	if cursor == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "FileSource", "Ack", "check cursor")
	}
	if off > read {
		return errors.SourceUvs(errors.UvsLogic,
			fmt.Sprintf("ack %d beyond read offset %d", off, read), errors.ErrInvalidData)
	}
	return cursor.Advance(off)
}

// Seek moves the read position to a byte offset. With a cursor the
// stored position moves too, backwards included.
func (s *Source) Seek(_ context.Context, pos source.Position) error {
	off, err := offsetOf(pos, "seek")
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return errors.WrapFatal(errors.ErrNotStarted, "FileSource", "Seek", "check file")
	}
	err = s.seekLocked(off)
	cursor := s.cursor
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if cursor != nil {
		if err := cursor.Reset(off); err != nil {
			return err
		}
	}
	s.Logger().Info("file source seek", "component", s.Identifier(), "offset", off)
	s.notify()
	return nil
}
