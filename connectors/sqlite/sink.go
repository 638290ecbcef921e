package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/wp-labs/wp-open-api/connector/sink"
	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/model"
)

const (
	kindRecord = "record"
	kindRaw    = "raw"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures a SQLite sink.
type Config struct {
	Path    string
	Table   string
	Columns []string
}

// Validate checks the configuration. Table and column names must be plain
// identifiers since they are spliced into DDL.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "path is required")
	}
	if !identifier.MatchString(c.Table) {
		return errors.WrapInvalid(fmt.Errorf("%w: table %q", errors.ErrInvalidConfig, c.Table),
			"Config", "Validate", "check table name")
	}
	seen := map[string]bool{"seq": true, "written_at": true, "kind": true, "body": true}
	for _, col := range c.Columns {
		if !identifier.MatchString(col) || seen[strings.ToLower(col)] {
			return errors.WrapInvalid(fmt.Errorf("%w: column %q", errors.ErrInvalidConfig, col),
				"Config", "Validate", "check column name")
		}
		seen[strings.ToLower(col)] = true
	}
	return nil
}

func (c Config) createSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, `CREATE TABLE IF NOT EXISTS %q (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		written_at TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL`, c.Table)
	for _, col := range c.Columns {
		fmt.Fprintf(&b, ",\n\t\t%q TEXT", col)
	}
	b.WriteString("\n\t)")
	return b.String()
}

func (c Config) insertSQL() string {
	cols := []string{"written_at", "kind", "body"}
	for _, col := range c.Columns {
		cols = append(cols, fmt.Sprintf("%q", col))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, c.Table, strings.Join(cols, ", "), marks)
}

type row struct {
	kind string
	body string
	cols []any
}

// Sink appends rows to one table.
type Sink struct {
	name   string
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	db      *sql.DB
	stopped bool
}

var _ sink.Sink = (*Sink)(nil)

// NewSink opens the database, creating the file and table when missing.
func NewSink(ctx context.Context, name string, cfg Config, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{name: name, cfg: cfg, logger: logger, now: time.Now}
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return errors.SinkUvs(errors.UvsResource, "create database directory", err)
	}
	db, err := sql.Open("sqlite", s.cfg.Path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return errors.SinkUvs(errors.UvsResource, "open "+s.cfg.Path, err)
	}
	// One writer keeps batch transactions strictly ordered.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, s.cfg.createSQL()); err != nil {
		_ = db.Close()
		return errors.StgCtrl("create table "+s.cfg.Table, err)
	}
	s.db = db
	s.logger.Debug("SQLite sink opened", "sink", s.name, "path", s.cfg.Path, "table", s.cfg.Table)
	return nil
}

// Path returns the database file.
func (s *Sink) Path() string { return s.cfg.Path }

func (s *Sink) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.StgCtrl("close "+s.cfg.Path, err)
	}
	return nil
}

// Reconnect closes and reopens the database.
func (s *Sink) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	return s.open(ctx)
}

func (s *Sink) SinkRecord(ctx context.Context, rec model.SharedRecord) error {
	return s.SinkRecords(ctx, []model.SharedRecord{rec})
}

func (s *Sink) SinkRecords(ctx context.Context, recs []model.SharedRecord) error {
	rows := make([]row, len(recs))
	for i, rec := range recs {
		body, err := model.Format(model.FmtJSON, rec)
		if err != nil {
			return errors.SinkUvs(errors.UvsData, "format record", err)
		}
		cols := make([]any, len(s.cfg.Columns))
		for j, col := range s.cfg.Columns {
			if v, ok := rec.Value(col); ok {
				cols[j] = v.String()
			}
		}
		rows[i] = row{kind: kindRecord, body: body, cols: cols}
	}
	return s.insert(ctx, rows)
}

func (s *Sink) SinkString(ctx context.Context, data string) error {
	return s.SinkStrings(ctx, []string{data})
}

func (s *Sink) SinkBytes(ctx context.Context, data []byte) error {
	return s.SinkStrings(ctx, []string{string(data)})
}

func (s *Sink) SinkStrings(ctx context.Context, batch []string) error {
	rows := make([]row, len(batch))
	for i, data := range batch {
		rows[i] = row{kind: kindRaw, body: data, cols: make([]any, len(s.cfg.Columns))}
	}
	return s.insert(ctx, rows)
}

func (s *Sink) SinkBytesBatch(ctx context.Context, batch [][]byte) error {
	strs := make([]string, len(batch))
	for i, data := range batch {
		strs[i] = string(data)
	}
	return s.SinkStrings(ctx, strs)
}

// insert writes rows in one transaction.
func (s *Sink) insert(ctx context.Context, rows []row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.SinkStopped(s.name)
	}
	if len(rows) == 0 {
		return nil
	}
	if s.db == nil {
		return errors.SinkUnavailable("database closed", errors.ErrNoConnection)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.SinkUnavailable("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.cfg.insertSQL())
	if err != nil {
		return errors.StgCtrl("prepare insert", err)
	}
	defer stmt.Close()

	at := s.now().UTC().Format(time.RFC3339Nano)
	for _, r := range rows {
		args := append([]any{at, r.kind, r.body}, r.cols...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.SinkUnavailable("insert into "+s.cfg.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.SinkUnavailable("commit", err)
	}
	return nil
}
