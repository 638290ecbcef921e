package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/wp-labs/wp-open-api/errors"
)

// Cursor persists the acknowledged byte offset of a file source. Writes go
// to a temporary file that is renamed over the cursor.
type Cursor struct {
	path string

	mu  sync.Mutex
	pos int64
}

// OpenCursor loads the cursor at path. A missing file is position zero.
func OpenCursor(path string) (*Cursor, error) {
	c := &Cursor{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return c, nil
	case err != nil:
		return nil, errors.WrapTransient(err, "Cursor", "Open", "read cursor")
	}
	pos, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || pos < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: corrupt cursor %s", errors.ErrInvalidData, path),
			"Cursor", "Open", "parse cursor")
	}
	c.pos = pos
	return c, nil
}

// Path returns the cursor file location.
func (c *Cursor) Path() string { return c.path }

// Position returns the last stored offset.
func (c *Cursor) Position() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Advance stores pos if it is ahead of the current position.
func (c *Cursor) Advance(pos int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos <= c.pos {
		return nil
	}
	return c.write(pos)
}

// Reset stores pos unconditionally.
func (c *Cursor) Reset(pos int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(pos)
}

func (c *Cursor) write(pos int64) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.WrapFatal(err, "Cursor", "write", "create cursor directory")
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(pos, 10)+"\n"), 0o644); err != nil {
		return errors.WrapTransient(err, "Cursor", "write", "write cursor")
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return errors.WrapTransient(err, "Cursor", "write", "replace cursor")
	}
	c.pos = pos
	return nil
}
