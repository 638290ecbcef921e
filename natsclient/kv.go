package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/wp-labs/wp-open-api/errors"
	"github.com/wp-labs/wp-open-api/pkg/retry"
)

// KV errors
var (
	ErrKVKeyNotFound        = stderrors.New("kv: key not found")
	ErrKVKeyExists          = stderrors.New("kv: key already exists")
	ErrKVRevisionMismatch   = stderrors.New("kv: revision mismatch (concurrent update)")
	ErrKVMaxRetriesExceeded = stderrors.New("kv: max retries exceeded")
)

// KVEntry wraps a KV entry with its revision for CAS operations
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // CAS retry attempts after the first
	RetryDelay    time.Duration // Initial delay between retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // Per-operation timeout, zero for none
	MaxValueSize  int
}

// DefaultKVOptions returns the options used by checkpoint stores.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    10,
		RetryDelay:    10 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  1024 * 1024,
	}
}

// KVStore provides KV operations with compare-and-set support.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore creates a new KV store over bucket
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  c.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get retrieves a value with its revision
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, ErrKVKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "get "+key)
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes key without a revision check
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
	}
	return rev, nil
}

// Update performs a CAS update against revision. Revision zero creates.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	var (
		rev uint64
		err error
	)
	if revision == 0 {
		rev, err = kv.bucket.Create(ctx, key, value)
	} else {
		rev, err = kv.bucket.Update(ctx, key, value, revision)
	}
	if err != nil {
		if IsKVConflictError(err) {
			return 0, ErrKVRevisionMismatch
		}
		return 0, errors.WrapTransient(err, "KVStore", "Update", "update "+key)
	}
	return rev, nil
}

// UpdateWithRetry reads key, applies updateFn and writes the result with
// CAS, retrying on conflicts. A missing key reads as nil. If updateFn
// returns the current slice unchanged (same length and content) nothing is
// written.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error {
	cfg := retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
		Retryable:    IsKVConflictError,
	}

	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		attempt++

		var (
			current  []byte
			revision uint64
		)
		entry, err := kv.Get(ctx, key)
		switch {
		case err == nil:
			current, revision = entry.Value, entry.Revision
		case !stderrors.Is(err, ErrKVKeyNotFound):
			return retry.NonRetryable(err)
		}

		next, err := updateFn(current)
		if err != nil {
			return retry.NonRetryable(err)
		}
		if revision != 0 && string(next) == string(current) {
			return nil
		}
		if kv.options.MaxValueSize > 0 && len(next) > kv.options.MaxValueSize {
			return retry.NonRetryable(errors.WrapInvalid(
				fmt.Errorf("value size %d exceeds maximum %d", len(next), kv.options.MaxValueSize),
				"KVStore", "UpdateWithRetry", "validate value"))
		}

		if _, err := kv.Update(ctx, key, next, revision); err != nil {
			if IsKVConflictError(err) {
				kv.logger.Debug("KV conflict, retrying", "key", key, "attempt", attempt)
			}
			return err
		}
		return nil
	})

	if err != nil && IsKVConflictError(err) {
		return ErrKVMaxRetriesExceeded
	}
	return err
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	return stderrors.Is(err, ErrKVKeyNotFound) || stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		stderrors.Is(err, jetstream.ErrKeyDeleted)
}

// IsKVConflictError checks if error indicates a conflict (key exists or wrong revision)
func IsKVConflictError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrKVRevisionMismatch) || stderrors.Is(err, ErrKVKeyExists) ||
		stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return strings.Contains(err.Error(), "wrong last sequence")
}

// Checkpoints persists per-consumer stream positions in a KV bucket. Saves
// only move a position forward, so late acks from a previous run cannot
// rewind it.
type Checkpoints struct {
	kv *KVStore
}

// NewCheckpoints opens (or creates) bucket and returns a store over it.
func (c *Client) NewCheckpoints(ctx context.Context, bucket string) (*Checkpoints, error) {
	kvb, err := c.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "source checkpoints",
		History:     1,
	})
	if err != nil {
		return nil, err
	}
	return &Checkpoints{kv: c.NewKVStore(kvb)}, nil
}

// Load returns the saved position for key and whether one exists.
func (cp *Checkpoints) Load(ctx context.Context, key string) (uint64, bool, error) {
	entry, err := cp.kv.Get(ctx, key)
	if stderrors.Is(err, ErrKVKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	pos, err := strconv.ParseUint(string(entry.Value), 10, 64)
	if err != nil {
		return 0, false, errors.WrapInvalid(err, "Checkpoints", "Load", "parse position for "+key)
	}
	return pos, true, nil
}

// Save records pos for key unless a later position is already stored.
func (cp *Checkpoints) Save(ctx context.Context, key string, pos uint64) error {
	return cp.kv.UpdateWithRetry(ctx, key, func(current []byte) ([]byte, error) {
		if len(current) > 0 {
			prev, err := strconv.ParseUint(string(current), 10, 64)
			if err == nil && prev >= pos {
				return current, nil
			}
		}
		return []byte(strconv.FormatUint(pos, 10)), nil
	})
}

// Reset overwrites the position for key. Seeking backwards needs it.
func (cp *Checkpoints) Reset(ctx context.Context, key string, pos uint64) error {
	_, err := cp.kv.Put(ctx, key, []byte(strconv.FormatUint(pos, 10)))
	return err
}
