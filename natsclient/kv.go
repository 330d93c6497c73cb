package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/tenantsync/errors"
	"github.com/c360/tenantsync/pkg/retry"
)

// KVOptions configures a KVStore wrapper.
type KVOptions struct {
	Timeout     time.Duration
	RetryConfig retry.Config
}

// DefaultKVOptions returns sensible KV operation defaults.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout: 5 * time.Second,
		RetryConfig: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			AddJitter:    true,
		},
	}
}

// KVStore wraps a JetStream KeyValue bucket with timeouts and conflict
// retry.
type KVStore struct {
	bucket jetstream.KeyValue
	opts   KVOptions
}

// EnsureBucket creates or opens a KV bucket and returns its wrapper.
func (c *Client) EnsureBucket(ctx context.Context, cfg jetstream.KeyValueConfig, opts ...func(*KVOptions)) (*KVStore, error) {
	js := c.JetStream()
	if js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "Client", "EnsureBucket", "JetStream check")
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureBucket",
			fmt.Sprintf("create bucket %s", cfg.Bucket))
	}

	return c.NewKVStore(bucket, opts...), nil
}

// NewKVStore wraps an existing bucket.
func (c *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	o := DefaultKVOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &KVStore{bucket: bucket, opts: o}
}

// KVEntry is one key/value pair with its revision.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.opts.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, kv.opts.Timeout)
}

// Get retrieves a key. Returns errors.ErrKeyNotFound when absent.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFound(err) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", fmt.Sprintf("get %s", key))
	}

	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put writes a key unconditionally and returns the new revision.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Put(ctx, key, value)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", fmt.Sprintf("put %s", key))
	}
	return rev, nil
}

// Update writes a key only if it is still at the given revision.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if IsKVConflict(err) {
			return 0, errors.ErrRevisionConflict
		}
		return 0, errors.WrapTransient(err, "KVStore", "Update", fmt.Sprintf("update %s", key))
	}
	return rev, nil
}

// UpdateWithRetry applies a read-modify-write mutation, retrying on revision
// conflicts with backoff. The modify function receives the current value (nil
// when the key is absent) and returns the new value.
func (kv *KVStore) UpdateWithRetry(ctx context.Context, key string, modify func(current []byte) ([]byte, error)) error {
	return retry.Do(ctx, kv.opts.RetryConfig, func() error {
		entry, err := kv.Get(ctx, key)
		if err != nil && !stderrors.Is(err, errors.ErrKeyNotFound) {
			return err
		}

		var current []byte
		var revision uint64
		if entry != nil {
			current = entry.Value
			revision = entry.Revision
		}

		next, err := modify(current)
		if err != nil {
			return retry.NonRetryable(err)
		}

		if entry == nil {
			opCtx, cancel := kv.applyTimeout(ctx)
			defer cancel()
			if _, err := kv.bucket.Create(opCtx, key, next); err != nil {
				if IsKVConflict(err) {
					return errors.ErrRevisionConflict
				}
				return errors.WrapTransient(err, "KVStore", "UpdateWithRetry", fmt.Sprintf("create %s", key))
			}
			return nil
		}

		_, err = kv.Update(ctx, key, next, revision)
		return err
	})
}

// Delete removes a key.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	if err := kv.bucket.Delete(ctx, key); err != nil {
		return errors.WrapTransient(err, "KVStore", "Delete", fmt.Sprintf("delete %s", key))
	}
	return nil
}

// Keys lists all keys matching a subject-style filter (e.g. "t.t1.d.ds1.>").
// One bucket scan regardless of result size.
func (kv *KVStore) Keys(ctx context.Context, filter string) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	lister, err := kv.bucket.ListKeysFiltered(ctx, filter)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "Keys", fmt.Sprintf("list %s", filter))
	}

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	return keys, nil
}

// List retrieves all entries matching a subject-style pattern in one
// streaming pass (a KV watch replaying current values), regardless of result
// size.
func (kv *KVStore) List(ctx context.Context, pattern string) ([]*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	watcher, err := kv.bucket.Watch(ctx, pattern, jetstream.IgnoreDeletes())
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "List", fmt.Sprintf("watch %s", pattern))
	}
	defer func() { _ = watcher.Stop() }()

	var entries []*KVEntry
	for {
		select {
		case <-ctx.Done():
			return nil, errors.WrapTransient(ctx.Err(), "KVStore", "List", fmt.Sprintf("watch %s", pattern))
		case update := <-watcher.Updates():
			// A nil update marks the end of the initial replay.
			if update == nil {
				return entries, nil
			}
			entries = append(entries, &KVEntry{
				Key:      update.Key(),
				Value:    update.Value(),
				Revision: update.Revision(),
			})
		}
	}
}

// IsKVNotFound reports whether an error indicates a missing key.
func IsKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, errors.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}

// IsKVConflict reports whether an error indicates a revision conflict or an
// existing key (concurrent writer won).
func IsKVConflict(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyExists) || stderrors.Is(err, errors.ErrRevisionConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") ||
		strings.Contains(msg, "10071") ||
		strings.Contains(msg, "key exists") ||
		strings.Contains(msg, "10058")
}
