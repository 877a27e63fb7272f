// Package kvstore stores entries in NATS KV, one bucket per repository.
package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/natsclient"
	"github.com/zhikook/chililog-server/repository"
)

// Config tunes the buckets created by the store
type Config struct {
	Storage  jetstream.StorageType
	Replicas int
	MaxBytes int64 // per bucket, -1 for unlimited
}

// DefaultConfig returns file-backed single-replica buckets without a size cap
func DefaultConfig() Config {
	return Config{Storage: jetstream.FileStorage, Replicas: 1, MaxBytes: -1}
}

// Store implements storage.EntryStore on NATS KV
type Store struct {
	client *natsclient.Client
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[string]*natsclient.KVStore
}

// New returns a store creating buckets on first use
func New(client *natsclient.Client, config Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Replicas < 1 {
		config.Replicas = 1
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = -1
	}
	return &Store{
		client:  client,
		config:  config,
		logger:  logger.With("component", "kv_entry_store"),
		buckets: make(map[string]*natsclient.KVStore),
	}
}

func (s *Store) bucket(ctx context.Context, repo string) (*natsclient.KVStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kv, ok := s.buckets[repo]; ok {
		return kv, nil
	}

	bucket, err := s.client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      repository.EntriesBucket(repo),
		Description: "entries of repository " + repo,
		History:     1,
		Storage:     s.config.Storage,
		Replicas:    s.config.Replicas,
		MaxBytes:    s.config.MaxBytes,
	})
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"KVStore", "bucket", "ensure bucket for "+repo)
	}

	kv := natsclient.NewKVStore(bucket, s.logger)
	s.buckets[repo] = kv
	s.logger.Debug("Opened entry bucket", "repository", repo, "bucket", bucket.Bucket())
	return kv, nil
}

// Insert stores e as JSON under e.ID
func (s *Store) Insert(ctx context.Context, repo string, e *entry.Entry) error {
	if e.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("entry has no id"), "KVStore", "Insert", "check entry")
	}
	kv, err := s.bucket(ctx, repo)
	if err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "KVStore", "Insert", "encode entry")
	}
	if _, err := kv.Create(ctx, e.ID, data); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"KVStore", "Insert", "put entry")
	}
	return nil
}

// Get reads the entry stored under id
func (s *Store) Get(ctx context.Context, repo, id string) (*entry.Entry, error) {
	kv, err := s.bucket(ctx, repo)
	if err != nil {
		return nil, err
	}

	record, err := kv.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s/%s", errors.ErrEntryNotFound, repo, id)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", "read entry")
	}

	var e entry.Entry
	if err := json.Unmarshal(record.Value, &e); err != nil {
		return nil, errors.WrapInvalid(err, "KVStore", "Get", "decode entry")
	}
	return &e, nil
}

// Count returns the number of live keys in the repository bucket
func (s *Store) Count(ctx context.Context, repo string) (int64, error) {
	kv, err := s.bucket(ctx, repo)
	if err != nil {
		return 0, err
	}
	status, err := kv.Bucket().Status(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Count", "read bucket status")
	}
	return int64(status.Values()), nil
}

// Close forgets the cached buckets. The NATS connection belongs to the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	s.buckets = make(map[string]*natsclient.KVStore)
	s.mu.Unlock()
	return nil
}
