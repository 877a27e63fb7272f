package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/natsclient"
)

// DefaultBucket is the KV bucket holding repository configs
const DefaultBucket = "chililog_repositories"

// Source lists persisted repository configs
type Source interface {
	List(ctx context.Context) ([]Config, error)
}

// InspectingSource is a Source whose records can exist yet fail to decode or
// validate. Inspect names those records next to the usable configs.
type InspectingSource interface {
	Source
	Inspect(ctx context.Context) (configs []Config, rejected []string, err error)
}

// fileDocument is the layout of a repositories YAML file
type fileDocument struct {
	Repositories []Config `yaml:"repositories"`
}

// FileSource reads repository configs from a YAML file
type FileSource struct {
	path string
}

// NewFileSource returns a source backed by path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// List reads and validates every config in the file
func (s *FileSource) List(_ context.Context) ([]Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "FileSource", "List", "read repositories file")
	}
	return decodeYAML(data)
}

func decodeYAML(data []byte) ([]Config, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "FileSource", "List", "decode repositories yaml")
	}

	seen := make(map[string]struct{}, len(doc.Repositories))
	for _, cfg := range doc.Repositories {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: duplicate repository %q", errors.ErrInvalidConfig, cfg.Name),
				"FileSource", "List", "check names")
		}
		seen[cfg.Name] = struct{}{}
	}
	return doc.Repositories, nil
}

// KVSource stores repository configs as JSON in a NATS KV bucket, one key per repository
type KVSource struct {
	store  *natsclient.KVStore
	logger *slog.Logger
}

// NewKVSource wraps a KV store
func NewKVSource(store *natsclient.KVStore, logger *slog.Logger) *KVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &KVSource{store: store, logger: logger.With("component", "repository_source")}
}

// List returns every stored config sorted by name. Invalid records are logged and skipped.
func (s *KVSource) List(ctx context.Context) ([]Config, error) {
	configs, _, err := s.Inspect(ctx)
	return configs, err
}

// Inspect returns every usable config sorted by name, plus the keys of
// records that failed to decode or validate
func (s *KVSource) Inspect(ctx context.Context) ([]Config, []string, error) {
	keys, err := s.store.Keys(ctx)
	if err != nil {
		return nil, nil, errors.WrapTransient(err, "KVSource", "Inspect", "list keys")
	}
	sort.Strings(keys)

	configs := make([]Config, 0, len(keys))
	var rejected []string
	for _, key := range keys {
		cfg, err := s.Get(ctx, key)
		switch {
		case err == nil:
			configs = append(configs, cfg)
		case stderrors.Is(err, errors.ErrRepositoryNotFound):
			// deleted after Keys
		case errors.IsInvalid(err):
			s.logger.Warn("Skipping invalid repository config", "key", key, "error", err)
			rejected = append(rejected, key)
		default:
			return nil, nil, err
		}
	}
	return configs, rejected, nil
}

// Get reads one config
func (s *KVSource) Get(ctx context.Context, name string) (Config, error) {
	kvEntry, err := s.store.Get(ctx, name)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return Config{}, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrRepositoryNotFound, name),
				"KVSource", "Get", "read config")
		}
		return Config{}, errors.WrapTransient(err, "KVSource", "Get", "read config")
	}

	var cfg Config
	if err := json.Unmarshal(kvEntry.Value, &cfg); err != nil {
		return Config{}, errors.WrapInvalid(err, "KVSource", "Get", "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save validates and writes cfg under its name
func (s *KVSource) Save(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.WrapInvalid(err, "KVSource", "Save", "encode config")
	}
	if _, err := s.store.Put(ctx, cfg.Name, data); err != nil {
		return errors.WrapTransient(err, "KVSource", "Save", "write config")
	}
	return nil
}

// Delete removes the config for name
func (s *KVSource) Delete(ctx context.Context, name string) error {
	if err := s.store.Delete(ctx, name); err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "KVSource", "Delete", "remove config")
	}
	return nil
}

// Watch returns the names of repositories whose config is written or
// deleted after the call. The channel is closed when ctx ends.
func (s *KVSource) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := s.store.Watch(ctx, ">")
	if err != nil {
		return nil, errors.WrapTransient(err, "KVSource", "Watch", "watch configs")
	}

	changes := make(chan string, 16)
	go func() {
		defer close(changes)
		defer func() { _ = watcher.Stop() }()

		initial := true
		for {
			select {
			case <-ctx.Done():
				return
			case kvEntry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil marks the end of the values present when watching began
				if kvEntry == nil {
					initial = false
					continue
				}
				if initial {
					continue
				}
				select {
				case changes <- kvEntry.Key():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return changes, nil
}

// Seed copies every config from src into the bucket, replacing existing records
func (s *KVSource) Seed(ctx context.Context, src Source) (int, error) {
	configs, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, cfg := range configs {
		if err := s.Save(ctx, cfg); err != nil {
			return 0, err
		}
		s.logger.Info("Seeded repository config", "repository", cfg.Name)
	}
	return len(configs), nil
}
