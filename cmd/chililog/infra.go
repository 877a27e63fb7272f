package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/zhikook/chililog-server/config"
	"github.com/zhikook/chililog-server/natsclient"
	"github.com/zhikook/chililog-server/pkg/retry"
	"github.com/zhikook/chililog-server/pkg/tlsutil"
	"github.com/zhikook/chililog-server/storage"
	"github.com/zhikook/chililog-server/storage/kvstore"
	"github.com/zhikook/chililog-server/storage/sqlstore"
)

// connectNATS creates a client from cfg and connects with retries
func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger, onHealth func(bool)) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithClientName(cfg.NATS.ClientName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.NATS.TLS)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}
	if onHealth != nil {
		opts = append(opts, natsclient.WithHealthChangeCallback(onHealth))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.ConnectWithRetry(ctx, retry.Persistent()); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	logger.Info("Connected to NATS", "url", client.URL())
	return client, nil
}

// openBucket ensures a KV bucket exists and wraps it
func openBucket(ctx context.Context, client *natsclient.Client, cfg *config.Config, name string, logger *slog.Logger) (*natsclient.KVStore, error) {
	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   name,
		Storage:  jetstream.FileStorage,
		Replicas: cfg.NATS.Replicas,
		History:  5,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return natsclient.NewKVStore(bucket, logger), nil
}

// openStore opens the configured entry store behind a bounded pool
func openStore(client *natsclient.Client, cfg *config.Config, logger *slog.Logger) (*storage.Bounded, error) {
	var store storage.EntryStore
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := sqlstore.Open(cfg.Storage.SQLitePath, cfg.Storage.PoolSize, logger)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		kvCfg := kvstore.DefaultConfig()
		kvCfg.Replicas = cfg.NATS.Replicas
		store = kvstore.New(client, kvCfg, logger)
	}
	logger.Info("Entry store opened", "backend", cfg.Storage.Backend, "pool_size", cfg.Storage.PoolSize)
	return storage.NewBounded(store, cfg.Storage.PoolSize), nil
}
