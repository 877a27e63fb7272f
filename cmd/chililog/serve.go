package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhikook/chililog-server/auth"
	"github.com/zhikook/chililog-server/engine"
	"github.com/zhikook/chililog-server/health"
	"github.com/zhikook/chililog-server/metric"
	"github.com/zhikook/chililog-server/natsclient"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/parser/syslog"
	"github.com/zhikook/chililog-server/pkg/tlsutil"
	"github.com/zhikook/chililog-server/pubsub"
	"github.com/zhikook/chililog-server/queue"
	"github.com/zhikook/chililog-server/repository"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.config, a.logger
	logger.Info("Starting chililog", "version", Version, "build_time", BuildTime, "config_path", a.configPath)

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	client, err := connectNATS(ctx, cfg, logger, monitor.ConnectionCallback("nats"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.NATS.DrainTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("Closing NATS connection failed", "error", err)
		}
	}()

	broker := queue.NewBroker(client, cfg.QueueSettings(), logger)
	defer broker.Close()

	store, err := openStore(client, cfg, logger)
	if err != nil {
		monitor.Update("store", health.FromError("store", err))
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Closing entry store failed", "error", err)
		}
	}()
	monitor.UpdateHealthy("store", "Backend "+cfg.Storage.Backend)

	source, err := a.repositorySource(ctx, client)
	if err != nil {
		return err
	}
	if err := seedIfEmpty(ctx, source, cfg.Repositories.SeedFile, logger); err != nil {
		return err
	}

	parsers := parser.NewFactory()
	if err := syslog.Register(parsers); err != nil {
		return fmt.Errorf("register syslog parser: %w", err)
	}

	engineMetrics, err := engine.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register engine metrics: %w", err)
	}
	manager := engine.NewManager(source, engine.Dependencies{
		Broker:   broker,
		Store:    store,
		Parsers:  parsers,
		Settings: cfg.EngineSettings(),
		Metrics:  engineMetrics,
		Logger:   logger,
	})
	if err := manager.LoadRepositories(ctx); err != nil {
		return err
	}
	if err := manager.Start(ctx, true); err != nil {
		// failed repositories stay Offline and show as degraded
		logger.Error("Some repositories did not start", "error", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := manager.Stop(stopCtx); err != nil {
			logger.Error("Stopping repositories failed", "error", err)
		}
	}()

	if cfg.Repositories.Watch {
		changes, err := source.Watch(ctx)
		if err != nil {
			return err
		}
		go manager.Follow(ctx, changes)
	}

	authenticator, err := a.authenticator(ctx, client, manager)
	if err != nil {
		return err
	}

	pubsubMetrics, err := pubsub.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("register pubsub metrics: %w", err)
	}
	gateway := pubsub.NewGateway(pubsub.GatewayConfig{
		PublishPath:   cfg.HTTP.PublishPath,
		WebSocketPath: cfg.HTTP.WebSocketPath,
		Health:        health.NewChecker(appName, monitor, manager, logger),
		Metrics:       registry.Handler(),
	}, authenticator, broker, pubsubMetrics, logger)

	tlsConfig, err := tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddress,
		Handler:           gateway,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return runHTTP(ctx, server, cfg.HTTP.ShutdownTimeout, gateway, monitor, logger)
}

func (a *app) repositorySource(ctx context.Context, client *natsclient.Client) (*repository.KVSource, error) {
	kv, err := openBucket(ctx, client, a.config, a.config.Repositories.Bucket, a.logger)
	if err != nil {
		return nil, err
	}
	return repository.NewKVSource(kv, a.logger), nil
}

func (a *app) userStore(ctx context.Context, client *natsclient.Client) (*auth.KVUserStore, error) {
	kv, err := openBucket(ctx, client, a.config, a.config.Auth.UsersBucket, a.logger)
	if err != nil {
		return nil, err
	}
	return auth.NewKVUserStore(kv, a.logger), nil
}

func (a *app) tokenCodec() (*auth.TokenCodec, error) {
	if a.config.Auth.TokenSecret == "" {
		return nil, nil
	}
	return auth.NewTokenCodec(a.config.Auth.TokenSecret)
}

func (a *app) authenticator(ctx context.Context, client *natsclient.Client, repos auth.RepositoryCatalog) (*auth.Authenticator, error) {
	users, err := a.userStore(ctx, client)
	if err != nil {
		return nil, err
	}
	tokens, err := a.tokenCodec()
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(users, repos, tokens, a.config.Auth.CacheTTL, a.logger), nil
}

// seedIfEmpty loads the seed file into an empty repositories bucket
func seedIfEmpty(ctx context.Context, source *repository.KVSource, seedFile string, logger *slog.Logger) error {
	if seedFile == "" {
		return nil
	}
	existing, err := source.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Debug("Repositories bucket already populated, seed file ignored", "seed_file", seedFile)
		return nil
	}
	n, err := source.Seed(ctx, repository.NewFileSource(seedFile))
	if err != nil {
		return err
	}
	logger.Info("Repositories seeded", "seed_file", seedFile, "count", n)
	return nil
}

// runHTTP serves the gateway until ctx ends, then shuts down within timeout.
// The listener uses TLS when server.TLSConfig is set.
func runHTTP(ctx context.Context, server *http.Server, timeout time.Duration, gateway *pubsub.Gateway, monitor *health.Monitor, logger *slog.Logger) error {
	secure := server.TLSConfig != nil
	errCh := make(chan error, 1)
	go func() {
		if secure {
			errCh <- server.ListenAndServeTLS("", "")
			return
		}
		errCh <- server.ListenAndServe()
	}()
	monitor.UpdateHealthy("http", "Listening")
	logger.Info("chililog started", "listen_address", server.Addr, "tls", secure)

	select {
	case err := <-errCh:
		monitor.Update("http", health.FromError("http", err))
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := gateway.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close websocket connections: %w", err))
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	logger.Info("chililog shutdown complete")
	return stderrors.Join(errs...)
}
