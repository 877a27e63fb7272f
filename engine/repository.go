package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/queue"
	"github.com/zhikook/chililog-server/repository"
	"github.com/zhikook/chililog-server/storage"
)

// Repository lifecycle events
const (
	eventStart = "start"
	eventStop  = "stop"
)

// Broker provisions and releases the queue resources of a repository
type Broker interface {
	Provision(ctx context.Context, cfg repository.Config) error
	Consumer(ctx context.Context, cfg repository.Config) (queue.Consumer, error)
	DeadLetters(cfg repository.Config) queue.DeadLetterSink
	Teardown(ctx context.Context, cfg repository.Config) error
}

// Settings tune the storage worker loop
type Settings struct {
	// PollTimeout bounds each receive so a stop request is noticed promptly
	PollTimeout time.Duration
	// RedeliveryDelay is how long the broker waits before redelivering a rolled back message
	RedeliveryDelay time.Duration
}

// DefaultSettings returns the worker loop defaults
func DefaultSettings() Settings {
	return Settings{
		PollTimeout:     500 * time.Millisecond,
		RedeliveryDelay: 5 * time.Second,
	}
}

// Dependencies are the collaborators shared by every repository
type Dependencies struct {
	Broker   Broker
	Store    storage.EntryStore
	Parsers  *parser.Factory
	Settings Settings
	Metrics  *Metrics
	Logger   *slog.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Parsers == nil {
		d.Parsers = parser.NewFactory()
	}
	defaults := DefaultSettings()
	if d.Settings.PollTimeout <= 0 {
		d.Settings.PollTimeout = defaults.PollTimeout
	}
	if d.Settings.RedeliveryDelay <= 0 {
		d.Settings.RedeliveryDelay = defaults.RedeliveryDelay
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d
}

// Repository runs one configured log stream. It is Offline until Start
// succeeds and Online until Stop.
type Repository struct {
	mu      sync.Mutex
	config  repository.Config
	deps    Dependencies
	machine *fsm.FSM
	workers []*StorageWorker
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// NewRepository creates an Offline repository
func NewRepository(cfg repository.Config, deps Dependencies) *Repository {
	deps = deps.withDefaults()
	r := &Repository{
		config: cfg.Clone(),
		deps:   deps,
		logger: deps.Logger.With("component", "repository", "repository", cfg.Name),
	}
	r.machine = fsm.NewFSM(
		string(repository.StatusOffline),
		fsm.Events{
			{Name: eventStart, Src: []string{string(repository.StatusOffline)}, Dst: string(repository.StatusOnline)},
			{Name: eventStop, Src: []string{string(repository.StatusOnline)}, Dst: string(repository.StatusOffline)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				r.logger.Info("Repository state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return r
}

// Name returns the repository name
func (r *Repository) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Name
}

// Config returns a copy of the held config
func (r *Repository) Config() repository.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config.Clone()
}

// Status returns Online or Offline
func (r *Repository) Status() repository.Status {
	return repository.Status(r.machine.Current())
}

// SetConfig replaces the config. Only allowed while Offline; it applies on the next Start.
func (r *Repository) SetConfig(cfg repository.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status() == repository.StatusOnline {
		return errors.WrapInvalid(errors.ErrRepositoryOnline, "Repository", "SetConfig", "replace config of "+r.config.Name)
	}
	if cfg.Name != r.config.Name {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Repository", "SetConfig",
			fmt.Sprintf("rename %s to %s", r.config.Name, cfg.Name))
	}
	r.config = cfg.Clone()
	return nil
}

// Start validates the config, builds one parser chain per worker, provisions
// the write queue and launches WriteQueueWorkerCount storage workers.
func (r *Repository) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.start(ctx)
	r.deps.Metrics.recordTransition(r.config.Name, eventStart, err)
	return err
}

func (r *Repository) start(ctx context.Context) error {
	if r.Status() == repository.StatusOnline {
		return errors.WrapInvalid(errors.ErrRepositoryOnline, "Repository", "Start", "start "+r.config.Name)
	}

	cfg := r.config.Clone()
	if err := cfg.Validate(); err != nil {
		return err
	}

	chains := make([]*parser.Chain, cfg.WriteQueueWorkerCount)
	for i := range chains {
		chain, err := parser.NewChain(r.deps.Parsers, cfg)
		if err != nil {
			return err
		}
		chains[i] = chain
	}

	if err := r.deps.Broker.Provision(ctx, cfg); err != nil {
		if errors.IsInvalid(err) {
			return errors.WrapInvalid(err, "Repository", "Start", "provision write queue")
		}
		return errors.WrapTransient(err, "Repository", "Start", "provision write queue")
	}

	// Workers outlive the caller's context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	deadLetters := r.deps.Broker.DeadLetters(cfg)

	workers := make([]*StorageWorker, 0, len(chains))
	for i, chain := range chains {
		consumer, err := r.deps.Broker.Consumer(ctx, cfg)
		if err != nil {
			for _, w := range workers {
				_ = w.consumer.Close()
			}
			cancel()
			r.teardown(ctx, cfg)
			return errors.WrapTransient(err, "Repository", "Start", "open consumer")
		}
		name := fmt.Sprintf("%s-worker-%d", cfg.Name, i+1)
		workers = append(workers, newStorageWorker(name, cfg, chain, consumer, deadLetters, r.deps))
	}

	for _, w := range workers {
		w.start(runCtx)
	}
	r.workers = workers
	r.cancel = cancel

	if err := r.machine.Event(context.WithoutCancel(ctx), eventStart); err != nil {
		return errors.WrapFatal(err, "Repository", "Start", "transition to online")
	}
	r.logger.Info("Repository started", "workers", len(workers), "parsers", len(cfg.Parsers))
	return nil
}

// Stop signals every worker, waits for them to exit, releases the queue
// consumer and goes Offline. ctx bounds the wait; workers still busy when it
// expires are cancelled.
func (r *Repository) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.stop(ctx)
	r.deps.Metrics.recordTransition(r.config.Name, eventStop, err)
	return err
}

func (r *Repository) stop(ctx context.Context) error {
	if r.Status() == repository.StatusOffline {
		return errors.WrapInvalid(errors.ErrRepositoryOffline, "Repository", "Stop", "stop "+r.config.Name)
	}

	for _, w := range r.workers {
		w.Stop()
	}
	for _, w := range r.workers {
		if err := w.Wait(ctx); err != nil {
			r.logger.Warn("Storage worker did not stop in time, cancelling", "worker", w.Name())
			r.cancel()
			<-w.done
		}
	}
	r.cancel()

	r.teardown(ctx, r.config)
	r.workers = nil
	r.cancel = nil

	if err := r.machine.Event(context.WithoutCancel(ctx), eventStop); err != nil {
		return errors.WrapFatal(err, "Repository", "Stop", "transition to offline")
	}
	r.logger.Info("Repository stopped")
	return nil
}

func (r *Repository) teardown(ctx context.Context, cfg repository.Config) {
	if err := r.deps.Broker.Teardown(context.WithoutCancel(ctx), cfg); err != nil {
		r.logger.Warn("Releasing queue resources failed", "error", err)
	}
}

// Workers returns a liveness snapshot of the current storage workers
func (r *Repository) Workers() []WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(r.workers))
	for _, w := range r.workers {
		infos = append(infos, w.Info())
	}
	return infos
}

// RunningWorkers counts workers whose loop is active
func (r *Repository) RunningWorkers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, w := range r.workers {
		if w.Running() {
			n++
		}
	}
	return n
}
