package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/parser"
	"github.com/zhikook/chililog-server/queue"
	"github.com/zhikook/chililog-server/repository"
	"github.com/zhikook/chililog-server/storage"
)

// WorkerState is the lifecycle state of a storage worker
type WorkerState int32

// Storage worker states
const (
	WorkerCreated WorkerState = iota
	WorkerRunning
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerCreated:
		return "created"
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// WorkerInfo is a snapshot of one storage worker
type WorkerInfo struct {
	Name         string `json:"name"`
	State        string `json:"state"`
	Running      bool   `json:"running"`
	Crashed      bool   `json:"crashed"`
	Processed    uint64 `json:"processed"`
	DeadLettered uint64 `json:"dead_lettered"`
	Redelivered  uint64 `json:"redelivered"`
}

// StorageWorker drains one consumer session of a repository's write queue
type StorageWorker struct {
	name        string
	config      repository.Config
	chain       *parser.Chain
	consumer    queue.Consumer
	deadLetters queue.DeadLetterSink
	store       storage.EntryStore
	settings    Settings
	metrics     *Metrics
	logger      *slog.Logger

	now   func() time.Time
	newID func() string

	state    atomic.Int32
	crashed  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	processed    atomic.Uint64
	deadLettered atomic.Uint64
	redelivered  atomic.Uint64
}

func newStorageWorker(
	name string,
	cfg repository.Config,
	chain *parser.Chain,
	consumer queue.Consumer,
	deadLetters queue.DeadLetterSink,
	deps Dependencies,
) *StorageWorker {
	return &StorageWorker{
		name:        name,
		config:      cfg,
		chain:       chain,
		consumer:    consumer,
		deadLetters: deadLetters,
		store:       deps.Store,
		settings:    deps.Settings,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With("component", "storage_worker", "repository", cfg.Name, "worker", name),
		now:         time.Now,
		newID:       uuid.NewString,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Name returns the worker identity, also used on dead letters
func (w *StorageWorker) Name() string { return w.name }

// State returns the lifecycle state
func (w *StorageWorker) State() WorkerState { return WorkerState(w.state.Load()) }

// Running reports whether the loop is active
func (w *StorageWorker) Running() bool { return w.State() == WorkerRunning }

// Info returns a snapshot of the worker
func (w *StorageWorker) Info() WorkerInfo {
	state := w.State()
	return WorkerInfo{
		Name:         w.name,
		State:        state.String(),
		Running:      state == WorkerRunning,
		Crashed:      w.crashed.Load(),
		Processed:    w.processed.Load(),
		DeadLettered: w.deadLettered.Load(),
		Redelivered:  w.redelivered.Load(),
	}
}

// start launches the loop. ctx bounds queue and store calls.
func (w *StorageWorker) start(ctx context.Context) {
	w.state.Store(int32(WorkerRunning))
	w.metrics.workerStarted(w.config.Name)
	go w.run(ctx)
}

// Stop asks the loop to exit after the current message. It does not wait.
func (w *StorageWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Wait blocks until the loop has exited or ctx is done
func (w *StorageWorker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "StorageWorker", "Wait", "wait for "+w.name)
	}
}

func (w *StorageWorker) stopping() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

func (w *StorageWorker) run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if err := w.consumer.Close(); err != nil {
			w.logger.Debug("Closing consumer failed", "error", err)
		}
	}()
	defer func() {
		w.state.Store(int32(WorkerStopped))
		w.metrics.workerStopped(w.config.Name)
	}()
	defer func() {
		if r := recover(); r != nil {
			w.crashed.Store(true)
			w.metrics.recordCrash(w.config.Name)
			w.logger.Error("Storage worker crashed", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	w.logger.Debug("Storage worker started")
	for !w.stopping() {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.consumer.Next(ctx, w.settings.PollTimeout)
		if err != nil {
			if stderrors.Is(err, queue.ErrNoMessage) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Receiving from write queue failed", "error", err)
			w.pause()
			continue
		}

		w.handle(ctx, delivery)
	}
	w.logger.Debug("Storage worker stopped")
}

// pause waits one poll interval unless stop is signalled first
func (w *StorageWorker) pause() {
	t := time.NewTimer(w.settings.PollTimeout)
	defer t.Stop()
	select {
	case <-w.stopCh:
	case <-t.C:
	}
}

func (w *StorageWorker) handle(ctx context.Context, d queue.Delivery) {
	env := d.Envelope()
	host := ""
	if env.Host != nil {
		host = *env.Host
	}

	p := w.chain.Select(env.Source, host)
	e, err := p.Parse(parser.Input{
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Host:      env.Host,
		Severity:  env.Severity,
		Fields:    env.Fields,
		Message:   env.Message,
	})
	if err != nil {
		w.deadLetter(ctx, d, env, err)
		return
	}

	e.ID = w.newID()
	e.Repository = w.config.Name
	e.SavedTimestamp = w.now().UTC()

	started := time.Now()
	err = w.store.Insert(ctx, w.config.Name, e)
	w.metrics.observePersist(w.config.Name, time.Since(started).Seconds())
	if err != nil && errors.Classify(err) == errors.ErrorInvalid {
		// the store refused this entry; redelivery would only repeat that
		w.deadLetter(ctx, d, env, err)
		return
	}
	if err != nil {
		w.redelivered.Add(1)
		w.metrics.recordEntry(w.config.Name, outcomeRedelivered)
		w.logger.Warn("Persisting entry failed, rolling back for redelivery",
			"error", err,
			"delivery_count", d.NumDelivered(),
			"transient", errors.IsTransient(err))
		if nakErr := d.Nak(w.settings.RedeliveryDelay); nakErr != nil {
			w.logger.Warn("Rolling back message failed", "error", nakErr)
		}
		return
	}

	if err := d.Ack(ctx); err != nil {
		w.logger.Warn("Acknowledging stored entry failed, it may be stored again", "entry_id", e.ID, "error", err)
	}
	w.processed.Add(1)
	w.metrics.recordEntry(w.config.Name, outcomeStored)
}

// deadLetter commits a message that cannot be parsed or stored and copies it
// to the dead-letter address
func (w *StorageWorker) deadLetter(ctx context.Context, d queue.Delivery, env queue.Envelope, reason error) {
	if err := d.Ack(ctx); err != nil {
		w.logger.Warn("Acknowledging dead-lettered message failed", "error", err)
	}
	w.deadLettered.Add(1)
	w.metrics.recordEntry(w.config.Name, outcomeDeadLettered)
	w.logger.Warn("Entry dead-lettered", "error", reason, "source", env.Source)

	letter := queue.DeadLetter{
		OriginalAddress: w.config.WriteAddress(),
		Worker:          w.name,
		Reason:          reason.Error(),
		DeliveryCount:   d.NumDelivered(),
		Envelope:        env,
	}
	if err := w.deadLetters.DeadLetter(ctx, letter); err != nil {
		w.metrics.recordDeadLetterFailure(w.config.Name)
		w.logger.Error("Forwarding to dead-letter address failed", "error", err,
			"address", w.config.DeadLetterAddress())
	}
}
