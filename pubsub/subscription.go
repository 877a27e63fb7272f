package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/auth"
	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/queue"
)

// Subscriber attaches a handler to a repository's read address
type Subscriber interface {
	Subscribe(repositoryName string, handler func(queue.Envelope)) (queue.Subscription, error)
}

// SubscriptionWorker serves one subscription of one connection. Each entry
// published to the repository afterwards is pushed through send as a
// Response carrying the subscription's messageID.
type SubscriptionWorker struct {
	auth       Authenticator
	subscriber Subscriber
	send       func(Response) error
	metrics    *Metrics
	logger     *slog.Logger

	mu   sync.Mutex
	sub  queue.Subscription
	done bool
}

// NewSubscriptionWorker creates a worker pushing entries through send
func NewSubscriptionWorker(a Authenticator, s Subscriber, send func(Response) error, metrics *Metrics, logger *slog.Logger) *SubscriptionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionWorker{
		auth:       a,
		subscriber: s,
		send:       send,
		metrics:    metrics,
		logger:     logger.With("component", "subscription_worker"),
	}
}

// filter decides whether an entry is pushed to the subscriber
type filter struct {
	maxSeverity entry.Severity
	source      string
	host        string
}

func newFilter(req SubscriptionRequest) (filter, error) {
	f := filter{maxSeverity: entry.SeverityDebug, source: req.Source, host: req.Host}
	if req.Severity != "" {
		code, err := strconv.Atoi(req.Severity)
		if err != nil || code < int(entry.SeverityEmergency) || code > int(entry.SeverityDebug) {
			return f, errors.WrapInvalid(fmt.Errorf("%w: severity %q is not a code between 0 and 7", errors.ErrInvalidConfig, req.Severity),
				"SubscriptionWorker", "Process", "check filter")
		}
		f.maxSeverity = entry.Severity(code)
	}
	return f, nil
}

func (f filter) match(env queue.Envelope) bool {
	if f.source != "" && env.Source != f.source {
		return false
	}
	if f.host != "" && (env.Host == nil || *env.Host != f.host) {
		return false
	}
	return entry.ParseSeverity(env.Severity) <= f.maxSeverity
}

// Process authenticates the request and attaches to the repository's read
// address. It returns the immediate reply; entries follow asynchronously.
func (w *SubscriptionWorker) Process(ctx context.Context, data []byte) Response {
	var req SubscriptionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(TypeSubscriptionResponse, "", errors.WrapInvalid(err, "SubscriptionWorker", "Process", "decode request"))
	}

	if err := w.subscribe(ctx, req); err != nil {
		w.logger.Warn("Subscription failed", "message_id", req.MessageID, "repository", req.RepositoryName,
			"username", req.Username, "error", err)
		return errorResponse(TypeSubscriptionResponse, req.MessageID, err)
	}
	w.logger.Debug("Subscription started", "message_id", req.MessageID, "repository", req.RepositoryName)
	return successResponse(TypeSubscriptionResponse, req.MessageID)
}

func (w *SubscriptionWorker) subscribe(ctx context.Context, req SubscriptionRequest) error {
	f, err := newFilter(req)
	if err != nil {
		return err
	}
	if _, err := w.auth.Authenticate(ctx, auth.OperationSubscribe, req.RepositoryName, req.Username, req.Password); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return errors.WrapFatal(errors.ErrShuttingDown, "SubscriptionWorker", "Process", "subscribe")
	}
	if w.sub != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: worker already subscribed", errors.ErrInvalidConfig),
			"SubscriptionWorker", "Process", "subscribe")
	}

	messageID := req.MessageID
	sub, err := w.subscriber.Subscribe(req.RepositoryName, func(env queue.Envelope) {
		if !f.match(env) {
			return
		}
		le := LogEntryFromEnvelope(env)
		resp := successResponse(TypeSubscriptionResponse, messageID)
		resp.LogEntry = &le
		if err := w.send(resp); err != nil {
			w.logger.Debug("Pushing entry to subscriber failed", "message_id", messageID, "error", err)
			return
		}
		w.metrics.recordPush()
	})
	if err != nil {
		return errors.WrapTransient(err, "SubscriptionWorker", "Process", "subscribe to read address")
	}
	w.sub = sub
	w.metrics.subscriptionStarted()
	return nil
}

// Stop detaches from the read address. Safe to call more than once.
func (w *SubscriptionWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	if w.sub == nil {
		return
	}
	if err := w.sub.Stop(); err != nil {
		w.logger.Debug("Stopping subscription failed", "error", err)
	}
	w.sub = nil
	w.metrics.subscriptionStopped()
}
