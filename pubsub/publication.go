package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/auth"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/queue"
)

// Authenticator checks that a user may perform an operation on a repository
type Authenticator interface {
	Authenticate(ctx context.Context, op auth.Operation, repo, username, secret string) (*auth.User, error)
}

// Publisher writes envelopes to a repository's write address
type Publisher interface {
	Publish(ctx context.Context, repositoryName string, env queue.Envelope) error
}

// PublicationWorker handles publication requests
type PublicationWorker struct {
	auth      Authenticator
	publisher Publisher
	metrics   *Metrics
	logger    *slog.Logger
}

// NewPublicationWorker creates a publication worker
func NewPublicationWorker(a Authenticator, p Publisher, metrics *Metrics, logger *slog.Logger) *PublicationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublicationWorker{auth: a, publisher: p, metrics: metrics, logger: logger.With("component", "publication_worker")}
}

// Process decodes, authenticates and publishes one request. The returned
// response always echoes the request's messageID when it could be read.
//
// Authentication happens before the first send, so a rejected request
// publishes nothing. A broker failure part way through leaves the entries
// already sent delivered.
func (w *PublicationWorker) Process(ctx context.Context, data []byte) Response {
	var req PublicationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		w.metrics.recordPublication(outcomeInvalid, 0)
		return errorResponse(TypePublicationResponse, "", errors.WrapInvalid(err, "PublicationWorker", "Process", "decode request"))
	}

	sent, err := w.publish(ctx, req)
	if err != nil {
		outcome := outcomeFailed
		if errors.IsInvalid(err) {
			outcome = outcomeRejected
		}
		w.metrics.recordPublication(outcome, sent)
		w.logger.Warn("Publication failed", "message_id", req.MessageID, "repository", req.RepositoryName,
			"username", req.Username, "sent", sent, "error", err)
		return errorResponse(TypePublicationResponse, req.MessageID, err)
	}

	w.metrics.recordPublication(outcomeAccepted, sent)
	w.logger.Debug("Publication accepted", "message_id", req.MessageID, "repository", req.RepositoryName, "entries", sent)
	return successResponse(TypePublicationResponse, req.MessageID)
}

func (w *PublicationWorker) publish(ctx context.Context, req PublicationRequest) (int, error) {
	if req.MessageType != "" && req.MessageType != TypePublicationRequest {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: unexpected message type %q", errors.ErrInvalidConfig, req.MessageType),
			"PublicationWorker", "Process", "check request")
	}
	if _, err := w.auth.Authenticate(ctx, auth.OperationPublish, req.RepositoryName, req.Username, req.Password); err != nil {
		return 0, err
	}

	for i, e := range req.LogEntries {
		if err := w.publisher.Publish(ctx, req.RepositoryName, e.Envelope()); err != nil {
			return i, errors.WrapTransient(err, "PublicationWorker", "Process", fmt.Sprintf("publish entry %d", i))
		}
	}
	return len(req.LogEntries), nil
}
