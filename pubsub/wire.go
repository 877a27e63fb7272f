package pubsub

import (
	stderrors "errors"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/queue"
)

// Message types carried in the messageType property
const (
	TypePublicationRequest   = "PublicationRequest"
	TypePublicationResponse  = "PublicationResponse"
	TypeSubscriptionRequest  = "SubscriptionRequest"
	TypeSubscriptionResponse = "SubscriptionResponse"
)

// LogEntry is one record submitted by a publisher or pushed to a subscriber
type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source"`
	Host      *string `json:"host"`
	Severity  string  `json:"severity"`
	Message   string  `json:"message"`
	Fields    string  `json:"fields,omitempty"`
}

// Envelope converts the entry to a write queue envelope
func (e LogEntry) Envelope() queue.Envelope {
	return queue.Envelope{
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Host:      e.Host,
		Severity:  e.Severity,
		Fields:    e.Fields,
		Message:   e.Message,
	}
}

// LogEntryFromEnvelope converts a read address envelope back to a log entry
func LogEntryFromEnvelope(env queue.Envelope) LogEntry {
	return LogEntry{
		Timestamp: env.Timestamp,
		Source:    env.Source,
		Host:      env.Host,
		Severity:  env.Severity,
		Fields:    env.Fields,
		Message:   env.Message,
	}
}

// Credentials are common to publication and subscription requests. Password
// may hold a token: prefixed token instead of the password.
type Credentials struct {
	MessageID      string `json:"messageID"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	RepositoryName string `json:"repositoryName"`
}

// PublicationRequest submits log entries to a repository
type PublicationRequest struct {
	MessageType string `json:"messageType"`
	Credentials
	LogEntries []LogEntry `json:"logEntries"`
}

// SubscriptionRequest asks for every new entry of a repository. The optional
// filters narrow the feed: Severity is the least severe code delivered,
// Source and Host must match exactly.
type SubscriptionRequest struct {
	MessageType string `json:"messageType"`
	Credentials
	Severity string `json:"severity,omitempty"`
	Source   string `json:"source,omitempty"`
	Host     string `json:"host,omitempty"`
}

// Response is the reply to a request. Subscription pushes reuse the
// request's messageID and carry one LogEntry each.
type Response struct {
	MessageType     string    `json:"messageType"`
	MessageID       string    `json:"messageID"`
	Success         bool      `json:"success"`
	ErrorMessage    string    `json:"errorMessage,omitempty"`
	ErrorStackTrace string    `json:"errorStackTrace,omitempty"`
	LogEntry        *LogEntry `json:"logEntry,omitempty"`
}

func successResponse(messageType, messageID string) Response {
	return Response{MessageType: messageType, MessageID: messageID, Success: true}
}

func errorResponse(messageType, messageID string, err error) Response {
	return Response{
		MessageType:     messageType,
		MessageID:       messageID,
		ErrorMessage:    err.Error(),
		ErrorStackTrace: errorTrace(err),
	}
}

// errorTrace renders the chain of wrapped errors, outermost first
func errorTrace(err error) string {
	var lines []string
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}

// peekType reads only the messageType of a request
func peekType(data []byte) (string, error) {
	var head struct {
		MessageType string `json:"messageType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", errors.WrapInvalid(err, "Gateway", "peekType", "decode request")
	}
	return head.MessageType, nil
}
