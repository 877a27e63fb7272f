// Package chililog is a log repository server: producers publish log entries
// to named repositories, storage workers parse and persist them, and
// subscribers receive them live.
//
// # Architecture
//
// Every repository is an independently configured log stream with its own
// write queue, dead-letter queue and entry store:
//
//	┌──────────────────────────────────────┐
//	│   Gateway (HTTP publish, WebSocket)  │  Authentication, roles
//	└──────────────────────────────────────┘
//	           ↓ publishes envelopes
//	┌──────────────────────────────────────┐
//	│   Write queue (JetStream stream)     │  Memory policy, redelivery
//	└──────────────────────────────────────┘
//	           ↓ drained by
//	┌──────────────────────────────────────┐
//	│   Storage workers (engine)           │  Parse, persist, dead-letter
//	└──────────────────────────────────────┘
//	           ↓ insert-by-id
//	┌──────────────────────────────────────┐
//	│   Entry store (NATS KV or SQLite)    │  Bounded connection pool
//	└──────────────────────────────────────┘
//
// # Packages
//
//   - entry: the stored RepositoryEntry, severities and keywords
//   - parser: the entry parser variants and the type-tag factory
//   - repository: repository configuration, validation and config sources
//   - queue: the durable queue on NATS JetStream
//   - storage: the entry store contract and its backends
//   - engine: storage workers, the repository state machine and the manager
//   - auth: users, roles, token credentials and the cached authenticator
//   - pubsub: publication and subscription workers and the gateway
//   - health, metric: operational status and Prometheus metrics
//   - config: process configuration
//
// # Processing
//
// A storage worker commits a message only after the entry is persisted or
// the message is dead-lettered. A store failure rolls the message back and
// the broker redelivers it. A record that cannot be parsed, or that the store
// refuses as invalid, is dead-lettered.
//
// # Binary
//
//	# Seed repositories and start the server
//	./bin/chililog repo seed --file configs/repositories.yaml
//	./bin/chililog serve --config configs/chililog.yaml
//
// Repository configuration lives in a NATS KV bucket. Edits to the bucket are
// picked up by a running server without a restart.
package chililog
