// Package storage persists parsed log entries.
//
// EntryStore is the document-store primitive the repository engine writes
// to: insert by id, read back by id, count per repository. Two backends are
// provided:
//
//   - kvstore: a NATS KV bucket per repository, the entry id is the key and
//     the JSON document is the value
//   - sqlstore: SQLite through database/sql, one table per repository with
//     the envelope columns indexed and the typed fields kept as JSON
//
// Bounded caps concurrent store calls independently of the worker count:
//
//	store := storage.NewBounded(sqlStore, cfg.Storage.PoolSize)
//
// Backends classify failures: unreachable or failing writes are
// errors.WrapTransient, a missing entry wraps errors.ErrEntryNotFound.
package storage
