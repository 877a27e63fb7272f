// Package sqlstore stores entries in SQLite, one table per repository.
package sqlstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"

	"github.com/zhikook/chililog-server/entry"
	"github.com/zhikook/chililog-server/errors"
	"github.com/zhikook/chililog-server/pkg/timestamp"
	"github.com/zhikook/chililog-server/repository"
)

const tableSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    saved_timestamp INTEGER NOT NULL,
    source TEXT NOT NULL,
    host TEXT NOT NULL,
    severity INTEGER NOT NULL,
    message TEXT NOT NULL,
    keywords TEXT,
    document TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_timestamp ON %[1]s(timestamp);
CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(source);
CREATE INDEX IF NOT EXISTS idx_%[1]s_host ON %[1]s(host);
CREATE INDEX IF NOT EXISTS idx_%[1]s_severity ON %[1]s(severity);
`

// Store implements storage.EntryStore on SQLite
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	tables map[string]struct{}
}

// Open opens or creates the database at path. poolSize caps open connections.
// Use ":memory:" only with a pool of one, every connection gets its own memory database.
func Open(path string, poolSize int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if poolSize < 1 {
		poolSize = 1
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "open database")
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "ping database")
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "sql_entry_store", "path", path),
		tables: make(map[string]struct{}),
	}, nil
}

func (s *Store) table(ctx context.Context, repo string) (string, error) {
	name := repository.EntriesBucket(repo)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return name, nil
	}

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(tableSchema, name)); err != nil {
		return "", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"SQLStore", "table", "create table "+name)
	}
	s.tables[name] = struct{}{}
	s.logger.Debug("Created entry table", "repository", repo, "table", name)
	return name, nil
}

// Insert writes e as one row
func (s *Store) Insert(ctx context.Context, repo string, e *entry.Entry) error {
	if e.ID == "" {
		return errors.WrapInvalid(fmt.Errorf("entry has no id"), "SQLStore", "Insert", "check entry")
	}
	table, err := s.table(ctx, repo)
	if err != nil {
		return err
	}

	doc, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "SQLStore", "Insert", "encode entry")
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, timestamp, saved_timestamp, source, host, severity, message, keywords, document)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, table)
	_, err = s.db.ExecContext(ctx, query,
		e.ID,
		timestamp.ToUnixMs(e.Timestamp),
		timestamp.ToUnixMs(e.SavedTimestamp),
		e.Source,
		e.Host,
		e.Severity.Code(),
		e.Message,
		strings.Join(e.Keywords, " "),
		string(doc),
	)
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrStorageUnavailable, err),
			"SQLStore", "Insert", "insert entry")
	}
	return nil
}

// Get reads the entry stored under id
func (s *Store) Get(ctx context.Context, repo, id string) (*entry.Entry, error) {
	table, err := s.table(ctx, repo)
	if err != nil {
		return nil, err
	}

	var doc string
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT document FROM %s WHERE id = ?", table), id).Scan(&doc)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%s", errors.ErrEntryNotFound, repo, id)
		}
		return nil, errors.WrapTransient(err, "SQLStore", "Get", "query entry")
	}

	var e entry.Entry
	if err := json.Unmarshal([]byte(doc), &e); err != nil {
		return nil, errors.WrapInvalid(err, "SQLStore", "Get", "decode entry")
	}
	return &e, nil
}

// Count returns the number of rows stored for repo
func (s *Store) Count(ctx context.Context, repo string) (int64, error) {
	table, err := s.table(ctx, repo)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, errors.WrapTransient(err, "SQLStore", "Count", "count entries")
	}
	return n, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
