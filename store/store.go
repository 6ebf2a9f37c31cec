// Package store persists the agronomic property graph in SQLite.
//
// Nodes live in one table per type with a named unique index on the natural
// key; relationships live in a single edges table. Every write is an
// INSERT ... ON CONFLICT upsert so concurrent loaders racing on the same key
// converge without application-level locks.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/mattn/go-sqlite3"

	"github.com/bbiangul/agrokg/kgerr"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the SQLite database for all graph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and creates the
// node, edge, chunk and vector tables. Constraints and reference data are
// applied separately by the schema manager.
func New(dbPath string, embeddingDim int) (*Store, error) {
	if embeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim)
	}
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN, so read-then-upsert
	// sequences inside one transaction cannot interleave with another writer.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(tablesSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// InTx runs fn inside one write transaction. Busy and locked errors are
// reported as transient so callers can retry the whole unit.
func (s *Store) InTx(ctx context.Context, fn func(*Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return classify(err, "transaction")
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "commit")
	}
	return nil
}

// IsTransient reports whether err is a retryable store condition: a busy or
// locked database, or an I/O hiccup reported by SQLite.
func IsTransient(err error) bool {
	if kgerr.IsTransient(err) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrProtocol:
			return true
		}
	}
	return errors.Is(err, sql.ErrConnDone)
}

func classify(err error, op string) error {
	if err == nil || kgerr.CodeOf(err) != "" {
		return err
	}
	if IsTransient(err) {
		return kgerr.Wrap(err, kgerr.CodeStoreTransient, op)
	}
	return err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
