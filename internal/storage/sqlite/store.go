// Package sqlite persists discharge root keys in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relves/macaroons/pkg/bakery"
)

//go:embed schema.sql
var schemaSQL string

// Store is a bakery.RootKeyStore backed by SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (creating if necessary) the root key database under basePath.
func Open(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(basePath, "rootkeys.db")
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connection pool - SQLite handles concurrent writes poorly
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the path of the underlying database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Put inserts or replaces the root key record for a caveat identifier.
func (s *Store) Put(ctx context.Context, caveatID []byte, record bakery.RootKey) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO root_keys (caveat_id, root_key, condition, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(caveat_id) DO UPDATE SET
		   root_key = excluded.root_key,
		   condition = excluded.condition,
		   created_at = excluded.created_at`,
		caveatID, record.Key, record.Condition, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("put root key: %w", err)
	}
	return nil
}

// Get returns the root key record for a caveat identifier, or
// bakery.ErrRootKeyNotFound.
func (s *Store) Get(ctx context.Context, caveatID []byte) (bakery.RootKey, error) {
	var record bakery.RootKey
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT root_key, condition, created_at FROM root_keys WHERE caveat_id = ?`,
		caveatID).Scan(&record.Key, &record.Condition, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return bakery.RootKey{}, bakery.ErrRootKeyNotFound
	}
	if err != nil {
		return bakery.RootKey{}, fmt.Errorf("get root key: %w", err)
	}

	record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return bakery.RootKey{}, fmt.Errorf("parse created_at: %w", err)
	}
	return record, nil
}

// Delete removes the root key record for a caveat identifier. Deleting an
// unknown identifier is not an error.
func (s *Store) Delete(ctx context.Context, caveatID []byte) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM root_keys WHERE caveat_id = ?`, caveatID)
	if err != nil {
		return fmt.Errorf("delete root key: %w", err)
	}
	return nil
}
