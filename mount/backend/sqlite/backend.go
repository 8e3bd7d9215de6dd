package sqlite

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// SQLiteBackend stores documents as JSON rows in a single table:
//
//	skylink_documents(path PRIMARY KEY, parent, fields, update_time)
//
// The parent column indexes collection membership. Change notifications are
// fanned out in-process through a WatchHub, so only writers sharing this
// backend instance are observed by its watchers.
type SQLiteBackend struct {
	mu sync.RWMutex
	// writeMu orders publication with commits.
	writeMu sync.Mutex
	db      *sql.DB
	hub     *backend.WatchHub
}

// NewSQLiteBackend creates a new SQLite-backed document store.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Every pooled connection would otherwise open its own empty database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	sb := &SQLiteBackend{
		db:  db,
		hub: backend.NewWatchHub(),
	}

	if err := sb.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return sb, nil
}

// initSchema creates the database schema.
func (sb *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS skylink_documents (
		path TEXT PRIMARY KEY,
		parent TEXT NOT NULL,
		fields TEXT NOT NULL,
		update_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_skylink_documents_parent ON skylink_documents(parent, path);
	`

	_, err := sb.db.Exec(schema)
	return err
}

// Returns the identifier name defined for this backend
func (*SQLiteBackend) Name() string {
	return "sqlite"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (sb *SQLiteBackend) Open(ctx context.Context) error {
	// Verify database connection
	return sb.db.PingContext(ctx)
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (sb *SQLiteBackend) Close(ctx context.Context) error {
	sb.hub.Fail(backend.ErrStoreClosed)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.db.Close()
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (sb *SQLiteBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityDocuments,
			backend.CapabilityCollections,
			backend.CapabilityWatch,
			backend.CapabilityPersistent,
		},
	}
}
