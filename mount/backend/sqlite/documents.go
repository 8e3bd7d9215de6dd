package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

func (sb *SQLiteBackend) Get(ctx context.Context, path string) (*backend.Snapshot, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snap, err := sb.getUnsafe(ctx, data.Clean(path))
	if err != nil {
		return nil, dataerrors.BackingStore(err, sb.Name())
	}
	return snap, nil
}

func (sb *SQLiteBackend) Set(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	if path == "" {
		return data.ErrInvalidPath
	}

	sb.writeMu.Lock()
	defer sb.writeMu.Unlock()

	snap, err := sb.setLocked(ctx, path, fields, mode)
	if err != nil {
		return dataerrors.BackingStore(err, sb.Name())
	}

	sb.hub.Publish(snap)
	return nil
}

func (sb *SQLiteBackend) setLocked(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) (*backend.Snapshot, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	tx, err := sb.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing := map[string]any{}
	if mode == backend.SetMerge {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT fields FROM skylink_documents WHERE path = ?`, path).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, err
		default:
			if existing, err = backend.DecodeFields([]byte(raw)); err != nil {
				return nil, err
			}
		}
	}

	merged := backend.MergeFields(existing, fields, mode)
	raw, err := backend.EncodeFields(merged)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	parent, _ := data.Parent(path)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO skylink_documents (path, parent, fields, update_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET fields = excluded.fields, update_time = excluded.update_time
	`, path, parent, string(raw), now.UnixNano())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	decoded, err := backend.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &backend.Snapshot{Path: path, Exists: true, Fields: decoded, UpdateTime: time.Unix(0, now.UnixNano())}, nil
}

func (sb *SQLiteBackend) Delete(ctx context.Context, path string) error {
	path = data.Clean(path)

	sb.writeMu.Lock()
	defer sb.writeMu.Unlock()

	sb.mu.Lock()
	result, err := sb.db.ExecContext(ctx, `DELETE FROM skylink_documents WHERE path = ?`, path)
	sb.mu.Unlock()
	if err != nil {
		return dataerrors.BackingStore(err, sb.Name())
	}

	if n, _ := result.RowsAffected(); n > 0 {
		sb.hub.Publish(backend.Missing(path))
	}
	return nil
}

func (sb *SQLiteBackend) List(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snaps, err := sb.listUnsafe(ctx, data.Clean(collection))
	if err != nil {
		return nil, dataerrors.BackingStore(err, sb.Name())
	}
	return snaps, nil
}

func (sb *SQLiteBackend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := data.NewID()
	if err := sb.Set(ctx, data.Child(data.Clean(collection), id), fields, backend.SetReplace); err != nil {
		return "", err
	}
	return id, nil
}

func (sb *SQLiteBackend) WatchDocument(ctx context.Context, path string, onSnapshot func(*backend.Snapshot), onError func(error)) (backend.Unwatch, error) {
	path = data.Clean(path)
	return sb.hub.WatchDocument(path, func() (*backend.Snapshot, error) {
		return sb.Get(ctx, path)
	}, onSnapshot, onError)
}

func (sb *SQLiteBackend) WatchCollection(ctx context.Context, collection string, onChanges func([]backend.Change), onError func(error)) (backend.Unwatch, error) {
	collection = data.Clean(collection)
	return sb.hub.WatchCollection(collection, func() ([]*backend.Snapshot, error) {
		return sb.List(ctx, collection)
	}, onChanges, onError)
}

// getUnsafe reads a document without acquiring locks.
// MUST be called while holding at least a read lock.
func (sb *SQLiteBackend) getUnsafe(ctx context.Context, path string) (*backend.Snapshot, error) {
	var raw string
	var updateTime int64
	err := sb.db.QueryRowContext(ctx, `
		SELECT fields, update_time FROM skylink_documents WHERE path = ?
	`, path).Scan(&raw, &updateTime)

	if errors.Is(err, sql.ErrNoRows) {
		return backend.Missing(path), nil
	}
	if err != nil {
		return nil, err
	}

	fields, err := backend.DecodeFields([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &backend.Snapshot{Path: path, Exists: true, Fields: fields, UpdateTime: time.Unix(0, updateTime)}, nil
}

// listUnsafe reads the direct children of a collection.
// MUST be called while holding at least a read lock.
func (sb *SQLiteBackend) listUnsafe(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	rows, err := sb.db.QueryContext(ctx, `
		SELECT path, fields, update_time FROM skylink_documents WHERE parent = ? ORDER BY path
	`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*backend.Snapshot
	for rows.Next() {
		var path, raw string
		var updateTime int64
		if err := rows.Scan(&path, &raw, &updateTime); err != nil {
			return nil, err
		}

		fields, err := backend.DecodeFields([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, &backend.Snapshot{Path: path, Exists: true, Fields: fields, UpdateTime: time.Unix(0, updateTime)})
	}

	return out, rows.Err()
}
