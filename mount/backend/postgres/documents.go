package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

func (pb *PostgresBackend) Get(ctx context.Context, path string) (*backend.Snapshot, error) {
	path = data.Clean(path)

	var raw []byte
	var updateTime int64
	err := pb.pool.QueryRow(ctx, `
		SELECT fields, update_time FROM skylink_documents WHERE path = $1
	`, path).Scan(&raw, &updateTime)

	if errors.Is(err, pgx.ErrNoRows) {
		return backend.Missing(path), nil
	}
	if err != nil {
		return nil, dataerrors.BackingStore(err, pb.Name())
	}

	fields, err := backend.DecodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &backend.Snapshot{Path: path, Exists: true, Fields: fields, UpdateTime: unixTime(updateTime)}, nil
}

// Set merges or replaces inside one transaction holding the row lock, and
// signals the change feed on commit.
func (pb *PostgresBackend) Set(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	if path == "" {
		return data.ErrInvalidPath
	}

	err := pgx.BeginFunc(ctx, pb.pool, func(tx pgx.Tx) error {
		existing := map[string]any{}
		if mode == backend.SetMerge {
			var raw []byte
			err := tx.QueryRow(ctx, `SELECT fields FROM skylink_documents WHERE path = $1 FOR UPDATE`, path).Scan(&raw)
			switch {
			case errors.Is(err, pgx.ErrNoRows):
			case err != nil:
				return err
			default:
				if existing, err = backend.DecodeFields(raw); err != nil {
					return err
				}
			}
		}

		raw, err := backend.EncodeFields(backend.MergeFields(existing, fields, mode))
		if err != nil {
			return err
		}

		parent, _ := data.Parent(path)
		if _, err := tx.Exec(ctx, `
			INSERT INTO skylink_documents (path, parent, fields, update_time)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (path) DO UPDATE SET fields = excluded.fields, update_time = excluded.update_time
		`, path, parent, string(raw), time.Now().UnixNano()); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path)
		return err
	})
	if err != nil {
		return dataerrors.BackingStore(err, pb.Name())
	}
	return nil
}

func (pb *PostgresBackend) Delete(ctx context.Context, path string) error {
	path = data.Clean(path)

	err := pgx.BeginFunc(ctx, pb.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM skylink_documents WHERE path = $1`, path)
		if err != nil || tag.RowsAffected() == 0 {
			return err
		}
		_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, path)
		return err
	})
	if err != nil {
		return dataerrors.BackingStore(err, pb.Name())
	}
	return nil
}

func (pb *PostgresBackend) List(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	rows, err := pb.pool.Query(ctx, `
		SELECT path, fields, update_time FROM skylink_documents WHERE parent = $1 ORDER BY path
	`, data.Clean(collection))
	if err != nil {
		return nil, dataerrors.BackingStore(err, pb.Name())
	}
	defer rows.Close()

	var out []*backend.Snapshot
	for rows.Next() {
		var path string
		var raw []byte
		var updateTime int64
		if err := rows.Scan(&path, &raw, &updateTime); err != nil {
			return nil, dataerrors.BackingStore(err, pb.Name())
		}

		fields, err := backend.DecodeFields(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, &backend.Snapshot{Path: path, Exists: true, Fields: fields, UpdateTime: unixTime(updateTime)})
	}

	if err := rows.Err(); err != nil {
		return nil, dataerrors.BackingStore(err, pb.Name())
	}
	return out, nil
}

func (pb *PostgresBackend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := data.NewID()
	if err := pb.Set(ctx, data.Child(data.Clean(collection), id), fields, backend.SetReplace); err != nil {
		return "", err
	}
	return id, nil
}

func (pb *PostgresBackend) WatchDocument(ctx context.Context, path string, onSnapshot func(*backend.Snapshot), onError func(error)) (backend.Unwatch, error) {
	path = data.Clean(path)
	return pb.hub.WatchDocument(path, func() (*backend.Snapshot, error) {
		return pb.Get(ctx, path)
	}, onSnapshot, onError)
}

func (pb *PostgresBackend) WatchCollection(ctx context.Context, collection string, onChanges func([]backend.Change), onError func(error)) (backend.Unwatch, error) {
	collection = data.Clean(collection)
	return pb.hub.WatchCollection(collection, func() ([]*backend.Snapshot, error) {
		return pb.List(ctx, collection)
	}, onChanges, onError)
}
