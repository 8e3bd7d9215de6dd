package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

func keyDoc(path string) []byte {
	return []byte(docPrefix + path)
}

func (bb *BadgerBackend) Get(ctx context.Context, path string) (*backend.Snapshot, error) {
	path = data.Clean(path)

	var snap *backend.Snapshot
	err := bb.db.View(func(txn *badger.Txn) error {
		var err error
		snap, err = readDocument(txn, path)
		return err
	})
	if err != nil {
		return nil, dataerrors.BackingStore(err, bb.Name())
	}
	return snap, nil
}

func (bb *BadgerBackend) Set(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	if path == "" {
		return data.ErrInvalidPath
	}

	err := bb.db.Update(func(txn *badger.Txn) error {
		existing := map[string]any{}
		if mode == backend.SetMerge {
			snap, err := readDocument(txn, path)
			if err != nil {
				return err
			}
			if snap.Exists {
				existing = snap.Fields
			}
		}

		raw, err := encodeDocument(backend.MergeFields(existing, fields, mode))
		if err != nil {
			return err
		}
		return txn.Set(keyDoc(path), raw)
	})
	if err != nil {
		return dataerrors.BackingStore(err, bb.Name())
	}
	return nil
}

func (bb *BadgerBackend) Delete(ctx context.Context, path string) error {
	path = data.Clean(path)

	err := bb.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyDoc(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return txn.Delete(keyDoc(path))
	})
	if err != nil {
		return dataerrors.BackingStore(err, bb.Name())
	}
	return nil
}

func (bb *BadgerBackend) List(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	collection = data.Clean(collection)
	prefix := docPrefix
	if collection != "" {
		prefix += collection + "/"
	}

	var out []*backend.Snapshot
	err := bb.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			path := string(item.Key())[len(docPrefix):]
			rest := path
			if collection != "" {
				rest = path[len(collection)+1:]
			}
			if strings.Contains(rest, "/") {
				continue
			}

			err := item.Value(func(val []byte) error {
				snap, err := decodeSnapshot(path, val)
				if err != nil {
					return err
				}
				out = append(out, snap)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, dataerrors.BackingStore(err, bb.Name())
	}
	return out, nil
}

func (bb *BadgerBackend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := data.NewID()
	if err := bb.Set(ctx, data.Child(data.Clean(collection), id), fields, backend.SetReplace); err != nil {
		return "", err
	}
	return id, nil
}

func (bb *BadgerBackend) WatchDocument(ctx context.Context, path string, onSnapshot func(*backend.Snapshot), onError func(error)) (backend.Unwatch, error) {
	path = data.Clean(path)
	return bb.hub.WatchDocument(path, func() (*backend.Snapshot, error) {
		return bb.Get(ctx, path)
	}, onSnapshot, onError)
}

func (bb *BadgerBackend) WatchCollection(ctx context.Context, collection string, onChanges func([]backend.Change), onError func(error)) (backend.Unwatch, error) {
	collection = data.Clean(collection)
	return bb.hub.WatchCollection(collection, func() ([]*backend.Snapshot, error) {
		return bb.List(ctx, collection)
	}, onChanges, onError)
}

func readDocument(txn *badger.Txn, path string) (*backend.Snapshot, error) {
	item, err := txn.Get(keyDoc(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return backend.Missing(path), nil
	}
	if err != nil {
		return nil, err
	}

	var snap *backend.Snapshot
	err = item.Value(func(val []byte) error {
		snap, err = decodeSnapshot(path, val)
		return err
	})
	return snap, err
}

func encodeDocument(fields map[string]any) ([]byte, error) {
	return backend.EncodeDocument(fields, time.Now())
}

func decodeSnapshot(path string, raw []byte) (*backend.Snapshot, error) {
	return backend.DecodeDocument(path, raw)
}
