package memory

import (
	"context"
	"strings"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

func (mb *MemoryBackend) Get(ctx context.Context, path string) (*backend.Snapshot, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return mb.getUnsafe(data.Clean(path))
}

func (mb *MemoryBackend) Set(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	if path == "" {
		return data.ErrInvalidPath
	}

	mb.writeMu.Lock()
	defer mb.writeMu.Unlock()

	mb.mu.Lock()
	existing, err := mb.getUnsafe(path)
	if err != nil {
		mb.mu.Unlock()
		return err
	}

	merged := backend.MergeFields(existing.Fields, fields, mode)
	raw, err := backend.EncodeFields(merged)
	if err != nil {
		mb.mu.Unlock()
		return err
	}

	mb.docs.Set(path, &document{raw: raw, updateTime: mb.nowFunc()})
	snap, err := mb.getUnsafe(path)
	mb.mu.Unlock()
	if err != nil {
		return err
	}

	mb.hub.Publish(snap)
	return nil
}

func (mb *MemoryBackend) Delete(ctx context.Context, path string) error {
	path = data.Clean(path)

	mb.writeMu.Lock()
	defer mb.writeMu.Unlock()

	mb.mu.Lock()
	_, existed := mb.docs.Delete(path)
	mb.mu.Unlock()

	if existed {
		mb.hub.Publish(backend.Missing(path))
	}
	return nil
}

func (mb *MemoryBackend) List(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	return mb.listUnsafe(data.Clean(collection))
}

func (mb *MemoryBackend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := data.NewID()
	if err := mb.Set(ctx, data.Child(data.Clean(collection), id), fields, backend.SetReplace); err != nil {
		return "", err
	}
	return id, nil
}

func (mb *MemoryBackend) WatchDocument(ctx context.Context, path string, onSnapshot func(*backend.Snapshot), onError func(error)) (backend.Unwatch, error) {
	path = data.Clean(path)
	return mb.hub.WatchDocument(path, func() (*backend.Snapshot, error) {
		return mb.Get(ctx, path)
	}, onSnapshot, onError)
}

func (mb *MemoryBackend) WatchCollection(ctx context.Context, collection string, onChanges func([]backend.Change), onError func(error)) (backend.Unwatch, error) {
	collection = data.Clean(collection)
	return mb.hub.WatchCollection(collection, func() ([]*backend.Snapshot, error) {
		return mb.List(ctx, collection)
	}, onChanges, onError)
}

// getUnsafe reads a document without acquiring locks.
// MUST be called while holding at least a read lock.
func (mb *MemoryBackend) getUnsafe(path string) (*backend.Snapshot, error) {
	doc, ok := mb.docs.Get(path)
	if !ok {
		return backend.Missing(path), nil
	}

	fields, err := backend.DecodeFields(doc.raw)
	if err != nil {
		return nil, err
	}
	return &backend.Snapshot{Path: path, Exists: true, Fields: fields, UpdateTime: doc.updateTime}, nil
}

// listUnsafe ascends the contiguous key range of the collection.
// MUST be called while holding at least a read lock.
func (mb *MemoryBackend) listUnsafe(collection string) ([]*backend.Snapshot, error) {
	prefix := ""
	if collection != "" {
		prefix = collection + "/"
	}

	var out []*backend.Snapshot
	var failure error
	mb.docs.Ascend(prefix, func(key string, doc *document) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		if strings.Contains(key[len(prefix):], "/") {
			return true
		}

		snap, err := mb.getUnsafe(key)
		if err != nil {
			failure = err
			return false
		}
		out = append(out, snap)
		return true
	})

	return out, failure
}
