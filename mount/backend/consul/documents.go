package consul

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

const maxCASAttempts = 16

func (cb *ConsulBackend) Get(ctx context.Context, path string) (*backend.Snapshot, error) {
	path = data.Clean(path)

	pair, _, err := cb.kv.Get(cb.buildKey(path), (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, dataerrors.BackingStore(err, cb.Name())
	}
	if pair == nil {
		return backend.Missing(path), nil
	}
	return backend.DecodeDocument(path, pair.Value)
}

// Set writes the document. Merges retry a check-and-set until no concurrent
// writer got in between the read and the write.
func (cb *ConsulBackend) Set(ctx context.Context, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	if path == "" {
		return data.ErrInvalidPath
	}
	key := cb.buildKey(path)

	if mode == backend.SetReplace {
		raw, err := backend.EncodeDocument(backend.MergeFields(nil, fields, mode), time.Now())
		if err != nil {
			return err
		}
		if _, err := cb.kv.Put(&api.KVPair{Key: key, Value: raw}, (&api.WriteOptions{}).WithContext(ctx)); err != nil {
			return dataerrors.BackingStore(err, cb.Name())
		}
		return nil
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		pair, _, err := cb.kv.Get(key, (&api.QueryOptions{}).WithContext(ctx))
		if err != nil {
			return dataerrors.BackingStore(err, cb.Name())
		}

		existing := map[string]any{}
		var index uint64
		if pair != nil {
			index = pair.ModifyIndex
			snap, err := backend.DecodeDocument(path, pair.Value)
			if err != nil {
				return err
			}
			existing = snap.Fields
		}

		raw, err := backend.EncodeDocument(backend.MergeFields(existing, fields, mode), time.Now())
		if err != nil {
			return err
		}

		ok, _, err := cb.kv.CAS(&api.KVPair{Key: key, Value: raw, ModifyIndex: index}, (&api.WriteOptions{}).WithContext(ctx))
		if err != nil {
			return dataerrors.BackingStore(err, cb.Name())
		}
		if ok {
			return nil
		}
	}

	return dataerrors.BackingStore(fmt.Errorf("merge of '%s' kept conflicting", path), cb.Name())
}

func (cb *ConsulBackend) Delete(ctx context.Context, path string) error {
	path = data.Clean(path)

	if _, err := cb.kv.Delete(cb.buildKey(path), (&api.WriteOptions{}).WithContext(ctx)); err != nil {
		return dataerrors.BackingStore(err, cb.Name())
	}
	return nil
}

func (cb *ConsulBackend) List(ctx context.Context, collection string) ([]*backend.Snapshot, error) {
	collection = data.Clean(collection)
	prefix := cb.config.Prefix
	if collection != "" {
		prefix = cb.buildKey(collection) + "/"
	}

	pairs, _, err := cb.kv.List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, dataerrors.BackingStore(err, cb.Name())
	}

	var out []*backend.Snapshot
	for _, pair := range pairs {
		if strings.Contains(strings.TrimPrefix(pair.Key, prefix), "/") {
			continue
		}
		snap, err := backend.DecodeDocument(cb.pathOf(pair.Key), pair.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (cb *ConsulBackend) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id := data.NewID()
	if err := cb.Set(ctx, data.Child(data.Clean(collection), id), fields, backend.SetReplace); err != nil {
		return "", err
	}
	return id, nil
}

func (cb *ConsulBackend) WatchDocument(ctx context.Context, path string, onSnapshot func(*backend.Snapshot), onError func(error)) (backend.Unwatch, error) {
	path = data.Clean(path)
	return cb.hub.WatchDocument(path, func() (*backend.Snapshot, error) {
		return cb.Get(ctx, path)
	}, onSnapshot, onError)
}

func (cb *ConsulBackend) WatchCollection(ctx context.Context, collection string, onChanges func([]backend.Change), onError func(error)) (backend.Unwatch, error) {
	collection = data.Clean(collection)
	return cb.hub.WatchCollection(collection, func() ([]*backend.Snapshot, error) {
		return cb.List(ctx, collection)
	}, onChanges, onError)
}
