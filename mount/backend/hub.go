package backend

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/stardustapp/skychat-sub000/data"
)

// WatchHub fans document changes out to document and collection watchers.
// Stores call Publish after a write commits, or from their native change
// feed. Delivery is serialized across the hub and callbacks run on the
// publishing goroutine; a callback may call Unwatch but must not register
// new watches on the same hub.
type WatchHub struct {
	deliver sync.Mutex

	mu          sync.RWMutex
	documents   map[string]map[*documentWatcher]struct{}
	collections map[string]map[*collectionWatcher]struct{}
}

type documentWatcher struct {
	stopped    atomic.Bool
	onSnapshot func(*Snapshot)
	onError    func(error)
}

type collectionWatcher struct {
	stopped   atomic.Bool
	known     map[string]struct{}
	onChanges func([]Change)
	onError   func(error)
}

func NewWatchHub() *WatchHub {
	return &WatchHub{
		documents:   make(map[string]map[*documentWatcher]struct{}),
		collections: make(map[string]map[*collectionWatcher]struct{}),
	}
}

// WatchDocument registers a watcher and hands it the snapshot returned by
// load before any published change.
func (h *WatchHub) WatchDocument(path string, load func() (*Snapshot, error), onSnapshot func(*Snapshot), onError func(error)) (Unwatch, error) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	initial, err := load()
	if err != nil {
		return nil, err
	}

	w := &documentWatcher{onSnapshot: onSnapshot, onError: onError}

	h.mu.Lock()
	if h.documents[path] == nil {
		h.documents[path] = make(map[*documentWatcher]struct{})
	}
	h.documents[path][w] = struct{}{}
	h.mu.Unlock()

	onSnapshot(initial)

	return func() {
		w.stopped.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		if watchers, ok := h.documents[path]; ok {
			delete(watchers, w)
			if len(watchers) == 0 {
				delete(h.documents, path)
			}
		}
	}, nil
}

// WatchCollection registers a watcher and reports everything list returns
// as added.
func (h *WatchHub) WatchCollection(collection string, list func() ([]*Snapshot, error), onChanges func([]Change), onError func(error)) (Unwatch, error) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	docs, err := list()
	if err != nil {
		return nil, err
	}

	w := &collectionWatcher{
		known:     make(map[string]struct{}, len(docs)),
		onChanges: onChanges,
		onError:   onError,
	}

	changes := make([]Change, 0, len(docs))
	for _, doc := range docs {
		if !doc.Exists {
			continue
		}
		w.known[doc.Path] = struct{}{}
		changes = append(changes, Change{Type: ChangeAdded, Document: doc})
	}

	h.mu.Lock()
	if h.collections[collection] == nil {
		h.collections[collection] = make(map[*collectionWatcher]struct{})
	}
	h.collections[collection][w] = struct{}{}
	h.mu.Unlock()

	onChanges(changes)

	return func() {
		w.stopped.Store(true)
		h.mu.Lock()
		defer h.mu.Unlock()
		if watchers, ok := h.collections[collection]; ok {
			delete(watchers, w)
			if len(watchers) == 0 {
				delete(h.collections, collection)
			}
		}
	}, nil
}

// Publish delivers fresh snapshots. Collection watchers receive one change
// list per collection, classified against the documents they know about.
func (h *WatchHub) Publish(snapshots ...*Snapshot) {
	if len(snapshots) == 0 {
		return
	}

	h.deliver.Lock()
	defer h.deliver.Unlock()

	byCollection := make(map[string][]*Snapshot)
	var order []string
	for _, snap := range snapshots {
		for _, w := range h.documentWatchers(snap.Path) {
			if !w.stopped.Load() {
				w.onSnapshot(snap)
			}
		}

		parent, _ := data.Parent(snap.Path)
		if _, seen := byCollection[parent]; !seen {
			order = append(order, parent)
		}
		byCollection[parent] = append(byCollection[parent], snap)
	}

	for _, collection := range order {
		for _, w := range h.collectionWatchers(collection) {
			if w.stopped.Load() {
				continue
			}
			if changes := w.classify(byCollection[collection]); len(changes) > 0 {
				w.onChanges(changes)
			}
		}
	}
}

// Fail ends every registered watch with err.
func (h *WatchHub) Fail(err error) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	documents, collections := h.documents, h.collections
	h.documents = make(map[string]map[*documentWatcher]struct{})
	h.collections = make(map[string]map[*collectionWatcher]struct{})
	h.mu.Unlock()

	for _, watchers := range documents {
		for w := range watchers {
			if !w.stopped.Swap(true) && w.onError != nil {
				w.onError(err)
			}
		}
	}
	for _, watchers := range collections {
		for w := range watchers {
			if !w.stopped.Swap(true) && w.onError != nil {
				w.onError(err)
			}
		}
	}
}

// WatcherCount returns the total number of active watchers.
func (h *WatchHub) WatcherCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, watchers := range h.documents {
		count += len(watchers)
	}
	for _, watchers := range h.collections {
		count += len(watchers)
	}
	return count
}

// WatchedPaths lists document paths and collection paths with watchers.
func (h *WatchHub) WatchedPaths() (documents []string, collections []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for path := range h.documents {
		documents = append(documents, path)
	}
	for path := range h.collections {
		collections = append(collections, path)
	}
	sort.Strings(documents)
	sort.Strings(collections)
	return documents, collections
}

func (h *WatchHub) documentWatchers(path string) []*documentWatcher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*documentWatcher, 0, len(h.documents[path]))
	for w := range h.documents[path] {
		out = append(out, w)
	}
	return out
}

func (h *WatchHub) collectionWatchers(collection string) []*collectionWatcher {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*collectionWatcher, 0, len(h.collections[collection]))
	for w := range h.collections[collection] {
		out = append(out, w)
	}
	return out
}

func (w *collectionWatcher) classify(snapshots []*Snapshot) []Change {
	var changes []Change
	for _, snap := range snapshots {
		_, known := w.known[snap.Path]
		switch {
		case snap.Exists && !known:
			w.known[snap.Path] = struct{}{}
			changes = append(changes, Change{Type: ChangeAdded, Document: snap})
		case snap.Exists:
			changes = append(changes, Change{Type: ChangeModified, Document: snap})
		case known:
			delete(w.known, snap.Path)
			changes = append(changes, Change{Type: ChangeRemoved, Document: snap})
		}
	}
	return changes
}
