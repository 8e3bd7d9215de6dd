// Package storetest is the conformance suite every DocumentStore runs from
// its own tests.
package storetest

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) backend.DocumentStore

// WatchTimeout bounds how long the suite waits for asynchronous watch
// delivery from stores with a remote change feed.
var WatchTimeout = 5 * time.Second

func Run(t *testing.T, factory Factory) {
	tests := map[string]func(*testing.T, backend.DocumentStore){
		"GetMissing":      testGetMissing,
		"SetGet":          testSetGet,
		"MergeReplace":    testMergeReplace,
		"Delete":          testDelete,
		"ListDirect":      testListDirect,
		"Add":             testAdd,
		"WatchDocument":   testWatchDocument,
		"WatchCollection": testWatchCollection,
		"Unwatch":         testUnwatch,
	}

	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			if err := store.Open(t.Context()); err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer store.Close(t.Context())

			tests[name](t, store)
		})
	}
}

func testGetMissing(t *testing.T, store backend.DocumentStore) {
	snap, err := store.Get(t.Context(), "users/nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.Exists {
		t.Errorf("Expected missing document, got %+v", snap)
	}
	if _, ok := snap.Field("name"); ok {
		t.Errorf("Expected no fields on missing document")
	}
}

func testSetGet(t *testing.T, store backend.DocumentStore) {
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fields := map[string]any{
		"name":    "alice",
		"age":     41,
		"admin":   true,
		"joined":  when,
		"aliases": []string{"al", "ally"},
		"labels":  map[string]string{"team": "core"},
	}
	if err := store.Set(t.Context(), "users/alice", fields, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	snap, err := store.Get(t.Context(), "users/alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !snap.Exists {
		t.Fatalf("Expected document to exist")
	}

	want := map[string]any{
		"name":    "alice",
		"age":     float64(41),
		"admin":   true,
		"joined":  when,
		"aliases": []any{"al", "ally"},
		"labels":  map[string]any{"team": "core"},
	}
	if diff := cmp.Diff(want, snap.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
	if snap.ID() != "alice" {
		t.Errorf("Expected id %q, got %q", "alice", snap.ID())
	}
}

func testMergeReplace(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	if err := store.Set(ctx, "users/bob", map[string]any{"name": "bob", "age": 30}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, "users/bob", map[string]any{"age": 31}, backend.SetMerge); err != nil {
		t.Fatalf("Set merge failed: %v", err)
	}

	snap, _ := store.Get(ctx, "users/bob")
	if diff := cmp.Diff(map[string]any{"name": "bob", "age": float64(31)}, snap.Fields); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}

	if err := store.Set(ctx, "users/bob", map[string]any{"age": 32}, backend.SetReplace); err != nil {
		t.Fatalf("Set replace failed: %v", err)
	}
	snap, _ = store.Get(ctx, "users/bob")
	if diff := cmp.Diff(map[string]any{"age": float64(32)}, snap.Fields); diff != "" {
		t.Errorf("replace mismatch (-want +got):\n%s", diff)
	}

	// A nil value in a merge removes the field.
	if err := store.Set(ctx, "users/bob", map[string]any{"age": nil, "name": "robert"}, backend.SetMerge); err != nil {
		t.Fatalf("Set merge failed: %v", err)
	}
	snap, _ = store.Get(ctx, "users/bob")
	if diff := cmp.Diff(map[string]any{"name": "robert"}, snap.Fields); diff != "" {
		t.Errorf("nil merge mismatch (-want +got):\n%s", diff)
	}
}

func testDelete(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	if err := store.Set(ctx, "users/carol", map[string]any{"name": "carol"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete(ctx, "users/carol"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "users/carol"); err != nil {
		t.Fatalf("Delete of missing document failed: %v", err)
	}

	snap, _ := store.Get(ctx, "users/carol")
	if snap.Exists {
		t.Errorf("Expected document to be gone")
	}
}

func testListDirect(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	for _, path := range []string{"rooms/b", "rooms/a", "rooms/a/messages/1", "roomsx/z"} {
		if err := store.Set(ctx, path, map[string]any{"path": path}, backend.SetReplace); err != nil {
			t.Fatalf("Set %s failed: %v", path, err)
		}
	}

	docs, err := store.List(ctx, "rooms")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	var ids []string
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
}

func testAdd(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	first, err := store.Add(ctx, "events", map[string]any{"n": 1})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	second, err := store.Add(ctx, "events", map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if first == second || first == "" {
		t.Errorf("Expected distinct ids, got %q and %q", first, second)
	}

	docs, _ := store.List(ctx, "events")
	if len(docs) != 2 {
		t.Errorf("Expected 2 documents, got %d", len(docs))
	}
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []*backend.Snapshot
	cond  chan struct{}
}

func newSnapshotLog() *snapshotLog {
	return &snapshotLog{cond: make(chan struct{}, 64)}
}

func (l *snapshotLog) add(s *backend.Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
	select {
	case l.cond <- struct{}{}:
	default:
	}
}

// waitFor blocks until match accepts the latest snapshot.
func (l *snapshotLog) waitFor(t *testing.T, match func(*backend.Snapshot) bool) {
	t.Helper()
	deadline := time.After(WatchTimeout)
	for {
		l.mu.Lock()
		if n := len(l.snaps); n > 0 && match(l.snaps[n-1]) {
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()

		select {
		case <-l.cond:
		case <-deadline:
			t.Fatalf("Expected matching snapshot before timeout")
		}
	}
}

func testWatchDocument(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	if err := store.Set(ctx, "users/dave", map[string]any{"name": "dave"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	log := newSnapshotLog()
	unwatch, err := store.WatchDocument(ctx, "users/dave", log.add, func(err error) {
		t.Errorf("unexpected watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}
	defer unwatch()

	log.waitFor(t, func(s *backend.Snapshot) bool {
		v, _ := s.Field("name")
		return v == "dave"
	})

	if err := store.Set(ctx, "users/dave", map[string]any{"name": "david"}, backend.SetMerge); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	log.waitFor(t, func(s *backend.Snapshot) bool {
		v, _ := s.Field("name")
		return v == "david"
	})

	if err := store.Delete(ctx, "users/dave"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	log.waitFor(t, func(s *backend.Snapshot) bool {
		return !s.Exists
	})
}

type changeLog struct {
	mu      sync.Mutex
	changes []string
	cond    chan struct{}
}

func (l *changeLog) add(changes []backend.Change) {
	l.mu.Lock()
	for _, c := range changes {
		l.changes = append(l.changes, c.Type.String()+" "+c.Document.ID())
	}
	l.mu.Unlock()
	select {
	case l.cond <- struct{}{}:
	default:
	}
}

func (l *changeLog) waitFor(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.After(WatchTimeout)
	for {
		l.mu.Lock()
		got := append([]string(nil), l.changes...)
		l.mu.Unlock()

		if len(got) >= len(want) {
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("changes mismatch (-want +got):\n%s", diff)
			}
			return
		}

		select {
		case <-l.cond:
		case <-deadline:
			t.Fatalf("Expected %v before timeout, got %v", want, got)
		}
	}
}

func testWatchCollection(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	if err := store.Set(ctx, "people/1", map[string]any{"name": "alice"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	log := &changeLog{cond: make(chan struct{}, 64)}
	unwatch, err := store.WatchCollection(ctx, "people", log.add, func(err error) {
		t.Errorf("unexpected watch error: %v", err)
	})
	if err != nil {
		t.Fatalf("WatchCollection failed: %v", err)
	}
	defer unwatch()

	log.waitFor(t, "added 1")

	if err := store.Set(ctx, "people/2", map[string]any{"name": "bob"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	log.waitFor(t, "added 1", "added 2")

	if err := store.Set(ctx, "people/1", map[string]any{"name": "alicia"}, backend.SetMerge); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	log.waitFor(t, "added 1", "added 2", "modified 1")

	if err := store.Delete(ctx, "people/2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	log.waitFor(t, "added 1", "added 2", "modified 1", "removed 2")
}

func testUnwatch(t *testing.T, store backend.DocumentStore) {
	ctx := t.Context()
	log := newSnapshotLog()
	unwatch, err := store.WatchDocument(ctx, "users/erin", log.add, nil)
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}
	log.waitFor(t, func(s *backend.Snapshot) bool { return !s.Exists })

	unwatch()
	unwatch()

	if err := store.Set(ctx, "users/erin", map[string]any{"name": "erin"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	log.mu.Lock()
	defer log.mu.Unlock()
	for _, s := range log.snaps {
		if s.Exists {
			t.Errorf("Expected no delivery after unwatch, got %+v", s)
		}
	}
}
