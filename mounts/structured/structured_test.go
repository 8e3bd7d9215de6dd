package structured

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/cache"
	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/mount/backend/memory"
	"github.com/stardustapp/skychat-sub000/projection"
)

func newStore(t *testing.T) *memory.MemoryBackend {
	t.Helper()
	store := memory.NewMemoryBackend()
	if err := store.Open(t.Context()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close(t.Context()) })
	return store
}

func resolve(t *testing.T, m *mount.Mapping, path string) entry.Handle {
	t.Helper()
	h, err := mount.Resolve(t.Context(), m, path)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", path, err)
	}
	if h == nil {
		t.Fatalf("Resolve(%q) found nothing", path)
	}
	return h
}

// expectQueue reads exactly len(want) notifications from q.
func expectQueue(t *testing.T, q *projection.Queue, want ...string) {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < len(want) {
		select {
		case ev, ok := <-q.Events():
			if !ok {
				t.Fatalf("queue closed after %v (err %v)", got, q.Err())
			}
			if ev.Notification != nil {
				got = append(got, ev.Notification.String())
			}
		case <-timeout:
			t.Fatalf("Expected %v, got %v before timeout", want, got)
		}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func expectQuiet(t *testing.T, q *projection.Queue) {
	t.Helper()
	select {
	case ev := <-q.Events():
		if ev.Notification != nil {
			t.Errorf("Expected no notification, got %s", ev.Notification)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

var personSchema = Schema{
	{Name: "name", Spec: mount.Scalar{Kind: mount.KindString}},
}

func TestCollectionSubscribeScenario(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	store.Set(ctx, "people/1", map[string]any{"name": "alice"}, backend.SetReplace)

	people := CollectionMapping(backend.NewRef(store, "people"), personSchema, nil)
	q := projection.NewQueue(64, time.Second)
	sub, err := entry.Subscribe(ctx, resolve(t, people, ""), 2, q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Stop()

	expectQueue(t, q, `Added("1", Folder)`, `Added("1/name", String "alice")`, "Ready")

	store.Set(ctx, "people/2", map[string]any{"name": "bob"}, backend.SetReplace)
	expectQueue(t, q, `Added("2", Folder)`, `Added("2/name", String "bob")`)

	store.Set(ctx, "people/1", map[string]any{"name": "alicia"}, backend.SetMerge)
	expectQueue(t, q, `Changed("1/name", String "alicia")`)

	store.Delete(ctx, "people/2")
	expectQueue(t, q, `Removed("2")`)
	expectQuiet(t, q)
}

func TestSubscribeStopReleasesWatch(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	people := CollectionMapping(backend.NewRef(store, "people"), personSchema, nil)
	q := projection.NewQueue(64, time.Second)
	sub, err := entry.Subscribe(ctx, resolve(t, people, ""), 2, q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	expectQueue(t, q, "Ready")

	sub.Stop()
	if _, collections := store.Hub().WatchedPaths(); len(collections) != 0 {
		t.Errorf("Expected watch to be released, still watching %v", collections)
	}

	store.Set(ctx, "people/3", map[string]any{"name": "carol"}, backend.SetReplace)
	for ev := range q.Events() {
		if ev.Notification != nil {
			t.Errorf("Expected no delivery after stop, got %s", ev.Notification)
		}
	}
}

func TestFieldRoundTrip(t *testing.T) {
	tests := []struct {
		kind  mount.Kind
		value string
	}{
		{mount.KindString, "hello world"},
		{mount.KindString, ""},
		{mount.KindNumber, "42"},
		{mount.KindNumber, "-3.25"},
		{mount.KindBoolean, "yes"},
		{mount.KindBoolean, "no"},
		{mount.KindDate, "2024-01-02T03:04:05.000Z"},
		{mount.KindDate, "1999-12-31T23:59:59.123Z"},
	}

	store := newStore(t)
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.value, func(t *testing.T) {
			doc := DocumentMapping(backend.NewRef(store, "things/x"), Schema{
				{Name: "v", Spec: mount.Scalar{Kind: tt.kind}},
			}, nil)
			h := resolve(t, doc, "v")

			want := data.NewString("v", tt.value)
			if err := entry.Put(t.Context(), h, want); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, err := entry.Get(t.Context(), h)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFieldValidation(t *testing.T) {
	tests := []struct {
		kind  mount.Kind
		value *data.Entry
	}{
		{mount.KindNumber, data.NewString("v", "twelve")},
		{mount.KindBoolean, data.NewString("v", "maybe")},
		{mount.KindDate, data.NewString("v", "yesterday")},
		{mount.KindDate, data.NewString("v", "2024-13-01T00:00:00Z")},
		{mount.KindString, data.NewFolder("v")},
		{mount.KindStringMap, data.NewString("v", "x")},
	}

	store := newStore(t)
	ref := backend.NewRef(store, "things/y")
	store.Set(t.Context(), ref.Path, map[string]any{"v": "original"}, backend.SetReplace)

	for _, tt := range tests {
		doc := DocumentMapping(ref, Schema{{Name: "v", Spec: mount.Scalar{Kind: tt.kind}}}, nil)
		h := resolve(t, doc, "v")
		if err := entry.Put(t.Context(), h, tt.value); !errors.Is(err, data.ErrValidation) {
			t.Errorf("Expected ErrValidation for %s <- %+v, got %v", tt.kind, tt.value, err)
		}
	}

	snap, _ := store.Get(t.Context(), ref.Path)
	if v, _ := snap.Field("v"); v != "original" {
		t.Errorf("Expected store untouched, got %v", v)
	}
}

func TestFieldAbsentAndDelete(t *testing.T) {
	store := newStore(t)
	doc := DocumentMapping(backend.NewRef(store, "users/alice"), personSchema, nil)
	h := resolve(t, doc, "name")

	if got, err := entry.Get(t.Context(), h); err != nil || got != nil {
		t.Fatalf("Expected absent field, got %+v, %v", got, err)
	}

	entry.Put(t.Context(), h, data.NewString("name", "alice"))
	if err := entry.Put(t.Context(), h, nil); err != nil {
		t.Fatalf("Put nil failed: %v", err)
	}
	if got, _ := entry.Get(t.Context(), h); got != nil {
		t.Errorf("Expected field removed, got %+v", got)
	}
}

func TestArrayField(t *testing.T) {
	store := newStore(t)
	doc := DocumentMapping(backend.NewRef(store, "users/alice"), Schema{
		{Name: "aliases", Spec: mount.ArrayOf{Kind: mount.KindString, Max: 3}},
	}, nil)
	h := resolve(t, doc, "aliases")
	ctx := t.Context()

	value := data.NewFolder("aliases", data.NewString("2", "ally"), data.NewString("1", "al"))
	if err := entry.Put(ctx, h, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _ := entry.Get(ctx, h)
	want := data.NewFolder("aliases", data.NewString("1", "al"), data.NewString("2", "ally"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("array mismatch (-want +got):\n%s", diff)
	}

	third := resolve(t, doc, "aliases/3")
	if err := entry.Put(ctx, third, data.NewString("3", "alicat")); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	first := resolve(t, doc, "aliases/1")
	if err := entry.Put(ctx, first, nil); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	got, _ = entry.Get(ctx, h)
	want = data.NewFolder("aliases", data.NewString("1", "ally"), data.NewString("2", "alicat"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("array mismatch after element writes (-want +got):\n%s", diff)
	}

	tooMany := data.NewFolder("aliases",
		data.NewString("1", "a"), data.NewString("2", "b"),
		data.NewString("3", "c"), data.NewString("4", "d"))
	if err := entry.Put(ctx, h, tooMany); !errors.Is(err, data.ErrValidation) {
		t.Errorf("Expected ErrValidation past the bound, got %v", err)
	}
	if h, _ := mount.Resolve(ctx, doc, "aliases/4"); h != nil {
		t.Errorf("Expected index past the bound to be unresolvable")
	}
}

func TestStringMapField(t *testing.T) {
	store := newStore(t)
	doc := DocumentMapping(backend.NewRef(store, "users/alice"), Schema{
		{Name: "labels", Spec: mount.Scalar{Kind: mount.KindStringMap}},
	}, nil)
	ctx := t.Context()

	team := resolve(t, doc, "labels/team")
	if err := entry.Put(ctx, team, data.NewString("team", "core")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	room := resolve(t, doc, "labels/home%20room")
	if err := entry.Put(ctx, room, data.NewString("home room", "general")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _ := entry.Get(ctx, resolve(t, doc, "labels"))
	want := data.NewFolder("labels", data.NewString("home room", "general"), data.NewString("team", "core"))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}

	if err := entry.Put(ctx, team, nil); err != nil {
		t.Fatalf("Put nil failed: %v", err)
	}
	if got, _ := entry.Get(ctx, team); got != nil {
		t.Errorf("Expected key removed, got %+v", got)
	}
}

func TestDocumentPut(t *testing.T) {
	store := newStore(t)
	schema := Schema{
		{Name: "name", Spec: mount.Scalar{Kind: mount.KindString}},
		{Name: "age", Spec: mount.Scalar{Kind: mount.KindNumber}},
		{Name: "prefs/theme", Spec: mount.Scalar{Kind: mount.KindString}},
	}
	ref := backend.NewRef(store, "users/alice")
	doc := DocumentMapping(ref, schema, nil)
	h := resolve(t, doc, "")
	ctx := t.Context()

	value := data.NewFolder("alice",
		data.NewString("name", "alice"),
		data.NewString("age", "41"),
		data.NewFolder("prefs", data.NewString("theme", "dark")),
	)
	if err := entry.Put(ctx, h, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, _ := entry.Get(ctx, h)
	if diff := cmp.Diff(value, got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}

	// Declared fields missing from the input are removed.
	if err := entry.Put(ctx, h, data.NewFolder("alice", data.NewString("name", "al"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, _ = entry.Get(ctx, h)
	if diff := cmp.Diff(data.NewFolder("alice", data.NewString("name", "al")), got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []*data.Entry{
		data.NewString("alice", "x"),
		data.NewFolder("alice", data.NewString("nickname", "al")),
		data.NewFolder("alice", data.NewString("age", "old")),
	} {
		if err := entry.Put(ctx, h, bad); !errors.Is(err, data.ErrValidation) {
			t.Errorf("Expected ErrValidation for %+v, got %v", bad, err)
		}
	}

	if err := entry.Put(ctx, h, nil); err != nil {
		t.Fatalf("Put nil failed: %v", err)
	}
	if got, _ := entry.Get(ctx, h); got != nil {
		t.Errorf("Expected document deleted, got %+v", got)
	}
}

func TestDocumentNestedCollection(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	messageSchema := Schema{{Name: "text", Spec: mount.Scalar{Kind: mount.KindString}}}
	roomSchema := Schema{
		{Name: "topic", Spec: mount.Scalar{Kind: mount.KindString}},
		{Name: "messages", Spec: SubCollection("messages", messageSchema, nil)},
	}

	store.Set(ctx, "rooms/general", map[string]any{"topic": "hi"}, backend.SetReplace)
	store.Set(ctx, "rooms/general/messages/m1", map[string]any{"text": "hello"}, backend.SetReplace)

	rooms := CollectionMapping(backend.NewRef(store, "rooms"), roomSchema, nil)

	text, _ := entry.Get(ctx, resolve(t, rooms, "general/messages/m1/text"))
	if text == nil || text.StringValue != "hello" {
		t.Fatalf("Expected nested message text, got %+v", text)
	}

	results, err := entry.Enumerate(ctx, resolve(t, rooms, ""), 4)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	var paths []string
	for _, r := range results {
		paths = append(paths, r.Name)
	}
	want := []string{"", "general", "general/topic", "general/messages", "general/messages/m1", "general/messages/m1/text"}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("enumerate mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectionPutAndAdd(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	store.Set(ctx, "people/old", map[string]any{"name": "gone"}, backend.SetReplace)

	people := CollectionMapping(backend.NewRef(store, "people"), personSchema, nil)
	h := resolve(t, people, "")

	value := data.NewFolder("people",
		data.NewFolder("a", data.NewString("name", "alice")),
		data.NewFolder("b", data.NewString("name", "bob")),
	)
	if err := entry.Put(ctx, h, value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, _ := entry.Get(ctx, h)
	if diff := cmp.Diff(value, got); diff != "" {
		t.Errorf("collection mismatch (-want +got):\n%s", diff)
	}

	bad := data.NewFolder("people", data.NewFolder("c", data.NewString("age", "1")))
	if err := entry.Put(ctx, h, bad); !errors.Is(err, data.ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if got, _ := entry.Get(ctx, h); len(got.Children) != 2 {
		t.Errorf("Expected failed put to leave the collection alone, got %+v", got)
	}

	out, err := entry.Invoke(ctx, h, data.NewFolder("", data.NewString("name", "carol")))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	name, _ := entry.Get(ctx, resolve(t, people, data.Join(out.StringValue, "name")))
	if name == nil || name.StringValue != "carol" {
		t.Errorf("Expected added document, got %+v", name)
	}
}

func newDateLog(t *testing.T, store backend.DocumentStore, opts *Options, now *time.Time) *mount.Mapping {
	t.Helper()
	return LogMapping(backend.NewRef(store, "logs/general"), LogOptions{
		Partitioning: PartitionDaily,
		Schema:       Schema{{Name: "text", Spec: mount.Scalar{Kind: mount.KindString}}},
		Clock:        func() time.Time { return *now },
	}, opts)
}

func TestLogPartitionBoundary(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	store.Set(ctx, "logs/general", map[string]any{"horizon": "2024-01-01", "latest": "2024-01-03"}, backend.SetReplace)
	store.Set(ctx, "logs/general/partitions/2024-01-01", map[string]any{"horizon": 1, "latest": 2}, backend.SetReplace)
	store.Set(ctx, "logs/general/partitions/2024-01-01/entries/1", map[string]any{"text": "one"}, backend.SetReplace)
	store.Set(ctx, "logs/general/partitions/2024-01-01/entries/2", map[string]any{"text": "two"}, backend.SetReplace)

	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	logs := newDateLog(t, store, nil, &now)
	root := resolve(t, logs, "")

	for _, depth := range []int{1, 3} {
		results, err := entry.Enumerate(ctx, root, depth)
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		var partitions []string
		for _, r := range results {
			if data.Depth(r.Name) > 1 {
				t.Errorf("Expected no descent below partitions at depth %d, got %q", depth, r.Name)
			}
			if r.Type == data.TypeFolder && r.Name != "" {
				partitions = append(partitions, r.Name)
			}
		}
		if diff := cmp.Diff([]string{"2024-01-01", "2024-01-02", "2024-01-03"}, partitions); diff != "" {
			t.Errorf("partitions mismatch at depth %d (-want +got):\n%s", depth, diff)
		}
	}

	partition := resolve(t, logs, "2024-01-01")
	results, _ := entry.Enumerate(ctx, partition, 1)
	for _, r := range results {
		if data.Depth(r.Name) > 1 {
			t.Errorf("Expected entries fields hidden at depth 1, got %q", r.Name)
		}
	}
	results, _ = entry.Enumerate(ctx, partition, 2)
	var deep []string
	for _, r := range results {
		if data.Depth(r.Name) == 2 {
			deep = append(deep, r.Name+"="+r.StringValue)
		}
	}
	if diff := cmp.Diff([]string{"1/text=one", "2/text=two"}, deep); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}

	if h, _ := mount.Resolve(ctx, logs, "not-a-day"); h != nil {
		t.Errorf("Expected invalid partition id to be unresolvable")
	}
}

func TestLogAppend(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	docCache, err := cache.NewDocumentCache("")
	if err != nil {
		t.Fatalf("NewDocumentCache failed: %v", err)
	}

	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	logs := newDateLog(t, store, &Options{Cache: docCache}, &now)
	root := resolve(t, logs, "")

	add := func(text string) string {
		t.Helper()
		out, err := entry.Invoke(ctx, root, data.NewFolder("", data.NewString("text", text)))
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		return out.StringValue
	}

	if got := add("one"); got != "2024-01-01/1" {
		t.Errorf("Expected 2024-01-01/1, got %s", got)
	}
	if got := add("two"); got != "2024-01-01/2" {
		t.Errorf("Expected 2024-01-01/2, got %s", got)
	}
	now = now.AddDate(0, 0, 2)
	if got := add("three"); got != "2024-01-03/1" {
		t.Errorf("Expected 2024-01-03/1, got %s", got)
	}

	l := root.(*Log)
	ids, _ := l.Partitions(ctx)
	if diff := cmp.Diff([]string{"2024-01-01", "2024-01-02", "2024-01-03"}, ids); diff != "" {
		t.Errorf("partitions mismatch (-want +got):\n%s", diff)
	}

	text, _ := entry.Get(ctx, resolve(t, logs, "2024-01-01/2/text"))
	if text == nil || text.StringValue != "two" {
		t.Errorf("Expected entry text, got %+v", text)
	}
	entry.Get(ctx, resolve(t, logs, "2024-01-01/2/text"))
	if stats := docCache.Stats(); stats.Hits == 0 {
		t.Errorf("Expected entry reads to hit the cache, got %+v", stats)
	}

	if err := entry.Put(ctx, resolve(t, logs, "latest"), data.NewString("latest", "2030-01-01")); !errors.Is(err, data.ErrReadOnly) {
		t.Errorf("Expected log bounds to be read-only, got %v", err)
	}
}

func TestLogCounterPartitions(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	logs := LogMapping(backend.NewRef(store, "jobs"), LogOptions{
		Partitioning:  PartitionCounter,
		PartitionSize: 2,
		Schema:        Schema{{Name: "text", Spec: mount.Scalar{Kind: mount.KindString}}},
	}, nil)
	l := resolve(t, logs, "").(*Log)

	var paths []string
	for _, text := range []string{"a", "b", "c"} {
		path, err := l.Append(ctx, data.NewFolder("", data.NewString("text", text)))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		paths = append(paths, path)
	}
	if diff := cmp.Diff([]string{"1/1", "1/2", "2/1"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}

	latest, _ := entry.Get(ctx, resolve(t, logs, "latest"))
	if latest == nil || latest.StringValue != "2" {
		t.Errorf("Expected latest partition 2, got %+v", latest)
	}
}

func TestLogSubscribe(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	logs := newDateLog(t, store, nil, &now)
	l := resolve(t, logs, "").(*Log)

	l.Append(ctx, data.NewFolder("", data.NewString("text", "one")))

	q := projection.NewQueue(64, time.Second)
	sub, err := entry.Subscribe(ctx, resolve(t, logs, "2024-01-01"), 2, q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Stop()

	expectQueue(t, q,
		`Added("horizon", String "1")`,
		`Added("latest", String "1")`,
		`Added("1", Folder)`,
		`Added("1/text", String "one")`,
		"Ready",
	)

	l.Append(ctx, data.NewFolder("", data.NewString("text", "two")))
	expectQueue(t, q,
		`Changed("latest", String "2")`,
		`Added("2", Folder)`,
		`Added("2/text", String "two")`,
	)
}
