package skylink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/mount/backend/memory"
	"github.com/stardustapp/skychat-sub000/mounts/literal"
	"github.com/stardustapp/skychat-sub000/mounts/structured"
	"github.com/stardustapp/skychat-sub000/projection"
)

func newNamespace(t *testing.T) *Namespace {
	t.Helper()
	ns, err := NewNamespace(WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("NewNamespace failed: %v", err)
	}
	t.Cleanup(func() { ns.Shutdown(context.Background()) })
	return ns
}

func entryNames(entries []*data.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name+":"+e.Type.String())
	}
	return out
}

func TestMountResolution(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	rootTree := literal.New(data.NewFolder("", data.NewString("motd", "root")))
	deepTree := literal.New(data.NewFolder("", data.NewString("motd", "deep")))

	if err := ns.Mount(ctx, "/", rootTree); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if err := ns.Mount(ctx, "/apps/chat", deepTree); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	if err := ns.Mount(ctx, "apps/chat/", deepTree); !errors.Is(err, data.ErrAlreadyMounted) {
		t.Errorf("Expected ErrAlreadyMounted, got %v", err)
	}

	got, err := ns.Get(ctx, "/motd")
	if err != nil || got.StringValue != "root" {
		t.Errorf("Expected root motd, got %+v (%v)", got, err)
	}
	got, err = ns.Get(ctx, "/apps/chat/motd")
	if err != nil || got.StringValue != "deep" {
		t.Errorf("Expected longest-prefix motd, got %+v (%v)", got, err)
	}

	// "/apps" is not in the root tree, so it is synthesized.
	apps, err := ns.Get(ctx, "/apps")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if apps.Type != data.TypeFolder || len(apps.Children) != 1 || apps.Children[0].Name != "chat" {
		t.Errorf("Expected virtual folder with chat, got %+v", apps)
	}

	results, err := ns.Enumerate(ctx, "/apps", 2)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if diff := cmp.Diff([]string{":Folder", "chat:Folder", "chat/motd:String"}, entryNames(results)); diff != "" {
		t.Errorf("enumerate mismatch (-want +got):\n%s", diff)
	}

	if got, err := ns.Get(ctx, "/nothing/here"); got != nil || err != nil {
		t.Errorf("Expected (nil, nil) for missing path, got %+v, %v", got, err)
	}
	if _, err := ns.Get(ctx, "/bad//path"); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath, got %v", err)
	}
}

func TestPutWithoutMount(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	if err := ns.Put(ctx, "/x", data.NewString("x", "1")); !errors.Is(err, data.ErrNotMounted) {
		t.Errorf("Expected ErrNotMounted, got %v", err)
	}

	ns.Mount(ctx, "/tree", literal.New(nil))
	if err := ns.Put(ctx, "/tree/a/b", data.NewString("b", "1")); !errors.Is(err, data.ErrInvalidPath) {
		t.Errorf("Expected ErrInvalidPath below a missing folder, got %v", err)
	}
	if err := ns.Put(ctx, "/tree/a", data.NewString("a", "1")); err != nil {
		t.Errorf("Put failed: %v", err)
	}
}

func TestReadOnlyMount(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	ns.Mount(ctx, "/ro", literal.New(data.NewFolder("", data.NewString("k", "v"))), mount.AsReadOnly())
	if err := ns.Put(ctx, "/ro/k", data.NewString("k", "w")); !errors.Is(err, data.ErrReadOnly) {
		t.Errorf("Expected ErrReadOnly, got %v", err)
	}
	if got, _ := ns.Get(ctx, "/ro/k"); got.StringValue != "v" {
		t.Errorf("Expected value to be untouched, got %+v", got)
	}
}

func TestUnmountBusy(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	store := memory.NewMemoryBackend()
	schema := structured.Schema{{Name: "name", Spec: mount.Scalar{Kind: mount.KindString}}}
	people := structured.CollectionMapping(backend.NewRef(store, "people"), schema, nil)

	err := ns.Mount(ctx, "/people", people, mount.WithBackend(store))
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	ns.Mount(ctx, "/people/extra", literal.New(nil))

	if err := ns.Unmount(ctx, "/people", false); !errors.Is(err, data.ErrMountBusy) {
		t.Errorf("Expected ErrMountBusy with child mounts, got %v", err)
	}
	if err := ns.Unmount(ctx, "/people/extra", false); err != nil {
		t.Fatalf("Unmount failed: %v", err)
	}

	q := projection.NewQueue(16, time.Second)
	sub, err := ns.Subscribe(ctx, "/people", 2, q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-q.Events() // Ready

	if err := ns.Unmount(ctx, "/people", false); !errors.Is(err, data.ErrMountBusy) {
		t.Errorf("Expected ErrMountBusy with live subscription, got %v", err)
	}
	if infos := ns.Mounts(); len(infos) != 1 || infos[0].Subscriptions != 1 {
		t.Errorf("Expected one mount with one subscription, got %+v", infos)
	}

	sub.Stop()
	deadline := time.Now().Add(time.Second)
	for ns.Mounts()[0].Subscriptions != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := ns.Unmount(ctx, "/people", false); err != nil {
		t.Errorf("Unmount failed: %v", err)
	}
	if err := ns.Unmount(ctx, "/people", false); !errors.Is(err, data.ErrNotMounted) {
		t.Errorf("Expected ErrNotMounted, got %v", err)
	}
}

func TestShutdown(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	ns.Mount(ctx, "/a", literal.New(nil))
	ns.Mount(ctx, "/a/b", literal.New(nil))

	if err := ns.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if n := len(ns.Mounts()); n != 0 {
		t.Errorf("Expected no mounts after shutdown, got %d", n)
	}
	if err := ns.Mount(ctx, "/c", literal.New(nil)); !errors.Is(err, data.ErrClosed) {
		t.Errorf("Expected ErrClosed after shutdown, got %v", err)
	}
}

func TestNestingDisabled(t *testing.T) {
	ns := newNamespace(t)
	ctx := t.Context()

	ns.Mount(ctx, "/sealed", literal.New(nil), mount.DisableNesting())
	if err := ns.Mount(ctx, "/sealed/inner", literal.New(nil)); !errors.Is(err, data.ErrMountBusy) {
		t.Errorf("Expected ErrMountBusy for nested mount, got %v", err)
	}
}
