package literal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/projection"
)

const sample = `
motd: hello world
config:
  name: skylink
  port: 9234
  debug: true
  missing: ~
tags:
  - one
  - two
logo: !blob
  mime: image/svg+xml
  data: <svg/>
raw: !!binary aGk=
ping: !function
`

func loadSample(t *testing.T) *Tree {
	t.Helper()
	root, err := Load(strings.NewReader(sample), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return New(root)
}

func resolve(t *testing.T, tree *Tree, path string) entry.Handle {
	t.Helper()
	h, err := tree.Resolve(t.Context(), path)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", path, err)
	}
	if h == nil {
		t.Fatalf("Resolve(%q) found nothing", path)
	}
	return h
}

func names(entries []*data.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name+":"+e.Type.String())
	}
	return out
}

func TestLoad(t *testing.T) {
	tree := loadSample(t)

	results, err := entry.Enumerate(t.Context(), resolve(t, tree, ""), 2)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	want := []string{
		":Folder",
		"motd:String",
		"config:Folder",
		"config/name:String",
		"config/port:String",
		"config/debug:String",
		"tags:Folder",
		"tags/1:String",
		"tags/2:String",
		"logo:Blob",
		"raw:Blob",
		"ping:Function",
	}
	if diff := cmp.Diff(want, names(results)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	logo := tree.Snapshot("logo")
	if logo.Mime != "image/svg+xml" || string(logo.Data) != "<svg/>" {
		t.Errorf("Expected svg blob, got %+v", logo)
	}
	if raw := tree.Snapshot("raw"); string(raw.Data) != "hi" {
		t.Errorf("Expected decoded binary, got %q", raw.Data)
	}
}

func TestLoadRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"ScalarRoot":   "just a string",
		"DuplicateKey": "a: 1\na: 2\n",
		"BadBlobKey":   "f: !blob\n  size: 3\n",
		"BadBinary":    "f: !!binary '%%%'\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(doc), ""); !errors.Is(err, data.ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}

	root, err := Load(strings.NewReader(""), "empty")
	if err != nil || root.Type != data.TypeFolder || len(root.Children) != 0 {
		t.Errorf("Expected empty folder for empty document, got %+v (%v)", root, err)
	}
}

func TestGetPut(t *testing.T) {
	tree := loadSample(t)
	ctx := t.Context()

	motd := resolve(t, tree, "motd")
	before, _ := entry.Get(ctx, motd)

	if err := entry.Put(ctx, motd, data.NewString("ignored", "bye")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	after, _ := entry.Get(ctx, motd)
	if after.StringValue != "bye" || after.Name != "motd" {
		t.Errorf("Expected renamed updated entry, got %+v", after)
	}
	if before.StringValue != "hello world" {
		t.Errorf("Expected earlier snapshot to stay intact, got %+v", before)
	}

	fresh := resolve(t, tree, "config/new%20key")
	if got, _ := entry.Get(ctx, fresh); got != nil {
		t.Errorf("Expected nothing before create, got %+v", got)
	}
	if err := entry.Put(ctx, fresh, data.NewString("", "v")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if got := tree.Snapshot("config/new%20key"); got == nil || got.Name != "new key" {
		t.Errorf("Expected created entry named %q, got %+v", "new key", got)
	}

	if err := entry.Put(ctx, fresh, nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := tree.Snapshot("config/new%20key"); got != nil {
		t.Errorf("Expected entry to be removed, got %+v", got)
	}

	if h, err := tree.Resolve(ctx, "nowhere/deep"); h != nil || err != nil {
		t.Errorf("Expected (nil, nil) below missing folder, got %v, %v", h, err)
	}
	if h, err := tree.Resolve(ctx, "motd/child"); h != nil || err != nil {
		t.Errorf("Expected (nil, nil) below a string, got %v, %v", h, err)
	}

	if err := entry.Put(ctx, resolve(t, tree, ""), data.NewString("", "x")); !errors.Is(err, data.ErrValidation) {
		t.Errorf("Expected validation error replacing root with a string, got %v", err)
	}
}

func TestInvoke(t *testing.T) {
	tree := loadSample(t)
	ctx := t.Context()

	if _, err := entry.Invoke(ctx, resolve(t, tree, "ping"), nil); !errors.Is(err, data.ErrUnsupported) {
		t.Errorf("Expected unbound function to be unsupported, got %v", err)
	}

	err := tree.Register("ping", func(ctx context.Context, input *data.Entry) (*data.Entry, error) {
		return data.NewString("pong", input.StringValue), nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	out, err := entry.Invoke(ctx, resolve(t, tree, "ping"), data.NewString("", "echo"))
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out.StringValue != "echo" {
		t.Errorf("Expected echo, got %+v", out)
	}

	// Replacing the node drops its implementation.
	entry.Put(ctx, resolve(t, tree, "ping"), data.NewString("", "gone"))
	if _, err := entry.Invoke(ctx, resolve(t, tree, "ping"), nil); !errors.Is(err, data.ErrUnsupported) {
		t.Errorf("Expected replaced function to be unsupported, got %v", err)
	}
}

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

func TestSubscribe(t *testing.T) {
	tree := loadSample(t)
	ctx := t.Context()

	q := projection.NewQueue(64, time.Second)
	sub, err := entry.Subscribe(ctx, resolve(t, tree, "config"), 1, q)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	expectQueue(t, q,
		`Added("name", String "skylink")`,
		`Added("port", String "9234")`,
		`Added("debug", String "true")`,
		"Ready",
	)

	entry.Put(ctx, resolve(t, tree, "config/port"), data.NewString("", "80"))
	expectQueue(t, q, `Changed("port", String "80")`)

	entry.Put(ctx, resolve(t, tree, "config/debug"), nil)
	expectQueue(t, q, `Removed("debug")`)

	// Writes outside the subscribed subtree do not reach it.
	entry.Put(ctx, resolve(t, tree, "motd"), data.NewString("", "quiet"))

	entry.Put(ctx, resolve(t, tree, ""), data.NewFolder(""))
	expectQueue(t, q, `Removed("name")`, `Removed("port")`)

	sub.Stop()
	if n := tree.WatcherCount(); n != 0 {
		t.Errorf("Expected watcher to be released, got %d", n)
	}
}

func expectCrash(t *testing.T, q *projection.Queue) error {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-q.Events():
			if !ok {
				t.Fatalf("queue closed without an error (err %v)", q.Err())
			}
			if ev.Done {
				t.Fatalf("Expected crash, got Done")
			}
			if ev.Err != nil {
				return ev.Err
			}
		case <-timeout:
			t.Fatalf("Expected crash before timeout")
		}
	}
}

func TestSubscribeRootTypeChange(t *testing.T) {
	for name, tc := range map[string]struct {
		path    string
		initial []string
		value   *data.Entry
	}{
		"FolderToString": {
			path: "config",
			initial: []string{
				`Added("name", String "skylink")`,
				`Added("port", String "9234")`,
				`Added("debug", String "true")`,
				"Ready",
			},
			value: data.NewString("", "flat"),
		},
		"StringToFolder": {
			path:    "motd",
			initial: []string{`Added("", String "hello world")`, "Ready"},
			value:   data.NewFolder("", data.NewString("line", "hi")),
		},
	} {
		t.Run(name, func(t *testing.T) {
			tree := loadSample(t)
			ctx := t.Context()

			q := projection.NewQueue(64, time.Second)
			sub, err := entry.Subscribe(ctx, resolve(t, tree, tc.path), 1, q)
			if err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			expectQueue(t, q, tc.initial...)

			if err := entry.Put(ctx, resolve(t, tree, tc.path), tc.value); err != nil {
				t.Fatalf("Put failed: %v", err)
			}

			var bug *data.ProtocolBug
			if err := expectCrash(t, q); !errors.As(err, &bug) || bug.Path != "" {
				t.Errorf("Expected protocol bug at the root, got %v", err)
			}

			select {
			case <-sub.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("Expected crashed subscription to stop")
			}
			if n := tree.WatcherCount(); n != 0 {
				t.Errorf("Expected watcher to be released, got %d", n)
			}

			// Other subscribers on the same tree keep working.
			other := projection.NewQueue(64, time.Second)
			if _, err := entry.Subscribe(ctx, resolve(t, tree, tc.path), 1, other); err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			if ev := <-other.Events(); ev.Terminal() {
				t.Errorf("Expected a fresh feed, got %+v", ev)
			}
		})
	}
}

func TestPutRejectsUnnamedChild(t *testing.T) {
	tree := loadSample(t)
	ctx := t.Context()

	value := data.NewFolder("", data.NewString("", "anon"))
	if err := entry.Put(ctx, resolve(t, tree, "config"), value); !errors.Is(err, data.ErrInvalid) {
		t.Errorf("Expected ErrInvalid, got %v", err)
	}
	if got := tree.Snapshot("config"); got == nil || got.Type != data.TypeFolder || len(got.Children) != 3 {
		t.Errorf("Expected config to stay untouched, got %+v", got)
	}
}
