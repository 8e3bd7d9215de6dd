// Package literal serves a mutable in-memory entry tree. It backs static
// configuration, scratch space and function nodes implemented in Go.
package literal

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Function implements an invokable node.
type Function func(ctx context.Context, input *data.Entry) (*data.Entry, error)

// Tree is a thread-safe entry tree. Entries are never mutated in place: a
// write rebuilds the spine from the root down to the changed node, so that
// entries handed out by Get stay valid snapshots.
type Tree struct {
	// deliver serializes writes with the notifications they cause.
	deliver sync.Mutex

	mu        sync.RWMutex
	root      *data.Entry
	functions map[string]Function
	watchers  map[*watcher]struct{}

	logger *log.Logger
}

type watcher struct {
	path  string
	depth int
	sub   *entry.Subscription
}

type Option func(*Tree)

func WithLogger(logger *log.Logger) Option {
	return func(t *Tree) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a tree holding a copy of root. A nil root starts empty.
func New(root *data.Entry, opts ...Option) *Tree {
	if root == nil {
		root = data.NewFolder("")
	}
	t := &Tree{
		root:      root.Clone(),
		functions: make(map[string]Function),
		watchers:  make(map[*watcher]struct{}),
		logger:    log.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Resolve returns a handle for path when the node exists or when its parent
// is a folder, so that Put can create it.
func (t *Tree) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	path = data.Clean(path)
	if err := data.ValidatePath(path); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if path == "" {
		return &node{tree: t, path: "", name: t.root.Name}, nil
	}

	parentPath, segment := data.Parent(path)
	parent := lookup(t.root, parentPath)
	if parent == nil || parent.Type != data.TypeFolder {
		return nil, nil
	}
	name, err := data.DecodeSegment(segment)
	if err != nil {
		return nil, err
	}
	return &node{tree: t, path: path, name: name}, nil
}

// Register places a function node at path backed by fn.
func (t *Tree) Register(path string, fn Function) error {
	if fn == nil {
		return fmt.Errorf("%w: nil function for '%s'", data.ErrInvalid, path)
	}
	path = data.Clean(path)
	_, segment := data.Parent(path)
	name, err := data.DecodeSegment(segment)
	if err != nil {
		return err
	}

	return t.write(path, data.NewFunction(name), fn)
}

// Snapshot returns the entry at path, or nil.
func (t *Tree) Snapshot(path string) *data.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return lookup(t.root, data.Clean(path))
}

func (t *Tree) function(path string) (Function, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fn, ok := t.functions[path]
	return fn, ok
}

// write replaces the node at path with value, nil removing it, and notifies
// every watcher whose root overlaps path.
func (t *Tree) write(path string, value *data.Entry, fn Function) error {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	t.mu.Lock()
	root, err := replace(t.root, data.Split(path), value)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if root == nil {
		root = data.NewFolder(t.root.Name)
	}
	t.root = root

	for key := range t.functions {
		if data.HasPrefix(key, path) {
			delete(t.functions, key)
		}
	}
	if fn != nil {
		t.functions[path] = fn
	}
	watchers := t.watchersOf(path)
	t.mu.Unlock()

	for _, w := range watchers {
		t.project(w)
	}
	return nil
}

// watchersOf must be called with mu held.
func (t *Tree) watchersOf(path string) []*watcher {
	var out []*watcher
	for w := range t.watchers {
		if data.HasPrefix(path, w.path) || data.HasPrefix(w.path, path) {
			out = append(out, w)
		}
	}
	return out
}

func (t *Tree) watch(ctx context.Context, path string, depth int, ch projection.Channel) *entry.Subscription {
	t.deliver.Lock()
	defer t.deliver.Unlock()

	state := projection.NewState(ch, projection.WithLogger(t.logger))
	sub := entry.NewSubscription(ctx, ch, state, nil)
	w := &watcher{path: path, depth: depth, sub: sub}

	t.mu.Lock()
	t.watchers[w] = struct{}{}
	t.mu.Unlock()

	sub.OnRelease(func() {
		t.mu.Lock()
		delete(t.watchers, w)
		t.mu.Unlock()
	})

	t.project(w)
	return sub
}

func (t *Tree) project(w *watcher) {
	w.sub.Guard(func() {
		entry.Project(w.sub.State(), t.Snapshot(w.path), w.depth)
	})
}

// WatcherCount returns the number of live subscriptions.
func (t *Tree) WatcherCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.watchers)
}

func lookup(root *data.Entry, path string) *data.Entry {
	current := root
	for _, segment := range data.Split(path) {
		name, err := data.DecodeSegment(segment)
		if err != nil {
			return nil
		}
		child, ok := current.Child(name)
		if !ok {
			return nil
		}
		current = child
	}
	return current
}

// replace returns a copy of current with the node at segments set to value.
func replace(current *data.Entry, segments []string, value *data.Entry) (*data.Entry, error) {
	if len(segments) == 0 {
		if value == nil {
			return nil, nil
		}
		return value.Clone().WithName(current.Name), nil
	}
	if current.Type != data.TypeFolder {
		return nil, fmt.Errorf("%w: '%s' is not a folder", data.ErrInvalidPath, current.Name)
	}

	name, err := data.DecodeSegment(segments[0])
	if err != nil {
		return nil, err
	}

	out := data.NewFolder(current.Name)
	found := false
	for _, child := range current.Children {
		if child.Name != name {
			out.Children = append(out.Children, child)
			continue
		}
		found = true
		updated, err := replace(child, segments[1:], value)
		if err != nil {
			return nil, err
		}
		if updated != nil {
			out.Children = append(out.Children, updated)
		}
	}

	if !found {
		if len(segments) > 1 {
			return nil, fmt.Errorf("%w: no folder '%s' below '%s'", data.ErrInvalidPath, name, current.Name)
		}
		if value == nil {
			return current, nil
		}
		out.Children = append(out.Children, value.Clone().WithName(name))
	}
	return out, nil
}

// node is a handle onto one path of a tree.
type node struct {
	tree *Tree
	path string
	name string
}

func (n *node) Name() string {
	return n.name
}

func (n *node) Get(ctx context.Context) (*data.Entry, error) {
	return n.tree.Snapshot(n.path), nil
}

func (n *node) Put(ctx context.Context, value *data.Entry) error {
	if n.path == "" && value != nil && value.Type != data.TypeFolder {
		return dataerrors.Validation("", "tree root must be a folder, got %s", value.Type)
	}
	return n.tree.write(n.path, value, nil)
}

func (n *node) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	if current := n.tree.Snapshot(n.path); current != nil {
		e.Walk(current)
	}
	return nil
}

func (n *node) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return n.tree.watch(ctx, n.path, depth, ch), nil
}

func (n *node) Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error) {
	fn, ok := n.tree.function(n.path)
	if !ok {
		return nil, dataerrors.Unsupported("invoke", n.displayPath())
	}
	return fn(ctx, input)
}

func (n *node) displayPath() string {
	return "/" + strings.TrimPrefix(n.path, "/")
}
