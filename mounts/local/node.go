package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/projection"
)

type node struct {
	mount *LocalMount
	path  string
	full  string
	name  string
}

func (n *node) Name() string {
	return n.name
}

// Get returns a file as a blob, or a directory with its direct children.
func (n *node) Get(ctx context.Context) (*data.Entry, error) {
	root, err := n.mount.snapshot(ctx, n.full, 1)
	if err != nil || root == nil {
		return nil, err
	}
	return root.WithName(n.name), nil
}

// Put writes blobs and strings as files and folders as directories whose
// content is replaced by the given children. A nil value removes the node.
func (n *node) Put(ctx context.Context, value *data.Entry) error {
	if value == nil {
		if n.path == "" {
			return dataerrors.Validation("", "cannot remove the mount root")
		}
		if err := os.RemoveAll(n.full); err != nil {
			return dataerrors.BackingStore(err, n.mount.Name())
		}
		return nil
	}
	if n.path == "" && value.Type != data.TypeFolder {
		return dataerrors.Validation("", "mount root must be a folder, got %s", value.Type)
	}
	return n.mount.write(n.full, value)
}

func (n *node) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	info, err := os.Stat(n.full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return dataerrors.BackingStore(err, n.mount.Name())
	}
	return n.mount.walk(ctx, e, n.full, n.name, info)
}

func (n *node) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	state := projection.NewState(ch, projection.WithLogger(n.mount.logger))
	sub := entry.NewSubscription(ctx, ch, state, nil)

	w := &watcher{full: n.full, depth: depth, sub: sub}
	n.mount.watchMu.Lock()
	n.mount.watchers[w] = struct{}{}
	n.mount.watchMu.Unlock()
	sub.OnRelease(func() {
		n.mount.watchMu.Lock()
		delete(n.mount.watchers, w)
		n.mount.watchMu.Unlock()
	})

	if err := n.mount.refresh(ctx, w); err != nil {
		state.Detach()
		sub.Stop()
		return nil, err
	}
	return sub, nil
}

// snapshot reads full to depth. A missing path yields nil.
func (lm *LocalMount) snapshot(ctx context.Context, full string, depth int) (*data.Entry, error) {
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, dataerrors.BackingStore(err, lm.Name())
	}

	e := enumerate.New(depth)
	if err := lm.walk(ctx, e, full, "", info); err != nil {
		return nil, err
	}
	return e.Reconstruct(), nil
}

func (lm *LocalMount) walk(ctx context.Context, e *enumerate.Enumerator, full, name string, info fs.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch {
	case info.IsDir():
		e.Visit(data.NewFolderStub(name))
	case info.Mode().IsRegular():
		raw, err := os.ReadFile(full)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return dataerrors.BackingStore(err, lm.Name())
		}
		e.Visit(data.NewBlob(name, data.MimeForName(name), raw))
		return nil
	default:
		return nil
	}

	if !e.CanDescend() {
		return nil
	}

	children, err := os.ReadDir(full)
	if err != nil {
		return dataerrors.BackingStore(err, lm.Name())
	}
	for _, child := range children {
		childInfo, err := child.Info()
		if err != nil {
			continue
		}
		e.Descend(child.Name())
		err = lm.walk(ctx, e, filepath.Join(full, child.Name()), child.Name(), childInfo)
		e.Ascend()
		if err != nil {
			return err
		}
	}
	return nil
}

func (lm *LocalMount) write(full string, value *data.Entry) error {
	store := lm.Name()

	switch value.Type {
	case data.TypeBlob, data.TypeString:
		payload := value.Data
		if value.Type == data.TypeString {
			payload = []byte(value.StringValue)
		}
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			if err := os.RemoveAll(full); err != nil {
				return dataerrors.BackingStore(err, store)
			}
		}
		if err := os.WriteFile(full, payload, 0o644); err != nil {
			return dataerrors.BackingStore(err, store)
		}
		return nil

	case data.TypeFolder:
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			if err := os.Remove(full); err != nil {
				return dataerrors.BackingStore(err, store)
			}
		}
		if err := os.MkdirAll(full, 0o755); err != nil {
			return dataerrors.BackingStore(err, store)
		}
		if value.Children == nil {
			return nil
		}

		keep := make(map[string]struct{}, len(value.Children))
		for _, child := range value.Children {
			if child.Name == "" || child.Name == "." || child.Name == ".." || filepath.Base(child.Name) != child.Name {
				return dataerrors.Validation(child.Name, "not a valid file name")
			}
			keep[child.Name] = struct{}{}
		}

		existing, err := os.ReadDir(full)
		if err != nil {
			return dataerrors.BackingStore(err, store)
		}
		for _, ent := range existing {
			if _, ok := keep[ent.Name()]; !ok {
				if err := os.RemoveAll(filepath.Join(full, ent.Name())); err != nil {
					return dataerrors.BackingStore(err, store)
				}
			}
		}
		for _, child := range value.Children {
			if err := lm.write(filepath.Join(full, child.Name), child); err != nil {
				return err
			}
		}
		return nil
	}

	return dataerrors.Validation(value.Name, "%s entries cannot be stored as files", value.Type)
}
