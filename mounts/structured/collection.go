package structured

import (
	"context"
	"strings"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/projection"
)

// CollectionMapping routes the documents of the collection at ref. Every
// document shares schema; any id resolves, missing ones read as absent.
func CollectionMapping(ref backend.Ref, schema Schema, opts *Options) *mount.Mapping {
	return &mount.Mapping{
		Name:   ref.ID(),
		Ref:    ref,
		Binder: collectionBinder{schema: schema, opts: opts},
		Children: func(id string) (*mount.Mapping, error) {
			return DocumentMapping(ref.Child(id), schema, opts), nil
		},
	}
}

// SubCollection declares a collection stored below the current reference.
func SubCollection(name string, schema Schema, opts *Options) mount.Nested {
	return mount.Nested{Factory: func(ref backend.Ref) (*mount.Mapping, error) {
		return CollectionMapping(ref.Child(name), schema, opts), nil
	}}
}

type collectionBinder struct {
	schema Schema
	opts   *Options
}

func (b collectionBinder) BindSelf(ctx context.Context, m *mount.Mapping) (entry.Handle, error) {
	return &Collection{m: m, schema: b.schema, opts: b.opts}, nil
}

func (b collectionBinder) BindField(ctx context.Context, m *mount.Mapping, sp mount.SubPath) (entry.Handle, error) {
	return nil, nil
}

// Collection exposes a set of documents keyed by id as a folder.
type Collection struct {
	m      *mount.Mapping
	schema Schema
	opts   *Options
}

func (c *Collection) Name() string {
	return c.m.Name
}

func (c *Collection) Get(ctx context.Context) (*data.Entry, error) {
	snaps, err := c.m.Ref.Store.List(ctx, c.m.Ref.Path)
	if err != nil {
		return nil, err
	}

	root := data.NewFolder(c.m.Name)
	for _, snap := range snaps {
		tree, err := c.documentTree(snap)
		if err != nil {
			return nil, err
		}
		if tree != nil {
			root.Children = append(root.Children, tree)
		}
	}
	return root, nil
}

// Put is last-write-wins: every existing document is deleted, then every
// child of value is written. The two phases are not atomic and concurrent
// writers race. All children are converted before the first delete.
func (c *Collection) Put(ctx context.Context, value *data.Entry) error {
	var docs []*data.Entry
	if value != nil {
		if value.Type != data.TypeFolder {
			return dataerrors.TypeMismatch(c.m.Name, data.TypeFolder, value.Type)
		}
		docs = value.Children
	}

	encoded := make([]map[string]any, len(docs))
	for i, doc := range docs {
		if doc.Name == "" || strings.Contains(doc.Name, "/") {
			return dataerrors.Validation(doc.Name, "document id must be a single segment")
		}
		fields, err := encodeDocument(c.schema, doc)
		if err != nil {
			return err
		}
		encoded[i] = fields
	}

	existing, err := c.m.Ref.Store.List(ctx, c.m.Ref.Path)
	if err != nil {
		return err
	}
	for _, snap := range existing {
		if err := c.opts.remove(ctx, c.m.Ref.Child(snap.ID())); err != nil {
			return err
		}
	}
	for i, doc := range docs {
		if err := c.opts.write(ctx, c.m.Ref.Child(doc.Name), encoded[i], backend.SetReplace); err != nil {
			return err
		}
	}
	return nil
}

// Add stores value as a new document with a generated id.
func (c *Collection) Add(ctx context.Context, value *data.Entry) (string, error) {
	if value == nil {
		return "", dataerrors.Validation(c.m.Name, "cannot add an empty document")
	}
	fields, err := encodeDocument(c.schema, value)
	if err != nil {
		return "", err
	}
	return c.m.Ref.Store.Add(ctx, c.m.Ref.Path, fields)
}

// Invoke adds input as a new document and returns its id.
func (c *Collection) Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error) {
	id, err := c.Add(ctx, input)
	if err != nil {
		return nil, err
	}
	return data.NewString("id", id), nil
}

func (c *Collection) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	e.Visit(data.NewFolderStub(c.m.Name))
	if !e.CanDescend() {
		return nil
	}

	snaps, err := c.m.Ref.Store.List(ctx, c.m.Ref.Path)
	if err != nil {
		return err
	}
	for _, snap := range snaps {
		doc := &Document{m: DocumentMapping(c.m.Ref.Child(snap.ID()), c.schema, c.opts), opts: c.opts}
		e.Descend(snap.ID())
		err := doc.enumerateSnapshot(ctx, e, snap)
		e.Ascend()
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe feeds collection change lists into the projection. Documents
// are published with depth-1 levels of their fields.
func (c *Collection) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return watch(ctx, ch, c.opts.logger(), func(sub *entry.Subscription) (backend.Unwatch, error) {
		return c.m.Ref.Store.WatchCollection(sub.Context(), c.m.Ref.Path, func(changes []backend.Change) {
			sub.Guard(func() {
				state := sub.State()
				for _, change := range changes {
					segment := data.EncodeSegment(change.Document.ID())
					if change.Type == backend.ChangeRemoved {
						state.RemovePath(segment)
						continue
					}
					if depth < 1 {
						continue
					}

					tree, err := c.documentTree(change.Document)
					if err != nil {
						sub.Crash(err)
						return
					}
					if tree == nil {
						state.RemovePath(segment)
						continue
					}
					state.OfferPath(segment, truncate(tree, depth-1))
				}
				state.MarkReady()
			})
		}, sub.Crash)
	})
}

func (c *Collection) documentTree(snap *backend.Snapshot) (*data.Entry, error) {
	return documentTree(snap.ID(), c.schema, c.m.Ref.Child(snap.ID()), snap, c.opts)
}
