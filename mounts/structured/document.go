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

// DocumentMapping routes the declared sub-paths of the document at ref.
func DocumentMapping(ref backend.Ref, schema Schema, opts *Options) *mount.Mapping {
	return &mount.Mapping{
		Name:     ref.ID(),
		Ref:      ref,
		Binder:   documentBinder{opts: opts},
		SubPaths: schema,
	}
}

// SubDocument declares a nested document stored at the child id of the
// current reference.
func SubDocument(id string, schema Schema, opts *Options) mount.Nested {
	return mount.Nested{Factory: func(ref backend.Ref) (*mount.Mapping, error) {
		return DocumentMapping(ref.Child(id), schema, opts), nil
	}}
}

type documentBinder struct {
	opts *Options
}

func (b documentBinder) BindSelf(ctx context.Context, m *mount.Mapping) (entry.Handle, error) {
	return &Document{m: m, opts: b.opts}, nil
}

func (b documentBinder) BindField(ctx context.Context, m *mount.Mapping, sp mount.SubPath) (entry.Handle, error) {
	return NewField(m.Ref, sp, b.opts), nil
}

// Document exposes one record as a folder of its declared sub-paths. Nested
// mappings appear as folder stubs.
type Document struct {
	m    *mount.Mapping
	opts *Options
}

func (d *Document) Name() string {
	return d.m.Name
}

func (d *Document) Get(ctx context.Context) (*data.Entry, error) {
	snap, err := d.opts.read(ctx, d.m.Ref)
	if err != nil {
		return nil, err
	}
	return documentTree(d.m.Name, Schema(d.m.SubPaths), d.m.Ref, snap, d.opts)
}

// Put replaces every declared field with the children of value; declared
// fields missing from value are removed. Undeclared children fail
// validation before anything is written. A nil value deletes the record.
func (d *Document) Put(ctx context.Context, value *data.Entry) error {
	if value == nil {
		return d.opts.remove(ctx, d.m.Ref)
	}
	fields, err := encodeDocument(Schema(d.m.SubPaths), value)
	if err != nil {
		return err
	}
	return d.opts.write(ctx, d.m.Ref, fields, backend.SetMerge)
}

func (d *Document) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	snap, err := d.opts.read(ctx, d.m.Ref)
	if err != nil {
		return err
	}
	return d.enumerateSnapshot(ctx, e, snap)
}

// enumerateSnapshot walks the fields of snap and descends into nested
// mappings through their own handles.
func (d *Document) enumerateSnapshot(ctx context.Context, e *enumerate.Enumerator, snap *backend.Snapshot) error {
	tree, err := documentTree(d.m.Name, Schema(d.m.SubPaths), d.m.Ref, snap, d.opts)
	if err != nil || tree == nil {
		return err
	}

	e.Visit(tree)
	if !e.CanDescend() {
		return nil
	}

	for _, child := range tree.Children {
		sp, nested := d.m.SubPath(data.EncodeSegment(child.Name))
		spec, isNested := sp.Spec.(mount.Nested)
		if !nested || !isNested {
			e.Descend(child.Name)
			e.Walk(child)
			e.Ascend()
			continue
		}

		childMapping, err := spec.Factory(d.m.Ref)
		if err != nil {
			return err
		}
		h, err := mount.Resolve(ctx, childMapping, "")
		if err != nil {
			return err
		}
		en, ok := h.(entry.Enumerable)
		if !ok {
			e.Descend(child.Name)
			e.Visit(child)
			e.Ascend()
			continue
		}

		e.Descend(child.Name)
		err = en.Enumerate(ctx, e)
		e.Ascend()
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return watch(ctx, ch, d.opts.logger(), func(sub *entry.Subscription) (backend.Unwatch, error) {
		return d.m.Ref.Store.WatchDocument(sub.Context(), d.m.Ref.Path, func(snap *backend.Snapshot) {
			sub.Guard(func() {
				d.opts.observe(d.m.Ref, snap)
				tree, err := documentTree(d.m.Name, Schema(d.m.SubPaths), d.m.Ref, snap, d.opts)
				if err != nil {
					sub.Crash(err)
					return
				}
				entry.Project(sub.State(), tree, depth)
			})
		}, sub.Crash)
	})
}

// documentTree materializes snap as a folder named name. Missing documents
// yield nil. Multi-segment sub-paths are placed in intermediate folders.
func documentTree(name string, schema Schema, ref backend.Ref, snap *backend.Snapshot, opts *Options) (*data.Entry, error) {
	if snap == nil || !snap.Exists {
		return nil, nil
	}

	root := data.NewFolder(name)
	for _, sp := range schema {
		var child *data.Entry
		switch sp.Spec.(type) {
		case mount.Nested:
			child = data.NewFolderStub("")
		default:
			f := &Field{ref: ref, key: sp.Name, spec: sp.Spec, opts: opts}
			value, err := f.fromSnapshot(snap)
			if err != nil {
				return nil, err
			}
			child = value
		}
		if child != nil {
			insertAt(root, sp.Name, child)
		}
	}
	return root, nil
}

// insertAt places child at the encoded relative path below root, creating
// intermediate folders. A non-folder in the way drops the child.
func insertAt(root *data.Entry, path string, child *data.Entry) {
	segments := data.Split(path)
	parent := root
	for _, segment := range segments[:len(segments)-1] {
		name := display(segment)
		next, ok := parent.Child(name)
		if !ok {
			next = data.NewFolder(name)
			parent.Children = append(parent.Children, next)
		}
		if next.Type != data.TypeFolder {
			return
		}
		if next.Children == nil {
			next.Children = []*data.Entry{}
		}
		parent = next
	}

	child.Name = display(segments[len(segments)-1])
	parent.Children = append(parent.Children, child)
}

// encodeDocument converts a folder into stored fields for schema, with a nil
// value for every declared field the folder omits.
func encodeDocument(schema Schema, value *data.Entry) (map[string]any, error) {
	if value.Type != data.TypeFolder {
		return nil, dataerrors.TypeMismatch(value.Name, data.TypeFolder, value.Type)
	}

	fields := make(map[string]any)
	for _, sp := range schema {
		if _, nested := sp.Spec.(mount.Nested); !nested {
			fields[sp.Name] = nil
		}
	}

	var walk func(prefix string, folder *data.Entry) error
	walk = func(prefix string, folder *data.Entry) error {
		for _, child := range folder.Children {
			path := data.Child(prefix, data.EncodeSegment(child.Name))

			if sp, ok := schemaLookup(schema, path); ok {
				if _, nested := sp.Spec.(mount.Nested); nested {
					return dataerrors.Validation(path, "nested mapping cannot be written through its parent")
				}
				f := &Field{key: sp.Name, spec: sp.Spec}
				stored, err := f.toStored(child)
				if err != nil {
					return err
				}
				fields[sp.Name] = stored
				continue
			}

			if child.Type == data.TypeFolder && schemaHasPrefix(schema, path) {
				if err := walk(path, child); err != nil {
					return err
				}
				continue
			}
			return dataerrors.Validation(path, "not part of the document")
		}
		return nil
	}

	if err := walk("", value); err != nil {
		return nil, err
	}
	return fields, nil
}

func schemaLookup(schema Schema, name string) (mount.SubPath, bool) {
	for _, sp := range schema {
		if sp.Name == name {
			return sp, true
		}
	}
	return mount.SubPath{}, false
}

func schemaHasPrefix(schema Schema, prefix string) bool {
	for _, sp := range schema {
		if strings.HasPrefix(sp.Name, prefix+"/") {
			return true
		}
	}
	return false
}

func display(segment string) string {
	if name, err := data.DecodeSegment(segment); err == nil {
		return name
	}
	return segment
}
