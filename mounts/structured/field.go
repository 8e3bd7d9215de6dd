package structured

import (
	"context"
	"strconv"
	"strings"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Field exposes one declared field of a document.
type Field struct {
	ref  backend.Ref
	key  string
	spec mount.SubPathSpec
	opts *Options
}

// Array is a field holding a bounded list, exposed as a folder indexed
// from 1.
type Array struct {
	*Field
}

// StringMap is a field holding string keys and values, exposed as a
// folder of strings.
type StringMap struct {
	*Field
}

// NewField binds sub-path sp of the document at ref.
func NewField(ref backend.Ref, sp mount.SubPath, opts *Options) entry.Handle {
	f := &Field{ref: ref, key: sp.Name, spec: sp.Spec, opts: opts}
	switch spec := sp.Spec.(type) {
	case mount.ArrayOf:
		return &Array{Field: f}
	case mount.Scalar:
		if spec.Kind == mount.KindStringMap {
			return &StringMap{Field: f}
		}
	}
	return f
}

func (f *Field) Name() string {
	_, segment := data.Parent(f.key)
	if name, err := data.DecodeSegment(segment); err == nil {
		return name
	}
	return segment
}

func (f *Field) Get(ctx context.Context) (*data.Entry, error) {
	snap, err := f.opts.read(ctx, f.ref)
	if err != nil {
		return nil, err
	}
	return f.fromSnapshot(snap)
}

// Put converts value before writing; a conversion failure leaves the
// document untouched. A nil value removes the field.
func (f *Field) Put(ctx context.Context, value *data.Entry) error {
	var stored any
	if value != nil {
		v, err := f.toStored(value)
		if err != nil {
			return err
		}
		stored = v
	}
	return f.opts.write(ctx, f.ref, map[string]any{f.key: stored}, backend.SetMerge)
}

func (f *Field) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	value, err := f.Get(ctx)
	if err != nil || value == nil {
		return err
	}
	e.Walk(value)
	return nil
}

func (f *Field) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return watch(ctx, ch, f.opts.logger(), func(sub *entry.Subscription) (backend.Unwatch, error) {
		return f.ref.Store.WatchDocument(sub.Context(), f.ref.Path, func(snap *backend.Snapshot) {
			sub.Guard(func() {
				value, err := f.fromSnapshot(snap)
				if err != nil {
					sub.Crash(err)
					return
				}
				entry.Project(sub.State(), value, depth)
			})
		}, sub.Crash)
	})
}

func (f *Field) fromSnapshot(snap *backend.Snapshot) (*data.Entry, error) {
	v, ok := snap.Field(f.key)
	if !ok {
		return nil, nil
	}
	return f.fromStored(v)
}

func (f *Field) fromStored(v any) (*data.Entry, error) {
	switch spec := f.spec.(type) {
	case mount.Scalar:
		return FieldToEntry(f.Name(), spec.Kind, v)
	case mount.ArrayOf:
		return ArrayToEntry(f.Name(), spec, v)
	}
	data.RaiseProtocolBug(f.key, "field bound to non-field spec %T", f.spec)
	return nil, nil
}

func (f *Field) toStored(value *data.Entry) (any, error) {
	switch spec := f.spec.(type) {
	case mount.Scalar:
		return EntryToField(f.key, spec.Kind, value)
	case mount.ArrayOf:
		return EntryToArray(f.key, spec, value)
	}
	data.RaiseProtocolBug(f.key, "field bound to non-field spec %T", f.spec)
	return nil, nil
}

// Lookup resolves a 1-based index. Indices past the end resolve to an
// absent element that can be written to append.
func (a *Array) Lookup(ctx context.Context, path string) (entry.Handle, error) {
	if strings.Contains(path, "/") {
		return nil, nil
	}
	index, err := strconv.Atoi(path)
	if err != nil || index < 1 {
		return nil, nil
	}
	if max := a.spec.(mount.ArrayOf).Max; max > 0 && index > max {
		return nil, nil
	}
	return &arrayElement{array: a, index: index}, nil
}

type arrayElement struct {
	array *Array
	index int
}

func (el *arrayElement) Name() string {
	return strconv.Itoa(el.index)
}

func (el *arrayElement) Get(ctx context.Context) (*data.Entry, error) {
	items, err := el.array.items(ctx)
	if err != nil || el.index > len(items) {
		return nil, err
	}
	return FieldToEntry(el.Name(), el.array.spec.(mount.ArrayOf).Kind, items[el.index-1])
}

// Put replaces the element; nil removes it and closes the gap. Writing past
// the end appends.
func (el *arrayElement) Put(ctx context.Context, value *data.Entry) error {
	spec := el.array.spec.(mount.ArrayOf)
	items, err := el.array.items(ctx)
	if err != nil {
		return err
	}

	if value == nil {
		if el.index > len(items) {
			return nil
		}
		items = append(items[:el.index-1], items[el.index:]...)
	} else {
		v, err := EntryToField(el.array.key+"/"+el.Name(), spec.Kind, value)
		if err != nil {
			return err
		}
		switch {
		case el.index <= len(items):
			items[el.index-1] = v
		case el.index == len(items)+1:
			items = append(items, v)
		default:
			return dataerrors.Validation(el.array.key, "index %d leaves a gap after %d values", el.index, len(items))
		}
	}

	return el.array.opts.write(ctx, el.array.ref, map[string]any{el.array.key: items}, backend.SetMerge)
}

func (a *Array) items(ctx context.Context) ([]any, error) {
	snap, err := a.opts.read(ctx, a.ref)
	if err != nil {
		return nil, err
	}
	v, ok := snap.Field(a.key)
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, storedMismatch(a.key, a.spec.(mount.ArrayOf).Kind, v)
	}
	return append([]any(nil), items...), nil
}

// Lookup resolves one decoded key.
func (m *StringMap) Lookup(ctx context.Context, path string) (entry.Handle, error) {
	if strings.Contains(path, "/") {
		return nil, nil
	}
	key, err := data.DecodeSegment(path)
	if err != nil {
		return nil, nil
	}
	return &mapKey{m: m, key: key}, nil
}

type mapKey struct {
	m   *StringMap
	key string
}

func (k *mapKey) Name() string {
	return k.key
}

func (k *mapKey) Get(ctx context.Context) (*data.Entry, error) {
	values, err := k.m.values(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := values[k.key]
	if !ok {
		return nil, nil
	}
	return FieldToEntry(k.key, mount.KindString, v)
}

func (k *mapKey) Put(ctx context.Context, value *data.Entry) error {
	values, err := k.m.values(ctx)
	if err != nil {
		return err
	}

	if value == nil {
		if _, ok := values[k.key]; !ok {
			return nil
		}
		delete(values, k.key)
	} else {
		v, err := EntryToField(k.m.key+"/"+k.key, mount.KindString, value)
		if err != nil {
			return err
		}
		values[k.key] = v
	}

	return k.m.opts.write(ctx, k.m.ref, map[string]any{k.m.key: values}, backend.SetMerge)
}

func (m *StringMap) values(ctx context.Context) (map[string]any, error) {
	snap, err := m.opts.read(ctx, m.ref)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	v, ok := snap.Field(m.key)
	if !ok {
		return out, nil
	}
	stored, ok := v.(map[string]any)
	if !ok {
		return nil, storedMismatch(m.key, mount.KindStringMap, v)
	}
	for key, value := range stored {
		out[key] = value
	}
	return out, nil
}
