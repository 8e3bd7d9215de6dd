// Package structured maps documents of a backend.DocumentStore onto Skylink
// trees: single fields, documents with a declared schema, collections of
// such documents, and date-partitioned logs.
package structured

import (
	"context"
	"fmt"
	"sort"

	"github.com/stardustapp/skychat-sub000/cache"
	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Schema declares the sub-paths of a document.
type Schema []mount.SubPath

// ParseSchema builds a schema from field name -> type tag pairs, see
// mount.ParseSpec. Fields are ordered by name.
func ParseSchema(fields map[string]string) (Schema, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	schema := make(Schema, 0, len(names))
	for _, name := range names {
		if err := data.ValidatePath(name); err != nil || data.Clean(name) == "" {
			return nil, fmt.Errorf("%w: field name '%s'", data.ErrInvalid, name)
		}
		spec, err := mount.ParseSpec(fields[name])
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", name, err)
		}
		schema = append(schema, mount.SubPath{Name: data.Clean(name), Spec: spec})
	}
	return schema, nil
}

// Options carries the collaborators shared by the mappings of one mount.
type Options struct {
	Logger *log.Logger
	// Cache, when set, serves reads and writes of hot documents.
	Cache *cache.DocumentCache
}

func (o *Options) logger() *log.Logger {
	if o == nil || o.Logger == nil {
		return log.Discard()
	}
	return o.Logger
}

func (o *Options) read(ctx context.Context, ref backend.Ref) (*backend.Snapshot, error) {
	if o != nil && o.Cache != nil {
		return o.Cache.Get(ctx, ref.Store, ref.Path)
	}
	return ref.Store.Get(ctx, ref.Path)
}

func (o *Options) write(ctx context.Context, ref backend.Ref, fields map[string]any, mode backend.SetMode) error {
	if o != nil && o.Cache != nil {
		return o.Cache.Set(ctx, ref.Store, ref.Path, fields, mode)
	}
	return ref.Store.Set(ctx, ref.Path, fields, mode)
}

func (o *Options) remove(ctx context.Context, ref backend.Ref) error {
	if o != nil && o.Cache != nil {
		return o.Cache.Delete(ctx, ref.Store, ref.Path)
	}
	return ref.Store.Delete(ctx, ref.Path)
}

func (o *Options) observe(ref backend.Ref, snap *backend.Snapshot) {
	if o != nil && o.Cache != nil {
		o.Cache.Observe(ref.Store, snap)
	}
}

// watch creates a subscription whose native listener is registered by
// register. Callbacks run through Subscription.Guard so that a projection bug
// crashes the one subscription rather than the store's delivery goroutine.
func watch(ctx context.Context, ch projection.Channel, logger *log.Logger, register func(sub *entry.Subscription) (backend.Unwatch, error)) (*entry.Subscription, error) {
	state := projection.NewState(ch, projection.WithLogger(logger))
	sub := entry.NewSubscription(ctx, ch, state, nil)

	unwatch, err := register(sub)
	if err != nil {
		state.Detach()
		sub.Stop()
		return nil, err
	}
	sub.OnRelease(unwatch)
	return sub, nil
}

// truncate copies entry keeping depth levels of children.
func truncate(e *data.Entry, depth int) *data.Entry {
	if e.Type != data.TypeFolder {
		return e
	}
	if depth <= 0 {
		return data.NewFolderStub(e.Name)
	}
	out := data.NewFolder(e.Name)
	for _, child := range e.Children {
		out.Children = append(out.Children, truncate(child, depth-1))
	}
	return out
}
