package skylink

import (
	"context"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Get returns the entry at path, or nil when nothing exists there.
func (ns *Namespace) Get(ctx context.Context, path string) (*data.Entry, error) {
	h, _, err := ns.Resolve(ctx, path)
	if err != nil || h == nil {
		return nil, err
	}
	return entry.Get(ctx, h)
}

// Put replaces the node at path; a nil value deletes it.
func (ns *Namespace) Put(ctx context.Context, path string, value *data.Entry) error {
	h, _, err := ns.Resolve(ctx, path)
	if err != nil {
		return err
	}
	if h == nil {
		return ns.missing(path)
	}
	return entry.Put(ctx, h, value)
}

// Enumerate walks path to depth. Entries are named by their encoded path
// relative to path; nothing at path yields an empty result.
func (ns *Namespace) Enumerate(ctx context.Context, path string, depth int) ([]*data.Entry, error) {
	h, _, err := ns.Resolve(ctx, path)
	if err != nil || h == nil {
		return nil, err
	}
	return entry.Enumerate(ctx, h, depth)
}

// Subscribe starts a live feed of path into ch. The owning mount counts the
// subscription as busy until it stops.
func (ns *Namespace) Subscribe(ctx context.Context, path string, depth int, ch projection.Channel) (*entry.Subscription, error) {
	h, m, err := ns.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ns.missing(path)
	}

	sub, err := entry.Subscribe(ctx, h, depth, ch)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.Track(sub)
	}
	ns.log.Debug("subscription %s on '/%s' at depth %d", sub.ID(), data.Clean(path), depth)
	return sub, nil
}

func (ns *Namespace) Invoke(ctx context.Context, path string, input *data.Entry) (*data.Entry, error) {
	h, _, err := ns.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ns.missing(path)
	}
	return entry.Invoke(ctx, h, input)
}

// Capabilities lists what the handle at path supports. Nothing at path
// yields nil.
func (ns *Namespace) Capabilities(ctx context.Context, path string) ([]entry.Capability, error) {
	h, _, err := ns.Resolve(ctx, path)
	if err != nil || h == nil {
		return nil, err
	}
	return entry.Capabilities(h), nil
}

// missing tells an unmounted path apart from one its mount cannot create.
func (ns *Namespace) missing(path string) error {
	path = data.Clean(path)

	ns.mu.RLock()
	m := ns.longestMatch(path)
	ns.mu.RUnlock()

	if m == nil {
		return dataerrors.PathNotMounted(nil, "/"+path)
	}
	return dataerrors.InvalidPath(nil, "/"+path)
}
