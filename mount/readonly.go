package mount

import (
	"context"
	"slices"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/projection"
)

// readOnlyHandle forwards everything except Put, which is refused.
type readOnlyHandle struct {
	inner entry.Handle
	path  string
}

// ReadOnly wraps h so that writes fail with data.ErrReadOnly. path is only
// used for error messages.
func ReadOnly(h entry.Handle, path string) entry.Handle {
	if h == nil {
		return nil
	}
	if _, ok := h.(*readOnlyHandle); ok {
		return h
	}
	return &readOnlyHandle{inner: h, path: path}
}

func (r *readOnlyHandle) Name() string {
	return r.inner.Name()
}

func (r *readOnlyHandle) Capabilities() []entry.Capability {
	return slices.DeleteFunc(entry.Capabilities(r.inner), func(c entry.Capability) bool {
		return c == entry.CapabilityPut
	})
}

func (r *readOnlyHandle) Get(ctx context.Context) (*data.Entry, error) {
	return entry.Get(ctx, r.inner)
}

func (r *readOnlyHandle) Put(ctx context.Context, value *data.Entry) error {
	return dataerrors.ReadOnly(r.path)
}

func (r *readOnlyHandle) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	en, ok := r.inner.(entry.Enumerable)
	if !ok {
		return dataerrors.Unsupported(string(entry.CapabilityEnumerate), r.path)
	}
	return en.Enumerate(ctx, e)
}

func (r *readOnlyHandle) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	return entry.Subscribe(ctx, r.inner, depth, ch)
}

func (r *readOnlyHandle) Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error) {
	return entry.Invoke(ctx, r.inner, input)
}

func (r *readOnlyHandle) Lookup(ctx context.Context, path string) (entry.Handle, error) {
	l, ok := r.inner.(entry.Lookuper)
	if !ok {
		return nil, dataerrors.Unsupported(string(entry.CapabilityLookup), r.path)
	}
	h, err := l.Lookup(ctx, path)
	if err != nil || h == nil {
		return nil, err
	}
	return ReadOnly(h, data.Join(r.path, path)), nil
}
