// Package entry defines the capability contract every resolved node
// implements. A Handle advertises capabilities by implementing the optional
// interfaces below; the package-level helpers dispatch on them and report
// data.ErrUnsupported for missing ones.
package entry

import (
	"context"
	"slices"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/projection"
)

// Handle is a resolved node. Name is its display name within its parent.
type Handle interface {
	Name() string
}

// Getter returns the current entry, or (nil, nil) when it does not exist.
type Getter interface {
	Get(ctx context.Context) (*data.Entry, error)
}

// Putter replaces the node; a nil entry deletes it.
type Putter interface {
	Put(ctx context.Context, value *data.Entry) error
}

// Enumerable visits itself and, budget permitting, its descendants.
type Enumerable interface {
	Enumerate(ctx context.Context, e *enumerate.Enumerator) error
}

// Subscribable starts a live feed into ch. The returned subscription is
// already registered; Ready arrives once the initial state is flushed.
type Subscribable interface {
	Subscribe(ctx context.Context, depth int, ch projection.Channel) (*Subscription, error)
}

// Invoker runs a function node.
type Invoker interface {
	Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error)
}

// Lookuper resolves a path below the handle itself. (nil, nil) means the
// path does not exist.
type Lookuper interface {
	Lookup(ctx context.Context, path string) (Handle, error)
}

type Capability string

const (
	CapabilityGet       Capability = "get"
	CapabilityPut       Capability = "put"
	CapabilityEnumerate Capability = "enumerate"
	CapabilitySubscribe Capability = "subscribe"
	CapabilityInvoke    Capability = "invoke"
	CapabilityLookup    Capability = "lookup"
)

// CapabilityReporter lets wrapping handles narrow what they advertise.
type CapabilityReporter interface {
	Capabilities() []Capability
}

// Capabilities lists what h supports, in a stable order.
func Capabilities(h Handle) []Capability {
	if r, ok := h.(CapabilityReporter); ok {
		return r.Capabilities()
	}

	var caps []Capability
	if _, ok := h.(Getter); ok {
		caps = append(caps, CapabilityGet)
	}
	if _, ok := h.(Putter); ok {
		caps = append(caps, CapabilityPut)
	}
	if _, ok := h.(Enumerable); ok {
		caps = append(caps, CapabilityEnumerate)
	}
	if _, ok := h.(Subscribable); ok {
		caps = append(caps, CapabilitySubscribe)
	}
	if _, ok := h.(Invoker); ok {
		caps = append(caps, CapabilityInvoke)
	}
	if _, ok := h.(Lookuper); ok {
		caps = append(caps, CapabilityLookup)
	}
	return caps
}

func Supports(h Handle, c Capability) bool {
	return slices.Contains(Capabilities(h), c)
}

func Get(ctx context.Context, h Handle) (*data.Entry, error) {
	g, ok := h.(Getter)
	if !ok {
		return nil, errors.Unsupported(string(CapabilityGet), h.Name())
	}
	return g.Get(ctx)
}

func Put(ctx context.Context, h Handle, value *data.Entry) error {
	p, ok := h.(Putter)
	if !ok {
		return errors.Unsupported(string(CapabilityPut), h.Name())
	}
	if value != nil {
		if err := value.Validate(); err != nil {
			return err
		}
	}
	return p.Put(ctx, value)
}

// Enumerate walks h to depth and returns the visited entries, each named by
// its path relative to h.
func Enumerate(ctx context.Context, h Handle, depth int) ([]*data.Entry, error) {
	en, ok := h.(Enumerable)
	if !ok {
		return nil, errors.Unsupported(string(CapabilityEnumerate), h.Name())
	}
	e := enumerate.New(depth)
	if err := en.Enumerate(ctx, e); err != nil {
		return nil, err
	}
	return e.Results(), nil
}

func Subscribe(ctx context.Context, h Handle, depth int, ch projection.Channel) (*Subscription, error) {
	s, ok := h.(Subscribable)
	if !ok {
		return nil, errors.Unsupported(string(CapabilitySubscribe), h.Name())
	}
	return s.Subscribe(ctx, depth, ch)
}

func Invoke(ctx context.Context, h Handle, input *data.Entry) (*data.Entry, error) {
	inv, ok := h.(Invoker)
	if !ok {
		return nil, errors.Unsupported(string(CapabilityInvoke), h.Name())
	}
	return inv.Invoke(ctx, input)
}

// Static wraps a fixed entry as a gettable, enumerable handle.
type Static struct {
	Entry *data.Entry
}

func (s *Static) Name() string {
	return s.Entry.Name
}

func (s *Static) Get(ctx context.Context) (*data.Entry, error) {
	return s.Entry, nil
}

func (s *Static) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	e.Walk(s.Entry)
	return nil
}
