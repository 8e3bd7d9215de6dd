package mount

import (
	"context"
	"sync"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
)

// Resolver turns a path relative to a mount point into a handle. (nil, nil)
// means the path does not exist.
type Resolver interface {
	Resolve(ctx context.Context, path string) (entry.Handle, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, path string) (entry.Handle, error)

func (f ResolverFunc) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	return f(ctx, path)
}

// Mount holds configuration and live subscriptions of one mount point.
type Mount struct {
	mu            sync.RWMutex
	subscriptions map[string]*entry.Subscription

	Path      string
	Root      Resolver
	Options   *MountOptions
	MountTime time.Time // When the mount was created.
}

func NewMount(path string, root Resolver, opts ...MountOption) (*Mount, error) {
	options := newDefaultMountOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return &Mount{
		subscriptions: make(map[string]*entry.Subscription),

		Path:      data.Clean(path),
		Root:      root,
		Options:   options,
		MountTime: time.Now(),
	}, nil
}

// Mount opens every backend attached to this mount.
func (m *Mount) Mount(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errs := data.Errors{}
	for _, b := range m.Options.Backends {
		if err := b.Open(ctx); err != nil {
			errs.Add(err)
		}
	}

	return errs.Errors()
}

// Unmount stops live subscriptions and closes the backends. Without force it
// refuses while subscriptions are active.
func (m *Mount) Unmount(ctx context.Context, force bool) error {
	m.mu.Lock()
	if !force && len(m.subscriptions) > 0 {
		m.mu.Unlock()
		return data.ErrMountBusy
	}
	subs := make([]*entry.Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Stop()
	}

	errs := data.Errors{}
	for i := len(m.Options.Backends) - 1; i >= 0; i-- {
		if err := m.Options.Backends[i].Close(ctx); err != nil {
			errs.Add(err)
		}
	}

	return errs.Errors()
}

// Resolve resolves path below the mount point, honoring the mount options.
func (m *Mount) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	h, err := m.Root.Resolve(ctx, path)
	if err != nil || h == nil {
		return nil, err
	}
	if m.Options.ReadOnly {
		return ReadOnly(h, data.Join(m.Path, data.Clean(path))), nil
	}
	return h, nil
}

// Track counts sub as busy until it stops.
func (m *Mount) Track(sub *entry.Subscription) {
	m.mu.Lock()
	m.subscriptions[sub.ID()] = sub
	m.mu.Unlock()

	go func() {
		<-sub.Done()
		m.mu.Lock()
		delete(m.subscriptions, sub.ID())
		m.mu.Unlock()
	}()
}

// IsBusy reports whether any tracked subscription is still live.
func (m *Mount) IsBusy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subscriptions) > 0
}

func (m *Mount) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.subscriptions)
}
