// Package skylink ties mounts into one addressable tree. A Namespace routes
// every path to the mount with the longest matching mount point and
// synthesizes folders for the intermediate segments above mount points.
package skylink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
)

type Namespace struct {
	mu     sync.RWMutex
	mounts map[string]*mount.Mount
	closed bool

	log *log.Logger
}

// MountInfo describes one mount point.
type MountInfo struct {
	Path          string    `json:"path"`
	ReadOnly      bool      `json:"read_only"`
	MountedAt     time.Time `json:"mounted_at"`
	Subscriptions int       `json:"subscriptions"`
}

func NewNamespace(opts ...NamespaceOption) (*Namespace, error) {
	options := newDefaultNamespaceOptions()
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	return &Namespace{
		mounts: make(map[string]*mount.Mount),
		log:    options.logger(),
	}, nil
}

func (ns *Namespace) Logger() *log.Logger {
	return ns.log
}

// Mount attaches root at path and opens the backends passed through
// mount.WithBackend.
func (ns *Namespace) Mount(ctx context.Context, path string, root mount.Resolver, opts ...mount.MountOption) error {
	path = data.Clean(path)
	if err := data.ValidatePath(path); err != nil {
		return dataerrors.InvalidPath(err, path)
	}
	if root == nil {
		return fmt.Errorf("%w: nil resolver for '/%s'", data.ErrInvalid, path)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.closed {
		return data.ErrClosed
	}
	if _, exists := ns.mounts[path]; exists {
		return dataerrors.PathAlreadyMounted(nil, "/"+path)
	}
	if parent := ns.longestMatch(path); parent != nil && !parent.Options.Nesting {
		return dataerrors.PathMountBusy(fmt.Errorf("'/%s' does not allow nested mounts", parent.Path), "/"+path)
	}

	opts = append([]mount.MountOption{mount.WithLogger(ns.log.Named("/" + path))}, opts...)
	m, err := mount.NewMount(path, root, opts...)
	if err != nil {
		return err
	}
	if err := m.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount '/%s': %w", path, err)
	}

	ns.mounts[path] = m
	ns.log.Info("mounted '/%s'", path)
	return nil
}

// Unmount detaches the mount at path. Without force it refuses while child
// mounts exist or subscriptions are live.
func (ns *Namespace) Unmount(ctx context.Context, path string, force bool) error {
	path = data.Clean(path)

	ns.mu.Lock()
	m, exists := ns.mounts[path]
	if !exists {
		ns.mu.Unlock()
		return dataerrors.PathNotMounted(nil, "/"+path)
	}
	if !force && ns.hasChildMounts(path) {
		ns.mu.Unlock()
		return dataerrors.PathMountBusy(fmt.Errorf("child mounts exist"), "/"+path)
	}
	if !force && m.IsBusy() {
		ns.mu.Unlock()
		return dataerrors.PathMountBusy(fmt.Errorf("%d live subscriptions", m.SubscriptionCount()), "/"+path)
	}
	delete(ns.mounts, path)
	ns.mu.Unlock()

	if err := m.Unmount(ctx, true); err != nil {
		return fmt.Errorf("failed to unmount '/%s': %w", path, err)
	}
	ns.log.Info("unmounted '/%s'", path)
	return nil
}

// Mounts returns information about all mount points, sorted by path.
func (ns *Namespace) Mounts() []MountInfo {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	infos := make([]MountInfo, 0, len(ns.mounts))
	for _, m := range ns.mounts {
		infos = append(infos, MountInfo{
			Path:          "/" + m.Path,
			ReadOnly:      m.Options.ReadOnly,
			MountedAt:     m.MountTime,
			Subscriptions: m.SubscriptionCount(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Path < infos[j].Path
	})
	return infos
}

// Shutdown force-unmounts everything, deepest mount points first, and
// rejects later mounts.
func (ns *Namespace) Shutdown(ctx context.Context) error {
	ns.mu.Lock()
	ns.closed = true
	mounts := make([]*mount.Mount, 0, len(ns.mounts))
	for _, m := range ns.mounts {
		mounts = append(mounts, m)
	}
	ns.mounts = make(map[string]*mount.Mount)
	ns.mu.Unlock()

	sort.Slice(mounts, func(i, j int) bool {
		di, dj := data.Depth(mounts[i].Path), data.Depth(mounts[j].Path)
		if di != dj {
			return di > dj
		}
		return mounts[i].Path > mounts[j].Path
	})

	errs := data.Errors{}
	for _, m := range mounts {
		if err := m.Unmount(ctx, true); err != nil {
			errs.Add(fmt.Errorf("failed to unmount '/%s': %w", m.Path, err))
		}
	}
	return errs.Errors()
}

// Resolve returns the handle at path together with its owning mount. A path
// that no mount covers but lies above a mount point resolves to a virtual
// folder without owner. (nil, nil, nil) means nothing exists there.
func (ns *Namespace) Resolve(ctx context.Context, path string) (entry.Handle, *mount.Mount, error) {
	path = data.Clean(path)
	if err := data.ValidatePath(path); err != nil {
		return nil, nil, dataerrors.InvalidPath(err, path)
	}

	ns.mu.RLock()
	m := ns.longestMatch(path)
	virtual := ns.hasChildMounts(path)
	ns.mu.RUnlock()

	if m != nil {
		h, err := m.Resolve(ctx, data.ToRelativePath(path, m.Path))
		if err != nil {
			return nil, nil, err
		}
		if h != nil && (!virtual || exists(ctx, h)) {
			return h, m, nil
		}
	}
	if virtual {
		return &virtualFolder{ns: ns, path: path}, nil, nil
	}
	return nil, nil, nil
}

// exists reports whether a handle that may only be a placeholder for
// creation has a current entry.
func exists(ctx context.Context, h entry.Handle) bool {
	g, ok := h.(entry.Getter)
	if !ok {
		return true
	}
	got, err := g.Get(ctx)
	return err != nil || got != nil
}

// longestMatch must be called with mu held.
func (ns *Namespace) longestMatch(path string) *mount.Mount {
	var best *mount.Mount
	for mountPoint, m := range ns.mounts {
		if !data.HasPrefix(path, mountPoint) {
			continue
		}
		if best == nil || len(mountPoint) > len(best.Path) {
			best = m
		}
	}
	return best
}

// hasChildMounts checks if any mounts exist strictly under parent.
// Must be called with mu held.
func (ns *Namespace) hasChildMounts(parent string) bool {
	for mountPoint := range ns.mounts {
		if data.IsDescendant(mountPoint, parent) {
			return true
		}
	}
	return false
}

// childMountSegments lists the encoded segments directly below parent that
// lead to a mount point.
func (ns *Namespace) childMountSegments(parent string) []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	seen := make(map[string]struct{})
	var segments []string
	for mountPoint := range ns.mounts {
		if !data.IsDescendant(mountPoint, parent) {
			continue
		}
		head, _ := data.SplitFirst(data.ToRelativePath(mountPoint, parent))
		if _, dup := seen[head]; !dup {
			seen[head] = struct{}{}
			segments = append(segments, head)
		}
	}
	sort.Strings(segments)
	return segments
}
