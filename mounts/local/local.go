// Package local exposes a directory of the host filesystem: directories are
// folders and regular files are blobs. Subscriptions follow changes through
// fsnotify.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stardustapp/skychat-sub000/data"
	dataerrors "github.com/stardustapp/skychat-sub000/data/errors"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// DefaultSettle is how long the feed waits for a burst of filesystem events
// to end before re-reading the affected subscriptions.
const DefaultSettle = 50 * time.Millisecond

type LocalMountConfig struct {
	Path   string        `mapstructure:"path"`
	Settle time.Duration `mapstructure:"settle"`
}

type LocalMount struct {
	mu   sync.RWMutex
	root string

	settle  time.Duration
	logger  *log.Logger
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	feed    sync.WaitGroup

	watchMu  sync.Mutex
	watchers map[*watcher]struct{}
}

func NewLocalMount(config LocalMountConfig, logger *log.Logger) *LocalMount {
	if logger == nil {
		logger = log.Discard()
	}
	settle := config.Settle
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &LocalMount{
		root:     filepath.Clean(config.Path),
		settle:   settle,
		logger:   logger,
		watchers: make(map[*watcher]struct{}),
	}
}

// Returns the identifier name defined for this backend
func (*LocalMount) Name() string {
	return "local"
}

// Open checks the root directory and starts the change feed.
func (lm *LocalMount) Open(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	info, err := os.Stat(lm.root)
	if err != nil {
		return dataerrors.BackingStore(err, lm.Name())
	}
	if !info.IsDir() {
		return dataerrors.BackingStore(fmt.Errorf("'%s' is not a directory", lm.root), lm.Name())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return dataerrors.BackingStore(err, lm.Name())
	}
	if err := addRecursive(watcher, lm.root); err != nil {
		watcher.Close()
		return dataerrors.BackingStore(err, lm.Name())
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	lm.watcher = watcher
	lm.cancel = cancel
	lm.feed.Add(1)
	go lm.runFeed(feedCtx, watcher)

	return nil
}

// Close stops the change feed. The files themselves are left alone.
func (lm *LocalMount) Close(ctx context.Context) error {
	lm.mu.Lock()
	fsw, cancel := lm.watcher, lm.cancel
	lm.watcher, lm.cancel = nil, nil
	lm.mu.Unlock()

	if fsw == nil {
		return nil
	}
	cancel()
	err := fsw.Close()
	lm.feed.Wait()

	lm.watchMu.Lock()
	watchers := lm.watchers
	lm.watchers = make(map[*watcher]struct{})
	lm.watchMu.Unlock()
	for w := range watchers {
		w.sub.Crash(backend.ErrStoreClosed)
	}

	return err
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (lm *LocalMount) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityWatch,
			backend.CapabilityPersistent,
		},
		MaxDocumentSize: 10737418240, // 10 GB
	}
}

// Resolve returns a handle when path exists or its parent is a directory.
func (lm *LocalMount) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	full, name, err := lm.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return &node{mount: lm, path: "", full: full, name: ""}, nil
	}

	info, err := os.Stat(filepath.Dir(full))
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	return &node{mount: lm, path: data.Clean(path), full: full, name: name}, nil
}

// resolvePath maps an encoded Skylink path onto the host filesystem. Decoded
// names may not contain separators or climb out of the root.
func (lm *LocalMount) resolvePath(path string) (string, string, error) {
	segments := data.Split(path)
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, lm.root)

	name := ""
	for _, segment := range segments {
		decoded, err := data.DecodeSegment(segment)
		if err != nil {
			return "", "", err
		}
		if decoded == "." || decoded == ".." || strings.ContainsAny(decoded, `/\`) {
			return "", "", dataerrors.InvalidPath(nil, path)
		}
		parts = append(parts, decoded)
		name = decoded
	}
	return filepath.Join(parts...), name, nil
}

func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
