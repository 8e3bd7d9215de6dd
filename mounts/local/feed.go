package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stardustapp/skychat-sub000/entry"
)

type watcher struct {
	// mu orders the initial read against refreshes from the feed.
	mu    sync.Mutex
	full  string
	depth int
	sub   *entry.Subscription
}

// runFeed collects filesystem events and, once a burst has settled,
// refreshes every subscription whose subtree saw a change.
func (lm *LocalMount) runFeed(ctx context.Context, fw *fsnotify.Watcher) {
	defer lm.feed.Done()

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(fw, ev.Name); err != nil {
						lm.logger.Warn("failed to watch '%s': %v", ev.Name, err)
					}
				}
			}
			pending[filepath.Clean(ev.Name)] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(lm.settle)
				fire = timer.C
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			lm.logger.Warn("filesystem watch error: %v", err)

		case <-fire:
			timer, fire = nil, nil
			changed := pending
			pending = make(map[string]struct{})
			lm.dispatch(ctx, changed)
		}
	}
}

func (lm *LocalMount) dispatch(ctx context.Context, changed map[string]struct{}) {
	lm.watchMu.Lock()
	var targets []*watcher
	for w := range lm.watchers {
		for path := range changed {
			if within(path, w.full) || within(w.full, path) {
				targets = append(targets, w)
				break
			}
		}
	}
	lm.watchMu.Unlock()

	for _, w := range targets {
		if err := lm.refresh(ctx, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.sub.Crash(err)
		}
	}
}

// refresh re-reads the subtree of w and reconciles it into its projection.
func (lm *LocalMount) refresh(ctx context.Context, w *watcher) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sub.Stopped() {
		return nil
	}
	root, err := lm.snapshot(ctx, w.full, w.depth)
	if err != nil {
		return err
	}
	w.sub.Guard(func() {
		entry.Project(w.sub.State(), root, w.depth)
	})
	return nil
}

// within reports whether path equals dir or lies below it.
func within(path, dir string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}
