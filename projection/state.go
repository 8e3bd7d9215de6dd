// Package projection maintains the per-subscription record of published
// paths and turns full snapshots or change lists from a backing store into a
// minimal stream of Added, Changed and Removed notifications.
package projection

import (
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
)

// State is owned by exactly one subscription. All methods are safe for
// concurrent use; each call is applied atomically with respect to the others.
type State struct {
	mu sync.Mutex

	channel   Channel
	sentPaths btree.Map[string, *data.Entry]
	// folderRoot is set once a Folder was offered as the root. It is never
	// published, only its children are.
	folderRoot *data.Entry
	ready      bool
	detached  bool

	logger *log.Logger
}

type Option func(*State)

func WithLogger(logger *log.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}

func NewState(channel Channel, opts ...Option) *State {
	s := &State{
		channel: channel,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OfferPath publishes entry at path if it differs from what was last sent.
// Folders carrying inline children have those children reconciled as well.
// A nil entry, a missing type, or a type change on a known path panic with
// a *data.ProtocolBug.
func (s *State) OfferPath(path string, entry *data.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offerPath(path, entry)
}

// OfferPathChildren reconciles the direct children of parent against the
// given complete list. Known children absent from the list are removed.
func (s *State) OfferPathChildren(parent string, children []*data.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offerPathChildren(parent, children)
}

// OfferRoot reconciles the subscription root. A Folder root is recorded
// silently and its children are reconciled against the "" parent; any other
// type is published at "". Switching the root between a Folder and another
// type panics with a *data.ProtocolBug.
func (s *State) OfferRoot(entry *data.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}
	if entry == nil {
		data.RaiseProtocolBug("", "offered nil root, use RemoveRoot")
	}

	if entry.Type != data.TypeFolder {
		if s.folderRoot != nil {
			data.RaiseProtocolBug("", "type changed from %s to %s", data.TypeFolder, entry.Type)
		}
		s.offerPath("", entry)
		return
	}

	if prior, known := s.sentPaths.Get(""); known {
		data.RaiseProtocolBug("", "type changed from %s to %s", prior.Type, entry.Type)
	}
	s.folderRoot = entry.Shallow()
	children := entry.Children
	if children == nil {
		children = []*data.Entry{}
	}
	s.offerPathChildren("", children)
}

// RemoveRoot retracts everything published for the root. A Folder root
// emits one Removed per top-level child, a scalar root a single Removed at
// "". Afterwards the root may be offered again with any type.
func (s *State) RemoveRoot() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, child := range s.childPaths("") {
		s.removePath(child)
	}
	s.removePath("")
	s.folderRoot = nil
}

// RemovePath retracts path and everything beneath it. Unknown paths are
// ignored. Only one Removed is emitted; descendants are dropped silently.
func (s *State) RemovePath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removePath(path)
}

// MarkReady emits Ready the first time it is called.
func (s *State) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached || s.ready {
		return
	}
	s.ready = true
	s.emit(data.Ready())
}

// MarkCrashed terminates the feed with err and detaches the state.
func (s *State) MarkCrashed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}
	s.detached = true
	s.logger.Warn("subscription crashed: %v", err)
	if cerr := s.channel.Error(err); cerr != nil {
		s.logger.Debug("error signal not delivered: %v", cerr)
	}
}

// MarkDone terminates the feed cleanly and detaches the state.
func (s *State) MarkDone() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}
	s.detached = true
	if err := s.channel.Done(); err != nil {
		s.logger.Debug("done signal not delivered: %v", err)
	}
}

// Detach drops the channel without signalling it; later calls are no-ops.
func (s *State) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = true
}

func (s *State) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ready
}

func (s *State) IsDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.detached
}

// Known returns the last entry published at path.
func (s *State) Known(path string) (*data.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sentPaths.Get(path)
}

// Paths lists every published path in lexical order.
func (s *State) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sentPaths.Keys()
}

func (s *State) offerPath(path string, entry *data.Entry) {
	if s.detached {
		return
	}
	if entry == nil {
		data.RaiseProtocolBug(path, "offered nil entry, use RemovePath")
	}
	if !entry.Type.Valid() {
		data.RaiseProtocolBug(path, "offered entry without a known type")
	}

	record := entry.Shallow()
	record.Name = lastName(path, entry.Name)

	prior, known := s.sentPaths.Get(path)
	if !known {
		s.sentPaths.Set(path, record)
		s.emit(data.Added(path, record))
		if entry.Type == data.TypeFolder && entry.Children != nil {
			s.offerPathChildren(path, entry.Children)
		}
		return
	}

	if prior.Type != entry.Type {
		data.RaiseProtocolBug(path, "type changed from %s to %s", prior.Type, entry.Type)
	}

	switch entry.Type {
	case data.TypeString, data.TypeError:
		if prior.StringValue == record.StringValue && prior.Authority == record.Authority {
			return
		}
	case data.TypeFolder:
		// Folders carry no attributes of their own.
		if entry.Children != nil {
			s.offerPathChildren(path, entry.Children)
		}
		return
	case data.TypeBlob:
		if prior.Mime == record.Mime && string(prior.Data) == string(record.Data) {
			return
		}
	case data.TypeFunction, data.TypeDevice:
		return
	default:
		data.RaiseProtocolBug(path, "no diff rule for entry type %s", entry.Type)
	}

	s.sentPaths.Set(path, record)
	s.emit(data.Changed(path, record))
}

func (s *State) offerPathChildren(parent string, children []*data.Entry) {
	if s.detached {
		return
	}

	expected := make(map[string]struct{})
	for _, known := range s.childPaths(parent) {
		expected[known] = struct{}{}
	}

	for _, child := range children {
		if child == nil {
			data.RaiseProtocolBug(parent, "nil child in children list")
		}
		childPath := data.Child(parent, data.EncodeSegment(child.Name))
		delete(expected, childPath)
		s.offerPath(childPath, child)
	}

	for _, known := range s.childPaths(parent) {
		if _, gone := expected[known]; gone {
			s.removePath(known)
		}
	}
}

func (s *State) removePath(path string) {
	if s.detached {
		return
	}
	if _, known := s.sentPaths.Get(path); !known {
		return
	}

	s.sentPaths.Delete(path)
	for _, descendant := range s.descendantPaths(path) {
		s.sentPaths.Delete(descendant)
	}
	s.emit(data.Removed(path))
}

// childPaths scans the keys exactly one segment below parent. Keys sort
// lexically, so all descendants of parent form one contiguous range.
func (s *State) childPaths(parent string) []string {
	var out []string
	s.scanBelow(parent, func(key string) {
		rest := key
		if parent != "" {
			rest = key[len(parent)+1:]
		}
		if !strings.Contains(rest, "/") {
			out = append(out, key)
		}
	})
	return out
}

func (s *State) descendantPaths(path string) []string {
	var out []string
	s.scanBelow(path, func(key string) {
		out = append(out, key)
	})
	return out
}

func (s *State) scanBelow(path string, fn func(key string)) {
	if path == "" {
		s.sentPaths.Scan(func(key string, _ *data.Entry) bool {
			if key != "" {
				fn(key)
			}
			return true
		})
		return
	}

	prefix := path + "/"
	s.sentPaths.Ascend(prefix, func(key string, _ *data.Entry) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		fn(key)
		return true
	})
}

func (s *State) emit(n data.Notification) {
	if err := s.channel.Next(n); err != nil {
		s.logger.Warn("dropping subscription at %s: %v", n, err)
		s.detached = true
	}
}

func lastName(path, fallback string) string {
	if path == "" {
		return fallback
	}
	_, segment := data.Parent(path)
	name, err := data.DecodeSegment(segment)
	if err != nil {
		return segment
	}
	return name
}
