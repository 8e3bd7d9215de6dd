// Package backend defines the contract a document store satisfies to back
// the structured adapters: point reads, watches delivering full snapshots or
// change lists, and merge/replace writes.
package backend

import (
	"context"
	"fmt"

	"github.com/stardustapp/skychat-sub000/data"
)

// ErrStoreClosed is delivered to watchers when their store shuts down.
var ErrStoreClosed = fmt.Errorf("%w: store closed", data.ErrBackingStore)

// Backend is used as lifecycle entrypoint for other backend implementations.
type Backend interface {
	// Name returns the identifier name defined for this backend
	Name() string
	// Open is part of the lifecycle behaviour and gets called when opening this backend.
	Open(ctx context.Context) error
	// Close is part of the lifecycle behaviour and gets called when closing this backend.
	Close(ctx context.Context) error

	// GetCapabilities returns a list of capabilities supported by this backend.
	GetCapabilities() *BackendCapabilities
}

// Unwatch releases a watch registration. It is safe to call more than once.
type Unwatch func()

// DocumentStore holds documents addressed by '/'-separated paths. The
// collection of a document is its parent path; List and WatchCollection only
// consider direct children.
type DocumentStore interface {
	Backend

	// Get returns the snapshot at path; a missing document yields a snapshot
	// with Exists == false, not an error.
	Get(ctx context.Context, path string) (*Snapshot, error)
	// Set writes fields. SetMerge keeps unnamed fields, SetReplace drops them.
	Set(ctx context.Context, path string, fields map[string]any, mode SetMode) error
	// Delete removes the document. Deleting a missing document is fine.
	Delete(ctx context.Context, path string) error
	// List returns the documents of a collection ordered by id.
	List(ctx context.Context, collection string) ([]*Snapshot, error)
	// Add creates a document with a generated id and returns that id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)

	// WatchDocument calls onSnapshot with the current state and then after
	// every change. onError ends the watch.
	WatchDocument(ctx context.Context, path string, onSnapshot func(*Snapshot), onError func(error)) (Unwatch, error)
	// WatchCollection first reports every existing document as added, then
	// delivers incremental change lists.
	WatchCollection(ctx context.Context, collection string, onChanges func([]Change), onError func(error)) (Unwatch, error)
}

// Ref points at a document or collection inside a store.
type Ref struct {
	Store DocumentStore
	Path  string
}

func NewRef(store DocumentStore, path string) Ref {
	return Ref{Store: store, Path: data.Clean(path)}
}

// Child descends by one raw segment.
func (r Ref) Child(segment string) Ref {
	return Ref{Store: r.Store, Path: data.Child(r.Path, segment)}
}

// ID is the last segment of the path.
func (r Ref) ID() string {
	_, id := data.Parent(r.Path)
	return id
}

func (r Ref) String() string {
	if r.Store == nil {
		return r.Path
	}
	return r.Store.Name() + ":" + r.Path
}
