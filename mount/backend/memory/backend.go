package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// MemoryBackend keeps JSON-encoded documents in an ordered B-tree keyed by
// path. Because keys sort lexically, a collection's documents form one
// contiguous range starting at "<collection>/".
type MemoryBackend struct {
	mu sync.RWMutex
	// writeMu orders publication with commits.
	writeMu sync.Mutex

	docs    *btree.Map[string, *document]
	hub     *backend.WatchHub
	nowFunc func() time.Time
}

type document struct {
	raw        []byte
	updateTime time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:    btree.NewMap[string, *document](0),
		hub:     backend.NewWatchHub(),
		nowFunc: time.Now,
	}
}

// Returns the identifier name defined for this backend
func (*MemoryBackend) Name() string {
	return "memory"
}

// Open is part of the lifecycle behaviour and gets called when opening this backend.
func (mb *MemoryBackend) Open(ctx context.Context) error {
	// No initialization needed - backend is ready to use
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (mb *MemoryBackend) Close(ctx context.Context) error {
	mb.mu.Lock()
	mb.docs.Clear()
	mb.mu.Unlock()

	mb.hub.Fail(backend.ErrStoreClosed)
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (mb *MemoryBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityDocuments,
			backend.CapabilityCollections,
			backend.CapabilityWatch,
		},
		MaxDocumentSize: 10485760, // 10 MB
	}
}

// Hub exposes the watch registry, mainly for tests that check watchers are
// released.
func (mb *MemoryBackend) Hub() *backend.WatchHub {
	return mb.hub
}
