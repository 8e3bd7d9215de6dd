package memory

import (
	"testing"

	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/mount/backend/storetest"
)

func TestMemoryBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) backend.DocumentStore {
		return NewMemoryBackend()
	})
}

func TestMemoryBackendCloseFailsWatchers(t *testing.T) {
	mb := NewMemoryBackend()

	var failure error
	_, err := mb.WatchDocument(t.Context(), "a/b", func(*backend.Snapshot) {}, func(err error) {
		failure = err
	})
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}

	if err := mb.Close(t.Context()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if failure != backend.ErrStoreClosed {
		t.Errorf("Expected ErrStoreClosed, got %v", failure)
	}
}
