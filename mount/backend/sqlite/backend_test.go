package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/mount/backend/storetest"
)

func TestSQLiteBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) backend.DocumentStore {
		sb, err := NewSQLiteBackend(":memory:")
		if err != nil {
			t.Fatalf("NewSQLiteBackend failed: %v", err)
		}
		return sb
	})
}

func TestSQLiteBackendPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "skylink.db")

	sb, err := NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := sb.Set(t.Context(), "users/alice", map[string]any{"name": "alice"}, backend.SetReplace); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := sb.Close(t.Context()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sb, err = NewSQLiteBackend(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	defer sb.Close(t.Context())

	snap, err := sb.Get(t.Context(), "users/alice")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v, _ := snap.Field("name"); v != "alice" {
		t.Errorf("Expected %q, got %v", "alice", v)
	}
}
