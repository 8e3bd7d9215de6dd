package backend

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func existing(path string, fields map[string]any) *Snapshot {
	return &Snapshot{Path: path, Exists: true, Fields: fields}
}

func TestWatchHubCollectionClassify(t *testing.T) {
	hub := NewWatchHub()

	var got []string
	unwatch, err := hub.WatchCollection("rooms", func() ([]*Snapshot, error) {
		return []*Snapshot{existing("rooms/a", nil)}, nil
	}, func(changes []Change) {
		for _, c := range changes {
			got = append(got, c.Type.String()+" "+c.Document.ID())
		}
	}, nil)
	if err != nil {
		t.Fatalf("WatchCollection failed: %v", err)
	}

	hub.Publish(existing("rooms/b", nil), existing("rooms/a", nil))
	hub.Publish(Missing("rooms/a"), Missing("rooms/zz"))
	hub.Publish(existing("other/x", nil), existing("rooms/a/messages/1", nil))

	want := []string{"added a", "added b", "modified a", "removed a"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changes mismatch (-want +got):\n%s", diff)
	}

	unwatch()
	hub.Publish(existing("rooms/c", nil))
	if len(got) != len(want) {
		t.Errorf("Expected no delivery after unwatch, got %v", got)
	}
	if hub.WatcherCount() != 0 {
		t.Errorf("Expected 0 watchers, got %d", hub.WatcherCount())
	}
}

func TestWatchHubUnwatchFromCallback(t *testing.T) {
	hub := NewWatchHub()

	var unwatch Unwatch
	calls := 0
	unwatch, err := hub.WatchDocument("doc", func() (*Snapshot, error) {
		return Missing("doc"), nil
	}, func(s *Snapshot) {
		calls++
		if s.Exists {
			unwatch()
		}
	}, nil)
	if err != nil {
		t.Fatalf("WatchDocument failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		hub.Publish(existing("doc", nil))
		hub.Publish(existing("doc", nil))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Expected unwatch from callback not to deadlock")
	}
	if calls != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)
	raw, err := EncodeFields(map[string]any{
		"when":  when,
		"tags":  []string{"a"},
		"attrs": map[string]string{"k": "v"},
		"n":     3,
	})
	if err != nil {
		t.Fatalf("EncodeFields failed: %v", err)
	}

	fields, err := DecodeFields(raw)
	if err != nil {
		t.Fatalf("DecodeFields failed: %v", err)
	}

	want := map[string]any{
		"when":  when,
		"tags":  []any{"a"},
		"attrs": map[string]any{"k": "v"},
		"n":     float64(3),
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := EncodeFields(map[string]any{"bad": struct{}{}}); err == nil {
		t.Errorf("Expected error for unsupported value")
	}
}

func TestMergeFields(t *testing.T) {
	got := MergeFields(map[string]any{"a": 1, "b": 2}, map[string]any{"b": nil, "c": 3}, SetMerge)
	if diff := cmp.Diff(map[string]any{"a": 1, "c": 3}, got); diff != "" {
		t.Errorf("merge mismatch (-want +got):\n%s", diff)
	}
}
