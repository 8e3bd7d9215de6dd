package backend

import (
	"time"

	"github.com/stardustapp/skychat-sub000/data"
)

type SetMode int

const (
	SetMerge SetMode = iota
	SetReplace
)

// Snapshot is a point-in-time copy of one document.
type Snapshot struct {
	Path       string
	Exists     bool
	Fields     map[string]any
	UpdateTime time.Time
}

func Missing(path string) *Snapshot {
	return &Snapshot{Path: path}
}

// ID is the last path segment.
func (s *Snapshot) ID() string {
	_, id := data.Parent(s.Path)
	return id
}

// Field looks up a named field; absent documents have no fields.
func (s *Snapshot) Field(name string) (any, bool) {
	if s == nil || !s.Exists {
		return nil, false
	}
	v, ok := s.Fields[name]
	return v, ok && v != nil
}

type ChangeType int

const (
	ChangeAdded ChangeType = iota + 1
	ChangeModified
	ChangeRemoved
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of a collection change list. Removed changes carry a
// snapshot with Exists == false.
type Change struct {
	Type     ChangeType
	Document *Snapshot
}

// MergeFields applies a write to existing fields according to mode.
func MergeFields(existing, fields map[string]any, mode SetMode) map[string]any {
	out := make(map[string]any, len(existing)+len(fields))
	if mode == SetMerge {
		for k, v := range existing {
			out[k] = v
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
