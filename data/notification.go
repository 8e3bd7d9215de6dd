package data

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationType is one of the four events a projection publishes.
type NotificationType int

const (
	NotifyAdded NotificationType = iota + 1
	NotifyChanged
	NotifyRemoved
	NotifyReady
)

func (n NotificationType) String() string {
	switch n {
	case NotifyAdded:
		return "Added"
	case NotifyChanged:
		return "Changed"
	case NotifyRemoved:
		return "Removed"
	case NotifyReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

func (n NotificationType) MarshalText() ([]byte, error) {
	if n < NotifyAdded || n > NotifyReady {
		return nil, fmt.Errorf("%w: unknown notification type %d", ErrInvalid, int(n))
	}
	return []byte(n.String()), nil
}

func (n *NotificationType) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "added":
		*n = NotifyAdded
	case "changed":
		*n = NotifyChanged
	case "removed":
		*n = NotifyRemoved
	case "ready":
		*n = NotifyReady
	default:
		return fmt.Errorf("%w: unknown notification type %q", ErrInvalid, string(b))
	}
	return nil
}

// Notification is one event on a subscription feed. Path is relative to the
// subscription root; Ready carries neither Path nor Entry.
type Notification struct {
	Type  NotificationType `json:"type"`
	Path  string           `json:"path,omitempty"`
	Entry *Entry           `json:"entry,omitempty"`
}

func Added(path string, entry *Entry) Notification {
	return Notification{Type: NotifyAdded, Path: path, Entry: entry}
}

func Changed(path string, entry *Entry) Notification {
	return Notification{Type: NotifyChanged, Path: path, Entry: entry}
}

func Removed(path string) Notification {
	return Notification{Type: NotifyRemoved, Path: path}
}

func Ready() Notification {
	return Notification{Type: NotifyReady}
}

func (n Notification) String() string {
	switch n.Type {
	case NotifyReady:
		return "Ready"
	case NotifyRemoved:
		return fmt.Sprintf("Removed(%q)", n.Path)
	}
	if n.Entry != nil && (n.Entry.Type == TypeString || n.Entry.Type == TypeError) {
		return fmt.Sprintf("%s(%q, %s %q)", n.Type, n.Path, n.Entry.Type, n.Entry.StringValue)
	}
	if n.Entry != nil {
		return fmt.Sprintf("%s(%q, %s)", n.Type, n.Path, n.Entry.Type)
	}
	return fmt.Sprintf("%s(%q)", n.Type, n.Path)
}

// MarshalJSON drops path and entry for Ready so the wire shape matches
// { "type": "Ready" }.
func (n Notification) MarshalJSON() ([]byte, error) {
	type wire Notification
	if n.Type == NotifyReady {
		return json.Marshal(struct {
			Type NotificationType `json:"type"`
		}{n.Type})
	}
	return json.Marshal(wire(n))
}
