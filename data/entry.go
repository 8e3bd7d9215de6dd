package data

import (
	"bytes"
	"fmt"
)

// Entry is an immutable snapshot of one node. Only the fields belonging to
// its Type are populated; the constructors below are the supported way to
// build one. Name is the decoded display name, relative to the parent.
type Entry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`

	// String and Error
	StringValue string `json:"stringValue,omitempty"`
	// Error only
	Authority string `json:"authority,omitempty"`

	// Folder only. Nil means "children not materialized", an empty slice
	// means "materialized and empty".
	Children []*Entry `json:"children,omitempty"`

	// Blob only
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"data,omitempty"`
}

func NewString(name, value string) *Entry {
	return &Entry{Name: name, Type: TypeString, StringValue: value}
}

func NewFolder(name string, children ...*Entry) *Entry {
	if children == nil {
		children = []*Entry{}
	}
	return &Entry{Name: name, Type: TypeFolder, Children: children}
}

// NewFolderStub builds a folder whose children were not materialized.
func NewFolderStub(name string) *Entry {
	return &Entry{Name: name, Type: TypeFolder}
}

func NewBlob(name, mime string, data []byte) *Entry {
	return &Entry{Name: name, Type: TypeBlob, Mime: mime, Data: data}
}

func NewFunction(name string) *Entry {
	return &Entry{Name: name, Type: TypeFunction}
}

func NewDevice(name string) *Entry {
	return &Entry{Name: name, Type: TypeDevice}
}

func NewError(name, authority, message string) *Entry {
	return &Entry{Name: name, Type: TypeError, Authority: authority, StringValue: message}
}

// Validate checks the one-type-per-entry invariant recursively.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalid)
	}

	switch e.Type {
	case TypeString:
		if e.Children != nil || e.Data != nil || e.Mime != "" || e.Authority != "" {
			return fmt.Errorf("%w: string entry %q carries foreign fields", ErrInvalid, e.Name)
		}
	case TypeFolder:
		if e.StringValue != "" || e.Data != nil || e.Mime != "" || e.Authority != "" {
			return fmt.Errorf("%w: folder entry %q carries scalar fields", ErrInvalid, e.Name)
		}
		seen := make(map[string]struct{}, len(e.Children))
		for _, child := range e.Children {
			if err := child.Validate(); err != nil {
				return err
			}
			if child.Name == "" {
				return fmt.Errorf("%w: folder %q has an unnamed child", ErrInvalid, e.Name)
			}
			if _, dup := seen[child.Name]; dup {
				return fmt.Errorf("%w: folder %q has duplicate child %q", ErrInvalid, e.Name, child.Name)
			}
			seen[child.Name] = struct{}{}
		}
	case TypeBlob:
		if e.Children != nil || e.StringValue != "" || e.Authority != "" {
			return fmt.Errorf("%w: blob entry %q carries foreign fields", ErrInvalid, e.Name)
		}
	case TypeFunction, TypeDevice:
		if e.Children != nil || e.StringValue != "" || e.Data != nil || e.Mime != "" || e.Authority != "" {
			return fmt.Errorf("%w: %s entry %q carries payload", ErrInvalid, e.Type, e.Name)
		}
	case TypeError:
		if e.Children != nil || e.Data != nil || e.Mime != "" {
			return fmt.Errorf("%w: error entry %q carries foreign fields", ErrInvalid, e.Name)
		}
	default:
		return fmt.Errorf("%w: entry %q has no type", ErrInvalid, e.Name)
	}

	return nil
}

// Child returns the direct child with the given name.
func (e *Entry) Child(name string) (*Entry, bool) {
	if e == nil || e.Type != TypeFolder {
		return nil, false
	}
	for _, child := range e.Children {
		if child.Name == name {
			return child, true
		}
	}
	return nil, false
}

// Shallow returns a copy without materialized children.
func (e *Entry) Shallow() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Children = nil
	return &cp
}

// WithName returns a copy renamed to name, children shared.
func (e *Entry) WithName(name string) *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Name = name
	return &cp
}

// Clone deep-copies the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Data != nil {
		cp.Data = bytes.Clone(e.Data)
	}
	if e.Children != nil {
		cp.Children = make([]*Entry, len(e.Children))
		for i, child := range e.Children {
			cp.Children[i] = child.Clone()
		}
	}
	return &cp
}

// Equal compares two entries including names and materialized children.
func (e *Entry) Equal(other *Entry) bool {
	if e == nil || other == nil {
		return e == other
	}
	if e.Name != other.Name || e.Type != other.Type ||
		e.StringValue != other.StringValue || e.Authority != other.Authority ||
		e.Mime != other.Mime || !bytes.Equal(e.Data, other.Data) {
		return false
	}
	if (e.Children == nil) != (other.Children == nil) || len(e.Children) != len(other.Children) {
		return false
	}
	for i := range e.Children {
		if !e.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}
