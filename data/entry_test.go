package data

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	for name, tc := range map[string]struct {
		entry *Entry
		valid bool
	}{
		"String":       {entry: NewString("a", "1"), valid: true},
		"EmptyFolder":  {entry: NewFolder(""), valid: true},
		"NestedFolder": {entry: NewFolder("", NewFolder("a", NewString("b", "2"))), valid: true},
		"Blob":         {entry: NewBlob("b", "text/plain", []byte("x")), valid: true},
		"Nil":          {entry: nil},
		"NoType":       {entry: &Entry{Name: "x"}},
		"StringWithData": {
			entry: &Entry{Name: "s", Type: TypeString, Data: []byte("x")},
		},
		"DuplicateChild": {entry: NewFolder("f", NewString("a", "1"), NewString("a", "2"))},
		"UnnamedChild":   {entry: NewFolder("f", NewString("", "1"))},
		"DeepUnnamed":    {entry: NewFolder("", NewFolder("a", NewFolder("")))},
	} {
		t.Run(name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.valid && err != nil {
				t.Errorf("Expected valid entry, got %v", err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}
