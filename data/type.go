package data

import (
	"fmt"
	"strings"
)

// EntryType identifies the kind of node an Entry materializes.
type EntryType int

// Entry type constants. The zero value is never valid on a live entry.
const (
	TypeUnknown  EntryType = iota
	TypeString             // Scalar text value
	TypeFolder             // Ordered list of named children
	TypeBlob               // Mime-typed binary payload
	TypeFunction           // Invokable node
	TypeDevice             // Mount point exposing a foreign tree
	TypeError              // Error value carried as data
)

func (t EntryType) String() string {
	switch t {
	case TypeString:
		return "String"
	case TypeFolder:
		return "Folder"
	case TypeBlob:
		return "Blob"
	case TypeFunction:
		return "Function"
	case TypeDevice:
		return "Device"
	case TypeError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Valid reports whether t is one of the six entry types.
func (t EntryType) Valid() bool {
	return t >= TypeString && t <= TypeError
}

// ParseEntryType is the inverse of String, case-insensitive.
func ParseEntryType(s string) (EntryType, error) {
	switch strings.ToLower(s) {
	case "string":
		return TypeString, nil
	case "folder":
		return TypeFolder, nil
	case "blob":
		return TypeBlob, nil
	case "function":
		return TypeFunction, nil
	case "device":
		return TypeDevice, nil
	case "error":
		return TypeError, nil
	}
	return TypeUnknown, fmt.Errorf("%w: unknown entry type %q", ErrInvalid, s)
}

func (t EntryType) MarshalText() ([]byte, error) {
	if t == TypeUnknown {
		return nil, fmt.Errorf("%w: cannot encode entry without type", ErrInvalid)
	}
	return []byte(t.String()), nil
}

func (t *EntryType) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
