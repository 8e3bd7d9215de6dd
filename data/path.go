package data

import (
	"fmt"
	"net/url"
	"strings"
)

// Paths are '/'-delimited sequences of independently percent-encoded
// segments. The root is "" (and "/" is accepted as an alias). All helpers
// below operate on the cleaned form: no leading or trailing slash.

// Clean strips leading and trailing slashes.
func Clean(path string) string {
	return strings.Trim(path, "/")
}

// ValidatePath checks that every segment is non-empty and decodes.
func ValidatePath(path string) error {
	path = Clean(path)
	if path == "" {
		return nil
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: empty segment in '%s'", ErrInvalidPath, path)
		}
		if _, err := url.PathUnescape(seg); err != nil {
			return fmt.Errorf("%w: bad segment '%s': %v", ErrInvalidPath, seg, err)
		}
	}

	return nil
}

// EncodeSegment percent-encodes a display name for use as one segment.
func EncodeSegment(name string) string {
	return url.PathEscape(name)
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(segment string) (string, error) {
	name, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("%w: bad segment '%s': %v", ErrInvalidPath, segment, err)
	}
	return name, nil
}

// Split returns the encoded segments of path. The root yields nil.
func Split(path string) []string {
	path = Clean(path)
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// SplitFirst returns the first encoded segment and the remainder.
func SplitFirst(path string) (string, string) {
	path = Clean(path)
	head, rest, _ := strings.Cut(path, "/")
	return head, rest
}

// Join concatenates already-encoded segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg = Clean(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}

// Child appends an encoded segment to parent.
func Child(parent, segment string) string {
	if parent == "" {
		return segment
	}
	return parent + "/" + segment
}

// Parent splits path into its parent and last encoded segment.
func Parent(path string) (string, string) {
	path = Clean(path)
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

// Depth counts segments; the root has depth 0.
func Depth(path string) int {
	path = Clean(path)
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

// IsDescendant reports whether path lies strictly beneath ancestor.
func IsDescendant(path, ancestor string) bool {
	if ancestor == "" {
		return path != ""
	}
	return strings.HasPrefix(path, ancestor+"/")
}

// ToRelativePath removes the prefix from path.
// Returns the relative path after the prefix.
// It additionally removes any leading slashes.
func ToRelativePath(path, prefix string) string {
	if prefix == "" {
		return path
	}

	if path == prefix {
		return ""
	}

	relPath := strings.TrimPrefix(path, prefix)
	return strings.TrimPrefix(relPath, "/")
}

// HasPrefix checks if path equals prefix or lies beneath it.
// Both paths should be cleaned before calling.
func HasPrefix(path, prefix string) bool {
	// Root matches everything
	if prefix == "" {
		return true
	}

	// Exact match
	if path == prefix {
		return true
	}

	return strings.HasPrefix(path, prefix+"/")
}
