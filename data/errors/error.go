// Package errors builds contextual errors around the data sentinels so that
// callers can keep using errors.Is against data.ErrXxx.
package errors

import (
	"fmt"

	"github.com/stardustapp/skychat-sub000/data"
)

func newError(sentinel, err error, format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", sentinel, text, err)
	}

	return fmt.Errorf("%w: %s", sentinel, text)
}

// Validation reports malformed or mistyped input for the named field.
func Validation(field, format string, args ...any) error {
	return newError(data.ErrValidation, nil, "field '%s': %s", field, fmt.Sprintf(format, args...))
}

// TypeMismatch reports an entry whose type differs from what the field declares.
func TypeMismatch(field string, want, got data.EntryType) error {
	return fmt.Errorf("%w: %w: field '%s' wants %s, got %s",
		data.ErrValidation, data.ErrTypeMismatch, field, want, got)
}

// BackingStore wraps an I/O failure reported by the named store.
func BackingStore(err error, store string) error {
	return newError(data.ErrBackingStore, err, "store '%s'", store)
}

// Unsupported reports that the handle at path lacks the op capability.
func Unsupported(op, path string) error {
	return newError(data.ErrUnsupported, nil, "%s on '%s'", op, path)
}

// ReadOnly reports a write against a read-only mount.
func ReadOnly(path string) error {
	return newError(data.ErrReadOnly, nil, "write to '%s'", path)
}
