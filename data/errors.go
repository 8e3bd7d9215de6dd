package data

import (
	"errors"
	"fmt"
	"sync"
)

// Standard Skylink errors that mounts and backing stores should use.
var (
	// Path resolution errors
	ErrInvalidPath    = errors.New("skylink: invalid path detected")
	ErrNotMounted     = errors.New("skylink: path not mounted")
	ErrAlreadyMounted = errors.New("skylink: path already mounted")
	ErrMountBusy      = errors.New("skylink: mount point busy")

	// Capability errors
	ErrUnsupported = errors.New("skylink: operation unsupported")
	ErrReadOnly    = errors.New("skylink: read-only mount")

	// Data errors
	ErrInvalid      = errors.New("skylink: invalid argument")
	ErrValidation   = errors.New("skylink: validation failed")
	ErrTypeMismatch = errors.New("skylink: entry type mismatch")

	// Backing store errors
	ErrBackingStore = errors.New("skylink: backing store failure")

	// Subscription errors
	ErrDetached     = errors.New("skylink: projection detached")
	ErrSlowConsumer = errors.New("skylink: subscriber too slow")
	ErrClosed       = errors.New("skylink: already closed")
)

// ProtocolBug is the panic value raised when a projection invariant is
// violated by the caller. It is a programmer error and never returned.
type ProtocolBug struct {
	Path   string
	Reason string
}

func (b *ProtocolBug) Error() string {
	if b.Path == "" {
		return "skylink: protocol bug: " + b.Reason
	}
	return fmt.Sprintf("skylink: protocol bug at '%s': %s", b.Path, b.Reason)
}

// RaiseProtocolBug panics with a *ProtocolBug.
func RaiseProtocolBug(path, format string, args ...any) {
	panic(&ProtocolBug{Path: path, Reason: fmt.Sprintf(format, args...)})
}

// AsProtocolBug extracts a *ProtocolBug from a recovered panic value.
func AsProtocolBug(recovered any) (*ProtocolBug, bool) {
	bug, ok := recovered.(*ProtocolBug)
	return bug, ok
}

type Errors struct {
	mu     sync.RWMutex
	errors []error
}

func (e *Errors) Add(err error) {
	if err == nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = append(e.errors, err)
}

func (e *Errors) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.errors = make([]error, 0)
}

func (e *Errors) Errors() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.errors) == 0 {
		return nil
	}

	return errors.Join(e.errors...)
}
