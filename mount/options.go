package mount

import (
	"fmt"

	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

type MountOptions struct {
	// Backends are opened on Mount and closed on Unmount, in order.
	Backends []backend.Backend
	Logger   *log.Logger

	ReadOnly bool // Whether the mount is read-only.
	Nesting  bool // Whether the mount allows for nested mountpoints.
}

type MountOption func(*MountOptions) error

func newDefaultMountOptions() *MountOptions {
	return &MountOptions{
		Logger:   log.Discard(),
		ReadOnly: false,
		Nesting:  true,
	}
}

// WithBackend ties the lifecycle of b to the mount. The same backend may be
// shared by several mounts; it is opened and closed with each of them.
func WithBackend(b backend.Backend) MountOption {
	return func(mo *MountOptions) error {
		if b == nil {
			return fmt.Errorf("mount backend must not be nil")
		}
		for _, existing := range mo.Backends {
			if existing == b {
				return nil
			}
		}
		mo.Backends = append(mo.Backends, b)
		return nil
	}
}

func WithLogger(logger *log.Logger) MountOption {
	return func(mo *MountOptions) error {
		if logger != nil {
			mo.Logger = logger
		}
		return nil
	}
}

// DisableNesting specifies, if nested mountpoints are allowed within this mount.
func DisableNesting() MountOption {
	return func(mo *MountOptions) error {
		mo.Nesting = false
		return nil
	}
}

// AsReadOnly specifies, if this mount is in a readonly state.
func AsReadOnly() MountOption {
	return func(mo *MountOptions) error {
		mo.ReadOnly = true
		return nil
	}
}
