package cmd

import (
	"context"
	"io"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/projection"
)

// API is the subset of namespace operations commands are built on.
// Both a local Namespace and a transport Client satisfy it.
type API interface {
	// Get returns the entry at path, or nil without error when the node
	// does not exist.
	Get(ctx context.Context, path string) (*data.Entry, error)

	// Put replaces the entry at path. A nil value removes it.
	Put(ctx context.Context, path string, value *data.Entry) error

	// Enumerate walks the tree below path up to depth levels. The first
	// record is the root itself, named "".
	Enumerate(ctx context.Context, path string, depth int) ([]*data.Entry, error)

	// Subscribe publishes the projection of the tree below path into ch
	// until the returned subscription is stopped.
	Subscribe(ctx context.Context, path string, depth int, ch projection.Channel) (*entry.Subscription, error)

	// Invoke calls the function entry at path.
	Invoke(ctx context.Context, path string, input *data.Entry) (*data.Entry, error)

	// Capabilities lists what the node at path supports.
	Capabilities(ctx context.Context, path string) ([]entry.Capability, error)
}

// Command represents an executable command against a namespace.
type Command interface {
	// Name returns the command identifier
	Name() string

	// Description returns human-readable help text
	Description() string

	// Usage returns a usage string for help (e.g. "ls -d 2 [path]")
	Usage() string

	// Execute runs the command with parsed arguments
	// The writer parameter is where command output should be written
	// Returns exit code (0 = success) and error message
	Execute(ctx context.Context, api API, args *CommandArgs, writer io.Writer) (int, error)

	// GetFlags returns the flag set for this command (this is optional)
	GetFlags() *CommandFlagSet
}
