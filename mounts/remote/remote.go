// Package remote proxies a subtree of another Skylink server reached over
// the websocket transport.
package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/entry"
	"github.com/stardustapp/skychat-sub000/enumerate"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/projection"
	"github.com/stardustapp/skychat-sub000/transport"
)

type RemoteMountConfig struct {
	URL string `mapstructure:"url"`
	// Path is the subtree on the remote server that this mount exposes.
	Path           string        `mapstructure:"path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type RemoteMount struct {
	mu     sync.RWMutex
	client *transport.Client

	url      string
	prefix   string
	settings *transport.Settings
	logger   *log.Logger
}

func NewRemoteMount(config RemoteMountConfig, logger *log.Logger) (*RemoteMount, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if config.URL == "" {
		return nil, fmt.Errorf("%w: remote url must be set", data.ErrInvalid)
	}
	prefix := data.Clean(config.Path)
	if err := data.ValidatePath(prefix); err != nil {
		return nil, err
	}

	settings := transport.DefaultSettings()
	if config.RequestTimeout > 0 {
		settings.RequestTimeout = config.RequestTimeout
	}
	return &RemoteMount{
		url:      config.URL,
		prefix:   prefix,
		settings: settings,
		logger:   logger,
	}, nil
}

// Returns the identifier name defined for this backend
func (*RemoteMount) Name() string {
	return "remote"
}

func (rm *RemoteMount) Open(ctx context.Context) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.client != nil {
		return nil
	}
	client, err := transport.Dial(ctx, rm.url, rm.logger, rm.settings)
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrBackingStore, err)
	}
	rm.client = client
	return nil
}

// Close drops the connection; live subscriptions crash with
// transport.ErrConnectionLost.
func (rm *RemoteMount) Close(ctx context.Context) error {
	rm.mu.Lock()
	client := rm.client
	rm.client = nil
	rm.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (rm *RemoteMount) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityWatch,
			backend.CapabilityRemoteWatch,
		},
		MaxDocumentSize: rm.settings.MaxMessageSize,
	}
}

// Resolve always returns a handle; existence is only known remotely, so a
// missing node reads as nil.
func (rm *RemoteMount) Resolve(ctx context.Context, path string) (entry.Handle, error) {
	path = data.Clean(path)
	if err := data.ValidatePath(path); err != nil {
		return nil, err
	}
	return &node{mount: rm, path: path}, nil
}

func (rm *RemoteMount) conn() (*transport.Client, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if rm.client == nil {
		return nil, fmt.Errorf("%w: remote '%s' is not connected", data.ErrClosed, rm.url)
	}
	return rm.client, nil
}

func (rm *RemoteMount) remotePath(path string) string {
	return "/" + data.Join(rm.prefix, path)
}

type node struct {
	mount *RemoteMount
	path  string
}

func (n *node) Name() string {
	if n.path == "" {
		return ""
	}
	_, segment := data.Parent(n.path)
	name, err := data.DecodeSegment(segment)
	if err != nil {
		return segment
	}
	return name
}

func (n *node) Get(ctx context.Context) (*data.Entry, error) {
	client, err := n.mount.conn()
	if err != nil {
		return nil, err
	}
	got, err := client.Get(ctx, n.mount.remotePath(n.path))
	if err != nil || got == nil {
		return nil, err
	}
	return got.WithName(n.Name()), nil
}

func (n *node) Put(ctx context.Context, value *data.Entry) error {
	client, err := n.mount.conn()
	if err != nil {
		return err
	}
	return client.Put(ctx, n.mount.remotePath(n.path), value)
}

// Enumerate spends the remaining depth budget remotely and replays the
// results at the current position of e.
func (n *node) Enumerate(ctx context.Context, e *enumerate.Enumerator) error {
	client, err := n.mount.conn()
	if err != nil {
		return err
	}
	results, err := client.Enumerate(ctx, n.mount.remotePath(n.path), e.MaxDepth()-e.Depth())
	if err != nil {
		return err
	}

	for _, result := range results {
		segments := data.Split(result.Name)
		name := n.Name()
		for _, segment := range segments {
			decoded, err := data.DecodeSegment(segment)
			if err != nil {
				return fmt.Errorf("%w: remote returned bad path '%s'", data.ErrBackingStore, result.Name)
			}
			e.Descend(decoded)
			name = decoded
		}
		e.Visit(result.WithName(name))
		for range segments {
			e.Ascend()
		}
	}
	return nil
}

func (n *node) Subscribe(ctx context.Context, depth int, ch projection.Channel) (*entry.Subscription, error) {
	client, err := n.mount.conn()
	if err != nil {
		return nil, err
	}
	return client.Subscribe(ctx, n.mount.remotePath(n.path), depth, ch)
}

func (n *node) Invoke(ctx context.Context, input *data.Entry) (*data.Entry, error) {
	client, err := n.mount.conn()
	if err != nil {
		return nil, err
	}
	return client.Invoke(ctx, n.mount.remotePath(n.path), input)
}
