package consul

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// ConsulBackend provides a document store on top of HashiCorp Consul KV.
//
// Architecture:
// - Each document is one KV entry under the configured prefix, key = path
// - Values are JSON documents carrying fields and their write time
// - Merge writes use check-and-set on ModifyIndex
// - A single blocking query on the prefix feeds every watcher
//
// Limitations:
// - Consul KV has a 512KB limit per value
// - The change feed lists the whole prefix on every change, so keep one
//   prefix per moderately sized tree
type ConsulBackend struct {
	mu     sync.RWMutex
	client *api.Client
	kv     *api.KV
	hub    *backend.WatchHub
	logger *log.Logger

	cancel context.CancelFunc
	feed   chan struct{}

	// Configuration
	config *ConsulBackendConfig
}

// ConsulBackendConfig contains configuration options for the Consul backend
type ConsulBackendConfig struct {
	// Address of the Consul server (default: "127.0.0.1:8500")
	Address string `mapstructure:"address"`

	// Token for Consul ACL authentication (optional)
	Token string `mapstructure:"token"`

	// Datacenter to use (optional)
	Datacenter string `mapstructure:"datacenter"`

	// Namespace for Consul Enterprise (optional)
	Namespace string `mapstructure:"namespace"`

	// Prefix for all keys in Consul KV (default: "skylink/")
	Prefix string `mapstructure:"prefix"`

	// WaitTime bounds one blocking query of the change feed (default: 1m)
	WaitTime time.Duration `mapstructure:"wait_time"`
}

// NewConsulBackend creates a new Consul-backed document store
func NewConsulBackend(config *ConsulBackendConfig, logger *log.Logger) (*ConsulBackend, error) {
	if config == nil {
		config = &ConsulBackendConfig{}
	}

	// Set defaults
	if config.Address == "" {
		config.Address = "127.0.0.1:8500"
	}

	if config.Prefix == "" {
		config.Prefix = "skylink/"
	}
	if !strings.HasSuffix(config.Prefix, "/") {
		config.Prefix += "/"
	}
	config.Prefix = strings.TrimPrefix(config.Prefix, "/")

	if config.WaitTime == 0 {
		config.WaitTime = time.Minute
	}
	if logger == nil {
		logger = log.Discard()
	}

	// Create Consul client
	clientConfig := api.DefaultConfig()
	clientConfig.Address = config.Address
	if config.Token != "" {
		clientConfig.Token = config.Token
	}
	if config.Datacenter != "" {
		clientConfig.Datacenter = config.Datacenter
	}
	if config.Namespace != "" {
		clientConfig.Namespace = config.Namespace
	}

	client, err := api.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	return &ConsulBackend{
		client: client,
		kv:     client.KV(),
		hub:    backend.NewWatchHub(),
		logger: logger,
		config: config,
	}, nil
}

// Name returns the identifier name defined for this backend
func (*ConsulBackend) Name() string {
	return "consul"
}

// Open verifies connectivity and starts the change feed.
func (cb *ConsulBackend) Open(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cancel != nil {
		return nil
	}

	pairs, meta, err := cb.kv.List(cb.config.Prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to reach consul at %s: %w", cb.config.Address, err)
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	cb.cancel = cancel
	cb.feed = make(chan struct{})

	go cb.runFeed(feedCtx, indexPairs(pairs), meta.LastIndex)
	return nil
}

// Close is part of the lifecycle behaviour and gets called when closing this backend
func (cb *ConsulBackend) Close(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cancel != nil {
		cb.cancel()
		<-cb.feed
		cb.cancel = nil
	}

	cb.hub.Fail(backend.ErrStoreClosed)
	return nil
}

// GetCapabilities returns a list of capabilities supported by this backend
func (cb *ConsulBackend) GetCapabilities() *backend.BackendCapabilities {
	return &backend.BackendCapabilities{
		Capabilities: []backend.BackendCapability{
			backend.CapabilityDocuments,
			backend.CapabilityCollections,
			backend.CapabilityWatch,
			backend.CapabilityRemoteWatch,
			backend.CapabilityPersistent,
		},
		// Consul KV has a default limit of 512KB per value
		// We set it slightly lower to account for the document wrapper
		MaxDocumentSize: 500 * 1024, // 500 KB
	}
}

// buildKey constructs the full Consul KV key from the document path
func (cb *ConsulBackend) buildKey(path string) string {
	return cb.config.Prefix + strings.Trim(path, "/")
}

// pathOf reverses buildKey.
func (cb *ConsulBackend) pathOf(key string) string {
	return strings.TrimPrefix(key, cb.config.Prefix)
}
