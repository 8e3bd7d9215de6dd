package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/dgraph-io/badger/v4/pb"

	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

const (
	docPrefix   = "doc:"
	readyPrefix = "sys:ready:"
)

// BadgerBackend stores JSON documents under "doc:<path>" keys. Watchers are
// fed from badger's own change subscription, so every committed write,
// including those made through another handle on the same DB, is observed.
type BadgerBackend struct {
	mu     sync.Mutex
	db     *badger.DB
	hub    *backend.WatchHub
	config *BadgerBackendConfig
	logger *log.Logger

	cancel context.CancelFunc
	feed   chan struct{}
	ready  chan string
}

type BadgerBackendConfig struct {
	// DBPath is the directory of the database; ignored when InMemory is set
	DBPath string `mapstructure:"path"`
	// InMemory keeps everything in RAM
	InMemory bool `mapstructure:"in_memory"`
	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`
}

func NewBadgerBackend(config *BadgerBackendConfig, logger *log.Logger) (*BadgerBackend, error) {
	if config == nil {
		config = &BadgerBackendConfig{InMemory: true}
	}
	if !config.InMemory && config.DBPath == "" {
		return nil, fmt.Errorf("badger backend requires a path unless in_memory is set")
	}
	if config.BlockCacheSizeMB == 0 {
		config.BlockCacheSizeMB = 64
	}
	if logger == nil {
		logger = log.Discard()
	}

	return &BadgerBackend{
		hub:    backend.NewWatchHub(),
		config: config,
		logger: logger,
	}, nil
}

// Returns the identifier name defined for this backend
func (*BadgerBackend) Name() string {
	return "badger"
}

// Open starts the database and its change subscription. It returns once the
// subscription observed a probe write, so no later write can be missed.
func (bb *BadgerBackend) Open(ctx context.Context) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(bb.config.DBPath)
	if bb.config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)    // Documents are small, compression overhead not worth it
	opts = opts.WithBlockCacheSize(bb.config.BlockCacheSizeMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open BadgerDB at %s: %w", bb.config.DBPath, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	bb.db = db
	bb.cancel = cancel
	bb.feed = make(chan struct{})
	bb.ready = make(chan string, 1)

	go bb.runFeed(subCtx)

	probe := readyPrefix + time.Now().Format(time.RFC3339Nano)
	deadline := time.NewTimer(5 * time.Second)
	defer deadline.Stop()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if err := db.Update(func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry([]byte(probe), []byte("1")).WithTTL(time.Minute))
		}); err != nil {
			return err
		}

		select {
		case key := <-bb.ready:
			if key == probe {
				return nil
			}
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("badger change subscription did not start")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (bb *BadgerBackend) runFeed(ctx context.Context) {
	defer close(bb.feed)

	matches := []pb.Match{{Prefix: []byte(docPrefix)}, {Prefix: []byte(readyPrefix)}}
	err := bb.db.Subscribe(ctx, func(kvs *badger.KVList) error {
		var snaps []*backend.Snapshot
		for _, kv := range kvs.Kv {
			key := string(kv.Key)
			if strings.HasPrefix(key, readyPrefix) {
				select {
				case bb.ready <- key:
				default:
				}
				continue
			}

			snap, err := decodeSnapshot(key[len(docPrefix):], kv.Value)
			if err != nil {
				bb.logger.Warn("skipping undecodable document %s: %v", key, err)
				continue
			}
			snaps = append(snaps, snap)
		}
		bb.hub.Publish(snaps...)
		return nil
	}, matches)

	if err != nil && ctx.Err() == nil {
		bb.logger.Error("change subscription ended: %v", err)
		bb.hub.Fail(fmt.Errorf("%w: %v", backend.ErrStoreClosed, err))
	}
}

// Close is part of the lifecycle behaviour and gets called when closing this backend.
func (bb *BadgerBackend) Close(ctx context.Context) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.db == nil {
		return nil
	}

	bb.cancel()
	<-bb.feed
	bb.hub.Fail(backend.ErrStoreClosed)

	err := bb.db.Close()
	bb.db = nil
	return err
}

// GetCapabilities returns a list of capabilities supported by this backend.
func (bb *BadgerBackend) GetCapabilities() *backend.BackendCapabilities {
	caps := []backend.BackendCapability{
		backend.CapabilityDocuments,
		backend.CapabilityCollections,
		backend.CapabilityWatch,
	}
	if !bb.config.InMemory {
		caps = append(caps, backend.CapabilityPersistent)
	}
	return &backend.BackendCapabilities{Capabilities: caps}
}
