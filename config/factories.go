package config

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/stardustapp/skychat-sub000/cache"
	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
	"github.com/stardustapp/skychat-sub000/mount/backend"
	"github.com/stardustapp/skychat-sub000/mount/backend/badger"
	"github.com/stardustapp/skychat-sub000/mount/backend/consul"
	"github.com/stardustapp/skychat-sub000/mount/backend/memory"
	"github.com/stardustapp/skychat-sub000/mount/backend/postgres"
	"github.com/stardustapp/skychat-sub000/mount/backend/sqlite"
	"github.com/stardustapp/skychat-sub000/mounts/literal"
	"github.com/stardustapp/skychat-sub000/mounts/local"
	"github.com/stardustapp/skychat-sub000/mounts/remote"
	"github.com/stardustapp/skychat-sub000/mounts/s3"
	"github.com/stardustapp/skychat-sub000/mounts/structured"
)

// Logger builds the root logger described by the logging section.
func (c *LoggingConfig) Logger(name string) *log.Logger {
	return log.NewLogger(name, log.Options{
		Level:   log.MustParse(c.Level),
		File:    c.File,
		JSON:    c.Format == "json",
		NoColor: c.NoColor,
	})
}

// decodeOptions decodes a free-form options map, accepting duration
// strings such as "50ms".
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// CreateStore builds the document store named by cfg.Type. The store is
// not opened yet.
func CreateStore(cfg *StoreConfig, logger *log.Logger) (backend.DocumentStore, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewMemoryBackend(), nil
	case "badger":
		return createBadgerStore(cfg.Options, logger)
	case "sqlite":
		return createSQLiteStore(cfg.Options)
	case "consul":
		return createConsulStore(cfg.Options, logger)
	case "postgres":
		return createPostgresStore(cfg.Options, logger)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func createBadgerStore(options map[string]any, logger *log.Logger) (backend.DocumentStore, error) {
	var storeCfg badger.BadgerBackendConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger store config: %w", err)
	}
	if storeCfg.DBPath == "" && !storeCfg.InMemory {
		return nil, fmt.Errorf("badger store: path is required unless in_memory is set")
	}
	return badger.NewBadgerBackend(&storeCfg, logger)
}

func createSQLiteStore(options map[string]any) (backend.DocumentStore, error) {
	type SQLiteStoreConfig struct {
		Path string `mapstructure:"path"`
	}

	var storeCfg SQLiteStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode sqlite store config: %w", err)
	}
	if storeCfg.Path == "" {
		storeCfg.Path = ":memory:"
	}
	return sqlite.NewSQLiteBackend(storeCfg.Path)
}

func createConsulStore(options map[string]any, logger *log.Logger) (backend.DocumentStore, error) {
	var storeCfg consul.ConsulBackendConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode consul store config: %w", err)
	}
	return consul.NewConsulBackend(&storeCfg, logger)
}

func createPostgresStore(options map[string]any, logger *log.Logger) (backend.DocumentStore, error) {
	type PostgresStoreConfig struct {
		URL string `mapstructure:"url"`
	}

	var storeCfg PostgresStoreConfig
	if err := decodeOptions(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode postgres store config: %w", err)
	}
	if storeCfg.URL == "" {
		return nil, fmt.Errorf("postgres store: url is required")
	}
	return postgres.NewPostgresBackend(storeCfg.URL, logger)
}

// MountDeps are the shared collaborators a mount may draw on.
type MountDeps struct {
	Stores map[string]backend.DocumentStore
	Cache  *cache.DocumentCache
	Logger *log.Logger
}

// CreateMount builds the resolver for cfg together with the mount options
// tying its private backends and flags to the mount point.
func CreateMount(cfg *MountConfig, deps MountDeps) (mount.Resolver, []mount.MountOption, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}

	var opts []mount.MountOption
	if cfg.ReadOnly {
		opts = append(opts, mount.AsReadOnly())
	}
	if cfg.NoNesting {
		opts = append(opts, mount.DisableNesting())
	}

	var (
		root mount.Resolver
		err  error
	)
	switch cfg.Type {
	case "document", "collection", "log":
		store, ok := deps.Stores[cfg.Store]
		if !ok {
			return nil, nil, fmt.Errorf("%w: unknown store %q", data.ErrInvalid, cfg.Store)
		}
		root, err = createStructuredMount(cfg, store, &structured.Options{Logger: logger, Cache: deps.Cache})
	case "literal":
		root, err = createLiteralMount(cfg.Options, logger)
	case "local":
		var lm *local.LocalMount
		if lm, err = createLocalMount(cfg.Options, logger); err == nil {
			root = lm
			opts = append(opts, mount.WithBackend(lm))
		}
	case "s3":
		var sm *s3.S3Mount
		if sm, err = createS3Mount(cfg.Options, logger); err == nil {
			root = sm
			opts = append(opts, mount.WithBackend(sm))
		}
	case "remote":
		var rm *remote.RemoteMount
		if rm, err = createRemoteMount(cfg.Options, logger); err == nil {
			root = rm
			opts = append(opts, mount.WithBackend(rm))
		}
	default:
		return nil, nil, fmt.Errorf("unknown mount type: %q", cfg.Type)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s mount '%s': %w", cfg.Type, cfg.Path, err)
	}
	return root, opts, nil
}

func createStructuredMount(cfg *MountConfig, store backend.DocumentStore, opts *structured.Options) (mount.Resolver, error) {
	type StructuredMountConfig struct {
		// Path is the document or collection inside the store.
		Path   string            `mapstructure:"path"`
		Schema map[string]string `mapstructure:"schema"`

		// Log only
		Partitioning  string `mapstructure:"partitioning"`
		PartitionSize int    `mapstructure:"partition_size"`
	}

	var mountCfg StructuredMountConfig
	if err := decodeOptions(cfg.Options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if data.Clean(mountCfg.Path) == "" {
		return nil, fmt.Errorf("path is required")
	}
	schema, err := structured.ParseSchema(mountCfg.Schema)
	if err != nil {
		return nil, err
	}
	ref := backend.NewRef(store, mountCfg.Path)

	switch cfg.Type {
	case "document":
		return structured.DocumentMapping(ref, schema, opts), nil
	case "collection":
		return structured.CollectionMapping(ref, schema, opts), nil
	}

	partitioning, err := structured.ParsePartitioning(mountCfg.Partitioning)
	if err != nil {
		return nil, err
	}
	return structured.LogMapping(ref, structured.LogOptions{
		Partitioning:  partitioning,
		PartitionSize: mountCfg.PartitionSize,
		Schema:        schema,
		Clock:         time.Now,
	}, opts), nil
}

func createLiteralMount(options map[string]any, logger *log.Logger) (mount.Resolver, error) {
	type LiteralMountConfig struct {
		// File is a YAML document seeding the tree.
		File string `mapstructure:"file"`
	}

	var mountCfg LiteralMountConfig
	if err := decodeOptions(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}

	root := data.NewFolder("")
	if mountCfg.File != "" {
		loaded, err := literal.LoadFile(mountCfg.File)
		if err != nil {
			return nil, err
		}
		root = loaded
	}
	return literal.New(root, literal.WithLogger(logger)), nil
}

func createLocalMount(options map[string]any, logger *log.Logger) (*local.LocalMount, error) {
	var mountCfg local.LocalMountConfig
	if err := decodeOptions(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if mountCfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	return local.NewLocalMount(mountCfg, logger), nil
}

func createS3Mount(options map[string]any, logger *log.Logger) (*s3.S3Mount, error) {
	var mountCfg s3.S3MountConfig
	if err := decodeOptions(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if mountCfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	return s3.NewS3Mount(mountCfg, logger)
}

func createRemoteMount(options map[string]any, logger *log.Logger) (*remote.RemoteMount, error) {
	var mountCfg remote.RemoteMountConfig
	if err := decodeOptions(options, &mountCfg); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	return remote.NewRemoteMount(mountCfg, logger)
}

// Runtime owns the stores and cache built from a Config.
type Runtime struct {
	Stores map[string]backend.DocumentStore
	Cache  *cache.DocumentCache
}

// Namespace is the part of *skylink.Namespace that Apply needs.
type Namespace interface {
	Mount(ctx context.Context, path string, root mount.Resolver, opts ...mount.MountOption) error
}

// Apply opens every store and attaches every mount to ns. Stores are
// opened once here rather than per mount because several mounts may share
// one. On failure the stores opened so far are closed again.
func Apply(ctx context.Context, cfg *Config, ns Namespace, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Discard()
	}

	docCache, err := cache.NewDocumentCache(cfg.Cache.HotPattern)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Stores: make(map[string]backend.DocumentStore), Cache: docCache}

	for i := range cfg.Stores {
		storeCfg := &cfg.Stores[i]
		store, err := CreateStore(storeCfg, logger.Named(storeCfg.Name))
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("store %q: %w", storeCfg.Name, err)
		}
		if err := store.Open(ctx); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("store %q: %w", storeCfg.Name, err)
		}
		rt.Stores[storeCfg.Name] = store
		logger.Info("opened %s store %q", storeCfg.Type, storeCfg.Name)
	}

	for i := range cfg.Mounts {
		mountCfg := &cfg.Mounts[i]
		root, opts, err := CreateMount(mountCfg, MountDeps{
			Stores: rt.Stores,
			Cache:  docCache,
			Logger: logger.Named(mountCfg.Path),
		})
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		if err := ns.Mount(ctx, mountCfg.Path, root, opts...); err != nil {
			rt.Close(ctx)
			return nil, err
		}
	}
	return rt, nil
}

// Close closes every store. Call it after the namespace shut down.
func (rt *Runtime) Close(ctx context.Context) error {
	errs := data.Errors{}
	for name, store := range rt.Stores {
		if err := store.Close(ctx); err != nil {
			errs.Add(fmt.Errorf("store %q: %w", name, err))
		}
	}
	rt.Stores = make(map[string]backend.DocumentStore)
	return errs.Errors()
}
