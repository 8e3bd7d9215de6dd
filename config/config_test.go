package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/log"
	"github.com/stardustapp/skychat-sub000/mount"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skylink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, DefaultListen, cfg.Server.Listen)
	require.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, 256, cfg.Server.QueueSize)
	require.Len(t, cfg.Mounts, 1)
	require.Equal(t, "literal", cfg.Mounts[0].Type)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: JSON
server:
  listen: "0.0.0.0:8080"
  broadcast_timeout: 250ms
stores:
  - name: main
    type: memory
mounts:
  - path: /people
    type: collection
    store: main
    options:
      path: people
      schema:
        name: string
        tags: "[string:4]"
  - path: /motd
    type: literal
    read_only: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
	require.Equal(t, 250*time.Millisecond, cfg.Server.BroadcastTimeout)
	require.Len(t, cfg.Stores, 1)
	require.Len(t, cfg.Mounts, 2)
	require.True(t, cfg.Mounts[1].ReadOnly)
	require.True(t, cfg.Mounts[0].Structured())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SKYLINK_LOGGING_LEVEL", "warn")
	t.Setenv("SKYLINK_SERVER_LISTEN", "127.0.0.1:1")

	cfg, err := Load(writeConfig(t, "logging:\n  level: info\n"))
	require.NoError(t, err)
	require.Equal(t, "WARN", cfg.Logging.Level)
	require.Equal(t, "127.0.0.1:1", cfg.Server.Listen)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "logging:\n  level: INFO\n  invalid yaml here [[[\n"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			Stores: []StoreConfig{{Name: "main", Type: "memory"}},
			Mounts: []MountConfig{
				{Path: "/", Type: "literal"},
				{Path: "/doc", Type: "document", Store: "main"},
			},
		}
		ApplyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad level", func(c *Config) { c.Logging.Level = "LOUD" }, "oneof"},
		{"bad store type", func(c *Config) { c.Stores[0].Type = "redis" }, "oneof"},
		{"relative mount", func(c *Config) { c.Mounts[0].Path = "apps" }, "startswith"},
		{"duplicate store", func(c *Config) {
			c.Stores = append(c.Stores, StoreConfig{Name: "main", Type: "sqlite"})
		}, "duplicate store name"},
		{"duplicate mount", func(c *Config) {
			c.Mounts = append(c.Mounts, MountConfig{Path: "/doc/", Type: "literal"})
		}, "duplicate mount path"},
		{"missing store", func(c *Config) { c.Mounts[1].Store = "" }, "requires a store"},
		{"unknown store", func(c *Config) { c.Mounts[1].Store = "other" }, "unknown store"},
		{"store on literal", func(c *Config) { c.Mounts[0].Store = "main" }, "does not use a store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCreateStore(t *testing.T) {
	store, err := CreateStore(&StoreConfig{Type: "memory"}, log.Discard())
	require.NoError(t, err)
	require.Equal(t, "memory", store.Name())

	store, err = CreateStore(&StoreConfig{Type: "sqlite", Options: map[string]any{}}, log.Discard())
	require.NoError(t, err)
	require.NoError(t, store.Open(t.Context()))
	require.NoError(t, store.Close(t.Context()))

	_, err = CreateStore(&StoreConfig{Type: "badger", Options: map[string]any{}}, log.Discard())
	require.ErrorContains(t, err, "path is required")

	_, err = CreateStore(&StoreConfig{Type: "postgres", Options: map[string]any{}}, log.Discard())
	require.ErrorContains(t, err, "url is required")

	_, err = CreateStore(&StoreConfig{Type: "redis"}, log.Discard())
	require.ErrorContains(t, err, "unknown store type")
}

func TestCreateMount(t *testing.T) {
	dir := t.TempDir()

	_, opts, err := CreateMount(&MountConfig{
		Path:     "/files",
		Type:     "local",
		ReadOnly: true,
		Options:  map[string]any{"path": dir, "settle": "10ms"},
	}, MountDeps{})
	require.NoError(t, err)
	// read-only + owned backend
	require.Len(t, opts, 2)

	_, _, err = CreateMount(&MountConfig{Path: "/files", Type: "local", Options: map[string]any{}}, MountDeps{})
	require.ErrorContains(t, err, "path is required")

	_, _, err = CreateMount(&MountConfig{Path: "/doc", Type: "document", Store: "nope"}, MountDeps{})
	require.ErrorIs(t, err, data.ErrInvalid)

	_, _, err = CreateMount(&MountConfig{
		Path:    "/remote",
		Type:    "remote",
		Options: map[string]any{},
	}, MountDeps{})
	require.ErrorIs(t, err, data.ErrInvalid)
}

// recordingNamespace captures the mounts Apply attaches.
type recordingNamespace struct {
	roots map[string]mount.Resolver
}

func (r *recordingNamespace) Mount(ctx context.Context, path string, root mount.Resolver, opts ...mount.MountOption) error {
	r.roots[path] = root
	return nil
}

func TestApply(t *testing.T) {
	tree := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(tree, []byte("motd: hello\n"), 0644))

	cfg := &Config{
		Stores: []StoreConfig{{Name: "main", Type: "memory"}},
		Mounts: []MountConfig{
			{Path: "/", Type: "literal", Options: map[string]any{"file": tree}},
			{Path: "/chat", Type: "log", Store: "main", Options: map[string]any{
				"path":         "logs/chat",
				"partitioning": "counter",
				"schema":       map[string]any{"text": "string"},
			}},
		},
	}
	ApplyDefaults(cfg)
	require.NoError(t, Validate(cfg))

	ns := &recordingNamespace{roots: make(map[string]mount.Resolver)}
	rt, err := Apply(t.Context(), cfg, ns, log.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close(context.Background()) })

	require.Len(t, ns.roots, 2)
	require.Contains(t, rt.Stores, "main")

	h, err := ns.roots["/"].Resolve(t.Context(), "motd")
	require.NoError(t, err)
	require.NotNil(t, h)
}
