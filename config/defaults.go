package config

import (
	"strings"
	"time"

	"github.com/stardustapp/skychat-sub000/projection"
)

const DefaultListen = "127.0.0.1:9234"

// ApplyDefaults fills zero values. Explicit values are kept; store and
// mount options are defaulted by their constructors.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)

	// An empty tree is still browsable.
	if len(cfg.Mounts) == 0 {
		cfg.Mounts = []MountConfig{{Path: "/", Type: "literal"}}
	}
	for i := range cfg.Stores {
		if cfg.Stores[i].Options == nil {
			cfg.Stores[i].Options = make(map[string]any)
		}
	}
	for i := range cfg.Mounts {
		if cfg.Mounts[i].Options == nil {
			cfg.Mounts[i].Options = make(map[string]any)
		}
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.BroadcastTimeout == 0 {
		cfg.BroadcastTimeout = projection.DefaultBroadcastTimeout
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
}
