// Package config loads the daemon configuration and turns its store and
// mount sections into live Skylink components.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete skylink daemon configuration.
//
// Sources, highest precedence first:
//  1. Environment variables (SKYLINK_*, e.g. SKYLINK_LOGGING_LEVEL)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`

	// Stores are document stores shared by the structured mounts.
	Stores []StoreConfig `mapstructure:"stores" validate:"dive"`
	// Mounts are attached in order, so parents should come first.
	Mounts []MountConfig `mapstructure:"mounts" validate:"dive"`
}

type LoggingConfig struct {
	// Level is normalized to uppercase by ApplyDefaults.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	// Format is text or json.
	Format  string `mapstructure:"format" validate:"required,oneof=text json"`
	File    string `mapstructure:"file"`
	NoColor bool   `mapstructure:"no_color"`
}

type ServerConfig struct {
	// Listen is the websocket listen address.
	Listen          string        `mapstructure:"listen" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// A subscriber that does not drain its queue within BroadcastTimeout
	// is crashed.
	BroadcastTimeout time.Duration `mapstructure:"broadcast_timeout" validate:"gt=0"`
	QueueSize        int           `mapstructure:"queue_size" validate:"gt=0"`
}

type CacheConfig struct {
	// HotPattern selects the document paths the DocumentCache keeps.
	HotPattern string `mapstructure:"hot_pattern"`
}

type StoreConfig struct {
	Name    string         `mapstructure:"name" validate:"required"`
	Type    string         `mapstructure:"type" validate:"required,oneof=memory badger sqlite consul postgres"`
	Options map[string]any `mapstructure:"options"`
}

type MountConfig struct {
	Path string `mapstructure:"path" validate:"required,startswith=/"`
	Type string `mapstructure:"type" validate:"required,oneof=document collection log literal local s3 remote"`
	// Store names the document store of structured mounts.
	Store     string         `mapstructure:"store"`
	ReadOnly  bool           `mapstructure:"read_only"`
	NoNesting bool           `mapstructure:"no_nesting"`
	Options   map[string]any `mapstructure:"options"`
}

// Structured reports whether the mount type is backed by a document store.
func (m *MountConfig) Structured() bool {
	switch m.Type {
	case "document", "collection", "log":
		return true
	}
	return false
}

// Load reads configPath (or skylink.yaml from the working directory and
// the user config dir when empty), overlays the environment, applies
// defaults and validates the result. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SKYLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.file", "logging.no_color",
		"server.listen", "server.shutdown_timeout", "server.broadcast_timeout", "server.queue_size",
		"cache.hot_pattern",
	} {
		v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("skylink")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		if configPath != "" {
			if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) {
				return nil
			}
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

func getConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "skylink")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "skylink")
}
