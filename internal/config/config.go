// Package config loads and validates the sync host configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level host configuration.
type Config struct {
	// ListenAddr is the address the WebSocket endpoint binds to.
	ListenAddr string `toml:"listen_addr"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `toml:"log_level"`

	// Sync holds the protocol timing knobs.
	Sync SyncConfig `toml:"sync"`
}

// SyncConfig holds the protocol timing knobs. All of them are heuristics:
// no correctness property depends on a timeout, only the echo-suppression
// and batching behavior does.
type SyncConfig struct {
	// DebounceMillis is the idle window for batching local edits.
	DebounceMillis int `toml:"debounce_ms"`

	// EchoGraceMillis is how long a self-authored hash suppresses a
	// matching inbound update.
	EchoGraceMillis int `toml:"echo_grace_ms"`

	// EditRecencyMillis is how long after a local keystroke inbound
	// updates are held back.
	EditRecencyMillis int `toml:"edit_recency_ms"`

	// RetryTickMillis is how often a blocked push re-checks the
	// side-effect latch.
	RetryTickMillis int `toml:"retry_tick_ms"`

	// WatcherDelayMillis is the debounce window for external file changes.
	WatcherDelayMillis int `toml:"watcher_delay_ms"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:7350",
		LogLevel:   "info",
		Sync: SyncConfig{
			DebounceMillis:     300,
			EchoGraceMillis:    2000,
			EditRecencyMillis:  1000,
			RetryTickMillis:    50,
			WatcherDelayMillis: 100,
		},
	}
}

// Load reads configuration from a TOML file, layered over the defaults.
// A missing file is not an error; an empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for nonsensical values.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}

	s := c.Sync
	for _, v := range []struct {
		name  string
		value int
	}{
		{"debounce_ms", s.DebounceMillis},
		{"echo_grace_ms", s.EchoGraceMillis},
		{"edit_recency_ms", s.EditRecencyMillis},
		{"retry_tick_ms", s.RetryTickMillis},
		{"watcher_delay_ms", s.WatcherDelayMillis},
	} {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", v.name, v.value)
		}
	}
	return nil
}

// Debounce returns the edit debounce window.
func (s SyncConfig) Debounce() time.Duration {
	return time.Duration(s.DebounceMillis) * time.Millisecond
}

// EchoGrace returns the echo grace window.
func (s SyncConfig) EchoGrace() time.Duration {
	return time.Duration(s.EchoGraceMillis) * time.Millisecond
}

// EditRecency returns the edit recency window.
func (s SyncConfig) EditRecency() time.Duration {
	return time.Duration(s.EditRecencyMillis) * time.Millisecond
}

// RetryTick returns the blocked-push retry tick.
func (s SyncConfig) RetryTick() time.Duration {
	return time.Duration(s.RetryTickMillis) * time.Millisecond
}

// WatcherDelay returns the file-watcher debounce window.
func (s SyncConfig) WatcherDelay() time.Duration {
	return time.Duration(s.WatcherDelayMillis) * time.Millisecond
}
