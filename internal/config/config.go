// Package config provides the configuration schema, loader, and file watcher
// for the Cadenza music bot.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the Cadenza server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l to the corresponding [slog.Level]. Unrecognised values
// map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Duration wraps [time.Duration] with YAML support for strings like "15s".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"15s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped [time.Duration].
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for Cadenza.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Resolver ResolverConfig `yaml:"resolver"`
}

// ServerConfig holds network and logging settings for the HTTP side
// (metrics and health probes).
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig holds gateway credentials and command registration scope.
type DiscordConfig struct {
	// Token is the bot token. The DISCORD_TOKEN environment variable takes
	// precedence so the token can stay out of the config file.
	Token string `yaml:"token"`

	// GuildID scopes slash command registration to one guild when set.
	// Guild-scoped commands propagate instantly, which is useful during
	// development; empty registers commands globally.
	GuildID string `yaml:"guild_id"`

	// DJRoleID restricts leave and skip to members holding this role.
	// Empty lets everyone control playback.
	DJRoleID string `yaml:"dj_role_id"`

	// StatusChannelID names a text channel where the bot maintains a
	// self-updating playback status embed. Empty disables the board.
	StatusChannelID string `yaml:"status_channel_id"`
}

// ResolverConfig tunes track resolution.
type ResolverConfig struct {
	// Timeout bounds a single resolution's network calls.
	Timeout Duration `yaml:"timeout"`

	// SearchRateLimit caps free-text searches per second against the
	// search backend.
	SearchRateLimit float64 `yaml:"search_rate_limit"`
}
