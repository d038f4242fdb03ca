package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] for fields left empty.
const (
	DefaultListenAddr      = ":8080"
	DefaultResolverTimeout = 15 * time.Second
	DefaultSearchRateLimit = 2.0
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of the file values.
// Main loads a .env file first, so both real env vars and .env entries
// land here.
func applyEnv(cfg *Config) {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if guild := os.Getenv("DISCORD_GUILD_ID"); guild != "" {
		cfg.Discord.GuildID = guild
	}
}

// applyDefaults fills empty fields with their default values.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Resolver.Timeout == 0 {
		cfg.Resolver.Timeout = Duration(DefaultResolverTimeout)
	}
	if cfg.Resolver.SearchRateLimit == 0 {
		cfg.Resolver.SearchRateLimit = DefaultSearchRateLimit
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if cfg.Resolver.Timeout < 0 {
		errs = append(errs, fmt.Errorf("resolver.timeout %v must not be negative", cfg.Resolver.Timeout.Std()))
	}
	if cfg.Resolver.SearchRateLimit < 0 {
		errs = append(errs, fmt.Errorf("resolver.search_rate_limit %.2f must not be negative", cfg.Resolver.SearchRateLimit))
	}

	return errors.Join(errs...)
}
