// SPDX-License-Identifier: MPL-2.0

// Package config handles vellum configuration using Viper: defaults,
// an optional TOML file under the vellum prefix, and VELLUM_* env vars.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "vellum"

	// DefaultRoot is the vellum prefix on a device. Everything vellum
	// owns — the apk database, keys, local repo, state — lives below it.
	DefaultRoot = "/home/root/.vellum"

	// DefaultRepoURL is the package registry serving third-party
	// packages and their indexes.
	DefaultRepoURL = "https://packages.vellum.delivery/stable"
)

// rootOverride allows tests to relocate the vellum prefix without
// mutating process-global environment state.
var rootOverride string

// Config is the resolved vellum configuration.
type Config struct {
	// Root is the vellum prefix.
	Root string `mapstructure:"root"`
	// RepoURL is the remote package registry base URL.
	RepoURL string `mapstructure:"repo_url"`
	// Arch overrides the detected apk architecture when non-empty.
	Arch string `mapstructure:"arch"`
	// AssumeYes skips interactive confirmation prompts.
	AssumeYes bool `mapstructure:"assume_yes"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Root:    DefaultRoot,
		RepoURL: DefaultRepoURL,
	}
}

// SetRootOverride relocates the vellum prefix, for tests.
func SetRootOverride(root string) { rootOverride = root }

// Load resolves the configuration: defaults, then the config file at
// $ROOT/etc/vellum/config.toml if present, then VELLUM_* environment
// variables. A missing config file is not an error.
func Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("root", defaults.Root)
	v.SetDefault("repo_url", defaults.RepoURL)
	v.SetDefault("arch", "")
	v.SetDefault("assume_yes", false)

	v.SetEnvPrefix("VELLUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root := v.GetString("root")
	if rootOverride != "" {
		root = rootOverride
		v.Set("root", root)
	}

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(filepath.Join(root, "etc", "vellum"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if rootOverride != "" {
		cfg.Root = rootOverride
	}
	return cfg, nil
}
