// Package config loads the injection plan from a YAML file, MODINJECT_*
// environment variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/maxdollinger/modinject/pkg/sigverify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "MODINJECT"

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoModules     = errors.New("no modules configured")
)

type ModuleConfig struct {
	Name string `mapstructure:"name"`
	Zip  string `mapstructure:"zip"`
	Sig  string `mapstructure:"sig"`
}

type Config struct {
	WorkDir            string            `mapstructure:"work_dir"`
	Journal            string            `mapstructure:"journal"`
	LockDir            string            `mapstructure:"lock_dir"`
	LogLevel           string            `mapstructure:"log_level"`
	CompatibleSepolicy bool              `mapstructure:"compatible_sepolicy"`
	SkipVerify         bool              `mapstructure:"skip_verify"`
	TrustedKey         string            `mapstructure:"trusted_key"`
	Sepolicies         []string          `mapstructure:"sepolicies"`
	Images             map[string]string `mapstructure:"images"`
	Modules            []ModuleConfig    `mapstructure:"modules"`
}

func Default() Config {
	workDir := filepath.Join(os.TempDir(), "modinject")
	return Config{
		WorkDir:    workDir,
		Journal:    filepath.Join(workDir, "journal.db"),
		LockDir:    filepath.Join(workDir, "locks"),
		LogLevel:   "info",
		TrustedKey: sigverify.DefaultTrustedKey,
	}
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"work-dir":            "work_dir",
	"journal":             "journal",
	"log-level":           "log_level",
	"compatible-sepolicy": "compatible_sepolicy",
	"skip-verify":         "skip_verify",
	"trusted-key":         "trusted_key",
}

// Load reads path (optional) and overlays environment variables and any of
// the flags in flags that were set.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("work_dir", defaults.WorkDir)
	v.SetDefault("journal", defaults.Journal)
	v.SetDefault("lock_dir", defaults.LockDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("compatible_sepolicy", defaults.CompatibleSepolicy)
	v.SetDefault("skip_verify", defaults.SkipVerify)
	v.SetDefault("trusted_key", defaults.TrustedKey)
	v.SetDefault("sepolicies", []string{})

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if flags != nil {
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Paths left at their defaults follow a relocated work dir.
	if cfg.WorkDir != defaults.WorkDir {
		if cfg.LockDir == defaults.LockDir {
			cfg.LockDir = filepath.Join(cfg.WorkDir, "locks")
		}
		if cfg.Journal == defaults.Journal {
			cfg.Journal = filepath.Join(cfg.WorkDir, "journal.db")
		}
	}
	return &cfg, nil
}

// Validate checks the parts of the config the injector cannot recover from.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	if _, err := c.ImagePaths(); err != nil {
		return err
	}

	if len(c.Modules) == 0 {
		return ErrNoModules
	}

	seen := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("%w: modules[%d] has no name", ErrInvalidConfig, i)
		}
		if m.Zip == "" {
			return fmt.Errorf("%w: module %s has no zip", ErrInvalidConfig, m.Name)
		}
		if !c.SkipVerify && m.Sig == "" {
			return fmt.Errorf("%w: module %s has no sig and skip_verify is off", ErrInvalidConfig, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: module %s listed twice", ErrInvalidConfig, m.Name)
		}
		seen[m.Name] = true
	}

	return nil
}

// ImagePaths returns the configured images keyed by partition.
func (c *Config) ImagePaths() (partition.Map[string], error) {
	images := partition.NewMap[string]()
	for name, p := range c.Images {
		part, err := partition.Parse(name)
		if err != nil {
			return images, fmt.Errorf("%w: images: %w", ErrInvalidConfig, err)
		}
		if p == "" {
			return images, fmt.Errorf("%w: images.%s has no path", ErrInvalidConfig, part)
		}
		images.Set(part, p)
	}
	return images, nil
}
