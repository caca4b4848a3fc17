// Package config loads runtime configuration for the binaries: environment
// variables first (optionally seeded from a .env file by each main), then
// an optional YAML overlay for deployments that prefer a file. Flags on the
// binaries override both for one-off runs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/minukim/paysync/internal/collector"
)

// Duration is a time.Duration whose env and YAML spellings look like
// "300ms" or "1s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for the overlay file.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the runtime configuration shared by the binaries.
type Config struct {
	Addr     string `env:"PAYSYNC_ADDR"      envDefault:":8090"       yaml:"addr"`
	DBPath   string `env:"PAYSYNC_DB"        envDefault:"paysync.db"  yaml:"db_path"`
	LogLevel string `env:"PAYSYNC_LOG_LEVEL" envDefault:"info"        yaml:"log_level"`

	ItemDelayMin Duration `env:"PAYSYNC_ITEM_DELAY_MIN" envDefault:"100ms" yaml:"item_delay_min"`
	ItemDelayMax Duration `env:"PAYSYNC_ITEM_DELAY_MAX" envDefault:"300ms" yaml:"item_delay_max"`
	PageDelayMin Duration `env:"PAYSYNC_PAGE_DELAY_MIN" envDefault:"300ms" yaml:"page_delay_min"`
	PageDelayMax Duration `env:"PAYSYNC_PAGE_DELAY_MAX" envDefault:"1s"    yaml:"page_delay_max"`
}

// Load parses the environment and, when yamlPath is non-empty, overlays
// the file's non-zero values on top.
func Load(yamlPath string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if yamlPath != "" {
		if err := cfg.applyYAML(yamlPath); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if overlay.Addr != "" {
		c.Addr = overlay.Addr
	}
	if overlay.DBPath != "" {
		c.DBPath = overlay.DBPath
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.ItemDelayMin != 0 {
		c.ItemDelayMin = overlay.ItemDelayMin
	}
	if overlay.ItemDelayMax != 0 {
		c.ItemDelayMax = overlay.ItemDelayMax
	}
	if overlay.PageDelayMin != 0 {
		c.PageDelayMin = overlay.PageDelayMin
	}
	if overlay.PageDelayMax != 0 {
		c.PageDelayMax = overlay.PageDelayMax
	}
	return nil
}

// Pacing maps the configured delay windows onto the collector.
func (c *Config) Pacing() collector.Pacing {
	return collector.Pacing{
		ItemDelayMin: c.ItemDelayMin.Std(),
		ItemDelayMax: c.ItemDelayMax.Std(),
		PageDelayMin: c.PageDelayMin.Std(),
		PageDelayMax: c.PageDelayMax.Std(),
	}
}
