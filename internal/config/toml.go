// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Probe ProbeConfig `toml:"probe"`
	Table TableConfig `toml:"table"`
	Watch WatchConfig `toml:"watch"`
	Log   LogConfig   `toml:"log"`
}

// ProbeConfig maps process discovery settings.
type ProbeConfig struct {
	Executable *string `toml:"executable"`
	Module     *string `toml:"module"`
}

// TableConfig maps progression table settings.
type TableConfig struct {
	Path         *string   `toml:"path"`
	RemoteURL    *string   `toml:"remote-url"`
	LockTimeout  *Duration `toml:"lock-timeout"`
	AutoDownload *bool     `toml:"auto-download"`
	Watch        *bool     `toml:"watch"`
}

// WatchConfig maps monitor settings.
type WatchConfig struct {
	Interval *Duration `toml:"interval"`
	Plain    *bool     `toml:"plain"`
	Journal  *string   `toml:"journal"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
	File  *string `toml:"file"`
}

// Duration is a time.Duration written as a Go duration string ("1s", "500ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", text)
	}
	d.Duration = parsed
	return nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}

// Load reads the config file and applies ROLENS_* environment overrides on top.
func Load(path string) (FileConfig, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return FileConfig{}, err
	}
	envCfg, err := ParseEnv()
	if err != nil {
		return FileConfig{}, err
	}
	return envCfg.Overlay(cfg), nil
}
