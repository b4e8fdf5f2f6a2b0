package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds ROLENS_* overrides. Unset or empty variables leave the file value alone.
type EnvConfig struct {
	Executable   string        `env:"ROLENS_EXECUTABLE"`
	Module       string        `env:"ROLENS_MODULE"`
	TablePath    string        `env:"ROLENS_TABLE_PATH"`
	RemoteURL    string        `env:"ROLENS_REMOTE_URL"`
	LockTimeout  time.Duration `env:"ROLENS_LOCK_TIMEOUT"`
	AutoDownload bool          `env:"ROLENS_AUTO_DOWNLOAD"`
	WatchTable   bool          `env:"ROLENS_WATCH_TABLE"`
	Interval     time.Duration `env:"ROLENS_INTERVAL"`
	Plain        bool          `env:"ROLENS_PLAIN"`
	Journal      string        `env:"ROLENS_JOURNAL"`
	LogLevel     string        `env:"ROLENS_LOG_LEVEL"`
	LogFile      string        `env:"ROLENS_LOG_FILE"`

	set map[string]bool
}

// ParseEnv reads EnvConfig from the process environment.
func ParseEnv() (EnvConfig, error) {
	cfg := EnvConfig{set: map[string]bool{}}
	opts := env.Options{
		OnSet: func(tag string, value any, isDefault bool) {
			if s, _ := value.(string); s != "" && !isDefault {
				cfg.set[tag] = true
			}
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return EnvConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Overlay returns cfg with every set environment value applied on top.
func (e EnvConfig) Overlay(cfg FileConfig) FileConfig {
	overlay(e, "ROLENS_EXECUTABLE", &cfg.Probe.Executable, e.Executable)
	overlay(e, "ROLENS_MODULE", &cfg.Probe.Module, e.Module)
	overlay(e, "ROLENS_TABLE_PATH", &cfg.Table.Path, e.TablePath)
	overlay(e, "ROLENS_REMOTE_URL", &cfg.Table.RemoteURL, e.RemoteURL)
	overlay(e, "ROLENS_LOCK_TIMEOUT", &cfg.Table.LockTimeout, Duration{e.LockTimeout})
	overlay(e, "ROLENS_AUTO_DOWNLOAD", &cfg.Table.AutoDownload, e.AutoDownload)
	overlay(e, "ROLENS_WATCH_TABLE", &cfg.Table.Watch, e.WatchTable)
	overlay(e, "ROLENS_INTERVAL", &cfg.Watch.Interval, Duration{e.Interval})
	overlay(e, "ROLENS_PLAIN", &cfg.Watch.Plain, e.Plain)
	overlay(e, "ROLENS_JOURNAL", &cfg.Watch.Journal, e.Journal)
	overlay(e, "ROLENS_LOG_LEVEL", &cfg.Log.Level, e.LogLevel)
	overlay(e, "ROLENS_LOG_FILE", &cfg.Log.File, e.LogFile)
	return cfg
}

func overlay[T any](e EnvConfig, key string, target **T, value T) {
	if e.set[key] {
		*target = &value
	}
}
