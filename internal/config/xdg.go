package config

import (
	"os"
	"path/filepath"
)

const appDir = "rolens"

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultTablePath returns the shared progression table location.
func DefaultTablePath() string {
	return filepath.Join(XDGDataHome(), appDir, "xp_table.json")
}

// DefaultDBPath returns the default path for the level-up journal.
func DefaultDBPath() string {
	return filepath.Join(XDGDataHome(), appDir, "rolens.db")
}

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), appDir, "config.toml")
}
