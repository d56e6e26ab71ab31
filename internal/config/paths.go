package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName is the directory name used under the platform's config/data roots.
const appName = "chunkuploader"

// configFileName is the default config file name within DefaultConfigDir.
const configFileName = "config.toml"

// historyFileName is the default history database file name within
// DefaultDataDir.
const historyFileName = "history.db"

// DefaultConfigDir returns the platform-specific directory for the config
// file. Linux respects XDG_CONFIG_HOME (default ~/.config/chunkuploader);
// macOS uses ~/Library/Application Support/chunkuploader; other platforms
// fall back to ~/.config/chunkuploader.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxConfigDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

func linuxConfigDir(home string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".config", appName)
}

// DefaultDataDir returns the platform-specific directory for application
// data (the history database). Linux respects XDG_DATA_HOME (default
// ~/.local/share/chunkuploader); macOS collapses config and data into the
// same Application Support directory, matching macOS convention.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linuxDataDir(home)
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func linuxDataDir(home string) string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return configFileName
	}

	return filepath.Join(dir, configFileName)
}

// DefaultHistoryPath returns the full path to the default history database.
func DefaultHistoryPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return historyFileName
	}

	return filepath.Join(dir, historyFileName)
}
