package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// configFilePermissions matches the teacher's config file mode.
const configFilePermissions = 0o644

// configDirPermissions matches the teacher's config directory mode.
const configDirPermissions = 0o755

// Write serializes cfg as TOML and writes it atomically (temp file, fsync,
// rename) so a crash mid-write never leaves a truncated config file on
// disk. Parent directories are created as needed.
func Write(path string, cfg *Config) error {
	var buf bytes.Buffer

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encoding %s: %w", path, err)
	}

	return atomicWriteFile(path, buf.Bytes())
}

func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("config: writing temp file: %w", err)
	}

	// fsync before rename: POSIX rename is metadata-only, so without this
	// a crash right after rename could leave the target file empty.
	if err := f.Sync(); err != nil {
		f.Close()

		return fmt.Errorf("config: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
