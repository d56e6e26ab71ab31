package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFilePermissions = 0o644
const pidDirPermissions = 0o755

// pidFileName is the fixed name of the running-upload PID file within the
// configured data directory — one foreground upload at a time, mirroring
// the teacher's single sync --watch daemon lock.
const pidFileName = "upload.pid"

// writePIDFile writes the current process ID to path and acquires an
// exclusive, non-blocking flock. The returned cleanup func removes the
// file and releases the lock. A locked file means another upload is
// already running.
func writePIDFile(path string) (cleanup func(), err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another upload is already running (could not lock %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing PID file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readPIDFile reads the PID recorded at path.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}

// sendSignalToRunningUpload reads the PID file at pidPath and signals the
// running upload process. Stale PID files (process no longer alive) are
// cleaned up and reported as an error.
func sendSignalToRunningUpload(pidPath string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no running upload found (no PID file at %s)", pidPath)
		}

		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(pidPath)

		return fmt.Errorf("upload (PID %d) is not running (stale PID file removed)", pid)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signaling upload (PID %d): %w", pid, err)
	}

	return nil
}
