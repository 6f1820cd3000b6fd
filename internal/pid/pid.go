// Package pid keeps a single controller instance per host, since two loops
// fighting over one fan would oscillate.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"golang.org/x/sys/unix"
)

const pidFile = "thermalctl.pid"

// DefaultPath is used when no pid file is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write records the current process ID at path. A stale file left by a
// dead process is replaced.
func Write(path string) error {
	errFactory := errors.New()

	if running, pid := isRunning(path); running {
		return errFactory.WithData(errors.ErrAlreadyRunning, pid)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func isRunning(path string) (bool, int) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false, 0
	}

	// EPERM means the process exists but belongs to someone else.
	err = unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM, pid
}
