// Package lock keeps a single trader process per working directory using a
// PID file.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned when the PID file names a live process.
var ErrAlreadyRunning = errors.New("lock: already running")

// PIDFile is a held process lock.
type PIDFile struct {
	path string
	pid  int
}

// Acquire claims path for the current process. A file naming a dead or
// unparsable PID, or this process's own PID left by an earlier run that had
// the same PID (PID 1 in a restarted container), is stale and replaced.
func Acquire(path string) (*PIDFile, error) {
	self := os.Getpid()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil && pid != self && alive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		slog.Warn("replacing stale pid file", "path", path)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read pid file: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(self)), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PIDFile{path: path, pid: self}, nil
}

// Release removes the PID file if it still names this process.
func (l *PIDFile) Release() {
	if l == nil {
		return
	}
	raw, err := os.ReadFile(l.path)
	if err != nil || strings.TrimSpace(string(raw)) != strconv.Itoa(l.pid) {
		return
	}
	if err := os.Remove(l.path); err != nil {
		slog.Warn("remove pid file", "path", l.path, "err", err)
	}
}

// Path returns the lock file location.
func (l *PIDFile) Path() string { return l.path }

// alive probes pid with signal 0. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
