package taskqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fixit-bot/fixit/internal/errors"
)

const lockFileName = "fixit.lock"

// FileLock is an flock(2) lock on <dir>/fixit.lock. A serve, poll or run
// process holds it while it works on a clone so two processes never push
// the same branch. The holder writes its PID into the file.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns an unlocked FileLock for dir.
func NewFileLock(dir string) *FileLock {
	return &FileLock{path: filepath.Join(dir, lockFileName)}
}

// TryLock takes the lock without blocking. It reports false when another
// process holds it.
func (fl *FileLock) TryLock() (bool, error) {
	if fl.file != nil {
		return true, nil
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", fl.path, err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	fl.file = f
	return true, nil
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// HolderPID returns the PID recorded by the last holder, or 0.
func (fl *FileLock) HolderPID() int {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		return 0
	}
	pid, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return pid
}

// Unlock releases the lock. It is a no-op when the lock is not held.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("unlock %s: %w", fl.path, err)
	}
	return f.Close()
}
