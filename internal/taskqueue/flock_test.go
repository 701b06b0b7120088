package taskqueue

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileLock_ExcludesSecondHolder(t *testing.T) {
	dir := t.TempDir()
	first := NewFileLock(dir)
	second := NewFileLock(dir)

	ok, err := first.TryLock()
	if err != nil || !ok {
		t.Fatalf("first TryLock() = %v, %v", ok, err)
	}
	// flock locks belong to the open file description, so a second
	// descriptor in the same process is refused too.
	ok, err = second.TryLock()
	if err != nil || ok {
		t.Fatalf("second TryLock() = %v, %v; want false, nil", ok, err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	ok, err = second.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock() after release = %v, %v", ok, err)
	}
	_ = second.Unlock()
}

func TestFileLock_TryLockIsIdempotent(t *testing.T) {
	fl := NewFileLock(t.TempDir())
	for i := 0; i < 2; i++ {
		if ok, err := fl.TryLock(); err != nil || !ok {
			t.Fatalf("TryLock() #%d = %v, %v", i+1, ok, err)
		}
	}
	if err := fl.Unlock(); err != nil {
		t.Fatal(err)
	}
	if err := fl.Unlock(); err != nil {
		t.Errorf("second Unlock() should be a no-op, got %v", err)
	}
}

func TestFileLock_HolderPID(t *testing.T) {
	dir := t.TempDir()
	fl := NewFileLock(dir)
	if fl.Path() != filepath.Join(dir, "fixit.lock") {
		t.Errorf("Path() = %q", fl.Path())
	}
	if pid := fl.HolderPID(); pid != 0 {
		t.Errorf("HolderPID() before locking = %d, want 0", pid)
	}

	if ok, err := fl.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock() = %v, %v", ok, err)
	}
	defer func() { _ = fl.Unlock() }()

	if pid := NewFileLock(dir).HolderPID(); pid != os.Getpid() {
		t.Errorf("HolderPID() = %d, want %d", pid, os.Getpid())
	}
}

func TestFileLock_MissingDir(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "missing", "dir"))
	if ok, err := fl.TryLock(); err == nil || ok {
		t.Errorf("TryLock() in a missing directory = %v, %v; want error", ok, err)
	}
}
