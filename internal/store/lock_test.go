package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireSessionLockExclusive(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireSessionLock(root)
	if err != nil {
		t.Fatalf("AcquireSessionLock() error = %v", err)
	}
	defer lock.Release()

	_, err = AcquireSessionLock(root)
	if !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("second AcquireSessionLock() error = %v, want %v", err, ErrSessionLocked)
	}
}

func TestAcquireSessionLockAfterRelease(t *testing.T) {
	root := t.TempDir()
	lock, err := AcquireSessionLock(root)
	if err != nil {
		t.Fatalf("AcquireSessionLock() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
	again, err := AcquireSessionLock(root)
	if err != nil {
		t.Fatalf("AcquireSessionLock() after release error = %v", err)
	}
	defer again.Release()
}

func TestAcquireSessionLockTakesOverDeadOwner(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".session.lock")
	if err := os.WriteFile(path, []byte(`{"pid":999999,"started_at":"2024-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatalf("write stale lock failed: %v", err)
	}
	lock, err := AcquireSessionLock(root)
	if err != nil {
		t.Fatalf("AcquireSessionLock() error = %v, want takeover", err)
	}
	defer lock.Release()
}

func TestAcquireSessionLockKeepsLiveOwner(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".session.lock")
	payload := `{"pid":` + strconv.Itoa(os.Getpid()) + `,"started_at":"2024-01-01T00:00:00Z"}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write lock failed: %v", err)
	}
	_, err := AcquireSessionLock(root)
	if !errors.Is(err, ErrSessionLocked) {
		t.Fatalf("AcquireSessionLock() error = %v, want %v", err, ErrSessionLocked)
	}
}
