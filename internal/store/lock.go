package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrSessionLocked means another live process owns the state directory.
var ErrSessionLocked = errors.New("state dir is locked by another session")

type lockOwner struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// SessionLock keeps two simulator sessions from writing the same state dir.
type SessionLock struct {
	path string
}

// AcquireSessionLock takes the lock for root. A lock left behind by a
// process that is no longer running is taken over.
func AcquireSessionLock(root string) (*SessionLock, error) {
	if root == "" {
		return nil, errors.New("state dir required")
	}
	path := filepath.Join(root, ".session.lock")
	owner := lockOwner{PID: os.Getpid(), StartedAt: time.Now().UTC()}
	payload, err := json.Marshal(owner)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(payload)
			if werr == nil {
				werr = f.Sync()
			}
			_ = f.Close()
			if werr != nil {
				_ = os.Remove(path)
				return nil, werr
			}
			return &SessionLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		held, err := lockHeld(path)
		if err != nil {
			return nil, err
		}
		if held {
			return nil, fmt.Errorf("%w: %s", ErrSessionLocked, path)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionLocked, path)
}

func lockHeld(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	var owner lockOwner
	if err := json.Unmarshal(data, &owner); err != nil || owner.PID <= 0 {
		// Unreadable owner: treat as held rather than clobber it.
		return true, nil
	}
	return processAlive(owner.PID), nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (l *SessionLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}
