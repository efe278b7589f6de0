// Package lock keeps a single daemon per profile.
package lock

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// Owner is what a running daemon records in its lock file.
type Owner struct {
	PID     int       `toml:"pid"`
	Profile string    `toml:"profile"`
	Socket  string    `toml:"socket"`
	Started time.Time `toml:"started"`
}

// HeldError is returned when another process holds the profile lock.
type HeldError struct {
	Path  string
	Owner Owner
}

func (e *HeldError) Error() string {
	if e.Owner.PID == 0 {
		return fmt.Sprintf("profile lock %s is held", e.Path)
	}
	return fmt.Sprintf("profile %q is served by PID %d (%s)", e.Owner.Profile, e.Owner.PID, e.Path)
}

// Lock is an acquired profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock at path and records owner in it; the PID
// and start time are filled in when zero. A *HeldError describes the current
// holder when the lock is taken.
func Acquire(path string, owner Owner) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held := &HeldError{Path: path}
		if cur, err := ReadOwner(path); err == nil {
			held.Owner = cur
		}
		return nil, held
	}

	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.Started.IsZero() {
		owner.Started = time.Now().UTC().Truncate(time.Second)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(owner); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt(buf.Bytes(), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// ReadOwner parses the lock file at path without taking the lock.
func ReadOwner(path string) (Owner, error) {
	var o Owner
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return Owner{}, err
	}
	if o.PID == 0 {
		return Owner{}, errors.New("lock file has no pid")
	}
	return o, nil
}

// Held reports whether some process holds the lock at path.
func Held(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return false
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return true
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}

// Release removes the lock file and drops the lock. Safe on a nil receiver
// and when called twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
