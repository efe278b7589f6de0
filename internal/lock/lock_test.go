package lock

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAcquireRecordsOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main", "LOCK")

	l, err := Acquire(path, Owner{Profile: "main", Socket: "/tmp/daemon.sock"})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	o, err := ReadOwner(path)
	if err != nil {
		t.Fatalf("ReadOwner() error = %v", err)
	}
	if o.PID == 0 || o.Profile != "main" || o.Socket != "/tmp/daemon.sock" || o.Started.IsZero() {
		t.Errorf("ReadOwner() = %+v", o)
	}
	if !Held(path) {
		t.Error("Held() = false while the lock is taken")
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l1, err := Acquire(path, Owner{Profile: "work"})
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(path, Owner{Profile: "work"})
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want *HeldError", err)
	}
	if held.Owner.Profile != "work" || held.Owner.PID == 0 {
		t.Errorf("HeldError.Owner = %+v", held.Owner)
	}
}

func TestReleaseFreesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")

	l, err := Acquire(path, Owner{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if Held(path) {
		t.Error("Held() = true after Release")
	}
	if _, err := ReadOwner(path); err == nil {
		t.Error("ReadOwner() after Release should fail")
	}

	l2, err := Acquire(path, Owner{})
	if err != nil {
		t.Fatalf("Acquire() after Release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}
