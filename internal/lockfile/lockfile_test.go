package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %s", lock.Path())
	}
	content, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	want := fmt.Sprintf("pid=%d\ntransport=telegram\n", os.Getpid())
	if string(content) != want {
		t.Errorf("Lock file content mismatch. Expected: %q, Got: %q", want, string(content))
	}
}

func TestLockConflict(t *testing.T) {
	dir := t.TempDir()

	lock1, err := AcquireLock(dir, "whatsapp")
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(dir, "whatsapp")
	if err == nil {
		lock2.Release()
		t.Fatal("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() || lockErr.Owner.Transport != "whatsapp" || !lockErr.Running {
		t.Errorf("unexpected owner %+v running=%v", lockErr.Owner, lockErr.Running)
	}
	msg := err.Error()
	for _, want := range []string{"another LeadPipe instance", dir, "serving whatsapp"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message should contain %q: %s", want, msg)
		}
	}

	// The failed attempt must not clobber the holder's record.
	owner, err := ReadOwner(lock1.Path())
	if err != nil || owner.PID != os.Getpid() {
		t.Errorf("holder record lost: %+v, %v", owner, err)
	}
}

func TestLockReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lock.Path())
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	lock2, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestReadOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Owner
	}{
		{"full record", "pid=12345\ntransport=twilio\n", Owner{PID: 12345, Transport: "twilio"}},
		{"legacy record", "pid=67890\n", Owner{PID: 67890}},
		{"invalid pid", "pid=abc\ntransport=telegram", Owner{Transport: "telegram"}},
		{"garbage", "hello", Owner{}},
		{"empty", "", Owner{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), LockFileName)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			got, err := ReadOwner(path)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ReadOwner(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestLockErrorStaleOwner(t *testing.T) {
	err := &LockError{LockPath: "/x/leadpipe.lock", Owner: Owner{PID: 42}, Running: false}
	if !strings.Contains(err.Error(), "may be stale") {
		t.Errorf("expected stale hint, got %s", err.Error())
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("Our own process should be detected as running")
	}
}

func TestCreatesStateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := AcquireLock(dir, "telegram")
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}
