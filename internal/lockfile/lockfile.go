// Package lockfile keeps two LeadPipe instances from serving the same bot credentials.
//
// Telegram long polling and a whatsmeow device session both misbehave when two processes share
// them, so startup takes an exclusive flock on a file in the state directory. The kernel drops the
// lock when the process exits, however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "leadpipe.lock"

// Owner describes the process holding the lock.
type Owner struct {
	PID       int
	Transport string
}

func (o Owner) String() string {
	s := fmt.Sprintf("PID %d", o.PID)
	if o.Transport != "" {
		s += fmt.Sprintf(" serving %s", o.Transport)
	}
	return s
}

// Lock represents an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes the exclusive lock in stateDir and records this process, serving transport,
// as its owner. If another process holds the lock a *LockError describing it is returned.
func AcquireLock(stateDir, transport string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring lock", "lock_path", lockPath, "transport", transport)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Not O_TRUNC: the current holder's record must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner, _ := ReadOwner(lockPath)
		slog.Error("lockfile.AcquireLock: another LeadPipe instance holds the lock",
			"error", err, "lock_path", lockPath, "owner", owner)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Running: owner.PID > 0 && isProcessRunning(owner.PID), Cause: err}
	}

	record := fmt.Sprintf("pid=%d\ntransport=%s\n", os.Getpid(), transport)
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(record), 0)
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock record to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.AcquireLock: failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("lockfile.AcquireLock: lock acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	// Remove before unlocking so a waiting instance never sees our stale record.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("lockfile.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil

	slog.Info("lockfile.Release: lock released", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	// Running reports whether the recorded owner process still exists.
	Running bool
	Cause   error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another LeadPipe instance is already running with the same state directory (lock file %s)", e.LockPath)
	if e.Owner.PID > 0 {
		state := "running"
		if !e.Running {
			state = "not running, the lock may be stale"
		}
		fmt.Fprintf(&b, "; holder: %s (%s)", e.Owner, state)
	}
	fmt.Fprintf(&b, "; stop the other instance or use a different state directory")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ReadOwner parses the owner record of a lock file.
func ReadOwner(lockPath string) (Owner, error) {
	f, err := os.Open(lockPath)
	if err != nil {
		return Owner{}, err
	}
	defer f.Close()

	var owner Owner
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				owner.PID = pid
			}
		case "transport":
			owner.Transport = value
		}
	}
	return owner, sc.Err()
}

// isProcessRunning sends signal 0 to pid, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
