package pipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockFileName is the lock file created inside the root directory.
const LockFileName = ".dispipe.lock"

// ErrLocked is returned when another process holds the root lock.
var ErrLocked = errors.New("root directory is locked by another dispipe process")

// RootLock keeps other dispipe processes from reading the same pipes.
// The lock lives as long as the file descriptor stays open.
type RootLock struct {
	path string
	f    *os.File
}

// AcquireRootLock takes an exclusive non-blocking flock(2) on the lock file
// inside root and writes the current PID into it.
func AcquireRootLock(root string) (*RootLock, error) {
	if root == "" {
		return nil, errors.New("lock root is empty")
	}
	lockPath := filepath.Join(root, LockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	fail := func(step string, err error) (*RootLock, error) {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s lock file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fail("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}

	return &RootLock{path: lockPath, f: f}, nil
}

// Path returns the lock file path.
func (l *RootLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left behind.
func (l *RootLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
