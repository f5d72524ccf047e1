package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sys/unix"
)

// LockSuffix is appended to a store path to name its writer lock file.
const LockSuffix = ".lock"

// errLockBusy marks a lock attempt that lost to a live writer.
var errLockBusy = errors.New("lock held")

// writerLock guards a store file against concurrent writers. The lock is a
// flock(2) on <path>.lock, so the kernel drops it when the holding process
// dies and a leftover lock file never blocks a restart.
type writerLock struct {
	path string
	file *os.File
}

func acquireLock(path string, timeout time.Duration) (*writerLock, error) {
	lockPath := path + LockSuffix

	var (
		lf   *os.File
		hard error
	)
	op := func() error {
		f, err := tryLock(lockPath)
		switch {
		case err == nil:
			lf = f
		case errors.Is(err, errLockBusy):
			return err
		default:
			hard = err
		}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 10 * time.Millisecond
		eb.MaxInterval = 500 * time.Millisecond
		eb.MaxElapsedTime = timeout
		b = eb
	}

	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("%w: %s is held by a running writer", ErrLocked, lockPath)
	}
	if hard != nil {
		return nil, fmt.Errorf("locking %s: %w", lockPath, hard)
	}

	if err := lf.Truncate(0); err != nil {
		unlockAndClose(lf)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	if _, err := lf.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlockAndClose(lf)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return &writerLock{path: lockPath, file: lf}, nil
}

// tryLock opens lockPath and takes an exclusive non-blocking flock on it.
// A file that was unlinked by its previous holder between our open and our
// flock is not the live lock file, so the attempt reports busy and retries.
func tryLock(lockPath string) (*os.File, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errLockBusy
		}
		return nil, err
	}

	held, err := f.Stat()
	if err != nil {
		unlockAndClose(f)
		return nil, err
	}
	onDisk, err := os.Stat(lockPath)
	if err != nil || !os.SameFile(held, onDisk) {
		unlockAndClose(f)
		return nil, errLockBusy
	}
	return f, nil
}

func unlockAndClose(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	f.Close()
}

// release removes the lock file while still holding the flock, then drops it.
func (l *writerLock) release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if ulErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); ulErr != nil && err == nil {
		err = ulErr
	}
	if cErr := l.file.Close(); cErr != nil && err == nil {
		err = cErr
	}
	return err
}
