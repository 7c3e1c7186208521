// Package locking acquires the whole-file advisory lock that makes a
// reconciliation run exclusive against any other writer of the account
// databases.
package locking

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/canonical/lxd-sysusers/rootpath"
)

// Lock holds an open, locked file descriptor for the account database
// lock file. Release drops the lock and closes the descriptor.
type Lock struct {
	f *os.File
}

// Take opens ${root}/etc/.pwd.lock, creating it if necessary, and blocks
// until it can acquire an exclusive whole-file advisory lock on it. The
// lock is released by calling Release, or implicitly when the process
// exits.
func Take(root string) (*Lock, error) {
	path := rootpath.Join(root, "/etc/.pwd.lock")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_CLOEXEC|os.O_NOCTTY, 0600)
	if err != nil {
		return nil, err
	}

	flock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: 0,
		Start:  0,
		Len:    0,
	}

	if err := unix.FcntlFlock(f.Fd(), unix.F_SETLKW, &flock); err != nil {
		f.Close()
		return nil, err
	}

	return &Lock{f: f}, nil
}

// Release drops the advisory lock and closes the underlying descriptor.
func (l *Lock) Release() error {
	return l.f.Close()
}
