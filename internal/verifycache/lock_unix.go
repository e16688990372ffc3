// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

//go:build unix

package verifycache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fileLock holds an advisory exclusive lock on a cache database for the
// lifetime of the process that opened it, so two lbcv processes never
// run SQLite's own locking protocol against each other through two
// independently-crashed WAL states.
type fileLock struct {
	f *os.File
}

// lockPath acquires an exclusive, non-blocking advisory lock on
// path+".lock", creating the lock file if necessary.
func lockPath(path string) (*fileLock, error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: already in use: %w", path, err)
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) Close() error {
	if l == nil {
		return nil
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
