// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// lease is the exclusive ownership token for a journal directory,
// backed by flock(2). The lock dies with the holding process, so a
// crashed owner never wedges its journal; the pid written inside is
// purely diagnostic for the "already in use" error message.
type lease struct {
	file *os.File
	path string
}

func acquireLease(path string) (*lease, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lease file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := leaseHolder(file)
		file.Close()
		if err == unix.EWOULDBLOCK {
			if holder != "" {
				return nil, fmt.Errorf("%w (held by pid %s)", ErrLeaseHeld, holder)
			}
			return nil, ErrLeaseHeld
		}
		return nil, fmt.Errorf("locking lease file: %w", err)
	}

	pid := strconv.Itoa(os.Getpid()) + "\n"
	if _, err := file.WriteAt([]byte(pid), 0); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("recording lease holder: %w", err)
	}
	if err := file.Truncate(int64(len(pid))); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("truncating lease file: %w", err)
	}

	return &lease{file: file, path: path}, nil
}

func leaseHolder(file *os.File) string {
	buf := make([]byte, 32)
	n, err := file.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return ""
	}
	return strings.TrimSpace(string(buf[:n]))
}

// LeaseFree reports whether the directory's lease could be acquired
// right now. The answer is advisory: another process may take the
// lease between the probe and a later Open, which re-checks under the
// real lock.
func LeaseFree(dir string) bool {
	held, err := acquireLease(filepath.Join(dir, "lease"))
	if err != nil {
		return false
	}
	held.release()
	return true
}

func (l *lease) release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("unlocking lease file: %w", err)
	}
	return l.file.Close()
}
