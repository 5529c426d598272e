// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// IngestLock serializes ingestion per project on this machine. Two
// concurrent ingests of the same project would race on the checkpoint
// file, so only one may run at a time.
type IngestLock struct {
	projectID string
	lockPath  string // ~/.repovec/<project>/ingest.lock
	lockFile  *os.File
}

// LockInfo contains information about the current lock holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewIngestLock creates an IngestLock for the given project.
func NewIngestLock(projectID string) (*IngestLock, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	return newIngestLockAt(filepath.Join(homeDir, ".repovec"), projectID)
}

func newIngestLockAt(stateDir, projectID string) (*IngestLock, error) {
	baseDir := filepath.Join(stateDir, projectID)
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	return &IngestLock{
		projectID: projectID,
		lockPath:  filepath.Join(baseDir, "ingest.lock"),
	}, nil
}

// TryAcquire attempts to acquire the ingest lock.
// Returns true if the lock was acquired, false if another process holds it.
func (l *IngestLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	// Try to acquire exclusive lock (non-blocking)
	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil // Lock is held by another process
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	// Write our PID and start time to the lock file
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().Unix()); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write lock file: %w", err)
	}

	l.lockFile = f
	return true, nil
}

// WaitFor waits up to timeout for the lock to become available.
// Returns true if the lock was acquired, false on timeout.
func (l *IngestLock) WaitFor(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		acquired, err := l.TryAcquire()
		if err != nil {
			return false, err
		}
		if acquired {
			return true, nil
		}

		time.Sleep(500 * time.Millisecond)
	}

	return false, nil
}

// Release releases the ingest lock.
func (l *IngestLock) Release() {
	if l.lockFile != nil {
		_ = syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
		_ = l.lockFile.Close()
		l.lockFile = nil
	}
}

// HolderInfo returns information about the current lock holder, if any.
func (l *IngestLock) HolderInfo() (*LockInfo, error) {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var pid int
	var timestamp int64
	if _, err := fmt.Sscanf(string(data), "%d %d", &pid, &timestamp); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}

	return &LockInfo{
		PID:       pid,
		StartedAt: time.Unix(timestamp, 0),
	}, nil
}

// IsStale checks if the lock is stale (holding process no longer exists).
func (l *IngestLock) IsStale() bool {
	info, err := l.HolderInfo()
	if err != nil || info == nil {
		return false
	}

	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return true // Process not found
	}

	// On Unix, FindProcess always succeeds; use signal 0 to check if process exists
	err = proc.Signal(syscall.Signal(0))
	return err != nil
}
