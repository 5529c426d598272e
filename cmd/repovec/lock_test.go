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
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := newIngestLockAt(dir, "proj")
	require.NoError(t, err)

	acquired, err := lock.TryAcquire()
	require.NoError(t, err)
	require.True(t, acquired)

	info, err := lock.HolderInfo()
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.WithinDuration(t, time.Now(), info.StartedAt, time.Minute)
	assert.False(t, lock.IsStale(), "current process holds the lock")

	// A second handle in the same state dir cannot acquire while held.
	other, err := newIngestLockAt(dir, "proj")
	require.NoError(t, err)
	acquired, err = other.TryAcquire()
	require.NoError(t, err)
	assert.False(t, acquired)

	lock.Release()

	acquired, err = other.TryAcquire()
	require.NoError(t, err)
	assert.True(t, acquired)
	other.Release()
}

func TestIngestLockPerProject(t *testing.T) {
	dir := t.TempDir()

	a, err := newIngestLockAt(dir, "proj-a")
	require.NoError(t, err)
	b, err := newIngestLockAt(dir, "proj-b")
	require.NoError(t, err)

	acquired, err := a.TryAcquire()
	require.NoError(t, err)
	require.True(t, acquired)
	defer a.Release()

	// Different projects do not contend.
	acquired, err = b.TryAcquire()
	require.NoError(t, err)
	assert.True(t, acquired)
	b.Release()
}

func TestIngestLockHolderInfoAbsent(t *testing.T) {
	lock, err := newIngestLockAt(t.TempDir(), "proj")
	require.NoError(t, err)

	info, err := lock.HolderInfo()
	require.NoError(t, err)
	assert.Nil(t, info, "no lock file yet")
}
