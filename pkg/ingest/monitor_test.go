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

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMonitor(memPercent float64, freeDisk uint64) *Monitor {
	m := NewMonitor(MonitorConfig{
		MemWarnPercent:   80,
		MemPausePercent:  90,
		MinFreeDiskBytes: 1 << 30,
	}, nil)
	m.memProbe = func() (float64, error) { return memPercent, nil }
	m.diskProbe = func(string) (uint64, error) { return freeDisk, nil }
	return m
}

func TestCheckThresholds(t *testing.T) {
	tests := []struct {
		name     string
		mem      float64
		disk     uint64
		wantWarn bool
		wantStop bool
		wantDisk bool
	}{
		{"healthy", 50, 10 << 30, false, false, false},
		{"warn", 85, 10 << 30, true, false, false},
		{"pause", 95, 10 << 30, true, true, false},
		{"disk low", 50, 1 << 20, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := testMonitor(tt.mem, tt.disk).Check()
			require.NoError(t, err)
			assert.Equal(t, tt.wantWarn, h.Warn)
			assert.Equal(t, tt.wantStop, h.Pause)
			assert.Equal(t, tt.wantDisk, h.DiskLow)
		})
	}
}

func TestWaitUntilHealthyRecovers(t *testing.T) {
	m := testMonitor(0, 10<<30)

	readings := []float64{95, 93, 70}
	i := 0
	m.memProbe = func() (float64, error) {
		v := readings[i]
		if i < len(readings)-1 {
			i++
		}
		return v, nil
	}
	naps := 0
	m.sleep = func(ctx context.Context, d time.Duration) error {
		naps++
		return nil
	}

	require.NoError(t, m.WaitUntilHealthy(context.Background()))
	assert.Equal(t, 2, naps, "slept once per paused reading")
}

func TestWaitUntilHealthyHonorsContext(t *testing.T) {
	m := testMonitor(99, 10<<30)
	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := m.WaitUntilHealthy(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdmitJobRequiresHeadroom(t *testing.T) {
	m := testMonitor(50, 2<<30) // 2 GiB free, 1 GiB floor

	assert.NoError(t, m.AdmitJob(512<<20), "half a GiB fits above the floor")
	assert.Error(t, m.AdmitJob(2<<30), "job bigger than headroom is rejected")
}
