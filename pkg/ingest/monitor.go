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
	"fmt"
	"runtime"
	"time"

	"log/slog"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Monitor thresholds.
const (
	DefaultMemWarnPercent  = 80.0
	DefaultMemPausePercent = 90.0
	DefaultMinFreeDisk     = 2 << 30 // 2 GiB
	DefaultHealthInterval  = 5 * time.Second
)

// MonitorConfig holds resource thresholds. Zero values fall back to
// defaults; WorkDir is where disk headroom is measured.
type MonitorConfig struct {
	MemWarnPercent   float64       `yaml:"mem_warn_percent"`
	MemPausePercent  float64       `yaml:"mem_pause_percent"`
	MinFreeDiskBytes uint64        `yaml:"min_free_disk_bytes"`
	WorkDir          string        `yaml:"work_dir"`
	CheckInterval    time.Duration `yaml:"check_interval"`
}

// Health is one resource snapshot.
type Health struct {
	MemUsedPercent float64
	FreeDiskBytes  uint64
	Warn           bool
	Pause          bool
	DiskLow        bool
}

// Monitor samples memory pressure and disk headroom between batches and
// decides whether the pipeline should clean up, pause, or stop admitting
// work. Probe functions are swappable for tests.
type Monitor struct {
	cfg    MonitorConfig
	logger *slog.Logger

	memProbe  func() (usedPercent float64, err error)
	diskProbe func(path string) (freeBytes uint64, err error)
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewMonitor creates a monitor with gopsutil probes.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.MemWarnPercent <= 0 {
		cfg.MemWarnPercent = DefaultMemWarnPercent
	}
	if cfg.MemPausePercent <= 0 {
		cfg.MemPausePercent = DefaultMemPausePercent
	}
	if cfg.MinFreeDiskBytes == 0 {
		cfg.MinFreeDiskBytes = DefaultMinFreeDisk
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultHealthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
		memProbe: func() (float64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return vm.UsedPercent, nil
		},
		diskProbe: func(path string) (uint64, error) {
			du, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return du.Free, nil
		},
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Check samples current resource state. A warn-level reading triggers an
// immediate GC before returning so the caller sees the post-cleanup
// trajectory on the next check.
func (m *Monitor) Check() (Health, error) {
	used, err := m.memProbe()
	if err != nil {
		return Health{}, fmt.Errorf("memory probe: %w", err)
	}
	free, err := m.diskProbe(m.cfg.WorkDir)
	if err != nil {
		return Health{}, fmt.Errorf("disk probe: %w", err)
	}

	h := Health{
		MemUsedPercent: used,
		FreeDiskBytes:  free,
		Warn:           used >= m.cfg.MemWarnPercent,
		Pause:          used >= m.cfg.MemPausePercent,
		DiskLow:        free < m.cfg.MinFreeDiskBytes,
	}

	if h.Warn && !h.Pause {
		m.logger.Warn("ingest.monitor.mem_warn", "used_percent", used)
		runtime.GC()
	}
	if h.Pause {
		m.logger.Warn("ingest.monitor.mem_pause", "used_percent", used)
	}
	if h.DiskLow {
		m.logger.Warn("ingest.monitor.disk_low",
			"free_bytes", free,
			"min_free_bytes", m.cfg.MinFreeDiskBytes,
		)
	}
	return h, nil
}

// WaitUntilHealthy blocks while memory stays above the pause threshold,
// re-checking on the configured interval. Disk shortage does not block
// here; it gates admission instead.
func (m *Monitor) WaitUntilHealthy(ctx context.Context) error {
	for {
		h, err := m.Check()
		if err != nil {
			return err
		}
		if !h.Pause {
			return nil
		}
		runtime.GC()
		if err := m.sleep(ctx, m.cfg.CheckInterval); err != nil {
			return err
		}
	}
}

// AdmitJob checks there is enough disk headroom for a job of the
// estimated size before ingestion starts.
func (m *Monitor) AdmitJob(estimatedBytes int64) error {
	free, err := m.diskProbe(m.cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("disk probe: %w", err)
	}
	need := m.cfg.MinFreeDiskBytes + uint64(estimatedBytes)
	if free < need {
		return fmt.Errorf("insufficient disk: %d bytes free, need %d", free, need)
	}
	return nil
}
