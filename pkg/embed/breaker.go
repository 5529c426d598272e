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

package embed

import (
	"sync"
	"time"

	"log/slog"
)

// Breaker states.
const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker trips after a run of consecutive retryable failures and refuses
// calls for a fixed break. After the break one probe call is let through;
// success closes the breaker, failure re-opens it for another full break.
type Breaker struct {
	threshold int
	breakFor  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	state     int
	failures  int
	openedAt  time.Time
	now       func() time.Time
	probeBusy bool
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and stays open for breakFor.
func NewBreaker(threshold int, breakFor time.Duration, logger *slog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if breakFor <= 0 {
		breakFor = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		threshold: threshold,
		breakFor:  breakFor,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the half-open state only a
// single probe is admitted at a time; concurrent callers are refused until
// the probe reports back.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.breakFor {
			return ErrCircuitOpen
		}
		b.state = breakerHalfOpen
		b.probeBusy = true
		b.logger.Info("embed.breaker.half_open")
		return nil
	default: // half-open
		if b.probeBusy {
			return ErrCircuitOpen
		}
		b.probeBusy = true
		return nil
	}
}

// Record feeds a call outcome back into the breaker. Only retryable
// failures count toward tripping; a 4xx does not indicate an outage.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probeBusy = false
		if err == nil {
			b.state = breakerClosed
			b.failures = 0
			b.logger.Info("embed.breaker.closed")
		} else {
			b.state = breakerOpen
			b.openedAt = b.now()
			b.logger.Warn("embed.breaker.reopened", "error", err)
		}
		return
	}

	if err == nil {
		b.failures = 0
		return
	}
	if !IsRetryable(err) {
		return
	}
	b.failures++
	if b.state == breakerClosed && b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = b.now()
		b.logger.Warn("embed.breaker.open",
			"consecutive_failures", b.failures,
			"break_ms", b.breakFor.Milliseconds(),
		)
	}
}

// State returns a human-readable state name for status output.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
