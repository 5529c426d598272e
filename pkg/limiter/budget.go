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

package limiter

import (
	"context"
	"sync"
	"time"
)

// RecheckInterval is how long a saturated Wait sleeps before re-checking
// the budget window.
const RecheckInterval = 5 * time.Second

// TokenBudget enforces a rolling tokens-per-minute ceiling on embedding
// spend. Consumption is recorded against the current one-minute window;
// Wait blocks while the window is saturated and clears once the window
// rolls over.
//
// A zero or negative limit disables the budget entirely.
type TokenBudget struct {
	limit  int
	period time.Duration

	mu          sync.Mutex
	windowStart time.Time
	used        int

	// now and sleep are swappable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTokenBudget creates a budget with the given tokens-per-minute limit.
func NewTokenBudget(tokensPerMinute int) *TokenBudget {
	return &TokenBudget{
		limit:  tokensPerMinute,
		period: time.Minute,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until the budget can admit an operation of the estimated
// token size, then records the estimate against the current window. An
// estimate larger than the whole limit is admitted alone into a fresh
// window rather than blocking forever.
func (b *TokenBudget) Wait(ctx context.Context, estimated int) error {
	if b == nil || b.limit <= 0 || estimated <= 0 {
		return nil
	}
	for {
		b.mu.Lock()
		now := b.now()
		if now.Sub(b.windowStart) >= b.period {
			b.windowStart = now
			b.used = 0
		}
		if b.used+estimated <= b.limit || (b.used == 0 && estimated > b.limit) {
			b.used += estimated
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		if err := b.sleep(ctx, RecheckInterval); err != nil {
			return err
		}
	}
}

// Used reports the tokens consumed in the current window.
func (b *TokenBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Sub(b.windowStart) >= b.period {
		return 0
	}
	return b.used
}
