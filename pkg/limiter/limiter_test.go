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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBoundsConcurrency(t *testing.T) {
	const max = 3
	const callers = 20

	p := NewPool(max)

	var inFlight atomic.Int64
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			n := inFlight.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(max))
	assert.Equal(t, 0, p.Held())
}

func TestPoolReleaseIsIdempotent(t *testing.T) {
	p := NewPool(1)

	release, err := p.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release() // second call must not over-release

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	p := NewPool(1)

	release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewAppliesDefaults(t *testing.T) {
	l := New(Config{})
	assert.Equal(t, DefaultEmbeddingSlots, l.Embedding.Max())
	assert.Equal(t, DefaultReasoningSlots, l.Reasoning.Max())
	assert.Equal(t, DefaultFileIOSlots, l.FileIO.Max())

	l = New(Config{EmbeddingSlots: 9, ReasoningSlots: 1, FileIOSlots: 2})
	assert.Equal(t, 9, l.Embedding.Max())
	assert.Equal(t, 1, l.Reasoning.Max())
	assert.Equal(t, 2, l.FileIO.Max())
}

// fakeClock drives a TokenBudget without real sleeping.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	nap int
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.nap++
	return nil
}

func newTestBudget(limit int) (*TokenBudget, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	b := NewTokenBudget(limit)
	b.now = clk.now
	b.sleep = clk.sleep
	return b, clk
}

func TestTokenBudgetAdmitsWithinLimit(t *testing.T) {
	b, clk := newTestBudget(100)

	require.NoError(t, b.Wait(context.Background(), 40))
	require.NoError(t, b.Wait(context.Background(), 60))
	assert.Equal(t, 100, b.Used())
	assert.Equal(t, 0, clk.nap)
}

func TestTokenBudgetBlocksUntilWindowRolls(t *testing.T) {
	b, clk := newTestBudget(100)

	require.NoError(t, b.Wait(context.Background(), 90))
	// 90/100 used: a 20-token request must wait for the window to roll.
	require.NoError(t, b.Wait(context.Background(), 20))
	assert.Greater(t, clk.nap, 0)
	assert.Equal(t, 20, b.Used())
}

func TestTokenBudgetOversizedRequestAdmittedAlone(t *testing.T) {
	b, _ := newTestBudget(100)

	// Larger than the whole limit: admitted into a fresh window instead
	// of blocking forever.
	require.NoError(t, b.Wait(context.Background(), 250))
	assert.Equal(t, 250, b.Used())
}

func TestTokenBudgetDisabled(t *testing.T) {
	b := NewTokenBudget(0)
	require.NoError(t, b.Wait(context.Background(), 1_000_000))

	var nilBudget *TokenBudget
	require.NoError(t, nilBudget.Wait(context.Background(), 10))
}

func TestTokenBudgetWaitRespectsContext(t *testing.T) {
	b, _ := newTestBudget(10)
	require.NoError(t, b.Wait(context.Background(), 10))

	b.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}
	err := b.Wait(context.Background(), 5)
	assert.ErrorIs(t, err, context.Canceled)
}
