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

// Package limiter bounds the pipeline's parallelism and spend against
// external services.
//
// It provides fixed-size slot pools for the three resource classes the
// pipeline competes on (embedding calls, reasoning/LLM calls, and file
// reads) plus a rolling tokens-per-minute budget for the embedding pool.
// All state lives in the Limiter instance; there are no package-level
// counters.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Default pool sizes.
const (
	DefaultEmbeddingSlots = 4
	DefaultReasoningSlots = 2
	DefaultFileIOSlots    = 8
)

// Config holds pool sizes. Zero values fall back to defaults.
type Config struct {
	EmbeddingSlots int `yaml:"embedding_slots"`
	ReasoningSlots int `yaml:"reasoning_slots"`
	FileIOSlots    int `yaml:"file_io_slots"`
}

// Pool is a fixed-size slot pool. Acquire blocks until a slot is free or the
// caller's context is done; the returned release function is safe to call at
// most once and must be called on every exit path.
type Pool struct {
	sem *semaphore.Weighted
	max int64

	mu   sync.Mutex
	held int64
}

// NewPool creates a pool with the given maximum concurrency.
func NewPool(max int) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// Acquire blocks until a slot is free or ctx is done. On success it returns
// a release function; releasing twice is a no-op thanks to sync.Once, so
// `defer release()` composes with early explicit releases.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.held++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.held--
			p.mu.Unlock()
			p.sem.Release(1)
		})
	}, nil
}

// Held returns the number of currently held slots. Never exceeds Max.
func (p *Pool) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.held)
}

// Max returns the pool's configured maximum concurrency.
func (p *Pool) Max() int { return int(p.max) }

// Limiter owns the three resource pools.
type Limiter struct {
	Embedding *Pool
	Reasoning *Pool
	FileIO    *Pool
}

// New creates a limiter from config, applying defaults for zero fields.
func New(cfg Config) *Limiter {
	if cfg.EmbeddingSlots <= 0 {
		cfg.EmbeddingSlots = DefaultEmbeddingSlots
	}
	if cfg.ReasoningSlots <= 0 {
		cfg.ReasoningSlots = DefaultReasoningSlots
	}
	if cfg.FileIOSlots <= 0 {
		cfg.FileIOSlots = DefaultFileIOSlots
	}
	return &Limiter{
		Embedding: NewPool(cfg.EmbeddingSlots),
		Reasoning: NewPool(cfg.ReasoningSlots),
		FileIO:    NewPool(cfg.FileIOSlots),
	}
}
