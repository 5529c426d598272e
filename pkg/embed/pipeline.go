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
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repovec/pkg/chunk"
	"github.com/kraklabs/repovec/pkg/limiter"
)

// SubBatchSize is how many texts go into one provider call.
const SubBatchSize = 16

// DefaultCacheSize is the LRU entry cap for the content-hash cache.
const DefaultCacheSize = 8192

// RetryConfig controls retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig mirrors what works well against local providers.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
	}
}

// PipelineConfig assembles a Pipeline.
type PipelineConfig struct {
	Provider  Provider
	Dimension int
	CacheSize int
	Retry     RetryConfig
	Pool      *limiter.Pool
	Budget    *limiter.TokenBudget
	Breaker   *Breaker
	Logger    *slog.Logger
}

// Pipeline embeds chunks with caching, retries, a circuit breaker, and
// bounded concurrency. Vectors leaving the pipeline are always unit length
// and exactly the configured dimension.
type Pipeline struct {
	provider  Provider
	dimension int
	cache     *lru.Cache[string, []float32]
	retry     RetryConfig
	pool      *limiter.Pool
	budget    *limiter.TokenBudget
	breaker   *Breaker
	logger    *slog.Logger

	// Asymmetric-search prefixes, empty for symmetric models. The cache
	// is keyed on raw content, so prefixes never leak into hashes.
	docPrefix   string
	queryPrefix string
}

// modelPrefixes returns the document/query prefixes for asymmetric
// embedding models. Nomic models retrieve significantly better when
// documents and queries are prefixed differently.
func modelPrefixes(model string) (doc, query string) {
	if strings.Contains(strings.ToLower(model), "nomic") {
		return "search_document: ", "search_query: "
	}
	return "", ""
}

// Stats summarizes one EmbedChunks call.
type Stats struct {
	Embedded   int
	CacheHits  int
	Failed     int
	Retries    int
	DimFixed   int
	TokensUsed int
}

// NewPipeline creates a pipeline. Provider and Dimension are required;
// everything else has workable defaults.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Pool == nil {
		cfg.Pool = limiter.NewPool(limiter.DefaultEmbeddingSlots)
	}
	if cfg.Breaker == nil {
		cfg.Breaker = NewBreaker(5, 30*time.Second, cfg.Logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	docPrefix, queryPrefix := modelPrefixes(cfg.Provider.Model())
	return &Pipeline{
		provider:    cfg.Provider,
		dimension:   cfg.Dimension,
		cache:       cache,
		retry:       cfg.Retry,
		pool:        cfg.Pool,
		budget:      cfg.Budget,
		breaker:     cfg.Breaker,
		logger:      cfg.Logger,
		docPrefix:   docPrefix,
		queryPrefix: queryPrefix,
	}, nil
}

// Breaker exposes the pipeline's circuit breaker for status reporting.
func (p *Pipeline) Breaker() *Breaker { return p.breaker }

// EmbedChunks fills in Embedding, EmbeddingModel, and EmbeddedAt on each
// chunk, serving repeats from the content-hash cache and embedding the
// rest in concurrent sub-batches. Chunks that still fail after retries
// are left without an embedding and counted in Stats.Failed; the run
// continues past them. The returned error is fatal only (context
// cancellation or an open circuit).
func (p *Pipeline) EmbedChunks(ctx context.Context, chunks []chunk.Chunk) (*Stats, error) {
	stats := &Stats{}
	if len(chunks) == 0 {
		return stats, nil
	}

	now := time.Now().UTC()
	model := p.provider.Model()

	// Cache pass. Two chunks with identical content share a vector.
	var missIdx []int
	for i := range chunks {
		if vec, ok := p.cache.Get(chunks[i].TextHash); ok {
			chunks[i].Embedding = cloneVec(vec)
			chunks[i].EmbeddingModel = model
			chunks[i].EmbeddedAt = now
			stats.CacheHits++
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(missIdx); start += SubBatchSize {
		end := start + SubBatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		batch := missIdx[start:end]

		g.Go(func() error {
			release, err := p.pool.Acquire(gctx)
			if err != nil {
				return err
			}
			defer release()

			texts := make([]string, len(batch))
			estTokens := 0
			for j, idx := range batch {
				texts[j] = p.docPrefix + chunks[idx].Content
				estTokens += chunks[idx].TokenCount
			}
			if p.budget != nil {
				if err := p.budget.Wait(gctx, estTokens); err != nil {
					return err
				}
			}

			vecs, retries, err := p.embedBatchWithRetry(gctx, texts)
			mu.Lock()
			defer mu.Unlock()
			stats.Retries += retries
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if errors.Is(err, ErrCircuitOpen) {
					return err
				}
				stats.Failed += len(batch)
				p.logger.Error("embed.batch.failed", "size", len(batch), "error", err)
				return nil
			}
			stats.TokensUsed += estTokens

			for j, idx := range batch {
				vec, fixed := p.postProcess(vecs[j])
				if fixed {
					stats.DimFixed++
					p.logger.Warn("embed.vector.dimension_fixed",
						"chunk_hash", chunks[idx].Hash,
						"got", len(vecs[j]),
						"want", p.dimension,
					)
				}
				chunks[idx].Embedding = vec
				chunks[idx].EmbeddingModel = model
				chunks[idx].EmbeddedAt = now
				p.cache.Add(chunks[idx].TextHash, cloneVec(vec))
				stats.Embedded++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// Embed embeds one text as-is with the same retry, breaker, and
// normalization path as batch embedding.
func (p *Pipeline) Embed(ctx context.Context, text string) ([]float32, error) {
	release, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vecs, _, err := p.embedBatchWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	vec, _ := p.postProcess(vecs[0])
	return vec, nil
}

// EmbedQuery embeds a search query, applying the model's query-side
// prefix so asymmetric models retrieve against document embeddings.
func (p *Pipeline) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return p.Embed(ctx, p.queryPrefix+query)
}

// EmbedBatch embeds texts directly, bypassing the chunk cache. Output
// order matches input order.
func (p *Pipeline) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	release, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	vecs, _, err := p.embedBatchWithRetry(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i], _ = p.postProcess(vecs[i])
	}
	return vecs, nil
}

// embedBatchWithRetry calls the provider with classified retries and
// jittered exponential backoff, consulting the breaker around every
// attempt.
func (p *Pipeline) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, int, error) {
	var vecs [][]float32
	var err error
	retries := 0

	for attempt := 0; attempt < p.retry.MaxRetries; attempt++ {
		if berr := p.breaker.Allow(); berr != nil {
			return nil, retries, berr
		}
		vecs, err = p.provider.EmbedBatch(ctx, texts)
		p.breaker.Record(err)
		if err == nil {
			return vecs, retries, nil
		}
		if !IsRetryable(err) || attempt == p.retry.MaxRetries-1 {
			break
		}
		sleep := computeBackoffWithJitter(p.retry.InitialBackoff, attempt, p.retry.Multiplier, p.retry.MaxBackoff)
		retries++
		p.logger.Warn("embed.retry",
			"attempt", attempt+1,
			"batch_size", len(texts),
			"sleep_ms", sleep.Milliseconds(),
			"err", err,
		)
		select {
		case <-ctx.Done():
			return nil, retries, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, retries, err
}

// postProcess normalizes a raw vector and repairs its dimension. A vector
// of the wrong width is zero-padded or truncated to the configured
// dimension, then re-normalized so the fix cannot skew similarity scores.
func (p *Pipeline) postProcess(vec []float32) ([]float32, bool) {
	fixed := false
	if p.dimension > 0 && len(vec) != p.dimension {
		fixed = true
		if len(vec) > p.dimension {
			vec = vec[:p.dimension]
		} else {
			padded := make([]float32, p.dimension)
			copy(padded, vec)
			vec = padded
		}
	}
	return Normalize(vec), fixed
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// computeBackoffWithJitter returns exponential backoff with full jitter.
func computeBackoffWithJitter(base time.Duration, attempt int, mult float64, capDur time.Duration) time.Duration {
	exp := float64(base)
	for i := 0; i < attempt; i++ {
		exp *= mult
	}
	d := time.Duration(exp)
	if d > capDur {
		d = capDur
	}
	if d <= 0 {
		return base
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}
