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
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repovec/pkg/chunk"
)

func vecNorm(v []float32) float64 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	return math.Sqrt(n)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 1.0, vecNorm(v), 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-6)
}

func TestNormalizeLeavesDegenerateUnchanged(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, v)

	assert.Nil(t, Normalize(nil))
}

func TestMockProviderDeterministic(t *testing.T) {
	m := NewMockProvider(64)
	a, err := m.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := m.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func testChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{
			ProjectID:  "proj",
			FilePath:   "main.go",
			StartLine:  i*10 + 1,
			EndLine:    i*10 + 9,
			Content:    string(rune('a'+i%26)) + " some chunk body",
			TokenCount: 5,
		}
		chunks[i].ComputeHashes()
	}
	return chunks
}

func TestPipelineEmbedsAndNormalizes(t *testing.T) {
	p, err := NewPipeline(PipelineConfig{
		Provider:  NewMockProvider(32),
		Dimension: 32,
	})
	require.NoError(t, err)

	chunks := testChunks(20)
	stats, err := p.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 20, stats.Embedded)
	assert.Equal(t, 0, stats.Failed)

	for _, c := range chunks {
		require.Len(t, c.Embedding, 32)
		assert.InDelta(t, 1.0, vecNorm(c.Embedding), 1e-5)
		assert.Equal(t, "mock", c.EmbeddingModel)
		assert.False(t, c.EmbeddedAt.IsZero())
	}
}

func TestPipelineFixesDimensionMismatch(t *testing.T) {
	// Provider emits 24-wide vectors but the index expects 32.
	p, err := NewPipeline(PipelineConfig{
		Provider:  NewMockProvider(24),
		Dimension: 32,
	})
	require.NoError(t, err)

	chunks := testChunks(3)
	stats, err := p.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Embedded)
	assert.Equal(t, 3, stats.DimFixed)

	for _, c := range chunks {
		require.Len(t, c.Embedding, 32)
		assert.InDelta(t, 1.0, vecNorm(c.Embedding), 1e-5)
		// Padding is zeros past the provider's width.
		assert.Zero(t, c.Embedding[31])
	}
}

// countingProvider wraps a provider and counts batch calls.
type countingProvider struct {
	Provider
	calls atomic.Int64
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.Provider.EmbedBatch(ctx, texts)
}

func TestPipelineCacheServesRepeats(t *testing.T) {
	cp := &countingProvider{Provider: NewMockProvider(16)}
	p, err := NewPipeline(PipelineConfig{Provider: cp, Dimension: 16})
	require.NoError(t, err)

	chunks := testChunks(10)
	stats, err := p.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Embedded)
	firstCalls := cp.calls.Load()
	assert.Greater(t, firstCalls, int64(0))

	// Same content again: everything served from cache, no provider calls.
	again := testChunks(10)
	stats, err = p.EmbedChunks(context.Background(), again)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.CacheHits)
	assert.Equal(t, 0, stats.Embedded)
	assert.Equal(t, firstCalls, cp.calls.Load())
}

func ollamaTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProviderBatch(t *testing.T) {
	srv := ollamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{1, 2, 3})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	p := NewOllamaProvider(srv.URL, "nomic-embed-text", nil)
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 2, 3}, vecs[0])
}

func TestOllamaProviderClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"server error", http.StatusInternalServerError, ErrConnection},
		{"bad request", http.StatusBadRequest, ErrUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := ollamaTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", tt.status)
			})
			p := NewOllamaProvider(srv.URL, "m", nil)
			_, err := p.Embed(context.Background(), "x")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOllamaProviderConnectionRefused(t *testing.T) {
	p := NewOllamaProvider("http://127.0.0.1:1", "m", nil)
	_, err := p.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrConnection)
}

func TestOpenAIProviderReordersByIndex(t *testing.T) {
	srv := ollamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		// Deliberately out of order.
		_, _ = w.Write([]byte(`{"data":[
			{"index":1,"embedding":[2,0]},
			{"index":0,"embedding":[1,0]}
		]}`))
	})

	p := NewOpenAIProvider("key", srv.URL, "text-embedding-3-small", nil)
	vecs, err := p.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{2, 0}, vecs[1])
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	srv := ollamaTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req ollamaEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := ollamaEmbedResponse{}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{1, 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	p, err := NewPipeline(PipelineConfig{
		Provider:  NewOllamaProvider(srv.URL, "m", nil),
		Dimension: 2,
		Retry: RetryConfig{
			MaxRetries:     4,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2.0,
		},
	})
	require.NoError(t, err)

	chunks := testChunks(2)
	stats, err := p.EmbedChunks(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Embedded)
	assert.GreaterOrEqual(t, stats.Retries, 1)
}

func TestBreakerOpensAndProbes(t *testing.T) {
	clock := time.Unix(0, 0)
	b := NewBreaker(3, 10*time.Second, nil)
	b.now = func() time.Time { return clock }

	// Non-retryable errors never trip the breaker.
	b.Record(ErrUnexpected)
	b.Record(ErrUnexpected)
	b.Record(ErrUnexpected)
	require.NoError(t, b.Allow())
	assert.Equal(t, "closed", b.State())

	// Three consecutive retryable failures trip it.
	b.Record(ErrConnection)
	b.Record(ErrTimeout)
	b.Record(ErrConnection)
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Still open before the break elapses.
	clock = clock.Add(5 * time.Second)
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// After the break one probe is admitted; concurrent callers are not.
	clock = clock.Add(6 * time.Second)
	require.NoError(t, b.Allow())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	// Probe success closes the breaker.
	b.Record(nil)
	assert.Equal(t, "closed", b.State())
	require.NoError(t, b.Allow())
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	clock := time.Unix(0, 0)
	b := NewBreaker(1, 10*time.Second, nil)
	b.now = func() time.Time { return clock }

	b.Record(ErrConnection)
	assert.Equal(t, "open", b.State())

	clock = clock.Add(11 * time.Second)
	require.NoError(t, b.Allow())
	b.Record(ErrConnection)
	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestPipelineSurfacesOpenCircuit(t *testing.T) {
	srv := ollamaTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	p, err := NewPipeline(PipelineConfig{
		Provider:  NewOllamaProvider(srv.URL, "m", nil),
		Dimension: 2,
		Breaker:   NewBreaker(1, time.Minute, nil),
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
			Multiplier:     2.0,
		},
	})
	require.NoError(t, err)

	chunks := testChunks(1)
	_, err = p.EmbedChunks(context.Background(), chunks)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
