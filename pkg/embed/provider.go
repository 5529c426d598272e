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

// Package embed turns chunk text into normalized vectors.
//
// A Provider is a thin client over one embedding HTTP API. The Pipeline
// wraps a provider with the operational layers the ingestion run needs:
// an LRU cache keyed by content hash, classified retries with jittered
// backoff, a circuit breaker, concurrency capped by the shared limiter,
// and post-processing that guarantees every vector leaving this package
// is unit length and the expected dimension.
package embed

import (
	"context"
	"fmt"
	"math"
	"os"

	"log/slog"
)

// Provider generates embeddings for chunk text.
type Provider interface {
	// Embed generates a raw embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider kind ("ollama", "openai", "mock").
	Name() string

	// Model returns the embedding model identifier sent to the provider.
	Model() string
}

// MockProvider generates deterministic embeddings for testing.
type MockProvider struct {
	dimension int
}

// NewMockProvider creates a mock provider emitting vectors of the given
// dimension.
func NewMockProvider(dimension int) *MockProvider {
	return &MockProvider{dimension: dimension}
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "mock" }

// Embed generates a deterministic pseudo-random vector from the text hash.
func (m *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	hash := djb2(text)
	vec := make([]float32, m.dimension)
	for i := 0; i < m.dimension; i++ {
		val := float32((hash+uint64(i)*7919)%10000) / 10000.0
		vec[i] = val*2.0 - 1.0
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func djb2(s string) uint64 {
	var hash uint64 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint64(c)
	}
	return hash
}

// NewProvider creates a provider by kind. Supported kinds:
//   - "mock": deterministic vectors for testing
//   - "ollama": local Ollama server (OLLAMA_BASE_URL, OLLAMA_EMBED_MODEL)
//   - "openai": OpenAI-compatible API (OPENAI_API_KEY, OPENAI_API_BASE, OPENAI_EMBED_MODEL)
func NewProvider(kind string, dimension int, logger *slog.Logger) (Provider, error) {
	switch kind {
	case "mock":
		return NewMockProvider(dimension), nil

	case "ollama", "local_model":
		baseURL := os.Getenv("OLLAMA_BASE_URL")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := os.Getenv("OLLAMA_EMBED_MODEL")
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaProvider(baseURL, model, logger), nil

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for openai provider")
		}
		baseURL := os.Getenv("OPENAI_API_BASE")
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := os.Getenv("OPENAI_EMBED_MODEL")
		if model == "" {
			model = "text-embedding-3-small"
		}
		return NewOpenAIProvider(apiKey, baseURL, model, logger), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: mock, ollama, openai)", kind)
	}
}

// minNorm is the floor under which a vector is considered degenerate and
// left untouched rather than divided by near-zero.
const minNorm = 1e-12

// Normalize scales the vector to unit L2 length in place. Degenerate
// vectors (norm below the floor) are returned unchanged.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm < minNorm {
		return vec
	}
	normf := float32(norm)
	for i := range vec {
		vec[i] /= normf
	}
	return vec
}
