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

package chunk

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSampleMethod = `package server

import "net/http"

// Server handles incoming requests.
type Server struct {
	addr string
}

// Start begins listening on the configured address. It wires the default
// mux, applies timeouts, and blocks until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	return srv.ListenAndServe()
}
`

func TestChunkFile_GoStructuralPath(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	chunks, err := c.ChunkFile("internal/server/server.go", goSampleMethod, "proj-1")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var kinds []string
	for _, ch := range chunks {
		kinds = append(kinds, ch.SemanticType)
		assert.Equal(t, "proj-1", ch.ProjectID)
		assert.Equal(t, "go", ch.Language)
		assert.LessOrEqual(t, ch.StartLine, ch.EndLine)
		assert.NotEmpty(t, ch.Hash)
		assert.Positive(t, ch.TokenCount)
	}
	assert.Contains(t, kinds, "struct")
	assert.Contains(t, kinds, "method")

	// The method chunk carries the receiver-qualified name.
	var method *Chunk
	for i := range chunks {
		if chunks[i].SemanticType == "method" {
			method = &chunks[i]
		}
	}
	require.NotNil(t, method)
	assert.Contains(t, method.SemanticName, "Start")
	assert.Contains(t, method.Content, "ListenAndServe")
}

func TestChunkFile_Deterministic(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	first, err := c.ChunkFile("pkg/a/a.go", goSampleMethod, "proj-1")
	require.NoError(t, err)
	second, err := c.ChunkFile("pkg/a/a.go", goSampleMethod, "proj-1")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Hash, second[i].Hash)
	}
}

func TestChunkFile_HashDependsOnPathAndPosition(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	a, err := c.ChunkFile("pkg/a/a.go", goSampleMethod, "proj-1")
	require.NoError(t, err)
	b, err := c.ChunkFile("pkg/b/b.go", goSampleMethod, "proj-1")
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.NotEqual(t, a[i].Hash, b[i].Hash, "same content in different files must hash differently")
	}
}

func TestChunkFile_OversizedClassSplitsIntoMembers(t *testing.T) {
	// A Python class large enough to exceed the chunk budget must split into
	// member chunks that cover the full class range with no gaps, none of
	// them exceeding MaxChunkTokens.
	var b strings.Builder
	b.WriteString("class Repository:\n")
	b.WriteString("    \"\"\"Persistent store for indexed documents.\"\"\"\n")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "\n    def method_%d(self, key, value):\n", i)
		fmt.Fprintf(&b, "        record = self.table.lookup(key)\n")
		fmt.Fprintf(&b, "        if record is None:\n")
		fmt.Fprintf(&b, "            record = self.table.insert(key, value)\n")
		fmt.Fprintf(&b, "        record.touch()\n")
		fmt.Fprintf(&b, "        return record\n")
	}
	source := b.String()

	cfg := Config{MaxChunkTokens: 120, MinChunkTokens: 5, OverlapTokens: 10}
	c := NewChunker(cfg, nil)

	chunks, err := c.ChunkFile("repo.py", source, "proj-1")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1, "oversized class must split")

	covered := map[int]bool{}
	minLine, maxLine := 1<<30, 0
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, cfg.MaxChunkTokens)
		assert.NotEmpty(t, ch.SemanticType, "member chunks keep a semantic tag")
		for l := ch.StartLine; l <= ch.EndLine; l++ {
			covered[l] = true
		}
		if ch.StartLine < minLine {
			minLine = ch.StartLine
		}
		if ch.EndLine > maxLine {
			maxLine = ch.EndLine
		}
	}
	for l := minLine; l <= maxLine; l++ {
		assert.True(t, covered[l], "line %d not covered by any chunk", l)
	}
}

func TestChunkFile_FallsBackToWindowForUnknownLanguage(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "line %d with a reasonable amount of text on it to count\n", i)
	}

	cfg := Config{MaxChunkTokens: 100, MinChunkTokens: 10, OverlapTokens: 20}
	c := NewChunker(cfg, nil)

	chunks, err := c.ChunkFile("notes.txt", b.String(), "proj-1")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Empty(t, ch.SemanticType)
		assert.LessOrEqual(t, ch.TokenCount, cfg.MaxChunkTokens)
		if i > 0 {
			// Overlap: the next window starts at or before the previous end,
			// but always after the previous start.
			assert.Greater(t, ch.StartLine, chunks[i-1].StartLine)
			assert.LessOrEqual(t, ch.StartLine, chunks[i-1].EndLine+1)
		}
	}
}

func TestChunkFile_DropsNoiseBelowFloor(t *testing.T) {
	cfg := Config{MaxChunkTokens: 100, MinChunkTokens: 50, OverlapTokens: 10}
	c := NewChunker(cfg, nil)

	chunks, err := c.ChunkFile("tiny.txt", "just a few words", "proj-1")
	require.NoError(t, err)
	assert.Empty(t, chunks, "window chunks below the floor are noise")
}

func TestChunkFile_EmptyContent(t *testing.T) {
	c := NewChunker(DefaultConfig(), nil)

	chunks, err := c.ChunkFile("empty.go", "   \n\n  ", "proj-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.TS", "typescript"},
		{"lib/util.jsx", "javascript"},
		{"scripts/build.py", "python"},
		{"README", ""},
		{"config.yaml", "yaml"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectLanguage(tt.path), tt.path)
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "pkg/a/a.go", NormalizePath("./pkg/a/a.go"))
	assert.Equal(t, "pkg/a/a.go", NormalizePath("/pkg/a/a.go"))
	assert.Equal(t, "pkg/a/a.go", NormalizePath("pkg//a/./a.go"))
}
