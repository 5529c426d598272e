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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"
)

// Chunk is a contiguous, content-addressed unit of source text prepared for
// embedding. Its Hash is derived from the file path, line range, and content
// hash, so re-ingesting identical input produces identical hashes. That hash
// is the idempotence key used everywhere downstream: the vector store point ID
// is derived from it, so a duplicate upsert overwrites instead of duplicating.
type Chunk struct {
	ProjectID string `json:"project_id"`
	FilePath  string `json:"file_path"`

	// StartLine and EndLine are 1-based and inclusive. StartLine <= EndLine.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// Language is detected from the file extension (e.g. "go", "python").
	Language string `json:"language"`

	// TokenCount is always recomputed by the chunker, never trusted from input.
	TokenCount int `json:"token_count"`

	// SemanticType and SemanticName tag structurally extracted chunks
	// (e.g. "struct"/"Server", "method"/"Start"). Empty for window chunks.
	// Window chunks carved out of an oversized semantic unit inherit the
	// parent's tag as provenance.
	SemanticType string `json:"semantic_type,omitempty"`
	SemanticName string `json:"semantic_name,omitempty"`

	Content  string `json:"content"`
	TextHash string `json:"text_hash"`
	Hash     string `json:"hash"`

	// Embedding fields are populated by the embedding pipeline.
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	EmbeddedAt     time.Time `json:"embedded_at,omitempty"`
}

// ComputeHashes fills TextHash and Hash from the chunk's current content and
// position. Call after FilePath, StartLine, EndLine, and Content are final.
func (c *Chunk) ComputeHashes() {
	c.TextHash = HashText(c.Content)
	c.Hash = ChunkHash(c.FilePath, c.StartLine, c.EndLine, c.TextHash)
}

// HashText returns the hex-encoded SHA-256 of the chunk content.
func HashText(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkHash generates the deterministic chunk identity hash.
// Strategy: hash(normalized_path | start_line | end_line | text_hash).
// The path is normalized so IDs are stable across operating systems, and the
// line range is included so two identical snippets at different positions in
// the same file remain distinct.
func ChunkHash(filePath string, startLine, endLine int, textHash string) string {
	idStr := fmt.Sprintf("%s|%d|%d|%s", NormalizePath(filePath), startLine, endLine, textHash)
	sum := sha256.Sum256([]byte(idStr))
	return "chunk:" + hex.EncodeToString(sum[:])
}

// NormalizePath normalizes a file path for consistent hash generation.
// Ensures cross-platform consistency by:
//   - Removing leading ./
//   - Cleaning the path (removing redundant separators, etc.)
//   - Normalizing path separators to forward slashes
//   - Removing a leading slash so relative and absolute spellings agree
func NormalizePath(path string) string {
	if len(path) >= 2 && path[0:2] == "./" {
		path = path[2:]
	}
	path = filepath.Clean(path)
	path = filepath.ToSlash(path)
	if len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	return path
}
