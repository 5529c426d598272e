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

// Package chunk splits source files into content-addressed units ready for
// embedding.
//
// # Chunking Strategy
//
// Files are chunked along one of two paths:
//
//  1. Structural: languages with a Tree-sitter grammar (Go, Python,
//     TypeScript, JavaScript) are parsed into top-level semantic spans.
//     A span that fits within MaxChunkTokens becomes a single chunk tagged
//     with its semantic type and name; an oversized span recurses into its
//     members, and oversized members are re-chunked via the sliding window,
//     inheriting the parent's tag.
//
//  2. Sliding window: the universal fallback for unknown languages, files
//     with no structural units, or parse failures. Lines accumulate until
//     the next one would exceed MaxChunkTokens; chunks below MinChunkTokens
//     are dropped as noise; consecutive windows overlap by up to
//     OverlapTokens so boundary context survives.
//
// # Determinism
//
// Chunking the same (filePath, content) twice yields an identical ordered
// list of chunk hashes. The hash, hash(path | startLine | endLine |
// hash(content)), is the idempotence key the rest of the pipeline is built
// on: checkpointed re-runs and crash-interrupted re-ingestions converge via
// idempotent upserts keyed by it.
//
// Token counts use the cl100k_base BPE encoding and are always recomputed,
// never trusted from input.
package chunk
