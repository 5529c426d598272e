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

import "strings"

// slidingWindow chunks lines with the universal fallback strategy: accumulate
// lines until adding the next one would exceed MaxChunkTokens, emit the chunk
// if it clears the MinChunkTokens floor, then back up by at most OverlapTokens
// worth of trailing lines before starting the next chunk. The overlap keeps
// context that straddles a chunk boundary retrievable from both sides.
//
// startLine is the 1-based line number of lines[0] in the original file.
// semType/semName tag chunks carved out of an oversized semantic unit; both
// are empty on the plain fallback path.
func (c *Chunker) slidingWindow(lines []string, startLine int, semType, semName string) []Chunk {
	// Per-line token counts are computed once; a chunk's token count is the
	// sum of its lines plus one per newline joint, which matches counting
	// the joined text closely enough for boundary decisions. The emitted
	// chunk carries an exact recount.
	lineTokens := make([]int, len(lines))
	for i, line := range lines {
		lineTokens[i] = c.counter.Count(line)
	}

	var chunks []Chunk
	i := 0
	for i < len(lines) {
		j := i
		tokens := 0
		for j < len(lines) {
			next := lineTokens[j]
			if j > i {
				next++ // newline joint
			}
			if tokens+next > c.cfg.MaxChunkTokens && j > i {
				break
			}
			tokens += next
			j++
		}
		// j is exclusive: the window covers lines[i:j].

		text := strings.Join(lines[i:j], "\n")
		exact := c.counter.Count(text)
		if exact >= c.cfg.MinChunkTokens {
			chunks = append(chunks, Chunk{
				StartLine:    startLine + i,
				EndLine:      startLine + j - 1,
				TokenCount:   exact,
				SemanticType: semType,
				SemanticName: semName,
				Content:      text,
			})
		}

		if j >= len(lines) {
			break
		}

		// Back up over trailing lines until the overlap budget is spent.
		// The next window always starts after the previous one to guarantee
		// forward progress.
		back := j
		overlap := 0
		for back > i+1 {
			if overlap+lineTokens[back-1] > c.cfg.OverlapTokens {
				break
			}
			overlap += lineTokens[back-1]
			back--
		}
		i = back
	}

	return chunks
}
