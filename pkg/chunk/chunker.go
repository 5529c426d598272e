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
	"log/slog"
	"path/filepath"
	"strings"
)

// Config holds chunking parameters.
type Config struct {
	// MaxChunkTokens is the upper bound for a single chunk. Semantic units
	// above it are split into members or re-chunked via the sliding window.
	MaxChunkTokens int

	// MinChunkTokens is the floor below which window chunks are dropped as
	// noise. Semantic chunks are kept regardless (a two-line method is still
	// a meaningful unit).
	MinChunkTokens int

	// OverlapTokens bounds how far the sliding window backs up between
	// consecutive chunks so cross-chunk context at boundaries is preserved.
	OverlapTokens int
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{
		MaxChunkTokens: 1000,
		MinChunkTokens: 24,
		OverlapTokens:  128,
	}
}

// Chunker splits file content into semantic or sliding-window chunks.
// Safe for concurrent use across files.
type Chunker struct {
	cfg     Config
	counter *TokenCounter
	logger  *slog.Logger
}

// NewChunker creates a chunker. Zero config fields are replaced by defaults.
func NewChunker(cfg Config, logger *slog.Logger) *Chunker {
	def := DefaultConfig()
	if cfg.MaxChunkTokens <= 0 {
		cfg.MaxChunkTokens = def.MaxChunkTokens
	}
	if cfg.MinChunkTokens <= 0 {
		cfg.MinChunkTokens = def.MinChunkTokens
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = def.OverlapTokens
	}
	if cfg.OverlapTokens >= cfg.MaxChunkTokens {
		cfg.OverlapTokens = cfg.MaxChunkTokens / 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{cfg: cfg, counter: NewTokenCounter(), logger: logger}
}

// ChunkFile splits content into an ordered sequence of chunks.
//
// Languages with a structural parser go through the semantic path: top-level
// declarations become chunks tagged with their semantic type and name, and
// oversized declarations recurse into members or degrade to the sliding
// window. Everything else, including unknown languages and parse failures,
// takes the sliding window path.
//
// A parser failure on one file is never fatal to the batch: the file degrades
// to the sliding window with a warning.
//
// Chunks are returned in ascending line order; chunking the same
// (filePath, content) twice yields an identical ordered list of hashes.
func (c *Chunker) ChunkFile(filePath, content, projectID string) ([]Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	language := DetectLanguage(filePath)
	lines := strings.Split(content, "\n")

	var spans []SemanticSpan
	if parser := StructureParserFor(language); parser != nil {
		var ok bool
		spans, ok = c.tryParse(parser, filePath, []byte(content))
		if !ok {
			spans = nil
		}
	}

	var chunks []Chunk
	if len(spans) == 0 {
		chunks = c.slidingWindow(lines, 1, "", "")
	} else {
		for _, span := range spans {
			chunks = append(chunks, c.chunkSpan(lines, span)...)
		}
	}

	for i := range chunks {
		chunks[i].ProjectID = projectID
		chunks[i].FilePath = filePath
		chunks[i].Language = language
		chunks[i].ComputeHashes()
	}

	return chunks, nil
}

// tryParse isolates parser panics so a grammar bug on one file cannot take
// down the ingestion batch.
func (c *Chunker) tryParse(parser StructureParser, filePath string, content []byte) (spans []SemanticSpan, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("chunk.parse.panic", "path", filePath, "panic", r)
			spans, ok = nil, false
		}
	}()
	spans, ok = parser.TryParseStructure(content)
	return spans, ok
}

// chunkSpan turns one semantic span into chunks. Small spans become a single
// tagged chunk; oversized spans recurse into members; oversized members (or
// spans without members) are re-chunked via the sliding window, inheriting the
// span's semantic tag as provenance.
func (c *Chunker) chunkSpan(lines []string, span SemanticSpan) []Chunk {
	text := joinLines(lines, span.StartLine, span.EndLine)
	tokens := c.counter.Count(text)

	if tokens <= c.cfg.MaxChunkTokens {
		return []Chunk{{
			StartLine:    span.StartLine,
			EndLine:      span.EndLine,
			TokenCount:   tokens,
			SemanticType: span.Type,
			SemanticName: span.Name,
			Content:      text,
		}}
	}

	if len(span.Members) == 0 {
		return c.slidingWindow(lines[span.StartLine-1:span.EndLine], span.StartLine, span.Type, span.Name)
	}

	// Member chunks must cover the span's full line range with no holes.
	// Substantial gaps between members (class header, field blocks) become
	// window chunks tagged with the parent; small gaps are absorbed into the
	// neighboring member so nothing is lost.
	var chunks []Chunk
	members := absorbGaps(span, c.gapIsSubstantial(lines))
	cursor := span.StartLine
	for _, member := range members {
		if member.StartLine > cursor {
			chunks = append(chunks, c.slidingWindow(lines[cursor-1:member.StartLine-1], cursor, span.Type, span.Name)...)
		}
		chunks = append(chunks, c.chunkSpan(lines, member)...)
		if member.EndLine+1 > cursor {
			cursor = member.EndLine + 1
		}
	}
	if cursor <= span.EndLine {
		chunks = append(chunks, c.slidingWindow(lines[cursor-1:span.EndLine], cursor, span.Type, span.Name)...)
	}
	return chunks
}

// gapIsSubstantial reports whether a 1-based inclusive line range is worth a
// chunk of its own (at or above the MinChunkTokens floor).
func (c *Chunker) gapIsSubstantial(lines []string) func(start, end int) bool {
	return func(start, end int) bool {
		return c.counter.Count(joinLines(lines, start, end)) >= c.cfg.MinChunkTokens
	}
}

// absorbGaps widens member spans so that small inter-member gaps (and the
// span's header/tail) attach to the adjacent member instead of being dropped,
// guaranteeing the parent range is fully covered. Substantial gaps are left
// in place for the caller to window-chunk.
func absorbGaps(span SemanticSpan, substantial func(start, end int) bool) []SemanticSpan {
	members := make([]SemanticSpan, len(span.Members))
	copy(members, span.Members)

	cursor := span.StartLine
	for i := range members {
		if members[i].StartLine > cursor && !substantial(cursor, members[i].StartLine-1) {
			members[i].StartLine = cursor
		}
		if members[i].EndLine+1 > cursor {
			cursor = members[i].EndLine + 1
		}
	}
	if len(members) > 0 {
		last := &members[len(members)-1]
		if last.EndLine < span.EndLine && !substantial(last.EndLine+1, span.EndLine) {
			last.EndLine = span.EndLine
		}
	}
	return members
}

// joinLines joins the 1-based inclusive line range [start, end].
func joinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// languageByExt maps file extensions to language identifiers. Languages with
// a Tree-sitter grammar take the structural path; everything else with a
// recognized extension still gets window-chunked and indexed.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".java":  "java",
	".cs":    "csharp",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".kt":    "kotlin",
	".swift": "swift",
	".php":   "php",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
}

// DetectLanguage returns the language identifier for a file path, or "" when
// the extension is not recognized.
func DetectLanguage(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}
