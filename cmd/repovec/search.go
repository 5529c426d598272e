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

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"log/slog"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repovec/internal/errors"
	"github.com/kraklabs/repovec/internal/output"
	"github.com/kraklabs/repovec/pkg/embed"
	"github.com/kraklabs/repovec/pkg/limiter"
	"github.com/kraklabs/repovec/pkg/llm"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

// SearchResultHit is one search hit in JSON output.
type SearchResultHit struct {
	Score        float32 `json:"score"`
	FilePath     string  `json:"file_path"`
	StartLine    int     `json:"start_line"`
	EndLine      int     `json:"end_line"`
	SemanticType string  `json:"semantic_type,omitempty"`
	SemanticName string  `json:"semantic_name,omitempty"`
	Language     string  `json:"language,omitempty"`
	Content      string  `json:"content,omitempty"`
}

// SearchResultJSON is the full JSON shape of a search.
type SearchResultJSON struct {
	ProjectID string            `json:"project_id"`
	Query     string            `json:"query"`
	Hits      []SearchResultHit `json:"hits"`
	Answer    string            `json:"answer,omitempty"`
}

// runSearch executes the 'search' CLI command, searching the project's
// indexed chunks by meaning.
//
// The query is embedded with the same provider used during ingestion and
// compared against the project's points by cosine similarity. With --answer,
// the top hits are handed to the configured LLM to synthesize a short
// explanation grounded in the retrieved code.
//
// Flags:
//   - --limit: Maximum number of hits (default: 8)
//   - --timeout: Search timeout (default: 60s)
//   - --content: Include chunk content in the output
//   - --answer: Synthesize an answer from the hits with the configured LLM
//
// Examples:
//
//	repovec search "where are retries handled"
//	repovec search "checkpoint atomicity" --limit 3 --content
//	repovec search "how does rate limiting work" --answer
func runSearch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("limit", 8, "Maximum number of hits")
	timeout := fs.Duration("timeout", 60*time.Second, "Search timeout")
	showContent := fs.Bool("content", false, "Include chunk content in the output")
	answer := fs.Bool("answer", false, "Synthesize an answer from the hits with the configured LLM")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec search [options] "<query>"

Searches the project's indexed chunks by meaning.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: query argument required")
		fs.Usage()
		os.Exit(1)
	}
	query := strings.Join(fs.Args(), " ")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load project configuration", err.Error(),
			"Run 'repovec init' to create one", err), globals.JSON)
	}
	applyEmbeddingEnv(cfg)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	provider, err := embed.NewProvider(cfg.Embedding.Provider, cfg.Dimension(), logger)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot create embedding provider", err.Error(),
			"Check embedding.provider in .repovec/project.yaml", err), globals.JSON)
	}
	embedder, err := embed.NewPipeline(embed.PipelineConfig{
		Provider:  provider,
		Dimension: cfg.Dimension(),
		Logger:    logger,
	})
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot create embedding pipeline", err.Error(), "", err), globals.JSON)
	}
	idxCfg := cfg.Index
	if idxCfg.Dimension == 0 {
		idxCfg.Dimension = cfg.Dimension()
	}
	client := vecstore.New(idxCfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	progress := NewProgressConfig(globals)
	spinner := NewSpinner(progress, "searching")

	vec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Cannot embed the query", err.Error(),
			"Check the embedding provider is reachable", err), globals.JSON)
	}
	hits, err := client.Query(ctx, cfg.ProjectID, vec, *limit)
	if spinner != nil {
		_ = spinner.Finish()
	}
	if err != nil {
		errors.FatalError(errors.NewIndexError(
			"Search failed", err.Error(),
			"Check the vector index is reachable and the project is ingested", err), globals.JSON)
	}

	result := &SearchResultJSON{
		ProjectID: cfg.ProjectID,
		Query:     query,
		Hits:      make([]SearchResultHit, 0, len(hits)),
	}
	for _, h := range hits {
		result.Hits = append(result.Hits, hitFromPayload(h, *showContent || *answer))
	}

	var synthesized string
	if *answer {
		lim := limiter.New(cfg.Limits)
		synthesized, err = synthesizeAnswer(ctx, cfg, lim, query, result.Hits, globals)
		if err != nil {
			// Hits are still useful without the narrative.
			fmt.Fprintf(os.Stderr, "Warning: answer synthesis failed: %v\n", err)
		}
		result.Answer = synthesized
	}

	if !*showContent && !globals.JSON {
		for i := range result.Hits {
			result.Hits[i].Content = ""
		}
	}

	if globals.JSON {
		_ = output.JSON(result)
		return
	}

	printSearchHits(result, *showContent)
	if synthesized != "" && globals.Quiet {
		// Streamed output was suppressed; print the collected answer.
		fmt.Println(synthesized)
	}
}

// hitFromPayload flattens a vector store hit's payload into a typed result.
func hitFromPayload(h vecstore.SearchHit, withContent bool) SearchResultHit {
	out := SearchResultHit{Score: h.Score}
	if v, ok := h.Payload["file_path"].(string); ok {
		out.FilePath = v
	}
	if v, ok := h.Payload["start_line"].(float64); ok {
		out.StartLine = int(v)
	}
	if v, ok := h.Payload["end_line"].(float64); ok {
		out.EndLine = int(v)
	}
	if v, ok := h.Payload["semantic_type"].(string); ok {
		out.SemanticType = v
	}
	if v, ok := h.Payload["semantic_name"].(string); ok {
		out.SemanticName = v
	}
	if v, ok := h.Payload["language"].(string); ok {
		out.Language = v
	}
	if withContent {
		if v, ok := h.Payload["content"].(string); ok {
			out.Content = v
		}
	}
	return out
}

// printSearchHits renders hits as an aligned table, optionally followed by
// each chunk's content.
func printSearchHits(result *SearchResultJSON, showContent bool) {
	if len(result.Hits) == 0 {
		fmt.Println("No results. Is the project ingested? Try 'repovec status'.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tLOCATION\tKIND\tNAME")
	for _, h := range result.Hits {
		loc := fmt.Sprintf("%s:%d-%d", h.FilePath, h.StartLine, h.EndLine)
		fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\n", h.Score, loc, h.SemanticType, h.SemanticName)
	}
	_ = w.Flush()

	if showContent {
		for _, h := range result.Hits {
			fmt.Printf("\n--- %s:%d-%d (%.3f)\n", h.FilePath, h.StartLine, h.EndLine, h.Score)
			fmt.Println(h.Content)
		}
	}
}

// answerSystemPrompt grounds the LLM in the retrieved chunks only.
const answerSystemPrompt = `You are a code assistant. Answer the question using only the
provided code excerpts. Cite files by path. If the excerpts do not
contain the answer, say so.`

// synthesizeAnswer asks the configured LLM to answer the query from the top
// hits. The reply is streamed to stdout unless quiet or JSON mode collects
// it instead.
func synthesizeAnswer(ctx context.Context, cfg *Config, lim *limiter.Limiter, query string, hits []SearchResultHit, globals GlobalFlags) (string, error) {
	provider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return "", fmt.Errorf("create llm provider: %w", err)
	}

	var b strings.Builder
	for i, h := range hits {
		if i >= 5 || h.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "### %s:%d-%d\n```%s\n%s\n```\n\n", h.FilePath, h.StartLine, h.EndLine, h.Language, h.Content)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no chunk content available to ground an answer")
	}

	req := llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nCode excerpts:\n\n%s", query, b.String())},
		},
	}

	release, err := lim.Reasoning.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	stream := !globals.Quiet && !globals.JSON
	if !stream {
		resp, err := provider.Chat(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	}

	fmt.Println()
	var collected strings.Builder
	err = provider.ChatStream(ctx, req, func(chunk llm.StreamChunk) error {
		if chunk.Content != "" {
			collected.WriteString(chunk.Content)
			fmt.Print(chunk.Content)
		}
		return nil
	})
	fmt.Println()
	if err != nil {
		return collected.String(), err
	}
	return collected.String(), nil
}
