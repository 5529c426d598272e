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

package vecstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kraklabs/repovec/pkg/chunk"
)

// Point is one indexed vector plus its payload.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchHit is one result from Query.
type SearchHit struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// PointFromChunk converts an embedded chunk into an indexable point.
func PointFromChunk(ch chunk.Chunk) Point {
	return Point{
		ID:     PointIDFor(ch.ProjectID, ch.Hash),
		Vector: ch.Embedding,
		Payload: map[string]any{
			"project_id":      ch.ProjectID,
			"chunk_hash":      ch.Hash,
			"file_path":       ch.FilePath,
			"start_line":      ch.StartLine,
			"end_line":        ch.EndLine,
			"language":        ch.Language,
			"semantic_type":   ch.SemanticType,
			"semantic_name":   ch.SemanticName,
			"token_count":     ch.TokenCount,
			"content":         ch.Content,
			"embedding_model": ch.EmbeddingModel,
			"embedded_at":     ch.EmbeddedAt.UTC().Format(time.RFC3339),
		},
	}
}

// projectFilter builds the match filter that scopes an operation to one
// project.
func projectFilter(projectID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{
				"key":   "project_id",
				"match": map[string]any{"value": projectID},
			},
		},
	}
}

// UpsertChunks indexes embedded chunks, batching at most MaxUpsertBatch
// points per request. Chunks without an embedding, and chunks whose
// vector does not match the configured dimension, are skipped and counted
// in the return value rather than aborting the batch; the deterministic
// point IDs make retries of a partially indexed batch safe.
func (c *Client) UpsertChunks(ctx context.Context, chunks []chunk.Chunk) (indexed, skipped int, err error) {
	points := make([]Point, 0, len(chunks))
	var unembedded, mismatched int
	for _, ch := range chunks {
		switch {
		case len(ch.Embedding) == 0:
			unembedded++
		case c.dimension > 0 && len(ch.Embedding) != c.dimension:
			// Qdrant rejects the whole request over one wrong-width
			// vector, so it must never reach the wire.
			mismatched++
			c.logger.Warn("vecstore.upsert.skipped_dimension",
				"chunk_hash", ch.Hash,
				"got", len(ch.Embedding),
				"want", c.dimension,
			)
		default:
			points = append(points, PointFromChunk(ch))
		}
	}
	skipped = unembedded + mismatched
	if unembedded > 0 {
		c.logger.Warn("vecstore.upsert.skipped_unembedded", "count", unembedded)
	}

	for start := 0; start < len(points); start += MaxUpsertBatch {
		end := start + MaxUpsertBatch
		if end > len(points) {
			end = len(points)
		}
		if err := c.Upsert(ctx, points[start:end]); err != nil {
			return indexed, skipped, err
		}
		indexed += end - start
	}
	return indexed, skipped, nil
}

// Upsert writes one batch of points with wait=true so the write is
// durable before the checkpoint advances past it.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if len(points) > MaxUpsertBatch {
		return fmt.Errorf("upsert batch of %d exceeds cap %d", len(points), MaxUpsertBatch)
	}
	body := map[string]any{"points": points}
	path := "/collections/" + c.collection + "/points?wait=true"
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Query searches the collection for the nearest neighbors of the vector,
// scoped to one project. Payloads are returned with each hit.
func (c *Client) Query(ctx context.Context, projectID string, vector []float32, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"filter":       projectFilter(projectID),
		"with_payload": true,
	}
	var hits []SearchHit
	path := "/collections/" + c.collection + "/points/search"
	if err := c.do(ctx, http.MethodPost, path, body, &hits); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

// DeletePoints removes specific points by ID.
func (c *Client) DeletePoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	path := "/collections/" + c.collection + "/points/delete?wait=true"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete %d points: %w", len(ids), err)
	}
	return nil
}

// DeleteByProject removes every point belonging to a project. Used by
// re-ingestion to start from a clean slate.
func (c *Client) DeleteByProject(ctx context.Context, projectID string) error {
	body := map[string]any{"filter": projectFilter(projectID)}
	path := "/collections/" + c.collection + "/points/delete?wait=true"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("delete project %s: %w", projectID, err)
	}
	c.logger.Info("vecstore.project.deleted", "project_id", projectID)
	return nil
}

// countResult is the result shape of the points/count endpoint.
type countResult struct {
	Count int `json:"count"`
}

// CountByProject returns the exact number of indexed points for a project.
func (c *Client) CountByProject(ctx context.Context, projectID string) (int, error) {
	body := map[string]any{
		"filter": projectFilter(projectID),
		"exact":  true,
	}
	var res countResult
	path := "/collections/" + c.collection + "/points/count"
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return res.Count, nil
}
