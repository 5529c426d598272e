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

// Package vecstore is a client for a Qdrant-compatible vector database
// over its HTTP API.
//
// Point IDs are derived deterministically from the project ID and the
// chunk hash, so re-upserting the same chunk overwrites its previous
// point instead of duplicating it. All multi-tenant isolation goes
// through the project_id payload field, which gets a keyword index at
// collection creation time.
package vecstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"
)

// MaxUpsertBatch caps how many points go into one upsert request.
const MaxUpsertBatch = 100

// pointNamespace seeds deterministic point IDs. Changing it would orphan
// every previously indexed point.
var pointNamespace = uuid.MustParse("8a6e1c64-41cd-4f0a-9edb-1f57c1e9a3d2")

// Client talks to a Qdrant-compatible server.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	dimension  int
	httpClient *http.Client
	logger     *slog.Logger
}

// Config for a vector store client.
type Config struct {
	BaseURL    string `yaml:"base_url"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	Dimension  int    `yaml:"dimension"`
}

// New creates a client. BaseURL defaults to a local Qdrant.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "repovec_chunks"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		collection: cfg.Collection,
		apiKey:     cfg.APIKey,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.collection }

// PointIDFor derives the stable UUID for a chunk within a project.
func PointIDFor(projectID, chunkHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(projectID+"|"+chunkHash)).String()
}

// apiResponse is the envelope every Qdrant endpoint wraps results in.
type apiResponse struct {
	Status json.RawMessage `json:"status"`
	Result json.RawMessage `json:"result"`
	Time   float64         `json:"time"`
}

// statusError is the object form of the status field on failures.
type statusError struct {
	Error string `json:"error"`
}

// do executes one API call and decodes the result envelope into out.
func (c *Client) do(ctx context.Context, method, path string, reqBody, out any) error {
	var body io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector store request (is Qdrant running at %s?): %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var env apiResponse
		if err := json.Unmarshal(respBody, &env); err == nil && len(env.Status) > 0 {
			var se statusError
			if err := json.Unmarshal(env.Status, &se); err == nil && se.Error != "" {
				return fmt.Errorf("vector store error (status %d): %s", resp.StatusCode, se.Error)
			}
		}
		return fmt.Errorf("vector store error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var env apiResponse
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("parse result: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist, then makes sure project_id has a keyword payload index.
// Both calls are idempotent; an already-exists conflict is not an error.
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	createBody := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	err := c.do(ctx, http.MethodPut, "/collections/"+c.collection, createBody, nil)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create collection: %w", err)
	}
	if err == nil {
		c.logger.Info("vecstore.collection.created",
			"collection", c.collection,
			"dimension", dimension,
		)
	}

	indexBody := map[string]any{
		"field_name":   "project_id",
		"field_schema": "keyword",
	}
	err = c.do(ctx, http.MethodPut, "/collections/"+c.collection+"/index", indexBody, nil)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("create payload index: %w", err)
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return bytes.Contains([]byte(msg), []byte("already exists")) ||
		bytes.Contains([]byte(msg), []byte("status 409"))
}
