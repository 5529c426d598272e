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

package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/repovec/pkg/vecstore"
)

// ProjectConfig holds configuration for initializing a project.
type ProjectConfig struct {
	// ProjectID is the logical project identifier.
	ProjectID string

	// StateDir is the directory where repovec stores checkpoints and locks.
	// Defaults to ~/.repovec
	StateDir string

	// Index is the vector store the project's chunks go to.
	Index vecstore.Config

	// Dimension is the vector size for embeddings.
	// Defaults to 768 (nomic-embed-text). Use 1536 for OpenAI.
	Dimension int
}

// ProjectInfo holds information about an initialized project.
type ProjectInfo struct {
	ProjectID  string
	StateDir   string
	Collection string
	Dimension  int
}

// InitProject initializes local state and the vector collection for a
// project. This function is idempotent: calling it multiple times is safe.
//
// The function:
//  1. Creates the state directory (checkpoints, ingest lock) if absent
//  2. Verifies the vector store is reachable
//  3. Creates the collection with the configured dimension if absent
//
// Parameters:
//   - config: project configuration
//   - logger: optional logger (nil uses default)
//
// Returns:
//   - ProjectInfo: information about the initialized project
//   - error: if initialization fails
func InitProject(ctx context.Context, config ProjectConfig, logger *slog.Logger) (*ProjectInfo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if config.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}

	// Set defaults
	if config.Dimension == 0 {
		config.Dimension = 768
	}
	if config.StateDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		config.StateDir = filepath.Join(homeDir, ".repovec")
	}

	logger.Info("bootstrap.project.init.start",
		"project_id", config.ProjectID,
		"state_dir", config.StateDir,
		"index", config.Index.BaseURL,
	)

	for _, dir := range []string{
		filepath.Join(config.StateDir, "checkpoints"),
		filepath.Join(config.StateDir, config.ProjectID),
	} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	idxCfg := config.Index
	if idxCfg.Dimension == 0 {
		idxCfg.Dimension = config.Dimension
	}
	client := vecstore.New(idxCfg, logger)
	if err := client.EnsureCollection(ctx, config.Dimension); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	logger.Info("bootstrap.project.init.success",
		"project_id", config.ProjectID,
		"collection", client.Collection(),
	)

	return &ProjectInfo{
		ProjectID:  config.ProjectID,
		StateDir:   config.StateDir,
		Collection: client.Collection(),
		Dimension:  config.Dimension,
	}, nil
}

// ListProjects returns the project IDs that have a checkpoint in the
// default state directory.
func ListProjects() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}

	cpDir := filepath.Join(homeDir, ".repovec", "checkpoints")
	entries, err := os.ReadDir(cpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No projects yet
		}
		return nil, fmt.Errorf("read checkpoint dir: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "checkpoint-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		projects = append(projects, strings.TrimSuffix(strings.TrimPrefix(name, "checkpoint-"), ".json"))
	}

	return projects, nil
}
