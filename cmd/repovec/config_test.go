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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := ConfigPath(dir)

	cfg := DefaultConfig("my-project")
	cfg.Indexing.Exclude = []string{"generated/**"}
	cfg.Embedding.TokensPerMinute = 60000
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "my-project", loaded.ProjectID)
	assert.Equal(t, "local_path", loaded.Source.Type)
	assert.Equal(t, "ollama", loaded.Embedding.Provider)
	assert.Equal(t, []string{"generated/**"}, loaded.Indexing.Exclude)
	assert.Equal(t, 60000, loaded.Embedding.TokensPerMinute)
	assert.Equal(t, "repovec_chunks", loaded.Index.Collection)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), ".repovec", "project.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repovec init")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default is valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing project id",
			mutate:  func(c *Config) { c.ProjectID = "" },
			wantErr: "project_id is required",
		},
		{
			name:    "uppercase project id",
			mutate:  func(c *Config) { c.ProjectID = "MyProject" },
			wantErr: "lowercase",
		},
		{
			name:    "bad source type",
			mutate:  func(c *Config) { c.Source.Type = "ftp" },
			wantErr: "source.type",
		},
		{
			name:    "bad provider",
			mutate:  func(c *Config) { c.Embedding.Provider = "cohere" },
			wantErr: "embedding.provider",
		},
		{
			name:    "negative dimension",
			mutate:  func(c *Config) { c.Embedding.Dimension = -1 },
			wantErr: "dimension",
		},
		{
			name: "git source is valid",
			mutate: func(c *Config) {
				c.Source.Type = "git_url"
				c.Source.Value = "https://example.com/repo.git"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("proj")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDimensionDefault(t *testing.T) {
	cfg := DefaultConfig("proj")
	cfg.Embedding.Dimension = 0
	assert.Equal(t, 768, cfg.Dimension())

	cfg.Embedding.Dimension = 1536
	assert.Equal(t, 1536, cfg.Dimension())
}

func TestSanitizeProjectID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"MyRepo", "myrepo"},
		{"my repo (v2)", "my-repo--v2"},
		{"repo_ok-1", "repo_ok-1"},
		{"---", "repo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeProjectID(tt.in), "input %q", tt.in)
	}
}
