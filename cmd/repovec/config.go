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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/repovec/pkg/ingest"
	"github.com/kraklabs/repovec/pkg/limiter"
	"github.com/kraklabs/repovec/pkg/llm"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

// Config is the project configuration stored in .repovec/project.yaml.
type Config struct {
	ProjectID string `yaml:"project_id"`
	OrgID     string `yaml:"org_id,omitempty"`

	Source ingest.Source `yaml:"source"`

	Indexing IndexingConfig `yaml:"indexing"`

	Embedding EmbeddingConfig `yaml:"embedding"`

	Index vecstore.Config `yaml:"index"`

	Limits limiter.Config `yaml:"limits,omitempty"`

	Monitor ingest.MonitorConfig `yaml:"monitor,omitempty"`

	LLM llm.Config `yaml:"llm,omitempty"`
}

// IndexingConfig controls the file walk and chunking.
type IndexingConfig struct {
	Exclude        []string `yaml:"exclude,omitempty"`
	MaxFileSize    int64    `yaml:"max_file_size,omitempty"`
	MaxChunkTokens int      `yaml:"max_chunk_tokens,omitempty"`
	MinChunkTokens int      `yaml:"min_chunk_tokens,omitempty"`
	OverlapTokens  int      `yaml:"overlap_tokens,omitempty"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider        string `yaml:"provider"` // "ollama", "openai", or "mock"
	BaseURL         string `yaml:"base_url,omitempty"`
	Model           string `yaml:"model,omitempty"`
	APIKey          string `yaml:"api_key,omitempty"`
	Dimension       int    `yaml:"dimension"`
	TokensPerMinute int    `yaml:"tokens_per_minute,omitempty"`
	CacheSize       int    `yaml:"cache_size,omitempty"`
}

// projectIDPattern restricts project IDs to filesystem- and payload-safe names.
var projectIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// DefaultConfig returns a configuration with sensible local defaults.
func DefaultConfig(projectID string) *Config {
	return &Config{
		ProjectID: projectID,
		Source:    ingest.Source{Type: "local_path", Value: "."},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Index: vecstore.Config{
			BaseURL:    "http://localhost:6333",
			Collection: "repovec_chunks",
		},
	}
}

// ConfigDir returns the .repovec directory under the repository root.
func ConfigDir(root string) string {
	return filepath.Join(root, ".repovec")
}

// ConfigPath returns the default configuration file path under root.
func ConfigPath(root string) string {
	return filepath.Join(ConfigDir(root), "project.yaml")
}

// LoadConfig reads and validates a configuration file. An empty path loads
// ./.repovec/project.yaml.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		path = ConfigPath(cwd)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no configuration at %s (run 'repovec init' first)", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration as YAML, creating the directory if
// needed.
func SaveConfig(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks the configuration for the mistakes users actually make.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !projectIDPattern.MatchString(c.ProjectID) {
		return fmt.Errorf("project_id %q must be lowercase alphanumeric with - or _", c.ProjectID)
	}
	switch c.Source.Type {
	case "", "local_path", "git_url":
	default:
		return fmt.Errorf("source.type must be local_path or git_url, got %q", c.Source.Type)
	}
	switch strings.ToLower(c.Embedding.Provider) {
	case "", "ollama", "openai", "mock", "local_model":
	default:
		return fmt.Errorf("embedding.provider must be ollama, openai, or mock, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("embedding.dimension must not be negative")
	}
	return nil
}

// Dimension returns the configured embedding dimension with the nomic
// default applied.
func (c *Config) Dimension() int {
	if c.Embedding.Dimension > 0 {
		return c.Embedding.Dimension
	}
	return 768
}

// checkpointDir returns where checkpoints live for this machine's user.
func checkpointDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".repovec", "checkpoints"), nil
}

// applyEmbeddingEnv exports provider settings so the embed factory picks
// them up.
func applyEmbeddingEnv(cfg *Config) {
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "ollama", "local_model", "":
		if cfg.Embedding.BaseURL != "" {
			os.Setenv("OLLAMA_BASE_URL", cfg.Embedding.BaseURL)
		}
		if cfg.Embedding.Model != "" {
			os.Setenv("OLLAMA_EMBED_MODEL", cfg.Embedding.Model)
		}
	case "openai":
		if cfg.Embedding.BaseURL != "" {
			os.Setenv("OPENAI_API_BASE", cfg.Embedding.BaseURL)
		}
		if cfg.Embedding.Model != "" {
			os.Setenv("OPENAI_EMBED_MODEL", cfg.Embedding.Model)
		}
		if cfg.Embedding.APIKey != "" {
			os.Setenv("OPENAI_API_KEY", cfg.Embedding.APIKey)
		}
	}
}
