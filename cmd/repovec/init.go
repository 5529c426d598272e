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
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/kraklabs/repovec/internal/bootstrap"
	"github.com/kraklabs/repovec/internal/ui"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive, skipIndex bool
	projectID, source, provider      string
	indexURL, collection             string
	dimension                        int
}

// runInit executes the 'init' CLI command, creating a .repovec/project.yaml
// configuration file and preparing the vector collection.
//
// It generates a default configuration, optionally prompts the user for
// customization in interactive mode, and then creates the Qdrant collection
// so the first 'repovec ingest' does not have to.
//
// Flags:
//   - --force: Overwrite existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --project-id: Project identifier (default: directory name)
//   - --source: Repository to ingest (local path or git URL, default: ".")
//   - --embedding-provider: Embedding provider (ollama, openai, mock)
//   - --index-url: Qdrant base URL
//   - --collection: Qdrant collection name
//   - --dimension: Embedding vector dimension
//   - --skip-index: Write the config without contacting the vector store
//
// Examples:
//
//	repovec init                          Interactive setup
//	repovec init -y                       Use all defaults
//	repovec init --index-url http://qdrant:6333 -y
//	repovec init --embedding-provider openai --dimension 1536
func runInit(args []string) {
	flags := parseInitFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot get current directory: %v\n", err)
		os.Exit(1)
	}

	configPath := ConfigPath(cwd)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		fmt.Fprintf(os.Stderr, "Error: %s already exists. Use --force to overwrite.\n", configPath)
		os.Exit(1)
	}

	cfg := createInitConfig(cwd, flags)

	if !flags.nonInteractive {
		runInteractiveConfig(bufio.NewReader(os.Stdin), cfg)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	saveInitConfig(cwd, configPath, cfg)

	if !flags.skipIndex {
		initVectorCollection(cfg)
	}

	printNextSteps()
}

func parseInitFlags(args []string) initFlags {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f initFlags
	fs.BoolVar(&f.force, "force", false, "Overwrite existing configuration")
	fs.BoolVar(&f.nonInteractive, "y", false, "Non-interactive mode (use defaults)")
	fs.StringVar(&f.projectID, "project-id", "", "Project identifier")
	fs.StringVar(&f.source, "source", "", "Repository to ingest (local path or git URL)")
	fs.StringVar(&f.provider, "embedding-provider", "", "Embedding provider (ollama, openai, mock)")
	fs.StringVar(&f.indexURL, "index-url", "", "Qdrant base URL (e.g., http://localhost:6333)")
	fs.StringVar(&f.collection, "collection", "", "Qdrant collection name")
	fs.IntVar(&f.dimension, "dimension", 0, "Embedding vector dimension")
	fs.BoolVar(&f.skipIndex, "skip-index", false, "Write the config without contacting the vector store")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec init [options]

Creates .repovec/project.yaml and the vector collection.

Examples:
  repovec init -y                            # Non-interactive with defaults
  repovec init --index-url http://qdrant:6333
  repovec init --embedding-provider openai --dimension 1536

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	return f
}

func createInitConfig(cwd string, f initFlags) *Config {
	pid := f.projectID
	if pid == "" {
		pid = sanitizeProjectID(filepath.Base(cwd))
	}
	cfg := DefaultConfig(pid)
	if f.source != "" {
		cfg.Source.Value = f.source
		if strings.HasPrefix(f.source, "http://") || strings.HasPrefix(f.source, "https://") ||
			strings.HasPrefix(f.source, "git@") {
			cfg.Source.Type = "git_url"
		}
	}
	if f.provider != "" {
		cfg.Embedding.Provider = f.provider
	}
	if f.indexURL != "" {
		cfg.Index.BaseURL = f.indexURL
	}
	if f.collection != "" {
		cfg.Index.Collection = f.collection
	}
	if f.dimension > 0 {
		cfg.Embedding.Dimension = f.dimension
	}
	return cfg
}

func runInteractiveConfig(reader *bufio.Reader, cfg *Config) {
	ui.Header("Repovec Project Configuration")
	fmt.Println()

	cfg.ProjectID = prompt(reader, "Project ID", cfg.ProjectID)
	cfg.Source.Value = prompt(reader, "Repository source (path or git URL)", cfg.Source.Value)
	if strings.HasPrefix(cfg.Source.Value, "http://") || strings.HasPrefix(cfg.Source.Value, "https://") ||
		strings.HasPrefix(cfg.Source.Value, "git@") {
		cfg.Source.Type = "git_url"
	}

	fmt.Println()
	fmt.Println("Embedding Providers: ollama, openai, mock")
	cfg.Embedding.Provider = prompt(reader, "Embedding provider", cfg.Embedding.Provider)
	switch cfg.Embedding.Provider {
	case "ollama":
		cfg.Embedding.BaseURL = prompt(reader, "Ollama URL", cfg.Embedding.BaseURL)
		cfg.Embedding.Model = prompt(reader, "Embedding model", cfg.Embedding.Model)
	case "openai":
		cfg.Embedding.Model = prompt(reader, "Embedding model", "text-embedding-3-small")
		cfg.Embedding.APIKey = prompt(reader, "API key (or set OPENAI_API_KEY)", cfg.Embedding.APIKey)
		dim := prompt(reader, "Vector dimension", "1536")
		var d int
		if _, err := fmt.Sscanf(dim, "%d", &d); err == nil && d > 0 {
			cfg.Embedding.Dimension = d
		}
	}

	fmt.Println()
	cfg.Index.BaseURL = prompt(reader, "Qdrant URL", cfg.Index.BaseURL)
	cfg.Index.Collection = prompt(reader, "Collection name", cfg.Index.Collection)
	fmt.Println()
}

func saveInitConfig(cwd, configPath string, cfg *Config) {
	dir := ConfigDir(cwd)
	if err := os.MkdirAll(dir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create .repovec directory: %v\n", err)
		os.Exit(1)
	}
	if err := SaveConfig(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot save configuration: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created %s\n", configPath)
	addToGitignore(cwd)
}

// initVectorCollection creates the state directories and the Qdrant
// collection. A failure here is a warning, not an error; 'repovec ingest'
// retries collection creation on every run.
func initVectorCollection(cfg *Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	info, err := bootstrap.InitProject(ctx, bootstrap.ProjectConfig{
		ProjectID: cfg.ProjectID,
		Index:     cfg.Index,
		Dimension: cfg.Dimension(),
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot prepare vector collection: %v\n", err)
		fmt.Fprintln(os.Stderr, "         'repovec ingest' will retry once Qdrant is reachable.")
		return
	}
	fmt.Printf("Collection %q ready (dimension %d)\n", info.Collection, info.Dimension)
}

func printNextSteps() {
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Review and edit .repovec/project.yaml if needed")
	fmt.Println("  2. Run 'repovec ingest' to ingest your repository")
	fmt.Println("  3. Run 'repovec search \"<query>\"' to search it")
}

// sanitizeProjectID lowercases a directory name and replaces characters the
// project ID pattern rejects.
func sanitizeProjectID(name string) string {
	name = strings.ToLower(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-_")
	if out == "" {
		out = "repo"
	}
	return out
}

// prompt displays an interactive prompt and reads user input from stdin.
// If the user presses Enter without providing input, the defaultValue is
// returned.
func prompt(reader *bufio.Reader, label, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", label, defaultValue)
	} else {
		fmt.Printf("%s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultValue
	}
	return input
}

// addToGitignore adds .repovec/ to the project's .gitignore file if not
// already present. If .gitignore does not exist or cannot be modified, the
// function silently returns.
func addToGitignore(dir string) {
	gitignorePath := filepath.Join(dir, ".gitignore")

	content, err := os.ReadFile(gitignorePath) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == ".repovec/" || line == ".repovec" || line == "/.repovec/" || line == "/.repovec" {
			return // Already present
		}
	}

	f, err := os.OpenFile(gitignorePath, os.O_APPEND|os.O_WRONLY, 0600) //nolint:gosec // G304: gitignorePath built from repo dir
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	if len(content) > 0 && content[len(content)-1] != '\n' {
		_, _ = f.WriteString("\n")
	}

	_, _ = f.WriteString("\n# repovec configuration\n.repovec/\n")
	fmt.Println("Added .repovec/ to .gitignore")
}
