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
// Package main implements the repovec CLI for ingesting repositories into
// a vector index and searching them semantically.
//
// Usage:
//
//	repovec init                    Create .repovec/project.yaml configuration
//	repovec ingest                  Ingest the current repository
//	repovec status [--json]         Show project status
//	repovec search <query> [--json] Search the project's indexed chunks
//	repovec reset --yes             Delete the project's indexed data
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kraklabs/repovec/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags carries flags that apply to every command.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
}

// main is the entry point for the repovec CLI.
//
// It parses global flags and dispatches to command handlers.
//
// Global flags:
//   - --version: Display version information and exit
//   - --config: Path to .repovec/project.yaml configuration file
//   - --json: Machine-readable output where supported
//   - --quiet: Suppress progress output
//   - --no-color: Disable colored output
//
// Commands:
//   - init: Create .repovec/project.yaml configuration
//   - ingest: Ingest the current repository into the vector index
//   - status: Show project status
//   - search: Search the project's indexed chunks
//   - reset: Delete the project's indexed data (destructive!)
func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version and exit")
		configPath  = flag.String("config", "", "Path to .repovec/project.yaml (default: ./.repovec/project.yaml)")
		jsonOut     = flag.Bool("json", false, "Machine-readable output where supported")
		quiet       = flag.Bool("quiet", false, "Suppress progress output")
		noColor     = flag.Bool("no-color", false, "Disable colored output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repovec - repository vector ingestion

repovec chunks a repository into semantic units, embeds them, and indexes
the vectors in Qdrant so that code and documentation can be searched by
meaning instead of keywords.

Usage:
  repovec <command> [options]

Commands:
  init        Create .repovec/project.yaml configuration
  ingest      Ingest the current repository into the vector index
  status      Show project status
  search      Search the project's indexed chunks
  reset       Delete the project's indexed data (destructive!)
  completion  Generate shell completion script (bash|zsh|fish)

Global Options:
  --config      Path to .repovec/project.yaml
  --json        Machine-readable output where supported
  --quiet       Suppress progress output
  --no-color    Disable colored output
  --version     Show version and exit

Examples:
  repovec init                           Create configuration
  repovec ingest                         Ingest current repository
  repovec ingest --reingest              Wipe and rebuild the index
  repovec status --json                  Output status as JSON
  repovec search "retry with backoff"    Find chunks by meaning
  repovec search "auth flow" --answer    Synthesize an answer with an LLM

Getting Started:
  1. Initialize configuration:  repovec init
  2. Ingest your repository:    repovec ingest
  3. Check progress:            repovec status
  4. Search:                    repovec search "how are errors retried"

Environment Variables:
  OLLAMA_BASE_URL    Ollama URL (default: http://localhost:11434)
  OLLAMA_EMBED_MODEL Embedding model (default: nomic-embed-text)
  OPENAI_API_KEY     OpenAI API key (openai provider)

For detailed command help: repovec <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("repovec version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	globals := GlobalFlags{JSON: *jsonOut, Quiet: *quiet || *jsonOut, NoColor: *noColor}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs)
	case "ingest":
		runIngest(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "search":
		runSearch(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	case "completion":
		runCompletion(cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
