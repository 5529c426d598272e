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
	"flag"
	"fmt"
	"os"
	"time"

	"log/slog"

	"github.com/kraklabs/repovec/internal/output"
	"github.com/kraklabs/repovec/internal/ui"
	"github.com/kraklabs/repovec/pkg/ingest"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

// StatusResult represents the project status for JSON output.
type StatusResult struct {
	ProjectID      string    `json:"project_id"`
	Collection     string    `json:"collection"`
	Connected      bool      `json:"connected"`
	IndexedPoints  int       `json:"indexed_points"`
	Phase          string    `json:"phase,omitempty"`
	FilesProcessed int       `json:"files_processed,omitempty"`
	TotalFiles     int       `json:"total_files,omitempty"`
	ChunksIndexed  int       `json:"chunks_indexed,omitempty"`
	RetryCount     int       `json:"retry_count,omitempty"`
	LastUpdate     string    `json:"last_update,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// runStatus executes the 'status' CLI command, displaying project index state.
//
// It combines two sources: the local checkpoint (ingestion progress, phase,
// retries) and the vector store (how many points the project actually has).
// This helps users verify an ingest completed and see how far an interrupted
// one got.
//
// Examples:
//
//	repovec status           Display formatted status
//	repovec status --json    Output as JSON for programmatic use
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec status [options]

Shows checkpoint progress and indexed point counts.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	asJSON := *jsonOutput || globals.JSON

	cfg, err := LoadConfig(configPath)
	if err != nil {
		if asJSON {
			_ = output.JSON(&StatusResult{Connected: false, Error: err.Error(), Timestamp: time.Now()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	result := &StatusResult{
		ProjectID:  cfg.ProjectID,
		Collection: cfg.Index.Collection,
		Timestamp:  time.Now(),
	}

	// Checkpoint first; it is local and cannot fail on network.
	if cpDir, err := checkpointDir(); err == nil {
		cp, err := ingest.NewFileCheckpointStore(cpDir).Load(cfg.ProjectID)
		if err == nil && cp != nil {
			result.Phase = string(cp.Phase)
			result.FilesProcessed = cp.FilesProcessed
			result.TotalFiles = cp.TotalFiles
			result.ChunksIndexed = cp.ChunksIndexed
			result.RetryCount = cp.RetryCount
			result.LastUpdate = cp.LastUpdateTime
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := vecstore.New(cfg.Index, logger)
	count, err := client.CountByProject(ctx, cfg.ProjectID)
	if err != nil {
		result.Connected = false
		result.Error = fmt.Sprintf("Cannot reach the vector index: %v", err)
	} else {
		result.Connected = true
		result.IndexedPoints = count
	}

	if asJSON {
		_ = output.JSON(result)
		if !result.Connected {
			os.Exit(1)
		}
		return
	}

	printStatus(result)
	if !result.Connected {
		os.Exit(1)
	}
}

// printStatus prints the status result as formatted text to stdout.
func printStatus(result *StatusResult) {
	ui.Header("Repovec Project Status")
	fmt.Printf("Project ID:    %s\n", result.ProjectID)
	fmt.Printf("Collection:    %s\n", result.Collection)
	fmt.Println()

	if result.Phase == "" {
		fmt.Println("No checkpoint found. Run 'repovec ingest' to ingest the repository.")
	} else {
		fmt.Println("Last ingest:")
		fmt.Printf("  Phase:         %s\n", result.Phase)
		fmt.Printf("  Files:         %d / %d\n", result.FilesProcessed, result.TotalFiles)
		fmt.Printf("  Chunks:        %d\n", result.ChunksIndexed)
		if result.RetryCount > 0 {
			fmt.Printf("  Retries:       %d\n", result.RetryCount)
		}
		if result.LastUpdate != "" {
			fmt.Printf("  Last update:   %s\n", result.LastUpdate)
		}
	}

	fmt.Println()
	if result.Connected {
		fmt.Printf("Indexed points: %d\n", result.IndexedPoints)
	}

	if result.Error != "" {
		fmt.Printf("\nWarning: %s\n", result.Error)
	}
}
