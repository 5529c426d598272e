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

	"github.com/kraklabs/repovec/pkg/ingest"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")
	keepIndex := fs.Bool("keep-index", false, "Clear only the local checkpoint, leave indexed points")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec reset [options]

Deletes the project's points from the vector index and clears the local
checkpoint, so the next ingest starts from a clean slate.

WARNING: This operation is destructive and cannot be undone!

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if !*confirm {
		fmt.Fprintf(os.Stderr, "Error: you must pass --yes to confirm the reset\n")
		fmt.Fprintf(os.Stderr, "This will delete all indexed data for the project.\n")
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if !*keepIndex {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		client := vecstore.New(cfg.Index, logger)
		fmt.Printf("Deleting points for project %s from %q...\n", cfg.ProjectID, client.Collection())
		if err := client.DeleteByProject(ctx, cfg.ProjectID); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to delete points: %v\n", err)
			os.Exit(1)
		}
	}

	cpDir, err := checkpointDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot locate checkpoint directory: %v\n", err)
		os.Exit(1)
	}
	if err := ingest.NewFileCheckpointStore(cpDir).Clear(cfg.ProjectID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to clear checkpoint: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Reset complete.")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  repovec ingest    Rebuild the index")
}
