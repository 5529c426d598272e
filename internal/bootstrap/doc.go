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

// Package bootstrap handles repovec project initialization and setup.
//
// This internal package prepares everything a project needs before its
// first ingest: the local state directory holding checkpoints and the
// ingest lock, and the Qdrant collection the project's chunks go to.
//
// # Initialization Workflow
//
// A typical workflow for setting up a new project:
//
//	info, err := bootstrap.InitProject(ctx, bootstrap.ProjectConfig{
//	    ProjectID: "myproject",
//	    Index:     vecstore.Config{BaseURL: "http://localhost:6333"},
//	    Dimension: 768,
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Collection ready: %s\n", info.Collection)
//
// # Idempotency
//
// InitProject is idempotent: calling it multiple times on the same project
// is safe and will not corrupt existing data. This makes it suitable for
// use in scripts and automated workflows.
//
// # Configuration
//
// ProjectConfig controls the initialization behavior:
//
//   - ProjectID: Required. Logical identifier for the project.
//   - StateDir: Optional. Where checkpoints and locks live. Defaults to ~/.repovec.
//   - Index: The vector store to create the collection in.
//   - Dimension: Optional. Embedding vector size. Defaults to 768.
//
// # Project Discovery
//
// List projects that have a checkpoint in the default state directory:
//
//	projects, err := bootstrap.ListProjects()
//	for _, id := range projects {
//	    fmt.Println(id)
//	}
package bootstrap
