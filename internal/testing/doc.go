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

// Package testing provides test helpers for repovec integration tests.
//
// The two central pieces are FakeIndex, an in-memory Qdrant lookalike
// served over httptest, and WriteRepo, which materializes repository
// fixtures on disk. Together they let ingestion tests run end to end
// without Docker or a live vector store.
//
// # Quick Start
//
//	import rvtest "github.com/kraklabs/repovec/internal/testing"
//
//	func TestMyFeature(t *testing.T) {
//	    fake := rvtest.NewFakeIndex(t)
//	    root := rvtest.WriteRepo(t, map[string]string{
//	        "main.go": "package main\n",
//	    })
//
//	    client := vecstore.New(vecstore.Config{BaseURL: fake.URL()}, nil)
//	    // Ingest root, then assert on fake.Count(projectID)...
//	}
//
// FakeIndex implements the subset of the Qdrant HTTP API the vecstore
// client uses: collection and payload-index creation, point upsert,
// filtered search, filtered delete, and exact count. FailNextUpserts
// injects write failures for resume and retry tests.
package testing
