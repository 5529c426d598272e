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

package testing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// FakePoint is one stored vector point in the fake index.
type FakePoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// FakeIndex is an in-memory stand-in for the Qdrant HTTP API, enough of it
// for the ingestion pipeline and the vecstore client to run end to end:
// collection creation, upsert, filtered search, filtered delete, and count.
//
// Example:
//
//	func TestMyFeature(t *testing.T) {
//	    fake := testing.NewFakeIndex(t)
//	    client := vecstore.New(vecstore.Config{BaseURL: fake.URL()}, nil)
//
//	    // Run your tests against client...
//	}
type FakeIndex struct {
	mu             sync.Mutex
	points         map[string]FakePoint
	upsertFailures int
	upsertCalls    int

	srv *httptest.Server
}

// NewFakeIndex starts a fake index server. The server is shut down when the
// test finishes.
func NewFakeIndex(t *testing.T) *FakeIndex {
	t.Helper()

	f := &FakeIndex{points: make(map[string]FakePoint)}
	f.srv = httptest.NewServer(f.handler())
	t.Cleanup(f.srv.Close)
	return f
}

// URL returns the fake server's base URL for a vecstore.Config.
func (f *FakeIndex) URL() string { return f.srv.URL }

// FailNextUpserts makes the next n upsert requests fail with a 500 before
// the fake starts accepting writes again. Used to test retry and resume
// behavior.
func (f *FakeIndex) FailNextUpserts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertFailures = n
}

// UpsertCalls returns how many upsert requests the fake has received,
// including failed ones.
func (f *FakeIndex) UpsertCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upsertCalls
}

// Count returns the number of stored points belonging to a project.
func (f *FakeIndex) Count(projectID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.countLocked(projectID)
}

func (f *FakeIndex) countLocked(projectID string) int {
	n := 0
	for _, p := range f.points {
		if p.Payload["project_id"] == projectID {
			n++
		}
	}
	return n
}

// Point returns a stored point by ID.
func (f *FakeIndex) Point(id string) (FakePoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.points[id]
	return p, ok
}

// filterBody is the subset of Qdrant's filter syntax the clients send.
type filterBody struct {
	Must []struct {
		Key   string `json:"key"`
		Match struct {
			Value string `json:"value"`
		} `json:"match"`
	} `json:"must"`
}

func (fb filterBody) project() string {
	for _, m := range fb.Must {
		if m.Key == "project_id" {
			return m.Match.Value
		}
	}
	return ""
}

func (f *FakeIndex) handler() http.Handler {
	ok := func(w http.ResponseWriter, result any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result, "time": 0.001})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		ok(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/index", func(w http.ResponseWriter, r *http.Request) {
		ok(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.upsertCalls++
		if f.upsertFailures > 0 {
			f.upsertFailures--
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": map[string]any{"error": "write queue full"},
			})
			return
		}
		var body struct {
			Points []FakePoint `json:"points"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		ok(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Limit  int        `json:"limit"`
			Filter filterBody `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		project := body.Filter.project()
		f.mu.Lock()
		var hits []map[string]any
		for _, p := range f.points {
			if p.Payload["project_id"] != project {
				continue
			}
			hits = append(hits, map[string]any{"id": p.ID, "score": 0.9, "payload": p.Payload})
			if len(hits) >= body.Limit {
				break
			}
		}
		f.mu.Unlock()
		ok(w, hits)
	})
	mux.HandleFunc("POST /collections/{name}/points/delete", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter filterBody `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		project := body.Filter.project()
		f.mu.Lock()
		for id, p := range f.points {
			if p.Payload["project_id"] == project {
				delete(f.points, id)
			}
		}
		f.mu.Unlock()
		ok(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filter filterBody `json:"filter"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		count := f.countLocked(body.Filter.project())
		f.mu.Unlock()
		ok(w, map[string]any{"count": count})
	})
	return mux
}

// WriteRepo materializes a repository fixture on disk under a temp
// directory and returns its root. Keys are slash-separated relative paths.
//
// Example:
//
//	root := testing.WriteRepo(t, map[string]string{
//	    "main.go":       "package main\n",
//	    "pkg/util/u.go": "package util\n",
//	})
func WriteRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatalf("mkdir %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}
