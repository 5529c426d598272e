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

package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Phase is the ingestion state machine position recorded in a checkpoint.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseExtracting Phase = "extracting"
	PhaseChunking   Phase = "chunking"
	PhaseEmbedding  Phase = "embedding"
	PhaseIndexing   Phase = "indexing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// DeadLetterThreshold is how many failed attempts a job gets before it
// stays Failed for good.
const DeadLetterThreshold = 3

// Checkpoint tracks ingestion progress for restartability. Counters are
// monotonically non-decreasing across saves of the same run.
type Checkpoint struct {
	ProjectID            string `json:"project_id"`
	Phase                Phase  `json:"phase"`
	LastFileIndex        int    `json:"last_file_index"`
	LastChunkOffset      int    `json:"last_chunk_offset"`
	TotalFiles           int    `json:"total_files"`
	FilesProcessed       int    `json:"files_processed"`
	ChunksIndexed        int    `json:"chunks_indexed"`
	EmbeddingsCreated    int    `json:"embeddings_created"`
	ChunksSkipped        int    `json:"chunks_skipped"`
	TokensProcessed      int    `json:"tokens_processed"`
	EstimatedTotalTokens int    `json:"estimated_total_tokens,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
	RetryCount           int    `json:"retry_count"`
	StartTime            string `json:"start_time"`
	LastUpdateTime       string `json:"last_update_time"`

	// Resume carries phase-specific state opaque to the store.
	Resume json.RawMessage `json:"resume,omitempty"`
}

// CheckpointStore persists one active checkpoint per project.
type CheckpointStore interface {
	Load(projectID string) (*Checkpoint, error)
	Save(cp *Checkpoint) error
	Clear(projectID string) error
}

// FileCheckpointStore keeps checkpoints as JSON files in one directory.
type FileCheckpointStore struct {
	dir string
}

// NewFileCheckpointStore creates a file-backed store rooted at dir.
func NewFileCheckpointStore(dir string) *FileCheckpointStore {
	return &FileCheckpointStore{dir: dir}
}

// Load reads a project's checkpoint. Returns (nil, nil) when none exists.
func (s *FileCheckpointStore) Load(projectID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	return &cp, nil
}

// Save writes atomically (temp file + rename) so a crash mid-write never
// leaves a torn checkpoint behind.
func (s *FileCheckpointStore) Save(cp *Checkpoint) error {
	path := s.path(cp.ProjectID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Clear removes a project's checkpoint file.
func (s *FileCheckpointStore) Clear(projectID string) error {
	if err := os.Remove(s.path(projectID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) path(projectID string) string {
	if s.dir != "" {
		return filepath.Join(s.dir, fmt.Sprintf("checkpoint-%s.json", projectID))
	}
	return fmt.Sprintf("checkpoint-%s.json", projectID)
}

// Default flush policy: persist after this many files or this much wall
// time, whichever comes first.
const (
	DefaultFlushEveryFiles = 10
	DefaultFlushInterval   = 15 * time.Second
)

// CheckpointManager wraps a store with the flush policy and run
// bookkeeping. Not safe for concurrent use; the pipeline drives it from
// one goroutine.
type CheckpointManager struct {
	store      CheckpointStore
	everyFiles int
	interval   time.Duration
	now        func() time.Time

	cp             *Checkpoint
	filesSinceSave int
	lastSave       time.Time
}

// NewCheckpointManager creates a manager over the store with the default
// flush policy.
func NewCheckpointManager(store CheckpointStore) *CheckpointManager {
	return &CheckpointManager{
		store:      store,
		everyFiles: DefaultFlushEveryFiles,
		interval:   DefaultFlushInterval,
		now:        time.Now,
	}
}

// SetFlushPolicy overrides how often progress is persisted.
func (m *CheckpointManager) SetFlushPolicy(everyFiles int, interval time.Duration) {
	if everyFiles > 0 {
		m.everyFiles = everyFiles
	}
	if interval > 0 {
		m.interval = interval
	}
}

// Checkpoint returns the active checkpoint, nil before Begin/Resume.
func (m *CheckpointManager) Checkpoint() *Checkpoint { return m.cp }

// Begin starts a fresh run. If a prior non-terminal checkpoint exists it
// is returned for resumption instead of being overwritten; a Failed
// checkpoint under the dead-letter threshold rolls back to Pending with
// its retry count bumped.
func (m *CheckpointManager) Begin(projectID string) (resumed bool, err error) {
	prior, err := m.store.Load(projectID)
	if err != nil {
		return false, err
	}

	nowStr := m.now().UTC().Format(time.RFC3339)
	switch {
	case prior == nil || prior.Phase == PhaseCompleted:
		m.cp = &Checkpoint{
			ProjectID:      projectID,
			Phase:          PhasePending,
			StartTime:      nowStr,
			LastUpdateTime: nowStr,
		}
	case prior.Phase == PhaseFailed:
		if prior.RetryCount >= DeadLetterThreshold {
			return false, fmt.Errorf("project %s is dead-lettered after %d attempts: %s",
				projectID, prior.RetryCount, prior.ErrorMessage)
		}
		prior.Phase = PhasePending
		prior.RetryCount++
		prior.ErrorMessage = ""
		prior.LastUpdateTime = nowStr
		m.cp = prior
		resumed = true
	default:
		prior.LastUpdateTime = nowStr
		m.cp = prior
		resumed = true
	}

	m.lastSave = m.now()
	m.filesSinceSave = 0
	return resumed, m.store.Save(m.cp)
}

// EnterPhase records a phase transition and persists immediately. The
// file cursor is left alone; it only advances when a file window commits.
func (m *CheckpointManager) EnterPhase(p Phase) error {
	m.cp.Phase = p
	m.cp.LastChunkOffset = 0
	return m.Flush()
}

// FileDone advances the cursor past one processed file and persists when
// the flush policy says so.
func (m *CheckpointManager) FileDone(fileIndex int) error {
	m.cp.LastFileIndex = fileIndex + 1
	m.cp.FilesProcessed++
	m.filesSinceSave++

	if m.filesSinceSave >= m.everyFiles || m.now().Sub(m.lastSave) >= m.interval {
		return m.Flush()
	}
	return nil
}

// Flush persists the checkpoint unconditionally.
func (m *CheckpointManager) Flush() error {
	m.cp.LastUpdateTime = m.now().UTC().Format(time.RFC3339)
	if err := m.store.Save(m.cp); err != nil {
		return err
	}
	m.lastSave = m.now()
	m.filesSinceSave = 0
	return nil
}

// Complete marks the run finished and persists.
func (m *CheckpointManager) Complete() error {
	m.cp.Phase = PhaseCompleted
	return m.Flush()
}

// Fail records a job-level failure and persists. The retry count is not
// bumped here; it advances when a later run picks the job back up.
func (m *CheckpointManager) Fail(cause error) error {
	m.cp.Phase = PhaseFailed
	m.cp.ErrorMessage = cause.Error()
	return m.Flush()
}
