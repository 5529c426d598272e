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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"log/slog"

	"github.com/kraklabs/repovec/pkg/chunk"
	"github.com/kraklabs/repovec/pkg/embed"
	"github.com/kraklabs/repovec/pkg/limiter"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

// WindowFiles is how many files one chunk-embed-index cycle covers. The
// checkpoint's file cursor advances only when a whole window has been
// indexed, so a crash mid-window replays at most this many files.
const WindowFiles = 25

// resumeState is the pipeline's payload in a checkpoint's Resume blob. It
// pins the file cursor to the file list it was taken against.
type resumeState struct {
	FileListHash string `json:"file_list_hash"`
}

// fileListFingerprint hashes the ordered file list. Any added, removed,
// renamed, or resized file changes it.
func fileListFingerprint(files []FileInfo) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "%s|%d\n", f.Path, f.Size)
	}
	return chunk.HashText(b.String())
}

// PipelineConfig wires a Pipeline together.
type PipelineConfig struct {
	ProjectID    string
	OrgID        string
	Source       Source
	ExcludeGlobs []string
	MaxFileSize  int64
	Dimension    int

	Chunker     *chunk.Chunker
	Embedder    *embed.Pipeline
	Index       *vecstore.Client
	Checkpoints *CheckpointManager
	Limiter     *limiter.Limiter
	Monitor     *Monitor
	Quota       *Ledger
	Loader      *Loader
	Logger      *slog.Logger

	// OnProgress, when set, receives per-file progress for the CLI bar.
	OnProgress func(done, total int)
}

// RunResult summarizes a completed ingestion.
type RunResult struct {
	ProjectID      string
	Resumed        bool
	FilesProcessed int
	ChunksIndexed  int
	ChunksSkipped  int
	CacheHits      int
	TokensUsed     int
	Duration       time.Duration
}

// Pipeline orchestrates one project's ingestion from repository source to
// vector index.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
}

// NewPipeline creates a pipeline. Chunker, Embedder, Index, Checkpoints,
// and Limiter are required; Monitor, Quota, and Loader get defaults.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Loader == nil {
		cfg.Loader = NewLoader(cfg.Logger)
	}
	if cfg.Monitor == nil {
		cfg.Monitor = NewMonitor(MonitorConfig{}, cfg.Logger)
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger}
}

// Run executes the ingestion state machine: admit, extract, then windows
// of chunk, embed, index, each committed to the checkpoint before the
// cursor moves on. Safe to re-run after a crash or failure; completed
// work is skipped via the file cursor and duplicate upserts are absorbed
// by deterministic point IDs.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	cm := p.cfg.Checkpoints

	if p.cfg.Quota != nil {
		if err := p.cfg.Quota.Admit(JobRequest{OrgID: p.cfg.OrgID}); err != nil {
			recordQuotaRejection()
			return nil, err
		}
		defer func() { _ = p.cfg.Quota.ReleaseJob(p.cfg.OrgID) }()
	}

	resumed, err := cm.Begin(p.cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	if resumed {
		p.logger.Info("ingest.resume",
			"project_id", p.cfg.ProjectID,
			"phase", cm.Checkpoint().Phase,
			"last_file_index", cm.Checkpoint().LastFileIndex,
			"retry_count", cm.Checkpoint().RetryCount,
		)
	}

	result, err := p.run(ctx, cm, resumed)
	if err != nil {
		if ferr := cm.Fail(err); ferr != nil {
			p.logger.Error("ingest.checkpoint.fail_save_error", "error", ferr)
		}
		return nil, err
	}

	result.Duration = time.Since(start)
	observeTotalDuration(result.Duration.Seconds())
	p.logger.Info("ingest.complete",
		"project_id", p.cfg.ProjectID,
		"files", result.FilesProcessed,
		"chunks_indexed", result.ChunksIndexed,
		"chunks_skipped", result.ChunksSkipped,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, cm *CheckpointManager, resumed bool) (*RunResult, error) {
	cp := cm.Checkpoint()

	if err := p.cfg.Index.EnsureCollection(ctx, p.cfg.Dimension); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	// Extraction always re-runs: the file list is cheap to rebuild and
	// the stable sort keeps the cursor meaningful across runs.
	if err := cm.EnterPhase(PhaseExtracting); err != nil {
		return nil, err
	}
	load, err := p.cfg.Loader.Load(p.cfg.Source, p.cfg.ExcludeGlobs, p.cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("load repository: %w", err)
	}
	if err := p.cfg.Monitor.AdmitJob(load.TotalSize); err != nil {
		return nil, err
	}

	cp.TotalFiles = len(load.Files)
	// Rough 4-bytes-per-token estimate, good enough for status reporting.
	cp.EstimatedTotalTokens = int(load.TotalSize / 4)
	startFile := cp.LastFileIndex
	if startFile > len(load.Files) {
		// Cursor points past the available data; the source shrank or the
		// checkpoint is stale. Restart the walk from the beginning.
		p.logger.Warn("ingest.resume.cursor_invalid",
			"last_file_index", startFile,
			"total_files", len(load.Files),
		)
		startFile = 0
		cp.LastFileIndex = 0
	}

	// The cursor is an index into the sorted file list, so it only means
	// something while the list it was taken against is the list we have
	// now. A changed fingerprint restarts the walk; idempotent upserts
	// absorb the replay.
	fingerprint := fileListFingerprint(load.Files)
	var rs resumeState
	if len(cp.Resume) > 0 && json.Unmarshal(cp.Resume, &rs) == nil {
		if startFile > 0 && rs.FileListHash != "" && rs.FileListHash != fingerprint {
			p.logger.Warn("ingest.resume.files_changed",
				"last_file_index", startFile,
				"total_files", len(load.Files),
			)
			startFile = 0
			cp.LastFileIndex = 0
		}
	}
	rs.FileListHash = fingerprint
	if blob, err := json.Marshal(rs); err == nil {
		cp.Resume = blob
	}

	if err := cm.Flush(); err != nil {
		return nil, err
	}

	result := &RunResult{ProjectID: p.cfg.ProjectID, Resumed: resumed}

	for windowStart := startFile; windowStart < len(load.Files); windowStart += WindowFiles {
		windowEnd := windowStart + WindowFiles
		if windowEnd > len(load.Files) {
			windowEnd = len(load.Files)
		}

		h, err := p.cfg.Monitor.Check()
		if err != nil {
			return nil, err
		}
		if h.Pause {
			recordMonitorPause()
			if err := p.cfg.Monitor.WaitUntilHealthy(ctx); err != nil {
				return nil, err
			}
		}
		if h.DiskLow {
			return nil, fmt.Errorf("disk headroom exhausted (%d bytes free)", h.FreeDiskBytes)
		}

		chunks, err := p.chunkWindow(ctx, cm, load, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}

		if err := p.embedWindow(ctx, cm, chunks, result); err != nil {
			return nil, err
		}

		if err := p.indexWindow(ctx, cm, chunks, result); err != nil {
			return nil, err
		}

		// Window committed: advance the cursor past every file in it.
		for i := windowStart; i < windowEnd; i++ {
			if err := cm.FileDone(i); err != nil {
				return nil, err
			}
			recordFileProcessed()
		}
		if err := cm.Flush(); err != nil {
			return nil, err
		}
		recordCheckpointSave()

		result.FilesProcessed = cp.FilesProcessed
		if p.cfg.OnProgress != nil {
			p.cfg.OnProgress(cp.LastFileIndex, len(load.Files))
		}
	}

	if err := cm.Complete(); err != nil {
		return nil, err
	}
	result.FilesProcessed = cp.FilesProcessed
	result.ChunksIndexed = cp.ChunksIndexed
	result.ChunksSkipped = cp.ChunksSkipped
	return result, nil
}

// chunkWindow reads and chunks one window of files. Reads go through the
// file IO pool; a file that cannot be read or chunked is skipped with a
// warning, never fatal.
func (p *Pipeline) chunkWindow(ctx context.Context, cm *CheckpointManager, load *LoadResult, from, to int) ([]chunk.Chunk, error) {
	if err := cm.EnterPhase(PhaseChunking); err != nil {
		return nil, err
	}
	cp := cm.Checkpoint()

	var out []chunk.Chunk
	for i := from; i < to; i++ {
		f := load.Files[i]

		release, err := p.cfg.Limiter.FileIO.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		content, readErr := os.ReadFile(f.FullPath)
		release()
		if readErr != nil {
			p.logger.Warn("ingest.chunk.read_error", "path", f.Path, "err", readErr)
			continue
		}

		chunkStart := time.Now()
		cs, err := p.cfg.Chunker.ChunkFile(f.Path, string(content), p.cfg.ProjectID)
		observeChunkDuration(time.Since(chunkStart).Seconds())
		if err != nil {
			p.logger.Warn("ingest.chunk.error", "path", f.Path, "err", err)
			cp.ChunksSkipped++
			recordChunksSkipped(1)
			continue
		}

		for _, c := range cs {
			cp.TokensProcessed += c.TokenCount
		}
		recordChunksCreated(len(cs))
		out = append(out, cs...)
	}
	return out, nil
}

// embedWindow embeds a window's chunks in place.
func (p *Pipeline) embedWindow(ctx context.Context, cm *CheckpointManager, chunks []chunk.Chunk, result *RunResult) error {
	if err := cm.EnterPhase(PhaseEmbedding); err != nil {
		return err
	}
	cp := cm.Checkpoint()

	embedStart := time.Now()
	stats, err := p.cfg.Embedder.EmbedChunks(ctx, chunks)
	observeEmbedDuration(time.Since(embedStart).Seconds())
	if err != nil {
		return fmt.Errorf("embed window: %w", err)
	}

	// Chunks that failed to embed keep an empty vector; the index layer
	// drops them and counts them in ChunksSkipped, so they are not
	// counted here as well.
	cp.EmbeddingsCreated += stats.Embedded
	result.CacheHits += stats.CacheHits
	result.TokensUsed += stats.TokensUsed

	recordEmbedComputed(stats.Embedded)
	recordEmbedCacheHits(stats.CacheHits)
	recordEmbedErrors(stats.Failed)
	recordEmbedRetries(stats.Retries)
	recordEmbedDimFixed(stats.DimFixed)

	if p.cfg.Quota != nil && stats.TokensUsed > 0 {
		if err := p.cfg.Quota.Consume(p.cfg.OrgID, int64(stats.TokensUsed)); err != nil {
			return err
		}
	}
	return nil
}

// indexWindow upserts a window's embedded chunks.
func (p *Pipeline) indexWindow(ctx context.Context, cm *CheckpointManager, chunks []chunk.Chunk, result *RunResult) error {
	if err := cm.EnterPhase(PhaseIndexing); err != nil {
		return err
	}
	cp := cm.Checkpoint()

	indexStart := time.Now()
	indexed, skipped, err := p.cfg.Index.UpsertChunks(ctx, chunks)
	observeIndexDuration(time.Since(indexStart).Seconds())
	if err != nil {
		return fmt.Errorf("index window: %w", err)
	}

	cp.ChunksIndexed += indexed
	cp.ChunksSkipped += skipped
	cp.LastChunkOffset = indexed
	result.ChunksIndexed = cp.ChunksIndexed
	result.ChunksSkipped = cp.ChunksSkipped

	recordPointsIndexed(indexed)
	recordUpsertBatch()
	return nil
}

// Reingest wipes the project's points and checkpoint and runs a fresh
// ingestion. A crash between delete and reindex heals on the next run
// because upserts are idempotent.
func (p *Pipeline) Reingest(ctx context.Context) (*RunResult, error) {
	if err := p.cfg.Index.DeleteByProject(ctx, p.cfg.ProjectID); err != nil {
		return nil, fmt.Errorf("delete project points: %w", err)
	}
	if err := p.cfg.Checkpoints.store.Clear(p.cfg.ProjectID); err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

// Search embeds the query and returns the project's nearest chunks.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]vecstore.SearchHit, error) {
	vec, err := p.cfg.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return p.cfg.Index.Query(ctx, p.cfg.ProjectID, vec, topK)
}
