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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repovec/internal/errors"
	"github.com/kraklabs/repovec/internal/output"
	"github.com/kraklabs/repovec/internal/ui"
	"github.com/kraklabs/repovec/pkg/chunk"
	"github.com/kraklabs/repovec/pkg/embed"
	"github.com/kraklabs/repovec/pkg/ingest"
	"github.com/kraklabs/repovec/pkg/limiter"
	"github.com/kraklabs/repovec/pkg/vecstore"
)

// runIngest executes the 'ingest' CLI command, ingesting the configured
// repository into the vector index.
//
// It walks the repository, chunks each file into semantic units, embeds
// the chunks, and upserts the vectors into Qdrant. Progress is checkpointed
// so an interrupted run resumes where it left off.
//
// Flags:
//   - --reingest: Delete the project's points and checkpoint, then rebuild
//   - --embed-workers: Number of parallel embedding workers
//   - --debug: Enable debug logging
//   - --metrics-addr: HTTP address for Prometheus metrics (default: disabled)
//
// Examples:
//
//	repovec ingest                  Ingest (resumes an interrupted run)
//	repovec ingest --reingest       Wipe and rebuild from scratch
//	repovec ingest --embed-workers 8
func runIngest(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	reingest := fs.Bool("reingest", false, "Delete the project's indexed data and rebuild")
	embedWorkers := fs.Int("embed-workers", 0, "Number of parallel embedding workers (0 = default)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	metricsAddr := fs.String("metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repovec ingest [options]

Ingests the configured repository using .repovec/project.yaml.
Checkpoints are stored in ~/.repovec/checkpoints/ so interrupted runs
resume at the last committed file window.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load project configuration",
			err.Error(),
			"Run 'repovec init' to create one",
			err,
		), globals.JSON)
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// One ingest per project per machine.
	lock, err := NewIngestLock(cfg.ProjectID)
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot create ingest lock", err.Error(), "", err), globals.JSON)
	}
	acquired, err := lock.TryAcquire()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot acquire ingest lock", err.Error(), "", err), globals.JSON)
	}
	if !acquired {
		info, _ := lock.HolderInfo()
		cause := "Another ingest is already running for this project"
		if info != nil {
			cause = fmt.Sprintf("Another ingest (pid %d, started %s) is running for this project",
				info.PID, info.StartedAt.Format(time.RFC3339))
		}
		errors.FatalError(errors.NewInputError(
			"Ingest already in progress", cause, "Wait for it to finish or kill the stale process"),
			globals.JSON)
	}
	defer lock.Release()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: *metricsAddr, Handler: mux}
			logger.Info("metrics.http.start", "addr", *metricsAddr, "path", "/metrics")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics.http.error", "err", err)
			}
		}()
	}

	// Graceful shutdown: the checkpoint makes an interrupt resumable.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	pipeline, cleanup, err := buildPipeline(cfg, *embedWorkers, logger, globals)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	defer cleanup()

	logger.Info("ingest.starting",
		"project_id", cfg.ProjectID,
		"source", cfg.Source.Value,
		"embedding_provider", cfg.Embedding.Provider,
		"index", cfg.Index.BaseURL,
	)

	var result *ingest.RunResult
	if *reingest {
		result, err = pipeline.Reingest(ctx)
	} else {
		result, err = pipeline.Run(ctx)
	}
	if err != nil {
		errors.FatalError(errors.NewIndexError(
			"Ingestion failed",
			err.Error(),
			"Fix the cause and rerun; progress up to the last checkpoint is kept",
			err,
		), globals.JSON)
	}

	printIngestResult(result, globals)
}

// buildPipeline assembles the ingestion pipeline from configuration. The
// returned cleanup closes the loader's temp directories.
func buildPipeline(cfg *Config, embedWorkers int, logger *slog.Logger, globals GlobalFlags) (*ingest.Pipeline, func(), error) {
	applyEmbeddingEnv(cfg)

	provider, err := embed.NewProvider(cfg.Embedding.Provider, cfg.Dimension(), logger)
	if err != nil {
		return nil, nil, errors.NewConfigError(
			"Cannot create embedding provider", err.Error(),
			"Check embedding.provider in .repovec/project.yaml", err)
	}

	limits := cfg.Limits
	if embedWorkers > 0 {
		limits.EmbeddingSlots = embedWorkers
	}
	lim := limiter.New(limits)

	var budget *limiter.TokenBudget
	if cfg.Embedding.TokensPerMinute > 0 {
		budget = limiter.NewTokenBudget(cfg.Embedding.TokensPerMinute)
	}

	embedder, err := embed.NewPipeline(embed.PipelineConfig{
		Provider:  provider,
		Dimension: cfg.Dimension(),
		CacheSize: cfg.Embedding.CacheSize,
		Retry:     embed.DefaultRetryConfig(),
		Pool:      lim.Embedding,
		Budget:    budget,
		Breaker:   embed.NewBreaker(0, 0, logger),
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, errors.NewInternalError(
			"Cannot create embedding pipeline", err.Error(), "", err)
	}

	cpDir, err := checkpointDir()
	if err != nil {
		return nil, nil, errors.NewInternalError(
			"Cannot locate checkpoint directory", err.Error(), "", err)
	}

	chunker := chunk.NewChunker(chunk.Config{
		MaxChunkTokens: cfg.Indexing.MaxChunkTokens,
		MinChunkTokens: cfg.Indexing.MinChunkTokens,
		OverlapTokens:  cfg.Indexing.OverlapTokens,
	}, logger)

	loader := ingest.NewLoader(logger)

	idxCfg := cfg.Index
	if idxCfg.Dimension == 0 {
		idxCfg.Dimension = cfg.Dimension()
	}

	progress := NewProgressConfig(globals)
	var onProgress func(done, total int)
	if progress.Enabled {
		var bar *progressbar.ProgressBar
		onProgress = func(done, total int) {
			if bar == nil {
				bar = NewProgressBar(progress, int64(total), "ingesting")
			}
			_ = bar.Set(done)
		}
	}

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		ProjectID:    cfg.ProjectID,
		OrgID:        cfg.OrgID,
		Source:       cfg.Source,
		ExcludeGlobs: cfg.Indexing.Exclude,
		MaxFileSize:  cfg.Indexing.MaxFileSize,
		Dimension:    cfg.Dimension(),
		Chunker:      chunker,
		Embedder:     embedder,
		Index:        vecstore.New(idxCfg, logger),
		Checkpoints:  ingest.NewCheckpointManager(ingest.NewFileCheckpointStore(cpDir)),
		Limiter:      lim,
		Monitor:      ingest.NewMonitor(cfg.Monitor, logger),
		Quota:        ingest.NewLedger(ingest.NewMemoryQuotaStore()),
		Loader:       loader,
		Logger:       logger,
		OnProgress:   onProgress,
	})

	cleanup := func() { _ = loader.Close() }
	return pipeline, cleanup, nil
}

// IngestResult is the JSON shape of an ingest run summary.
type IngestResult struct {
	ProjectID      string `json:"project_id"`
	Resumed        bool   `json:"resumed"`
	FilesProcessed int    `json:"files_processed"`
	ChunksIndexed  int    `json:"chunks_indexed"`
	ChunksSkipped  int    `json:"chunks_skipped"`
	CacheHits      int    `json:"cache_hits"`
	TokensUsed     int    `json:"tokens_used"`
	DurationMS     int64  `json:"duration_ms"`
}

// printIngestResult reports the run summary.
func printIngestResult(res *ingest.RunResult, globals GlobalFlags) {
	if globals.JSON {
		_ = output.JSON(&IngestResult{
			ProjectID:      res.ProjectID,
			Resumed:        res.Resumed,
			FilesProcessed: res.FilesProcessed,
			ChunksIndexed:  res.ChunksIndexed,
			ChunksSkipped:  res.ChunksSkipped,
			CacheHits:      res.CacheHits,
			TokensUsed:     res.TokensUsed,
			DurationMS:     res.Duration.Milliseconds(),
		})
		return
	}

	ui.Successf("Ingested %d files (%d chunks) in %s",
		res.FilesProcessed, res.ChunksIndexed, res.Duration.Round(time.Millisecond))
	if res.Resumed {
		ui.Info("Resumed from a previous checkpoint")
	}
	if res.ChunksSkipped > 0 {
		ui.Warningf("Skipped %d chunks", res.ChunksSkipped)
	}
	if res.CacheHits > 0 {
		fmt.Printf("  Embedding cache hits: %s\n", ui.CountText(res.CacheHits))
	}
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  repovec status              Check the index")
	fmt.Println("  repovec search \"<query>\"    Search by meaning")
}
