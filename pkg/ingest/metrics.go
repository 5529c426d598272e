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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngest holds Prometheus metrics for the ingestion subsystem.
type metricsIngest struct {
	once sync.Once

	filesProcessed prometheus.Counter
	filesSkipped   prometheus.Counter

	chunksCreated prometheus.Counter
	chunksSkipped prometheus.Counter

	embedComputed  prometheus.Counter
	embedCacheHits prometheus.Counter
	embedErrors    prometheus.Counter
	embedRetries   prometheus.Counter
	embedDimFixed  prometheus.Counter

	pointsIndexed prometheus.Counter
	upsertBatches prometheus.Counter

	checkpointSaves prometheus.Counter
	monitorPauses   prometheus.Counter
	quotaRejections prometheus.Counter

	chunkDuration prometheus.Histogram
	embedDuration prometheus.Histogram
	indexDuration prometheus.Histogram
	totalDuration prometheus.Histogram
}

var ingMetrics metricsIngest

func (m *metricsIngest) init() {
	m.once.Do(func() {
		m.filesProcessed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_files_processed_total", Help: "Files fully processed"})
		m.filesSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_files_skipped_total", Help: "Files skipped by filters or errors"})

		m.chunksCreated = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_chunks_created_total", Help: "Chunks produced by the chunker"})
		m.chunksSkipped = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_chunks_skipped_total", Help: "Chunks dropped by errors or filters"})

		m.embedComputed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_embeddings_computed_total", Help: "Embeddings computed by providers"})
		m.embedCacheHits = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_embeddings_cache_hits_total", Help: "Embeddings served from the content cache"})
		m.embedErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_embeddings_errors_total", Help: "Embedding provider errors after retries"})
		m.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_embeddings_retries_total", Help: "Embedding retries"})
		m.embedDimFixed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_embeddings_dim_fixed_total", Help: "Vectors padded or truncated to the index dimension"})

		m.pointsIndexed = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_points_indexed_total", Help: "Points upserted into the vector index"})
		m.upsertBatches = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_upsert_batches_total", Help: "Upsert batches sent to the vector index"})

		m.checkpointSaves = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_checkpoint_saves_total", Help: "Checkpoint persists"})
		m.monitorPauses = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_monitor_pauses_total", Help: "Pipeline pauses due to memory pressure"})
		m.quotaRejections = prometheus.NewCounter(prometheus.CounterOpts{Name: "repovec_ing_quota_rejections_total", Help: "Jobs rejected by quota"})

		buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
		m.chunkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repovec_ing_chunk_seconds", Help: "Chunking duration per file", Buckets: buckets})
		m.embedDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repovec_ing_embed_seconds", Help: "Embedding duration per batch", Buckets: buckets})
		m.indexDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repovec_ing_index_seconds", Help: "Upsert duration per batch", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "repovec_ing_total_seconds", Help: "Total run duration", Buckets: []float64{1, 5, 15, 60, 300, 900, 3600}})

		prometheus.MustRegister(
			m.filesProcessed, m.filesSkipped,
			m.chunksCreated, m.chunksSkipped,
			m.embedComputed, m.embedCacheHits, m.embedErrors, m.embedRetries, m.embedDimFixed,
			m.pointsIndexed, m.upsertBatches,
			m.checkpointSaves, m.monitorPauses, m.quotaRejections,
			m.chunkDuration, m.embedDuration, m.indexDuration, m.totalDuration,
		)
	})
}

// record helpers - used by the pipeline for metrics tracking
func recordFileProcessed()        { ingMetrics.init(); ingMetrics.filesProcessed.Inc() }
func recordChunksCreated(n int)   { ingMetrics.init(); ingMetrics.chunksCreated.Add(float64(n)) }
func recordChunksSkipped(n int)   { ingMetrics.init(); ingMetrics.chunksSkipped.Add(float64(n)) }
func recordEmbedComputed(n int)   { ingMetrics.init(); ingMetrics.embedComputed.Add(float64(n)) }
func recordEmbedCacheHits(n int)  { ingMetrics.init(); ingMetrics.embedCacheHits.Add(float64(n)) }
func recordEmbedErrors(n int)     { ingMetrics.init(); ingMetrics.embedErrors.Add(float64(n)) }
func recordEmbedRetries(n int)    { ingMetrics.init(); ingMetrics.embedRetries.Add(float64(n)) }
func recordEmbedDimFixed(n int)   { ingMetrics.init(); ingMetrics.embedDimFixed.Add(float64(n)) }
func recordPointsIndexed(n int)   { ingMetrics.init(); ingMetrics.pointsIndexed.Add(float64(n)) }
func recordUpsertBatch()          { ingMetrics.init(); ingMetrics.upsertBatches.Inc() }
func recordCheckpointSave()       { ingMetrics.init(); ingMetrics.checkpointSaves.Inc() }
func recordMonitorPause()         { ingMetrics.init(); ingMetrics.monitorPauses.Inc() }
func recordQuotaRejection()       { ingMetrics.init(); ingMetrics.quotaRejections.Inc() }
func observeTotalDuration(s float64) {
	ingMetrics.init()
	ingMetrics.totalDuration.Observe(s)
}
func observeChunkDuration(s float64) { ingMetrics.init(); ingMetrics.chunkDuration.Observe(s) }
func observeEmbedDuration(s float64) { ingMetrics.init(); ingMetrics.embedDuration.Observe(s) }
func observeIndexDuration(s float64) { ingMetrics.init(); ingMetrics.indexDuration.Observe(s) }
