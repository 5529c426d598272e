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

// Package ingest orchestrates repository ingestion end to end: loading a
// repository from a git URL or local path, chunking its files, embedding
// the chunks, and upserting them into the vector index.
//
// The pipeline is checkpointed. Progress is recorded as a file cursor
// that only advances after a window of files has been fully indexed, so
// an interrupted run resumes at the last committed window instead of
// starting over. Failed runs are retried up to a dead-letter threshold.
//
// Resource pressure is handled by a Monitor that samples memory and disk
// between windows, and per-organization consumption is tracked by a
// quota Ledger that gates job admission.
package ingest
