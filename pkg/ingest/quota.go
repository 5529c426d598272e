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
	"fmt"
	"sync"
	"time"
)

// Quota is an organization's resource ceiling for one rolling period.
type Quota struct {
	OrgID             string `json:"org_id"`
	MaxCredits        int64  `json:"max_credits"`
	MaxStorageBytes   int64  `json:"max_storage_bytes"`
	MaxTokens         int64  `json:"max_tokens"`
	MaxConcurrentJobs int    `json:"max_concurrent_jobs"`
}

// Usage is what an organization has consumed in the current period.
type Usage struct {
	Credits      int64     `json:"credits"`
	StorageBytes int64     `json:"storage_bytes"`
	Tokens       int64     `json:"tokens"`
	ActiveJobs   int       `json:"active_jobs"`
	PeriodStart  time.Time `json:"period_start"`
}

// QuotaStore persists quotas and usage per organization.
type QuotaStore interface {
	GetQuota(orgID string) (*Quota, error)
	GetUsage(orgID string) (*Usage, error)
	PutUsage(orgID string, u *Usage) error
}

// MemoryQuotaStore is the in-memory QuotaStore used by the CLI and tests.
type MemoryQuotaStore struct {
	mu     sync.Mutex
	quotas map[string]*Quota
	usage  map[string]*Usage
}

// NewMemoryQuotaStore creates an empty in-memory store.
func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{
		quotas: make(map[string]*Quota),
		usage:  make(map[string]*Usage),
	}
}

// SetQuota registers an organization's quota.
func (s *MemoryQuotaStore) SetQuota(q *Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[q.OrgID] = q
}

func (s *MemoryQuotaStore) GetQuota(orgID string) (*Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotas[orgID]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

func (s *MemoryQuotaStore) GetUsage(orgID string) (*Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usage[orgID]
	if !ok {
		return &Usage{}, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryQuotaStore) PutUsage(orgID string, u *Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.usage[orgID] = &cp
	return nil
}

// QuotaPeriod is the rolling window after which consumable usage resets.
const QuotaPeriod = 30 * 24 * time.Hour

// Ledger enforces quotas. All check-and-reserve operations run under one
// mutex so concurrent jobs cannot double-spend.
type Ledger struct {
	mu    sync.Mutex
	store QuotaStore
	now   func() time.Time
}

// NewLedger creates a quota ledger over the store.
func NewLedger(store QuotaStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// JobRequest is what Admit reserves up front.
type JobRequest struct {
	OrgID          string
	EstimatedBytes int64
	Credits        int64
}

// Admit atomically checks the organization's quota and reserves a job
// slot plus the estimated storage and credits. Organizations without a
// registered quota are unlimited.
func (l *Ledger) Admit(req JobRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.store.GetQuota(req.OrgID)
	if err != nil {
		return err
	}
	if q == nil {
		return nil
	}

	u, err := l.loadCurrentUsage(req.OrgID)
	if err != nil {
		return err
	}

	if q.MaxConcurrentJobs > 0 && u.ActiveJobs >= q.MaxConcurrentJobs {
		return fmt.Errorf("quota: org %s at concurrent job limit (%d)", req.OrgID, q.MaxConcurrentJobs)
	}
	if q.MaxStorageBytes > 0 && u.StorageBytes+req.EstimatedBytes > q.MaxStorageBytes {
		return fmt.Errorf("quota: org %s storage limit exceeded (%d + %d > %d)",
			req.OrgID, u.StorageBytes, req.EstimatedBytes, q.MaxStorageBytes)
	}
	if q.MaxCredits > 0 && u.Credits+req.Credits > q.MaxCredits {
		return fmt.Errorf("quota: org %s credit limit exceeded", req.OrgID)
	}

	u.ActiveJobs++
	u.StorageBytes += req.EstimatedBytes
	u.Credits += req.Credits
	return l.store.PutUsage(req.OrgID, u)
}

// Consume records tokens spent during a running job.
func (l *Ledger) Consume(orgID string, tokens int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.store.GetQuota(orgID)
	if err != nil {
		return err
	}
	if q == nil {
		return nil
	}

	u, err := l.loadCurrentUsage(orgID)
	if err != nil {
		return err
	}
	if q.MaxTokens > 0 && u.Tokens+tokens > q.MaxTokens {
		return fmt.Errorf("quota: org %s token limit exceeded (%d + %d > %d)",
			orgID, u.Tokens, tokens, q.MaxTokens)
	}
	u.Tokens += tokens
	return l.store.PutUsage(orgID, u)
}

// ReleaseJob frees the job slot when a run ends, keeping consumed usage.
func (l *Ledger) ReleaseJob(orgID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	q, err := l.store.GetQuota(orgID)
	if err != nil || q == nil {
		return err
	}
	u, err := l.loadCurrentUsage(orgID)
	if err != nil {
		return err
	}
	if u.ActiveJobs > 0 {
		u.ActiveJobs--
	}
	return l.store.PutUsage(orgID, u)
}

// loadCurrentUsage fetches usage, rolling the period over when it has
// expired. Active job count survives the rollover; consumables reset.
// Caller holds the mutex.
func (l *Ledger) loadCurrentUsage(orgID string) (*Usage, error) {
	u, err := l.store.GetUsage(orgID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if u.PeriodStart.IsZero() {
		u.PeriodStart = now
	} else if now.Sub(u.PeriodStart) >= QuotaPeriod {
		u = &Usage{ActiveJobs: u.ActiveJobs, PeriodStart: now}
	}
	return u, nil
}
