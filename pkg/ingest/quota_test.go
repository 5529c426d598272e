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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitWithoutQuotaIsUnlimited(t *testing.T) {
	l := NewLedger(NewMemoryQuotaStore())
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Admit(JobRequest{OrgID: "unregistered", EstimatedBytes: 1 << 40}))
	}
	require.NoError(t, l.Consume("unregistered", 1<<50))
}

func TestAdmitEnforcesConcurrentJobs(t *testing.T) {
	store := NewMemoryQuotaStore()
	store.SetQuota(&Quota{OrgID: "acme", MaxConcurrentJobs: 2})
	l := NewLedger(store)

	require.NoError(t, l.Admit(JobRequest{OrgID: "acme"}))
	require.NoError(t, l.Admit(JobRequest{OrgID: "acme"}))

	err := l.Admit(JobRequest{OrgID: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrent job limit")

	require.NoError(t, l.ReleaseJob("acme"))
	require.NoError(t, l.Admit(JobRequest{OrgID: "acme"}))
}

func TestAdmitEnforcesStorageAndCredits(t *testing.T) {
	store := NewMemoryQuotaStore()
	store.SetQuota(&Quota{OrgID: "acme", MaxStorageBytes: 1000, MaxCredits: 10})
	l := NewLedger(store)

	require.NoError(t, l.Admit(JobRequest{OrgID: "acme", EstimatedBytes: 600, Credits: 4}))

	err := l.Admit(JobRequest{OrgID: "acme", EstimatedBytes: 500})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage limit")

	err = l.Admit(JobRequest{OrgID: "acme", EstimatedBytes: 100, Credits: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credit limit")

	require.NoError(t, l.Admit(JobRequest{OrgID: "acme", EstimatedBytes: 100, Credits: 6}))
}

func TestConsumeEnforcesTokenLimit(t *testing.T) {
	store := NewMemoryQuotaStore()
	store.SetQuota(&Quota{OrgID: "acme", MaxTokens: 1000})
	l := NewLedger(store)

	require.NoError(t, l.Consume("acme", 700))
	require.NoError(t, l.Consume("acme", 300))

	err := l.Consume("acme", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token limit")
}

func TestPeriodRolloverResetsConsumables(t *testing.T) {
	store := NewMemoryQuotaStore()
	store.SetQuota(&Quota{OrgID: "acme", MaxTokens: 1000, MaxConcurrentJobs: 5})
	l := NewLedger(store)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.Admit(JobRequest{OrgID: "acme"}))
	require.NoError(t, l.Consume("acme", 1000))
	require.Error(t, l.Consume("acme", 1))

	now = now.Add(QuotaPeriod + time.Hour)
	require.NoError(t, l.Consume("acme", 500), "tokens reset after the period rolls")

	// The running job survives the rollover.
	u, err := store.GetUsage("acme")
	require.NoError(t, err)
	assert.Equal(t, 1, u.ActiveJobs)
	assert.Equal(t, int64(500), u.Tokens)
}

func TestReleaseJobNeverGoesNegative(t *testing.T) {
	store := NewMemoryQuotaStore()
	store.SetQuota(&Quota{OrgID: "acme", MaxConcurrentJobs: 1})
	l := NewLedger(store)

	require.NoError(t, l.ReleaseJob("acme"))
	u, err := store.GetUsage("acme")
	require.NoError(t, err)
	assert.Equal(t, 0, u.ActiveJobs)
}
