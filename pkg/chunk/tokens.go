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

package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is the BPE encoding used for token counting. cl100k_base is
// what the common embedding models tokenize with; the exact encoding matters
// less than counting the same way every run, since chunk boundaries feed into
// chunk hashes.
const tokenEncoding = "cl100k_base"

// heuristicCharsPerToken is the fallback estimate (chars/4) used when the
// tiktoken encoding cannot be loaded. Code tokenizes poorly, so this
// overestimates slightly, which only makes chunks smaller, never larger.
const heuristicCharsPerToken = 4

// TokenCounter counts tokens in chunk text. Safe for concurrent use.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
	mu  sync.Mutex
}

// NewTokenCounter creates a token counter backed by the cl100k_base encoding.
// If the encoding is unavailable (e.g. offline first run with no cached BPE
// data), the counter degrades to a character heuristic instead of failing.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// Count returns the token count for text. Never negative.
func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if tc.enc == nil {
		return (len(text) + heuristicCharsPerToken - 1) / heuristicCharsPerToken
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.enc.Encode(text, nil, nil))
}
