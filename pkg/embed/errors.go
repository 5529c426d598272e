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

package embed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Sentinel classes for provider failures. Callers branch on these with
// errors.Is; the concrete cause stays wrapped underneath.
var (
	// ErrConnection covers refused, reset, and DNS failures. Retryable.
	ErrConnection = errors.New("embedding provider unreachable")

	// ErrTimeout covers request deadlines and read timeouts. Retryable.
	ErrTimeout = errors.New("embedding request timed out")

	// ErrRateLimited is an HTTP 429 from the provider. Retryable after backoff.
	ErrRateLimited = errors.New("embedding provider rate limited")

	// ErrUnexpected is any non-retryable provider failure (4xx other than
	// 429, malformed responses, empty vectors).
	ErrUnexpected = errors.New("unexpected embedding provider response")

	// ErrCircuitOpen means the breaker is refusing calls without touching
	// the provider.
	ErrCircuitOpen = errors.New("embedding circuit breaker open")
)

// classifyTransportError wraps a transport-level error in the matching
// sentinel class.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// classifyStatusError maps an HTTP status to a sentinel class.
func classifyStatusError(status int, detail string) error {
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (status %d): %s", ErrRateLimited, status, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w (status %d): %s", ErrTimeout, status, detail)
	case status >= 500:
		return fmt.Errorf("%w (status %d): %s", ErrConnection, status, detail)
	default:
		return fmt.Errorf("%w (status %d): %s", ErrUnexpected, status, detail)
	}
}

// IsRetryable reports whether the error class is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
