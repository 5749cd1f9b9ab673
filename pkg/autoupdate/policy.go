// Copyright 2025 The Sigstore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package autoupdate

import "time"

// DefaultMaxAge is how long a log list is used before it is fetched again.
const DefaultMaxAge = 24 * time.Hour

// CachePolicy decides when the log list is stale.
type CachePolicy interface {
	ShouldRefresh(lastUpdate, now time.Time) bool
}

// ExpiryPolicy refreshes a list once it is MaxAge old. A list that was never
// fetched is always stale.
type ExpiryPolicy struct {
	MaxAge time.Duration
}

func (p ExpiryPolicy) ShouldRefresh(lastUpdate, now time.Time) bool {
	if lastUpdate.IsZero() {
		return true
	}
	return now.Sub(lastUpdate) >= p.MaxAge
}
