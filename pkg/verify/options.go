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

package verify

// DefaultMinimumDistinctLogs is the number of distinct logs that must have
// issued a valid SCT, unless fewer logs are known.
const DefaultMinimumDistinctLogs = 2

type LogVerifierOption func(*LogVerifier)

// WithSignatureVerifier replaces the signature check, which by default is
// done with sigstore's signature verifiers.
func WithSignatureVerifier(sv SignatureVerifier) LogVerifierOption {
	return func(v *LogVerifier) {
		if sv != nil {
			v.sv = sv
		}
	}
}

type MultiLogVerifierOption func(*MultiLogVerifier)

// WithMinimumDistinctLogs sets how many distinct logs must vouch for a
// certificate. The effective threshold never exceeds the number of known
// logs. Values below 1 are ignored.
func WithMinimumDistinctLogs(n int) MultiLogVerifierOption {
	return func(m *MultiLogVerifier) {
		if n >= 1 {
			m.minLogs = n
		}
	}
}

// WithLogVerifierOptions applies opts to every LogVerifier the
// MultiLogVerifier constructs.
func WithLogVerifierOptions(opts ...LogVerifierOption) MultiLogVerifierOption {
	return func(m *MultiLogVerifier) {
		m.logOpts = append(m.logOpts, opts...)
	}
}
