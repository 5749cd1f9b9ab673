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

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/btree"

	"github.com/sigstore/ctverify/pkg/precert"
	"github.com/sigstore/ctverify/pkg/sct"
)

type registeredLog struct {
	id sct.LogID
	// seq orders logs sharing a key ID by registration order.
	seq      int
	verifier *LogVerifier
}

func lessLog(a, b registeredLog) bool {
	if c := bytes.Compare(a.id[:], b.id[:]); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// MultiLogVerifier decides whether a certificate carries enough valid
// embedded SCTs from a set of known logs. It is immutable once built and
// safe for concurrent use.
type MultiLogVerifier struct {
	logs    *btree.BTreeG[registeredLog]
	minLogs int
	logOpts []LogVerifierOption
}

// NewMultiLogVerifier builds a verifier from the DER SubjectPublicKeyInfo of
// each known log. Unusable keys are dropped. Keys with the same ID are all
// kept.
func NewMultiLogVerifier(keys [][]byte, opts ...MultiLogVerifierOption) *MultiLogVerifier {
	m := &MultiLogVerifier{
		logs:    btree.NewG(8, lessLog),
		minLogs: DefaultMinimumDistinctLogs,
	}
	for _, opt := range opts {
		opt(m)
	}
	for i, key := range keys {
		v := NewLogVerifier(key, m.logOpts...)
		if !v.Valid() {
			continue
		}
		m.logs.ReplaceOrInsert(registeredLog{id: v.KeyID(), seq: i, verifier: v})
	}
	return m
}

// Len returns the number of registered logs.
func (m *MultiLogVerifier) Len() int {
	return m.logs.Len()
}

// LogIDs returns the key IDs of the registered logs in ascending order.
func (m *MultiLogVerifier) LogIDs() []sct.LogID {
	ids := make([]sct.LogID, 0, m.logs.Len())
	m.logs.Ascend(func(l registeredLog) bool {
		ids = append(ids, l.id)
		return true
	})
	return ids
}

// Threshold returns the number of distinct logs Verify requires.
func (m *MultiLogVerifier) Threshold() int {
	return min(m.minLogs, m.logs.Len())
}

// Verify reports whether leaf, issued by issuer, carries valid embedded SCTs
// from enough distinct registered logs. SCTs dated after now do not count.
// An empty registry accepts every certificate.
func (m *MultiLogVerifier) Verify(leaf, issuer []byte, now time.Time) bool {
	return m.VerifyWithError(leaf, issuer, now) == nil
}

// VerifyWithError is like Verify but reports why verification failed.
func (m *MultiLogVerifier) VerifyWithError(leaf, issuer []byte, now time.Time) error {
	if m.logs.Len() == 0 {
		return nil
	}

	rawList, err := precert.ExtractEmbeddedSCTList(leaf)
	if err != nil {
		return NewVerificationError(err)
	}
	entry, err := precert.GetPrecertSignedEntry(leaf, issuer)
	if err != nil {
		return NewVerificationError(err)
	}
	items, err := sct.DecodeSCTList(rawList)
	if err != nil {
		return NewVerificationError(err)
	}

	var nowMillis uint64
	if ms := now.UnixMilli(); ms > 0 {
		nowMillis = uint64(ms)
	}

	verified := make(map[sct.LogID]struct{}, len(items))
	var lastErr error
	for _, item := range items {
		s, err := sct.DecodeSCT(item)
		if err != nil {
			lastErr = err
			continue
		}
		if _, ok := verified[s.LogID]; ok {
			continue
		}
		if s.Timestamp > nowMillis {
			lastErr = fmt.Errorf("%w: %d > %d", ErrFutureTimestamp, s.Timestamp, nowMillis)
			continue
		}
		if err := m.verifySCT(entry, s); err != nil {
			lastErr = err
			continue
		}
		verified[s.LogID] = struct{}{}
	}

	if threshold := m.Threshold(); len(verified) < threshold {
		if lastErr == nil {
			return NewVerificationError(fmt.Errorf("%w: %d of %d", ErrThreshold, len(verified), threshold))
		}
		return NewVerificationError(fmt.Errorf("%w: %d of %d: %w", ErrThreshold, len(verified), threshold, lastErr))
	}
	return nil
}

// verifySCT checks s against every registered log with its key ID.
func (m *MultiLogVerifier) verifySCT(entry *precert.SignedEntryData, s *sct.SignedCertificateTimestamp) error {
	err := fmt.Errorf("unknown log %s", s.LogID)
	m.logs.AscendGreaterOrEqual(registeredLog{id: s.LogID, seq: -1}, func(l registeredLog) bool {
		if l.id != s.LogID {
			return false
		}
		err = l.verifier.VerifyWithError(entry, s)
		return err != nil
	})
	return err
}
