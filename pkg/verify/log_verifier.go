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
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"fmt"

	"github.com/sigstore/sigstore/pkg/cryptoutils"

	"github.com/sigstore/ctverify/pkg/precert"
	"github.com/sigstore/ctverify/pkg/sct"
)

// LogVerifier verifies SCTs issued by a single CT log. A LogVerifier built
// from an unusable key is permanently invalid and rejects every SCT.
type LogVerifier struct {
	pub   crypto.PublicKey
	keyID sct.LogID
	hash  sct.HashAlgorithm
	alg   sct.SignatureAlgorithm
	valid bool
	sv    SignatureVerifier
}

// NewLogVerifier returns a verifier for the log whose DER
// SubjectPublicKeyInfo is spki. ECDSA keys pair with SHA-256/ECDSA and RSA
// keys with SHA-256/RSA; anything else yields an invalid verifier.
func NewLogVerifier(spki []byte, opts ...LogVerifierOption) *LogVerifier {
	v := &LogVerifier{sv: sigstoreVerifier{}}
	for _, opt := range opts {
		opt(v)
	}

	pub, err := x509.ParsePKIXPublicKey(spki)
	if err != nil {
		return v
	}
	if err := cryptoutils.ValidatePubKey(pub); err != nil {
		return v
	}
	switch pub.(type) {
	case *ecdsa.PublicKey:
		v.alg = sct.ECDSA
	case *rsa.PublicKey:
		v.alg = sct.RSA
	default:
		return v
	}
	v.pub = pub
	v.hash = sct.SHA256
	v.keyID = sha256.Sum256(spki)
	v.valid = true
	return v
}

// KeyID returns the SHA-256 hash of the log's SubjectPublicKeyInfo. It is
// zero for an invalid verifier.
func (v *LogVerifier) KeyID() sct.LogID {
	return v.keyID
}

func (v *LogVerifier) Valid() bool {
	return v.valid
}

// Algorithms returns the signature algorithm pair the log signs with.
func (v *LogVerifier) Algorithms() (sct.HashAlgorithm, sct.SignatureAlgorithm) {
	return v.hash, v.alg
}

// Verify reports whether s is a valid signature by this log over entry.
func (v *LogVerifier) Verify(entry *precert.SignedEntryData, s *sct.SignedCertificateTimestamp) bool {
	return v.VerifyWithError(entry, s) == nil
}

// VerifyWithError is like Verify but reports why verification failed.
func (v *LogVerifier) VerifyWithError(entry *precert.SignedEntryData, s *sct.SignedCertificateTimestamp) error {
	if !v.valid {
		return NewVerificationError(ErrInvalidKey)
	}
	if subtle.ConstantTimeCompare(s.LogID[:], v.keyID[:]) != 1 {
		return NewVerificationError(fmt.Errorf("%w: got %s, want %s", ErrLogIDMismatch, s.LogID, v.keyID))
	}
	if s.Signature.HashAlgorithm != v.hash || s.Signature.SignatureAlgorithm != v.alg {
		return NewVerificationError(fmt.Errorf("%w: got %s/%s, want %s/%s", ErrAlgorithmMismatch,
			s.Signature.HashAlgorithm, s.Signature.SignatureAlgorithm, v.hash, v.alg))
	}

	signedEntry, err := sct.EncodeSignedEntry(entry)
	if err != nil {
		return NewVerificationError(err)
	}
	data, err := sct.EncodeV1SignedData(s.Timestamp, signedEntry, s.Extensions)
	if err != nil {
		return NewVerificationError(err)
	}
	if !v.sv.VerifySignature(v.pub, s.Signature.HashAlgorithm, s.Signature.SignatureAlgorithm, data, s.Signature.Signature) {
		return NewVerificationError(fmt.Errorf("%w: log %s", ErrSignature, v.keyID))
	}
	return nil
}
