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
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"

	"github.com/sigstore/sigstore/pkg/signature"

	"github.com/sigstore/ctverify/pkg/sct"
)

// SignatureVerifier checks a log's signature over the V1 signed data of an
// SCT.
type SignatureVerifier interface {
	VerifySignature(pub crypto.PublicKey, hash sct.HashAlgorithm, alg sct.SignatureAlgorithm, message, sig []byte) bool
}

var cryptoHashes = map[sct.HashAlgorithm]crypto.Hash{
	sct.SHA256: crypto.SHA256,
	sct.SHA384: crypto.SHA384,
	sct.SHA512: crypto.SHA512,
}

type sigstoreVerifier struct{}

func (sigstoreVerifier) VerifySignature(pub crypto.PublicKey, hash sct.HashAlgorithm, alg sct.SignatureAlgorithm, message, sig []byte) bool {
	h, ok := cryptoHashes[hash]
	if !ok {
		return false
	}
	switch pub.(type) {
	case *ecdsa.PublicKey:
		if alg != sct.ECDSA {
			return false
		}
	case *rsa.PublicKey:
		if alg != sct.RSA {
			return false
		}
	default:
		return false
	}
	verifier, err := signature.LoadVerifier(pub, h)
	if err != nil {
		return false
	}
	return verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(message)) == nil
}
