// Copyright 2023 The Sigstore Authors.
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

package root

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	protocommon "github.com/sigstore/protobuf-specs/gen/pb-go/common/v1"
	prototrustroot "github.com/sigstore/protobuf-specs/gen/pb-go/trustroot/v1"
	"google.golang.org/protobuf/encoding/protojson"
	timestamppb "google.golang.org/protobuf/types/known/timestamppb"
)

// NewTrustedRootFromCTLogKeys builds a trusted root listing one CT log per
// DER SubjectPublicKeyInfo. Every key is valid from start with no end; the
// log ID is the SHA-256 hash of the key.
func NewTrustedRootFromCTLogKeys(keys [][]byte, start time.Time) (*TrustedRoot, error) {
	tr := &TrustedRoot{ctLogs: make(map[string]*CTLog)}
	for _, der := range keys {
		ctLog, keyID, err := pubkeyToCTLog(der, start)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ctlog key: %w", err)
		}
		tr.ctLogs[keyID] = ctLog
	}
	if err := tr.constructProtoTrustRoot(); err != nil {
		return nil, err
	}
	return tr, nil
}

// MarshalJSON encodes the trusted root in its protobuf JSON form.
func (tr *TrustedRoot) MarshalJSON() ([]byte, error) {
	if tr.trustedRoot == nil {
		if err := tr.constructProtoTrustRoot(); err != nil {
			return nil, err
		}
	}
	return protojson.Marshal(tr.trustedRoot)
}

func pubkeyToCTLog(der []byte, tm time.Time) (*CTLog, string, error) {
	logID := sha256.Sum256(der)
	key, err := getKey(der)
	if err != nil {
		return nil, "", err
	}

	return &CTLog{
		BaseURL:             "",
		ID:                  logID[:],
		ValidityPeriodStart: tm,
		HashFunc:            crypto.SHA256, // we can't get this from the key, assume SHA256
		PublicKey:           key,
		PublicKeyDER:        der,
	}, hex.EncodeToString(logID[:]), nil
}

func getKey(der []byte) (crypto.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("can't parse PKIX public key: %w", err)
	}

	switch v := k.(type) {
	case *ecdsa.PublicKey:
		switch v.Curve {
		case elliptic.P256(), elliptic.P384(), elliptic.P521():
		default:
			return nil, fmt.Errorf("unsupported elliptic curve %T", v.Curve)
		}
	case *rsa.PublicKey:
		switch v.Size() * 8 {
		case 2048, 3072, 4096:
		default:
			return nil, fmt.Errorf("unsupported public modulus %d", v.Size())
		}
	default:
		return nil, errors.New("unknown public key type")
	}

	return k, nil
}

func (tr *TrustedRoot) constructProtoTrustRoot() error {
	tr.trustedRoot = &prototrustroot.TrustedRoot{}
	tr.trustedRoot.MediaType = TrustedRootMediaType01

	ids := make([]string, 0, len(tr.ctLogs))
	for logID := range tr.ctLogs {
		ids = append(ids, logID)
	}
	// ensure stable ordering of the slice
	sort.Strings(ids)

	for _, logID := range ids {
		ctProto, err := ctLogToProtobufTL(tr.ctLogs[logID])
		if err != nil {
			return fmt.Errorf("failed converting ctlog %s to protobuf: %w", logID, err)
		}
		tr.trustedRoot.Ctlogs = append(tr.trustedRoot.Ctlogs, ctProto)
	}
	return nil
}

func ctLogToProtobufTL(tl *CTLog) (*prototrustroot.TransparencyLogInstance, error) {
	hashAlgo, err := hashAlgorithmToProtobufHashAlgorithm(tl.HashFunc)
	if err != nil {
		return nil, fmt.Errorf("failed converting hash algorithm to protobuf: %w", err)
	}
	publicKey, err := publicKeyToProtobufPublicKey(tl.PublicKey, tl.ValidityPeriodStart, tl.ValidityPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed converting public key to protobuf: %w", err)
	}
	trProto := prototrustroot.TransparencyLogInstance{
		BaseUrl:       tl.BaseURL,
		HashAlgorithm: hashAlgo,
		PublicKey:     publicKey,
		LogId: &protocommon.LogId{
			KeyId: tl.ID,
		},
	}

	return &trProto, nil
}

func hashAlgorithmToProtobufHashAlgorithm(hashAlgorithm crypto.Hash) (protocommon.HashAlgorithm, error) {
	switch hashAlgorithm {
	case crypto.SHA256:
		return protocommon.HashAlgorithm_SHA2_256, nil
	case crypto.SHA384:
		return protocommon.HashAlgorithm_SHA2_384, nil
	case crypto.SHA512:
		return protocommon.HashAlgorithm_SHA2_512, nil
	default:
		return 0, fmt.Errorf("unsupported hash algorithm for Merkle tree: %v", hashAlgorithm)
	}
}

func publicKeyToProtobufPublicKey(publicKey crypto.PublicKey, start time.Time, end time.Time) (*protocommon.PublicKey, error) {
	pkd := protocommon.PublicKey{
		ValidFor: &protocommon.TimeRange{
			Start: timestamppb.New(start),
		},
	}

	if !end.IsZero() {
		pkd.ValidFor.End = timestamppb.New(end)
	}

	rawBytes, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed marshalling public key: %w", err)
	}
	pkd.RawBytes = rawBytes

	switch p := publicKey.(type) {
	case *ecdsa.PublicKey:
		switch p.Curve {
		case elliptic.P256():
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_ECDSA_P256_SHA_256
		case elliptic.P384():
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_ECDSA_P384_SHA_384
		case elliptic.P521():
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_ECDSA_P521_SHA_512
		default:
			return nil, fmt.Errorf("unsupported curve for ecdsa key: %T", p.Curve)
		}
	case *rsa.PublicKey:
		switch p.Size() * 8 {
		case 2048:
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_2048_SHA256
		case 3072:
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_3072_SHA256
		case 4096:
			pkd.KeyDetails = protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_4096_SHA256
		default:
			return nil, fmt.Errorf("unsupported public modulus for RSA key: %d", p.Size())
		}
	default:
		return nil, fmt.Errorf("unknown public key type: %T", p)
	}

	return &pkd, nil
}
