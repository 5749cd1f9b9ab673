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

// Package root reads the certificate transparency logs out of a Sigstore
// trusted root document.
package root

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"time"

	protocommon "github.com/sigstore/protobuf-specs/gen/pb-go/common/v1"
	prototrustroot "github.com/sigstore/protobuf-specs/gen/pb-go/trustroot/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

const (
	TrustedRootMediaType01 = "application/vnd.dev.sigstore.trustedroot+json;version=0.1"
	TrustedRootMediaType02 = "application/vnd.dev.sigstore.trustedroot.v0.2+json"
)

type TrustedRoot struct {
	trustedRoot *prototrustroot.TrustedRoot
	ctLogs      map[string]*CTLog
}

// CTLog is a certificate transparency log listed in a trusted root.
type CTLog struct {
	BaseURL             string
	ID                  []byte
	ValidityPeriodStart time.Time
	ValidityPeriodEnd   time.Time
	// This is the hash algorithm used by the Merkle tree
	HashFunc  crypto.Hash
	PublicKey crypto.PublicKey
	// PublicKeyDER is the log's SubjectPublicKeyInfo as it appears in the
	// trusted root.
	PublicKeyDER []byte
}

// ValidAtTime reports whether the log's key was valid at t. A zero end
// means the key has not been retired.
func (l *CTLog) ValidAtTime(t time.Time) bool {
	if !l.ValidityPeriodStart.IsZero() && t.Before(l.ValidityPeriodStart) {
		return false
	}
	if !l.ValidityPeriodEnd.IsZero() && t.After(l.ValidityPeriodEnd) {
		return false
	}
	return true
}

// CTLogs returns the CT logs keyed by hex log ID.
func (tr *TrustedRoot) CTLogs() map[string]*CTLog {
	return tr.ctLogs
}

// CTLogKeysAt returns the SubjectPublicKeyInfo of every CT log valid at t,
// ordered by log ID.
func (tr *TrustedRoot) CTLogKeysAt(t time.Time) [][]byte {
	ids := make([]string, 0, len(tr.ctLogs))
	for id, l := range tr.ctLogs {
		if l.ValidAtTime(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	keys := make([][]byte, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, tr.ctLogs[id].PublicKeyDER)
	}
	return keys
}

func NewTrustedRootFromProtobuf(protobufTrustedRoot *prototrustroot.TrustedRoot) (trustedRoot *TrustedRoot, err error) {
	switch protobufTrustedRoot.GetMediaType() {
	case TrustedRootMediaType01, TrustedRootMediaType02:
	default:
		return nil, fmt.Errorf("unsupported TrustedRoot media type: %s", protobufTrustedRoot.GetMediaType())
	}

	trustedRoot = &TrustedRoot{trustedRoot: protobufTrustedRoot}
	trustedRoot.ctLogs, err = ParseCTLogs(protobufTrustedRoot.GetCtlogs())
	if err != nil {
		return nil, err
	}
	return trustedRoot, nil
}

func ParseCTLogs(ctlogs []*prototrustroot.TransparencyLogInstance) (ctLogs map[string]*CTLog, err error) {
	ctLogs = make(map[string]*CTLog)
	for _, ctlog := range ctlogs {
		if ctlog.GetHashAlgorithm() != protocommon.HashAlgorithm_SHA2_256 {
			return nil, fmt.Errorf("unsupported ctlog hash algorithm: %s", ctlog.GetHashAlgorithm())
		}
		if ctlog.GetLogId() == nil {
			return nil, fmt.Errorf("ctlog missing log ID")
		}
		if ctlog.GetLogId().GetKeyId() == nil {
			return nil, fmt.Errorf("ctlog missing log ID key ID")
		}
		encodedKeyID := hex.EncodeToString(ctlog.GetLogId().GetKeyId())

		if ctlog.GetPublicKey() == nil {
			return nil, fmt.Errorf("ctlog missing public key")
		}
		rawBytes := ctlog.GetPublicKey().GetRawBytes()
		if rawBytes == nil {
			return nil, fmt.Errorf("ctlog missing public key raw bytes")
		}

		key, err := x509.ParsePKIXPublicKey(rawBytes)
		if err != nil {
			return nil, err
		}
		switch ctlog.GetPublicKey().GetKeyDetails() {
		case protocommon.PublicKeyDetails_PKIX_ECDSA_P256_SHA_256,
			protocommon.PublicKeyDetails_PKIX_ECDSA_P384_SHA_384,
			protocommon.PublicKeyDetails_PKIX_ECDSA_P521_SHA_512:
			if _, ok := key.(*ecdsa.PublicKey); !ok {
				return nil, fmt.Errorf("ctlog public key is not ECDSA")
			}
		case protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_2048_SHA256,
			protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_3072_SHA256,
			protocommon.PublicKeyDetails_PKIX_RSA_PKCS1V15_4096_SHA256:
			if _, ok := key.(*rsa.PublicKey); !ok {
				return nil, fmt.Errorf("ctlog public key is not RSA")
			}
		default:
			return nil, fmt.Errorf("unsupported ctlog public key type: %s", ctlog.GetPublicKey().GetKeyDetails())
		}

		ctLog := &CTLog{
			BaseURL:      ctlog.GetBaseUrl(),
			ID:           ctlog.GetLogId().GetKeyId(),
			HashFunc:     crypto.SHA256,
			PublicKey:    key,
			PublicKeyDER: rawBytes,
		}
		if validFor := ctlog.GetPublicKey().GetValidFor(); validFor != nil {
			if validFor.GetStart() != nil {
				ctLog.ValidityPeriodStart = validFor.GetStart().AsTime()
			} else {
				return nil, fmt.Errorf("ctlog missing public key validity period start time")
			}
			if validFor.GetEnd() != nil {
				ctLog.ValidityPeriodEnd = validFor.GetEnd().AsTime()
			}
		} else {
			return nil, fmt.Errorf("ctlog missing public key validity period")
		}
		ctLogs[encodedKeyID] = ctLog
	}
	return ctLogs, nil
}

func NewTrustedRootFromPath(path string) (*TrustedRoot, error) {
	trustedrootJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return NewTrustedRootFromJSON(trustedrootJSON)
}

// NewTrustedRootFromJSON returns the Sigstore trusted root.
func NewTrustedRootFromJSON(rootJSON []byte) (*TrustedRoot, error) {
	pbTrustedRoot, err := NewTrustedRootProtobuf(rootJSON)
	if err != nil {
		return nil, err
	}

	return NewTrustedRootFromProtobuf(pbTrustedRoot)
}

// NewTrustedRootProtobuf returns the Sigstore trusted root as a protobuf.
func NewTrustedRootProtobuf(rootJSON []byte) (*prototrustroot.TrustedRoot, error) {
	pbTrustedRoot := &prototrustroot.TrustedRoot{}
	err := protojson.Unmarshal(rootJSON, pbTrustedRoot)
	if err != nil {
		return nil, err
	}
	return pbTrustedRoot, nil
}

// CTLogKeys parses a trusted root and returns the SubjectPublicKeyInfo of
// every CT log whose key is valid at the given time.
func CTLogKeys(trustedRootJSON []byte, at time.Time) ([][]byte, error) {
	tr, err := NewTrustedRootFromJSON(trustedRootJSON)
	if err != nil {
		return nil, err
	}
	return tr.CTLogKeysAt(at), nil
}
