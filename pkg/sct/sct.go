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

// Package sct implements the RFC 6962 TLS-style encodings of signed
// certificate timestamps and of the data a log signs over.
package sct

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sigstore/ctverify/pkg/bytestring"
	"github.com/sigstore/ctverify/pkg/limits"
	"github.com/sigstore/ctverify/pkg/precert"
)

var (
	ErrMalformedSCT         = errors.New("malformed SCT")
	ErrUnsupportedVersion   = errors.New("unsupported SCT version")
	ErrUnsupportedAlgorithm = errors.New("unsupported SCT signature algorithm")
)

// Version is the SCT structure version.
type Version uint8

const V1 Version = 0

// HashAlgorithm is the TLS HashAlgorithm registry value of a DigitallySigned.
type HashAlgorithm uint8

const (
	None HashAlgorithm = iota
	MD5
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
)

func (h HashAlgorithm) String() string {
	switch h {
	case None:
		return "none"
	case MD5:
		return "md5"
	case SHA1:
		return "sha1"
	case SHA224:
		return "sha224"
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	}
	return fmt.Sprintf("hash(%d)", uint8(h))
}

// SignatureAlgorithm is the TLS SignatureAlgorithm registry value of a
// DigitallySigned.
type SignatureAlgorithm uint8

const (
	Anonymous SignatureAlgorithm = iota
	RSA
	DSA
	ECDSA
)

func (s SignatureAlgorithm) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case RSA:
		return "rsa"
	case DSA:
		return "dsa"
	case ECDSA:
		return "ecdsa"
	}
	return fmt.Sprintf("signature(%d)", uint8(s))
}

// LogID is the SHA-256 hash of a log's DER SubjectPublicKeyInfo.
type LogID [32]byte

func (id LogID) String() string {
	return hex.EncodeToString(id[:])
}

// DigitallySigned is the signature of an SCT.
type DigitallySigned struct {
	HashAlgorithm      HashAlgorithm
	SignatureAlgorithm SignatureAlgorithm
	Signature          []byte
}

// SignedCertificateTimestamp is a decoded SCT. Byte slices alias the buffer
// it was decoded from.
type SignedCertificateTimestamp struct {
	Version Version
	LogID   LogID
	// Timestamp is in milliseconds since the Unix epoch.
	Timestamp  uint64
	Extensions []byte
	Signature  DigitallySigned
}

func (s *SignedCertificateTimestamp) String() string {
	return fmt.Sprintf("{Version:%d LogID:%s Timestamp:%d Extensions:%x Signature:{%s %s %x}}",
		s.Version, s.LogID, s.Timestamp, s.Extensions,
		s.Signature.HashAlgorithm, s.Signature.SignatureAlgorithm, s.Signature.Signature)
}

const (
	// signatureTypeCertificateTimestamp is the SignatureType of V1 signed data.
	signatureTypeCertificateTimestamp = 0
	// precertEntryType is the LogEntryType of a precertificate entry.
	precertEntryType = 1
)

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedSCT, what)
}

// DecodeSCTList splits a SignedCertificateTimestampList into its serialized
// SCTs. The items alias b and are not decoded. The whole list must be well
// formed, but only the first limits.MaxAllowedSCTs items are returned.
func DecodeSCTList(b []byte) ([][]byte, error) {
	in := bytestring.Reader(b)
	var list bytestring.Reader
	if !in.ReadUint16LengthPrefixed(&list) || !in.Empty() {
		return nil, malformed("SCT list")
	}
	if list.Empty() {
		return nil, malformed("empty SCT list")
	}
	var out [][]byte
	for !list.Empty() {
		var item bytestring.Reader
		if !list.ReadUint16LengthPrefixed(&item) || item.Empty() {
			return nil, malformed("SCT list item")
		}
		if len(out) < limits.MaxAllowedSCTs {
			out = append(out, item)
		}
	}
	return out, nil
}

// DecodeSCT decodes one serialized SCT. Unknown versions and algorithm
// values are rejected.
func DecodeSCT(b []byte) (*SignedCertificateTimestamp, error) {
	in := bytestring.Reader(b)
	var version uint8
	if !in.ReadUint8(&version) {
		return nil, malformed("version")
	}
	if Version(version) != V1 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	s := &SignedCertificateTimestamp{Version: V1}
	var extensions, signature bytestring.Reader
	var hash, sig uint8
	if !in.CopyBytes(s.LogID[:]) ||
		!in.ReadUint64(&s.Timestamp) ||
		!in.ReadUint16LengthPrefixed(&extensions) ||
		!in.ReadUint8(&hash) ||
		!in.ReadUint8(&sig) ||
		!in.ReadUint16LengthPrefixed(&signature) {
		return nil, malformed("truncated")
	}
	if !in.Empty() {
		return nil, malformed("trailing data")
	}
	if HashAlgorithm(hash) > SHA512 {
		return nil, fmt.Errorf("%w: hash %d", ErrUnsupportedAlgorithm, hash)
	}
	if SignatureAlgorithm(sig) > ECDSA {
		return nil, fmt.Errorf("%w: signature %d", ErrUnsupportedAlgorithm, sig)
	}
	s.Extensions = extensions
	s.Signature = DigitallySigned{
		HashAlgorithm:      HashAlgorithm(hash),
		SignatureAlgorithm: SignatureAlgorithm(sig),
		Signature:          signature,
	}
	return s, nil
}

// EncodeSignedEntry encodes entry as the precert_entry arm of a
// TimestampedEntry: the entry type, the issuer key hash and the
// length-prefixed TBSCertificate.
func EncodeSignedEntry(entry *precert.SignedEntryData) ([]byte, error) {
	b := bytestring.NewBuilder(2 + len(entry.IssuerKeyHash) + 3 + len(entry.TBSCertificate))
	if !b.AddUint16(precertEntryType) || !b.AddBytes(entry.IssuerKeyHash[:]) {
		return nil, bytestring.ErrBuilderFailed
	}
	tbs, ok := b.AddUint24LengthPrefixed()
	if !ok || !tbs.AddBytes(entry.TBSCertificate) {
		return nil, fmt.Errorf("encoding TBSCertificate: %w", bytestring.ErrBuilderFailed)
	}
	return b.Finish()
}

// EncodeV1SignedData encodes the digitally-signed struct covered by a V1 SCT
// signature. signedEntry is the output of EncodeSignedEntry and is copied
// verbatim.
func EncodeV1SignedData(timestamp uint64, signedEntry, extensions []byte) ([]byte, error) {
	b := bytestring.NewBuilder(1 + 1 + 8 + len(signedEntry) + 2 + len(extensions))
	if !b.AddUint8(uint8(V1)) ||
		!b.AddUint8(signatureTypeCertificateTimestamp) ||
		!b.AddUint64(timestamp) ||
		!b.AddBytes(signedEntry) {
		return nil, bytestring.ErrBuilderFailed
	}
	ext, ok := b.AddUint16LengthPrefixed()
	if !ok || !ext.AddBytes(extensions) {
		return nil, fmt.Errorf("encoding extensions: %w", bytestring.ErrBuilderFailed)
	}
	return b.Finish()
}

// EncodeSCT serializes s. It is the inverse of DecodeSCT.
func EncodeSCT(s *SignedCertificateTimestamp) ([]byte, error) {
	b := bytestring.NewBuilder(1 + 32 + 8 + 2 + len(s.Extensions) + 4 + len(s.Signature.Signature))
	if !b.AddUint8(uint8(s.Version)) ||
		!b.AddBytes(s.LogID[:]) ||
		!b.AddUint64(s.Timestamp) {
		return nil, bytestring.ErrBuilderFailed
	}
	ext, ok := b.AddUint16LengthPrefixed()
	if !ok || !ext.AddBytes(s.Extensions) {
		return nil, fmt.Errorf("encoding extensions: %w", bytestring.ErrBuilderFailed)
	}
	if !b.AddUint8(uint8(s.Signature.HashAlgorithm)) || !b.AddUint8(uint8(s.Signature.SignatureAlgorithm)) {
		return nil, bytestring.ErrBuilderFailed
	}
	sig, ok := b.AddUint16LengthPrefixed()
	if !ok || !sig.AddBytes(s.Signature.Signature) {
		return nil, fmt.Errorf("encoding signature: %w", bytestring.ErrBuilderFailed)
	}
	return b.Finish()
}

// EncodeSCTList serializes scts as a SignedCertificateTimestampList. Every
// item must be non-empty.
func EncodeSCTList(scts [][]byte) ([]byte, error) {
	if len(scts) == 0 {
		return nil, malformed("empty SCT list")
	}
	b := bytestring.NewBuilder(0)
	list, ok := b.AddUint16LengthPrefixed()
	if !ok {
		return nil, bytestring.ErrBuilderFailed
	}
	for _, s := range scts {
		if len(s) == 0 {
			return nil, malformed("empty SCT list item")
		}
		item, ok := list.AddUint16LengthPrefixed()
		if !ok || !item.AddBytes(s) {
			return nil, fmt.Errorf("encoding SCT list: %w", bytestring.ErrBuilderFailed)
		}
	}
	return b.Finish()
}
