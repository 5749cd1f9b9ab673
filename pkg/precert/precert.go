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

// Package precert dissects DER certificates carrying embedded SCTs. It
// extracts the raw SCT list and rebuilds the precertificate entry that a CT
// log signed over (RFC 6962, section 3.2).
package precert

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/sigstore/ctverify/pkg/bytestring"
)

// EmbeddedSCTOID identifies the X.509v3 extension holding an SCT list.
const EmbeddedSCTOID = "1.3.6.1.4.1.11129.2.4.2"

var (
	ErrMalformedCertificate   = errors.New("malformed certificate")
	ErrSCTExtensionMissing    = errors.New("embedded SCT extension not found")
	ErrSCTExtensionDuplicated = errors.New("embedded SCT extension present more than once")
)

const (
	tagVersion         = bytestring.ClassContextSpecific | bytestring.ClassConstructed | 0
	tagIssuerUniqueID  = bytestring.ClassContextSpecific | 1
	tagSubjectUniqueID = bytestring.ClassContextSpecific | 2
	tagExtensions      = bytestring.ClassContextSpecific | bytestring.ClassConstructed | 3
)

var embeddedSCTOID = mustOID(EmbeddedSCTOID)

func mustOID(text string) []byte {
	b := bytestring.NewBuilder(16)
	if !b.AddASN1OIDFromText(text) {
		panic("precert: invalid OID " + text)
	}
	out, err := b.Finish()
	if err != nil {
		panic(err)
	}
	return out
}

// SignedEntryData is the precertificate entry covered by an SCT signature.
type SignedEntryData struct {
	// IssuerKeyHash is the SHA-256 hash of the issuer's SubjectPublicKeyInfo.
	IssuerKeyHash [32]byte
	// TBSCertificate is the leaf's TBSCertificate with the embedded SCT
	// extension removed.
	TBSCertificate []byte
}

// tbsCertificate is a TBSCertificate split at its extensions.
type tbsCertificate struct {
	// head holds the TBSCertificate contents before the [3] extensions.
	head []byte
	// extensions holds the contents of the extensions SEQUENCE.
	extensions bytestring.Reader
}

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformedCertificate, what)
}

// readTBSCertificate returns the contents of the TBSCertificate of certDER.
func readTBSCertificate(certDER []byte) (bytestring.Reader, error) {
	cert := bytestring.Reader(certDER)
	var certBody, tbs bytestring.Reader
	if !cert.ReadASN1(&certBody, bytestring.Sequence) {
		return nil, malformed("certificate is not a SEQUENCE")
	}
	if !cert.Empty() {
		return nil, malformed("trailing data after certificate")
	}
	if !certBody.ReadASN1(&tbs, bytestring.Sequence) {
		return nil, malformed("TBSCertificate is not a SEQUENCE")
	}
	return tbs, nil
}

// skipFields skips the optional explicit version followed by n fields.
func skipFields(tbs *bytestring.Reader, n int) error {
	if !tbs.ReadOptionalASN1(nil, nil, tagVersion) {
		return malformed("version")
	}
	for i := 0; i < n; i++ {
		if !tbs.ReadAnyASN1Element(nil, nil, nil) {
			return malformed(fmt.Sprintf("TBSCertificate field %d", i+1))
		}
	}
	return nil
}

func parseTBSCertificate(certDER []byte) (*tbsCertificate, error) {
	tbs, err := readTBSCertificate(certDER)
	if err != nil {
		return nil, err
	}
	start := tbs

	// serialNumber, signature, issuer, validity, subject, subjectPublicKeyInfo
	if err := skipFields(&tbs, 6); err != nil {
		return nil, err
	}
	if !tbs.ReadOptionalASN1(nil, nil, tagIssuerUniqueID) ||
		!tbs.ReadOptionalASN1(nil, nil, tagSubjectUniqueID) {
		return nil, malformed("unique identifiers")
	}
	head := start[:len(start)-len(tbs)]

	if tbs.Empty() {
		return nil, ErrSCTExtensionMissing
	}
	var wrapper, extensions bytestring.Reader
	if !tbs.ReadASN1(&wrapper, tagExtensions) ||
		!wrapper.ReadASN1(&extensions, bytestring.Sequence) ||
		!wrapper.Empty() ||
		!tbs.Empty() {
		return nil, malformed("extensions")
	}
	return &tbsCertificate{head: head, extensions: extensions}, nil
}

// sctExtensionSpan locates the embedded SCT extension within the extensions
// SEQUENCE contents.
type sctExtensionSpan struct {
	// start and end delimit the whole Extension element.
	start, end int
	sctList    []byte
}

func findSCTExtension(extensions bytestring.Reader) (*sctExtensionSpan, error) {
	all := extensions
	var found *sctExtensionSpan
	for !extensions.Empty() {
		start := len(all) - len(extensions)
		var ext bytestring.Reader
		if !extensions.ReadASN1(&ext, bytestring.Sequence) {
			return nil, malformed("extension")
		}
		end := len(all) - len(extensions)

		var oid bytestring.Reader
		if !ext.ReadASN1(&oid, bytestring.ObjectIdentifier) {
			return nil, malformed("extension OID")
		}
		if !oid.Equal(embeddedSCTOID) {
			continue
		}
		if found != nil {
			return nil, ErrSCTExtensionDuplicated
		}

		if ext.PeekASN1Tag(bytestring.Boolean) {
			var critical bool
			if !ext.ReadASN1Bool(&critical) {
				return nil, malformed("extension criticality")
			}
		}
		var value, sctList bytestring.Reader
		if !ext.ReadASN1(&value, bytestring.OctetString) || !ext.Empty() {
			return nil, malformed("SCT extension value")
		}
		if !value.ReadASN1(&sctList, bytestring.OctetString) || !value.Empty() {
			return nil, malformed("SCT list OCTET STRING")
		}
		found = &sctExtensionSpan{start: start, end: end, sctList: sctList}
	}
	if found == nil {
		return nil, ErrSCTExtensionMissing
	}
	return found, nil
}

// ExtractEmbeddedSCTList returns the raw SCT list carried in the embedded SCT
// extension of certDER. The result aliases certDER.
func ExtractEmbeddedSCTList(certDER []byte) ([]byte, error) {
	tbs, err := parseTBSCertificate(certDER)
	if err != nil {
		return nil, err
	}
	ext, err := findSCTExtension(tbs.extensions)
	if err != nil {
		return nil, err
	}
	return ext.sctList, nil
}

// GetPrecertSignedEntry rebuilds the precertificate entry for leafDER issued
// by issuerDER. The TBSCertificate is re-encoded with the embedded SCT
// extension cut out and every other byte kept verbatim, which reproduces what
// the log signed.
func GetPrecertSignedEntry(leafDER, issuerDER []byte) (*SignedEntryData, error) {
	tbs, err := parseTBSCertificate(leafDER)
	if err != nil {
		return nil, err
	}
	ext, err := findSCTExtension(tbs.extensions)
	if err != nil {
		return nil, err
	}
	keyHash, err := IssuerKeyHash(issuerDER)
	if err != nil {
		return nil, err
	}

	b := bytestring.NewBuilder(len(leafDER))
	body, ok := b.AddASN1(bytestring.Sequence)
	if !ok || !body.AddBytes(tbs.head) {
		return nil, malformed("rebuilding TBSCertificate")
	}
	wrapper, ok := body.AddASN1(tagExtensions)
	if !ok {
		return nil, malformed("rebuilding extensions")
	}
	extensions, ok := wrapper.AddASN1(bytestring.Sequence)
	if !ok ||
		!extensions.AddBytes(tbs.extensions[:ext.start]) ||
		!extensions.AddBytes(tbs.extensions[ext.end:]) {
		return nil, malformed("rebuilding extensions")
	}
	out, err := b.Finish()
	if err != nil {
		return nil, fmt.Errorf("rebuilding TBSCertificate: %w", err)
	}
	return &SignedEntryData{IssuerKeyHash: keyHash, TBSCertificate: out}, nil
}

// IssuerKeyHash returns the SHA-256 hash of the SubjectPublicKeyInfo of
// issuerDER.
func IssuerKeyHash(issuerDER []byte) ([32]byte, error) {
	tbs, err := readTBSCertificate(issuerDER)
	if err != nil {
		return [32]byte{}, err
	}
	// serialNumber, signature, issuer, validity, subject
	if err := skipFields(&tbs, 5); err != nil {
		return [32]byte{}, err
	}
	var spki bytestring.Reader
	if !tbs.ReadASN1Element(&spki, bytestring.Sequence) {
		return [32]byte{}, malformed("issuer SubjectPublicKeyInfo")
	}
	return sha256.Sum256(spki), nil
}
