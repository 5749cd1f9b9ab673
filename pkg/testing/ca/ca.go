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

// Package ca provides an in-memory certificate authority and CT logs for
// tests. Certificates are issued the way a publicly trusted CA issues them:
// the precertificate TBS is submitted to each log, and the returned SCTs are
// embedded in the final certificate.
package ca

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/google/certificate-transparency-go/x509util"
	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/signature"
)

// VirtualLog is a CT log that signs SCTs with an in-memory key.
type VirtualLog struct {
	signer signature.Signer
	sigAlg tls.SignatureAlgorithm
	// PublicKeyDER is the log's SubjectPublicKeyInfo.
	PublicKeyDER []byte
	// LogID is the SHA-256 hash of PublicKeyDER.
	LogID [32]byte
}

// NewECDSALog returns a log with a P-256 key.
func NewECDSALog() (*VirtualLog, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return newVirtualLog(priv, tls.ECDSA)
}

// NewRSALog returns a log with a 2048-bit RSA key.
func NewRSALog() (*VirtualLog, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newVirtualLog(priv, tls.RSA)
}

func newVirtualLog(priv crypto.Signer, sigAlg tls.SignatureAlgorithm) (*VirtualLog, error) {
	signer, err := signature.LoadSigner(priv, crypto.SHA256)
	if err != nil {
		return nil, err
	}
	der, err := cryptoutils.MarshalPublicKeyToDER(priv.Public())
	if err != nil {
		return nil, err
	}
	return &VirtualLog{
		signer:       signer,
		sigAlg:       sigAlg,
		PublicKeyDER: der,
		LogID:        sha256.Sum256(der),
	}, nil
}

// SignPrecert returns an SCT over the precertificate entry made of
// issuerKeyHash and tbs.
func (l *VirtualLog) SignPrecert(timestamp uint64, issuerKeyHash [32]byte, tbs []byte) (*ct.SignedCertificateTimestamp, error) {
	sct := ct.SignedCertificateTimestamp{
		SCTVersion: ct.V1,
		LogID:      ct.LogID{KeyID: l.LogID},
		Timestamp:  timestamp,
	}
	entry := ct.LogEntry{
		Leaf: ct.MerkleTreeLeaf{
			Version:  ct.V1,
			LeafType: ct.TimestampedEntryLeafType,
			TimestampedEntry: &ct.TimestampedEntry{
				Timestamp: timestamp,
				EntryType: ct.PrecertLogEntryType,
				PrecertEntry: &ct.PreCert{
					IssuerKeyHash:  issuerKeyHash,
					TBSCertificate: tbs,
				},
			},
		},
	}
	data, err := ct.SerializeSCTSignatureInput(sct, entry)
	if err != nil {
		return nil, err
	}
	sig, err := l.signer.SignMessage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	sct.Signature = ct.DigitallySigned{
		Algorithm: tls.SignatureAndHashAlgorithm{
			Hash:      tls.SHA256,
			Signature: l.sigAlg,
		},
		Signature: sig,
	}
	return &sct, nil
}

// Embed requests an SCT from Log for the issued leaf.
type Embed struct {
	Log       *VirtualLog
	Timestamp uint64
	// Mutate, if set, alters the SCT after it is signed.
	Mutate func(*ct.SignedCertificateTimestamp)
}

// VirtualCA issues leaf certificates from an intermediate under a root.
type VirtualCA struct {
	Root            *x509.Certificate
	Intermediate    *x509.Certificate
	intermediateKey *ecdsa.PrivateKey
	serial          int64
}

// NewVirtualCA returns a CA with a fresh root and intermediate.
func NewVirtualCA() (*VirtualCA, error) {
	rootCert, rootKey, err := GenerateRootCa()
	if err != nil {
		return nil, err
	}
	intermediate, intermediateKey, err := GenerateIntermediate(rootCert, rootKey)
	if err != nil {
		return nil, err
	}
	return &VirtualCA{Root: rootCert, Intermediate: intermediate, intermediateKey: intermediateKey}, nil
}

// Leaf is an issued certificate together with what its logs signed.
type Leaf struct {
	Cert *x509.Certificate
	// PrecertTBS is the TBSCertificate the logs signed: the final
	// TBSCertificate without the SCT extension.
	PrecertTBS []byte
	SCTs       []*ct.SignedCertificateTimestamp
	Key        *ecdsa.PrivateKey
}

// TLSCertificate returns leaf with its intermediate for serving over TLS.
func (ca *VirtualCA) TLSCertificate(leaf *Leaf) cryptotls.Certificate {
	return cryptotls.Certificate{
		Certificate: [][]byte{leaf.Cert.Raw, ca.Intermediate.Raw},
		PrivateKey:  leaf.Key,
		Leaf:        leaf.Cert,
	}
}

// IssueLeaf issues a server certificate for dnsName carrying one embedded SCT
// per Embed. Without any Embed the certificate has no SCT extension.
func (ca *VirtualCA) IssueLeaf(dnsName string, embeds ...Embed) (*x509.Certificate, error) {
	leaf, err := ca.Issue(dnsName, nil, embeds...)
	if err != nil {
		return nil, err
	}
	return leaf.Cert, nil
}

// Issue is like IssueLeaf but places extra before the SCT extension and
// returns the precertificate TBS and SCTs as well.
func (ca *VirtualCA) Issue(dnsName string, extra []pkix.Extension, embeds ...Embed) (*Leaf, error) {
	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	ca.serial++
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:    big.NewInt(ca.serial),
		Subject:         pkix.Name{CommonName: dnsName},
		DNSNames:        []string{dnsName},
		NotBefore:       now.Add(-time.Hour),
		NotAfter:        now.Add(24 * time.Hour),
		KeyUsage:        x509.KeyUsageDigitalSignature,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		ExtraExtensions: extra,
	}

	pre, err := createCertificate(template, ca.Intermediate, &leafKey.PublicKey, ca.intermediateKey)
	if err != nil {
		return nil, err
	}
	if len(embeds) == 0 {
		return &Leaf{Cert: pre, PrecertTBS: pre.RawTBSCertificate, Key: leafKey}, nil
	}
	issuerKeyHash := sha256.Sum256(ca.Intermediate.RawSubjectPublicKeyInfo)

	scts := make([]*ct.SignedCertificateTimestamp, 0, len(embeds))
	for _, e := range embeds {
		sct, err := e.Log.SignPrecert(e.Timestamp, issuerKeyHash, pre.RawTBSCertificate)
		if err != nil {
			return nil, err
		}
		if e.Mutate != nil {
			e.Mutate(sct)
		}
		scts = append(scts, sct)
	}
	ext, err := SCTListExtension(scts)
	if err != nil {
		return nil, err
	}
	template.ExtraExtensions = append(append([]pkix.Extension{}, extra...), ext)
	cert, err := createCertificate(template, ca.Intermediate, &leafKey.PublicKey, ca.intermediateKey)
	if err != nil {
		return nil, err
	}
	return &Leaf{Cert: cert, PrecertTBS: pre.RawTBSCertificate, SCTs: scts, Key: leafKey}, nil
}

// SCTListExtension encodes scts as an embedded SCT extension.
func SCTListExtension(scts []*ct.SignedCertificateTimestamp) (pkix.Extension, error) {
	sctList, err := x509util.MarshalSCTsIntoSCTList(scts)
	if err != nil {
		return pkix.Extension{}, err
	}
	sctBytes, err := tls.Marshal(*sctList)
	if err != nil {
		return pkix.Extension{}, err
	}
	value, err := asn1.Marshal(sctBytes)
	if err != nil {
		return pkix.Extension{}, err
	}
	return pkix.Extension{
		Id:    asn1.ObjectIdentifier(ctx509.OIDExtensionCTSCT),
		Value: value,
	}, nil
}

func createCertificate(template *x509.Certificate, parent *x509.Certificate, pub interface{}, priv crypto.Signer) (*x509.Certificate, error) {
	certBytes, err := x509.CreateCertificate(rand.Reader, template, parent, pub, priv)
	if err != nil {
		return nil, err
	}

	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func GenerateRootCa() (*x509.Certificate, *ecdsa.PrivateKey, error) {
	rootTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "ctverify test root",
			Organization: []string{"sigstore.dev"},
		},
		NotBefore:             time.Now().Add(-5 * time.Hour),
		NotAfter:              time.Now().Add(5 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cert, err := createCertificate(rootTemplate, rootTemplate, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}

	return cert, priv, nil
}

func GenerateIntermediate(rootTemplate *x509.Certificate, rootPriv crypto.Signer) (*x509.Certificate, *ecdsa.PrivateKey, error) {
	subTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "ctverify test intermediate",
			Organization: []string{"sigstore.dev"},
		},
		NotBefore:             time.Now().Add(-2 * time.Minute),
		NotAfter:              time.Now().Add(2 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	cert, err := createCertificate(subTemplate, rootTemplate, &priv.PublicKey, rootPriv)
	if err != nil {
		return nil, nil, err
	}

	return cert, priv, nil
}
