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

package sct

import (
	"bytes"
	"testing"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigstore/ctverify/pkg/limits"
	"github.com/sigstore/ctverify/pkg/precert"
)

func sampleLogID() [32]byte {
	var id [32]byte
	for i := range id {
		id[i] = byte(i)
	}
	return id
}

func sampleCTSCT() ct.SignedCertificateTimestamp {
	return ct.SignedCertificateTimestamp{
		SCTVersion: ct.V1,
		LogID:      ct.LogID{KeyID: sampleLogID()},
		Timestamp:  1700000000123,
		Extensions: ct.CTExtensions{0xde, 0xad},
		Signature: ct.DigitallySigned{
			Algorithm: tls.SignatureAndHashAlgorithm{Hash: tls.SHA256, Signature: tls.ECDSA},
			Signature: []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02},
		},
	}
}

func TestDecodeSCT(t *testing.T) {
	raw := []byte{0x00}
	id := sampleLogID()
	raw = append(raw, id[:]...)
	raw = append(raw, 0x00, 0x00, 0x01, 0x8b, 0xcf, 0xe5, 0x68, 0x7b) // 1700000000123
	raw = append(raw, 0x00, 0x02, 0xde, 0xad)
	raw = append(raw, 0x04, 0x03, 0x00, 0x02, 0xca, 0xfe)

	got, err := DecodeSCT(raw)
	require.NoError(t, err)
	want := &SignedCertificateTimestamp{
		Version:    V1,
		LogID:      id,
		Timestamp:  1700000000123,
		Extensions: []byte{0xde, 0xad},
		Signature: DigitallySigned{
			HashAlgorithm:      SHA256,
			SignatureAlgorithm: ECDSA,
			Signature:          []byte{0xca, 0xfe},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeSCT() mismatch (-want +got):\n%s", diff)
	}

	encoded, err := EncodeSCT(got)
	require.NoError(t, err)
	assert.Equal(t, raw, encoded)
}

func TestDecodeSCTMatchesCTGo(t *testing.T) {
	want := sampleCTSCT()
	raw, err := tls.Marshal(want)
	require.NoError(t, err)

	got, err := DecodeSCT(raw)
	require.NoError(t, err)
	assert.Equal(t, V1, got.Version)
	assert.Equal(t, want.LogID.KeyID, [32]byte(got.LogID))
	assert.Equal(t, want.Timestamp, got.Timestamp)
	assert.Equal(t, []byte(want.Extensions), got.Extensions)
	assert.Equal(t, SHA256, got.Signature.HashAlgorithm)
	assert.Equal(t, ECDSA, got.Signature.SignatureAlgorithm)
	assert.Equal(t, want.Signature.Signature, got.Signature.Signature)

	encoded, err := EncodeSCT(got)
	require.NoError(t, err)
	assert.Equal(t, raw, encoded)
}

func TestDecodeSCTErrors(t *testing.T) {
	valid, err := tls.Marshal(sampleCTSCT())
	require.NoError(t, err)
	with := func(i int, v byte) []byte {
		out := bytes.Clone(valid)
		out[i] = v
		return out
	}
	// version(1) log_id(32) timestamp(8) extensions(2+2)
	hashAt := 1 + 32 + 8 + 2 + 2

	for _, tc := range []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"empty", nil, ErrMalformedSCT},
		{"version 2", with(0, 1), ErrUnsupportedVersion},
		{"unknown hash", with(hashAt, 7), ErrUnsupportedAlgorithm},
		{"unknown signature", with(hashAt+1, 4), ErrUnsupportedAlgorithm},
		{"trailing data", append(bytes.Clone(valid), 0x00), ErrMalformedSCT},
		{"extensions overrun", with(1+32+8+1, 0xff), ErrMalformedSCT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSCT(tc.input)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecodeSCTAcceptsEveryKnownAlgorithm(t *testing.T) {
	valid, err := tls.Marshal(sampleCTSCT())
	require.NoError(t, err)
	hashAt := 1 + 32 + 8 + 2 + 2
	for h := None; h <= SHA512; h++ {
		for s := Anonymous; s <= ECDSA; s++ {
			raw := bytes.Clone(valid)
			raw[hashAt], raw[hashAt+1] = byte(h), byte(s)
			got, err := DecodeSCT(raw)
			require.NoError(t, err, "%s/%s", h, s)
			assert.Equal(t, h, got.Signature.HashAlgorithm)
			assert.Equal(t, s, got.Signature.SignatureAlgorithm)
		}
	}
}

func TestDecodeSCTTruncated(t *testing.T) {
	valid, err := tls.Marshal(sampleCTSCT())
	require.NoError(t, err)
	for i := 0; i < len(valid); i++ {
		_, err := DecodeSCT(valid[:i])
		assert.ErrorIs(t, err, ErrMalformedSCT, "prefix of length %d", i)
	}
}

func serializedList(t *testing.T, items ...[]byte) []byte {
	t.Helper()
	list := ctx509.SignedCertificateTimestampList{}
	for _, item := range items {
		list.SCTList = append(list.SCTList, ctx509.SerializedSCT{Val: item})
	}
	raw, err := tls.Marshal(list)
	require.NoError(t, err)
	return raw
}

func TestDecodeSCTList(t *testing.T) {
	raw := serializedList(t, []byte{0x01}, []byte{0x02, 0x03}, []byte{0x04})
	got, err := DecodeSCTList(raw)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x01}, {0x02, 0x03}, {0x04}}, got)

	encoded, err := EncodeSCTList(got)
	require.NoError(t, err)
	assert.Equal(t, raw, encoded)

	for i := 0; i < len(raw); i++ {
		_, err := DecodeSCTList(raw[:i])
		assert.ErrorIs(t, err, ErrMalformedSCT, "prefix of length %d", i)
	}
}

func TestDecodeSCTListErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"nil", nil, ErrMalformedSCT},
		{"empty list", []byte{0x00, 0x00}, ErrMalformedSCT},
		{"trailing data", []byte{0x00, 0x03, 0x00, 0x01, 0xaa, 0x00}, ErrMalformedSCT},
		{"empty item", []byte{0x00, 0x02, 0x00, 0x00}, ErrMalformedSCT},
		{"item overrun", []byte{0x00, 0x03, 0x00, 0x02, 0xaa}, ErrMalformedSCT},
		{"list overrun", []byte{0x00, 0x05, 0x00, 0x01, 0xaa}, ErrMalformedSCT},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeSCTList(tc.input)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestDecodeSCTListLimit(t *testing.T) {
	items := make([][]byte, limits.MaxAllowedSCTs+1)
	for i := range items {
		items[i] = []byte{byte(i)}
	}

	got, err := DecodeSCTList(serializedList(t, items[:limits.MaxAllowedSCTs]...))
	require.NoError(t, err)
	assert.Len(t, got, limits.MaxAllowedSCTs)

	got, err = DecodeSCTList(serializedList(t, items...))
	require.NoError(t, err)
	require.Len(t, got, limits.MaxAllowedSCTs)
	assert.Equal(t, []byte{0x00}, got[0])
	assert.Equal(t, []byte{byte(limits.MaxAllowedSCTs - 1)}, got[len(got)-1])

	// Items past the limit are still checked for framing.
	list := serializedList(t, items...)
	truncated := append(bytes.Clone(list[:len(list)-2]), 0x00, 0x00)
	_, err = DecodeSCTList(truncated)
	assert.ErrorIs(t, err, ErrMalformedSCT)
}

func TestEncodeSCTListErrors(t *testing.T) {
	_, err := EncodeSCTList(nil)
	assert.ErrorIs(t, err, ErrMalformedSCT)
	_, err = EncodeSCTList([][]byte{{0x01}, {}})
	assert.ErrorIs(t, err, ErrMalformedSCT)
	_, err = EncodeSCTList([][]byte{make([]byte, 1<<16)})
	assert.Error(t, err)
}

func TestEncodeV1SignedDataMatchesCTGo(t *testing.T) {
	entry := &precert.SignedEntryData{
		IssuerKeyHash:  sampleLogID(),
		TBSCertificate: bytes.Repeat([]byte{0x5a}, 300),
	}
	for _, extensions := range [][]byte{nil, {0x01, 0x02, 0x03}} {
		s := sampleCTSCT()
		s.Extensions = extensions

		signedEntry, err := EncodeSignedEntry(entry)
		require.NoError(t, err)
		got, err := EncodeV1SignedData(s.Timestamp, signedEntry, extensions)
		require.NoError(t, err)

		want, err := ct.SerializeSCTSignatureInput(s, ct.LogEntry{
			Leaf: ct.MerkleTreeLeaf{
				Version:  ct.V1,
				LeafType: ct.TimestampedEntryLeafType,
				TimestampedEntry: &ct.TimestampedEntry{
					Timestamp: s.Timestamp,
					EntryType: ct.PrecertLogEntryType,
					PrecertEntry: &ct.PreCert{
						IssuerKeyHash:  entry.IssuerKeyHash,
						TBSCertificate: entry.TBSCertificate,
					},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestEncodeSignedEntry(t *testing.T) {
	entry := &precert.SignedEntryData{
		IssuerKeyHash:  sampleLogID(),
		TBSCertificate: []byte{0x30, 0x00},
	}
	got, err := EncodeSignedEntry(entry)
	require.NoError(t, err)
	want := []byte{0x00, 0x01}
	want = append(want, entry.IssuerKeyHash[:]...)
	want = append(want, 0x00, 0x00, 0x02, 0x30, 0x00)
	assert.Equal(t, want, got)

	_, err = EncodeSignedEntry(&precert.SignedEntryData{TBSCertificate: make([]byte, 1<<24)})
	assert.Error(t, err)
}

func TestSCTString(t *testing.T) {
	raw, err := tls.Marshal(sampleCTSCT())
	require.NoError(t, err)
	s, err := DecodeSCT(raw)
	require.NoError(t, err)
	assert.Contains(t, s.String(), "LogID:000102")
	assert.Contains(t, s.String(), "sha256 ecdsa")
	assert.Equal(t, "hash(9)", HashAlgorithm(9).String())
	assert.Equal(t, "signature(9)", SignatureAlgorithm(9).String())
}

/*
Decodes arbitrary bytes as an SCT and as an SCT list. Whatever decodes must
re-encode to exactly the input.
*/
func FuzzDecodeSCT(f *testing.F) {
	valid, err := tls.Marshal(sampleCTSCT())
	if err != nil {
		f.Fatal(err)
	}
	f.Add(valid)
	f.Add([]byte{0x00, 0x04, 0x00, 0x02, 0xaa, 0xbb})
	f.Fuzz(func(t *testing.T, data []byte) {
		if s, err := DecodeSCT(data); err == nil {
			out, err := EncodeSCT(s)
			if err != nil || !bytes.Equal(out, data) {
				t.Fatalf("SCT %x re-encoded to %x (%v)", data, out, err)
			}
		}
		if list, err := DecodeSCTList(data); err == nil {
			out, err := EncodeSCTList(list)
			if err != nil || !bytes.Equal(out, data) {
				t.Fatalf("SCT list %x re-encoded to %x (%v)", data, out, err)
			}
		}
	})
}
