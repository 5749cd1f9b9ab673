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

// Package bytestring reads and writes the binary formats used by Certificate
// Transparency: TLS presentation-language vectors (RFC 6962 structures) and
// DER-encoded ASN.1 (certificates).
//
// A Reader is a forward-only cursor. Every accessor reports success with a
// bool and leaves the output untouched on failure. A Reader that failed must
// not be reused: callers abandon the whole parse on the first failure.
package bytestring

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"

	"golang.org/x/crypto/cryptobyte"
)

// Reader is a non-owning view over an immutable byte slice.
type Reader []byte

func (r *Reader) cb() *cryptobyte.String {
	return (*cryptobyte.String)(r)
}

// Len returns the number of unread bytes.
func (r Reader) Len() int {
	return len(r)
}

// Empty reports whether all bytes have been consumed.
func (r Reader) Empty() bool {
	return len(r) == 0
}

// Bytes returns the unread bytes without consuming them.
func (r Reader) Bytes() []byte {
	return r
}

// Equal reports whether the unread bytes equal b. Inputs of different length
// compare unequal immediately; otherwise the comparison runs in constant time.
func (r Reader) Equal(b []byte) bool {
	if len(r) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(r, b) == 1
}

// Skip advances past n bytes.
func (r *Reader) Skip(n int) bool {
	return r.cb().Skip(n)
}

func (r *Reader) ReadUint8(out *uint8) bool {
	return r.cb().ReadUint8(out)
}

func (r *Reader) ReadUint16(out *uint16) bool {
	return r.cb().ReadUint16(out)
}

// ReadUint24 reads a big-endian 24-bit value into the low bits of out.
func (r *Reader) ReadUint24(out *uint32) bool {
	return r.cb().ReadUint24(out)
}

func (r *Reader) ReadUint32(out *uint32) bool {
	return r.cb().ReadUint32(out)
}

func (r *Reader) ReadUint64(out *uint64) bool {
	return r.cb().ReadUint64(out)
}

func (r *Reader) ReadUint16LE(out *uint16) bool {
	var b []byte
	if !r.ReadBytes(&b, 2) {
		return false
	}
	*out = binary.LittleEndian.Uint16(b)
	return true
}

func (r *Reader) ReadUint32LE(out *uint32) bool {
	var b []byte
	if !r.ReadBytes(&b, 4) {
		return false
	}
	*out = binary.LittleEndian.Uint32(b)
	return true
}

func (r *Reader) ReadUint64LE(out *uint64) bool {
	var b []byte
	if !r.ReadBytes(&b, 8) {
		return false
	}
	*out = binary.LittleEndian.Uint64(b)
	return true
}

// ReadLastUint8 consumes the final byte of r.
func (r *Reader) ReadLastUint8(out *uint8) bool {
	if len(*r) == 0 {
		return false
	}
	*out = (*r)[len(*r)-1]
	*r = (*r)[:len(*r)-1]
	return true
}

// ReadBytes sets out to the next n bytes and advances past them. out aliases
// the underlying slice.
func (r *Reader) ReadBytes(out *[]byte, n int) bool {
	return r.cb().ReadBytes(out, n)
}

// CopyBytes copies len(out) bytes into out and advances past them.
func (r *Reader) CopyBytes(out []byte) bool {
	return r.cb().CopyBytes(out)
}

func (r *Reader) ReadUint8LengthPrefixed(out *Reader) bool {
	return r.cb().ReadUint8LengthPrefixed((*cryptobyte.String)(out))
}

func (r *Reader) ReadUint16LengthPrefixed(out *Reader) bool {
	return r.cb().ReadUint16LengthPrefixed((*cryptobyte.String)(out))
}

func (r *Reader) ReadUint24LengthPrefixed(out *Reader) bool {
	return r.cb().ReadUint24LengthPrefixed((*cryptobyte.String)(out))
}

// ReadUntil sets out to the bytes before the first occurrence of c and
// advances to that occurrence. It fails if c does not appear.
func (r *Reader) ReadUntil(out *Reader, c byte) bool {
	i := bytes.IndexByte(*r, c)
	if i < 0 {
		return false
	}
	*out = (*r)[:i]
	*r = (*r)[i:]
	return true
}
