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

package bytestring

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"slices"
)

var (
	ErrBuilderFailed = errors.New("bytestring: builder is in a failed state")
	ErrNotRoot       = errors.New("bytestring: Finish called on a child builder")
)

// Builder appends to a single output buffer. Length-prefixed children share
// the buffer with their parent: opening a child reserves room for its prefix
// and pushes a pending record, and flushing the child patches the prefix in
// place once its length is known.
//
// At most one child is open below any builder. Writing to a builder first
// flushes its open descendants, after which their handles fail on use. Any
// failed operation leaves the whole builder failed, and Finish then returns
// ErrBuilderFailed.
type Builder struct {
	st    *builderState
	depth int
	id    uint64
}

type builderState struct {
	buf     []byte
	fixed   bool
	failed  bool
	done    bool
	pending []pendingPrefix
	nextID  uint64
}

// pendingPrefix records a child whose length prefix has not been written.
type pendingPrefix struct {
	id uint64
	// start is where the child's first byte (tag or prefix) was written.
	start int
	// offset is where the reserved prefix bytes begin.
	offset int
	lenLen int
	asn1   bool
}

// NewBuilder returns a root builder backed by growable storage.
func NewBuilder(capacityHint int) *Builder {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Builder{st: &builderState{buf: make([]byte, 0, capacityHint)}}
}

// NewFixedBuilder returns a root builder that writes into buf and fails
// rather than grow past len(buf).
func NewFixedBuilder(buf []byte) *Builder {
	return &Builder{st: &builderState{buf: buf[:0:len(buf)], fixed: true}}
}

func (st *builderState) fail() bool {
	st.failed = true
	return false
}

// extend grows buf by n zeroed bytes and returns them.
func (st *builderState) extend(n int) ([]byte, bool) {
	if n < 0 {
		return nil, st.fail()
	}
	l := len(st.buf)
	if n > cap(st.buf)-l {
		if st.fixed {
			return nil, st.fail()
		}
		st.buf = slices.Grow(st.buf, n)
	}
	st.buf = st.buf[:l+n]
	out := st.buf[l:]
	clear(out)
	return out, true
}

func (st *builderState) flushTo(depth int) bool {
	for len(st.pending) > depth {
		p := st.pending[len(st.pending)-1]
		st.pending = st.pending[:len(st.pending)-1]
		if !st.patch(p) {
			return st.fail()
		}
	}
	return true
}

func (st *builderState) patch(p pendingPrefix) bool {
	contentStart := p.offset + p.lenLen
	length := len(st.buf) - contentStart

	if !p.asn1 {
		if p.lenLen < 8 && uint64(length) >= 1<<(8*p.lenLen) {
			return false
		}
		for i := p.lenLen - 1; i >= 0; i-- {
			st.buf[p.offset+i] = byte(length)
			length >>= 8
		}
		return true
	}

	// ASN.1 children reserve a single byte, enough for the short form.
	if length < 0x80 {
		st.buf[p.offset] = byte(length)
		return true
	}
	if uint64(length) > 0xfffffffe {
		return false
	}
	extra := 1
	for l := length >> 8; l != 0; l >>= 8 {
		extra++
	}
	if _, ok := st.extend(extra); !ok {
		return false
	}
	copy(st.buf[contentStart+extra:], st.buf[contentStart:contentStart+length])
	st.buf[p.offset] = 0x80 | byte(extra)
	for i := 0; i < extra; i++ {
		st.buf[p.offset+1+i] = byte(length >> (8 * (extra - 1 - i)))
	}
	return true
}

// valid reports whether b may still be used: the builder has not failed or
// finished, and b's own region has not been flushed or discarded.
func (b *Builder) valid() bool {
	st := b.st
	if st == nil || st.failed || st.done {
		return false
	}
	if b.depth == 0 {
		return true
	}
	return b.depth <= len(st.pending) && st.pending[b.depth-1].id == b.id
}

// prepare readies b for a write by flushing any open descendants.
func (b *Builder) prepare() bool {
	if !b.valid() {
		if b.st != nil {
			b.st.fail()
		}
		return false
	}
	return b.st.flushTo(b.depth)
}

func (b *Builder) contentStart() int {
	if b.depth == 0 {
		return 0
	}
	p := b.st.pending[b.depth-1]
	return p.offset + p.lenLen
}

// Len returns the number of content bytes written to b. It panics if b has an
// open child, since the child's prefix is not yet final.
func (b *Builder) Len() int {
	if !b.valid() {
		return 0
	}
	if len(b.st.pending) > b.depth {
		panic("bytestring: Len called on a builder with an open child")
	}
	return len(b.st.buf) - b.contentStart()
}

// Bytes returns the content written to b so far. The slice aliases the
// builder's storage and is invalidated by the next write. It panics if b has
// an open child.
func (b *Builder) Bytes() []byte {
	if !b.valid() {
		return nil
	}
	if len(b.st.pending) > b.depth {
		panic("bytestring: Bytes called on a builder with an open child")
	}
	return b.st.buf[b.contentStart():]
}

// Flush writes the length prefixes of all open descendants of b. Their
// handles can no longer be used.
func (b *Builder) Flush() bool {
	return b.prepare()
}

// DiscardChild abandons b's open child, if any, together with its
// descendants. Neither the child's contents nor its prefix are emitted.
func (b *Builder) DiscardChild() {
	if !b.valid() || len(b.st.pending) <= b.depth {
		return
	}
	child := b.st.pending[b.depth]
	b.st.pending = b.st.pending[:b.depth]
	b.st.buf = b.st.buf[:child.start]
}

// Finish flushes every open child and returns the completed output. It is
// only valid on the root builder; afterwards the builder cannot be used.
func (b *Builder) Finish() ([]byte, error) {
	if b.st == nil {
		return nil, ErrBuilderFailed
	}
	if b.depth != 0 {
		b.st.fail()
		return nil, ErrNotRoot
	}
	if !b.prepare() {
		return nil, ErrBuilderFailed
	}
	out := b.st.buf
	b.st.buf = nil
	b.st.done = true
	return out, nil
}

func (b *Builder) addUint(v uint64, n int) bool {
	if !b.prepare() {
		return false
	}
	dst, ok := b.st.extend(n)
	if !ok {
		return false
	}
	for i := n - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
	return true
}

func (b *Builder) AddUint8(v uint8) bool {
	return b.addUint(uint64(v), 1)
}

func (b *Builder) AddUint16(v uint16) bool {
	return b.addUint(uint64(v), 2)
}

// AddUint24 appends the low 24 bits of v. It fails if v does not fit.
func (b *Builder) AddUint24(v uint32) bool {
	if v>>24 != 0 {
		if b.st != nil {
			b.st.fail()
		}
		return false
	}
	return b.addUint(uint64(v), 3)
}

func (b *Builder) AddUint32(v uint32) bool {
	return b.addUint(uint64(v), 4)
}

func (b *Builder) AddUint64(v uint64) bool {
	return b.addUint(v, 8)
}

func (b *Builder) AddUint16LE(v uint16) bool {
	return b.AddBytes(binary.LittleEndian.AppendUint16(nil, v))
}

func (b *Builder) AddUint32LE(v uint32) bool {
	return b.AddBytes(binary.LittleEndian.AppendUint32(nil, v))
}

func (b *Builder) AddUint64LE(v uint64) bool {
	return b.AddBytes(binary.LittleEndian.AppendUint64(nil, v))
}

// AddBytes appends p verbatim.
func (b *Builder) AddBytes(p []byte) bool {
	dst, ok := b.AddSpace(len(p))
	if !ok {
		return false
	}
	copy(dst, p)
	return true
}

// AddZeros appends n zero bytes.
func (b *Builder) AddZeros(n int) bool {
	_, ok := b.AddSpace(n)
	return ok
}

// AddSpace appends n zero bytes and returns them for the caller to fill in.
// The returned slice is only valid until the next operation on the builder.
func (b *Builder) AddSpace(n int) ([]byte, bool) {
	if !b.prepare() {
		return nil, false
	}
	return b.st.extend(n)
}

// Reserve makes room for n bytes and returns them without advancing the
// output. After writing, the caller commits the bytes actually used with
// DidWrite. The returned slice is only valid until the next operation.
func (b *Builder) Reserve(n int) ([]byte, bool) {
	if !b.prepare() {
		return nil, false
	}
	if n < 0 {
		return nil, b.st.fail()
	}
	st := b.st
	l := len(st.buf)
	if n > cap(st.buf)-l {
		if st.fixed {
			return nil, st.fail()
		}
		st.buf = slices.Grow(st.buf, n)
	}
	return st.buf[l : l+n], true
}

// DidWrite commits n bytes previously returned by Reserve.
func (b *Builder) DidWrite(n int) bool {
	if !b.prepare() {
		return false
	}
	st := b.st
	l := len(st.buf)
	if n < 0 || n > cap(st.buf)-l {
		return st.fail()
	}
	st.buf = st.buf[:l+n]
	return true
}

func (b *Builder) addLengthPrefixed(lenLen int, isASN1 bool, start int) (*Builder, bool) {
	st := b.st
	offset := len(st.buf)
	if _, ok := st.extend(lenLen); !ok {
		return nil, false
	}
	st.nextID++
	st.pending = append(st.pending, pendingPrefix{
		id:     st.nextID,
		start:  start,
		offset: offset,
		lenLen: lenLen,
		asn1:   isASN1,
	})
	return &Builder{st: st, depth: b.depth + 1, id: st.nextID}, true
}

// AddUint8LengthPrefixed opens a child whose contents are prefixed by their
// length as a single byte.
func (b *Builder) AddUint8LengthPrefixed() (*Builder, bool) {
	if !b.prepare() {
		return nil, false
	}
	return b.addLengthPrefixed(1, false, len(b.st.buf))
}

// AddUint16LengthPrefixed opens a child with a big-endian 16-bit length
// prefix.
func (b *Builder) AddUint16LengthPrefixed() (*Builder, bool) {
	if !b.prepare() {
		return nil, false
	}
	return b.addLengthPrefixed(2, false, len(b.st.buf))
}

// AddUint24LengthPrefixed opens a child with a big-endian 24-bit length
// prefix.
func (b *Builder) AddUint24LengthPrefixed() (*Builder, bool) {
	if !b.prepare() {
		return nil, false
	}
	return b.addLengthPrefixed(3, false, len(b.st.buf))
}

// AddASN1 writes tag and opens a child holding the element's contents. The
// DER length is written when the child is flushed.
func (b *Builder) AddASN1(tag Tag) (*Builder, bool) {
	if !b.prepare() {
		return nil, false
	}
	start := len(b.st.buf)
	if !b.addTag(tag) {
		return nil, false
	}
	return b.addLengthPrefixed(1, true, start)
}

func (b *Builder) addTag(tag Tag) bool {
	if tag&^ClassConstructed == 0 {
		return b.st.fail()
	}
	lead := byte(tag>>tagShift) & 0xe0
	number := tag.Number()
	if number < 0x1f {
		dst, ok := b.st.extend(1)
		if !ok {
			return false
		}
		dst[0] = lead | byte(number)
		return true
	}
	enc := appendBase128([]byte{lead | 0x1f}, uint64(number))
	dst, ok := b.st.extend(len(enc))
	if !ok {
		return false
	}
	copy(dst, enc)
	return true
}

func appendBase128(dst []byte, v uint64) []byte {
	n := 1
	for t := v >> 7; t != 0; t >>= 7 {
		n++
	}
	for i := n - 1; i >= 0; i-- {
		octet := byte(v>>(7*uint(i))) & 0x7f
		if i != 0 {
			octet |= 0x80
		}
		dst = append(dst, octet)
	}
	return dst
}

// AddASN1Uint64 appends an INTEGER in minimal form. A zero pad byte is
// inserted when the most significant byte has its high bit set.
func (b *Builder) AddASN1Uint64(v uint64) bool {
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], v)
	i := 0
	for i < 7 && be[i] == 0 {
		i++
	}
	body := be[i:]
	if body[0]&0x80 != 0 {
		body = append([]byte{0}, body...)
	}
	return b.addASN1Primitive(Integer, body)
}

// AddASN1Int64 appends an INTEGER in minimal two's-complement form.
func (b *Builder) AddASN1Int64(v int64) bool {
	if v >= 0 {
		return b.AddASN1Uint64(uint64(v))
	}
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(v))
	i := 0
	for i < 7 && be[i] == 0xff && be[i+1]&0x80 != 0 {
		i++
	}
	return b.addASN1Primitive(Integer, be[i:])
}

// AddASN1OctetString appends data as an OCTET STRING.
func (b *Builder) AddASN1OctetString(data []byte) bool {
	return b.addASN1Primitive(OctetString, data)
}

// AddASN1Bool appends a BOOLEAN encoded as 0xff or 0x00.
func (b *Builder) AddASN1Bool(v bool) bool {
	octet := byte(0x00)
	if v {
		octet = 0xff
	}
	return b.addASN1Primitive(Boolean, []byte{octet})
}

func (b *Builder) addASN1Primitive(tag Tag, body []byte) bool {
	child, ok := b.AddASN1(tag)
	if !ok || !child.AddBytes(body) {
		return false
	}
	return b.Flush()
}

// AddASN1OIDFromText appends the DER contents of the OBJECT IDENTIFIER
// written in dotted-decimal form, e.g. "1.2.840.113549". Only the contents
// are written; callers wrap them with AddASN1(ObjectIdentifier). Malformed
// text fails without writing anything.
func (b *Builder) AddASN1OIDFromText(text string) bool {
	if !b.prepare() {
		return false
	}
	enc, ok := oidFromText(text)
	if !ok {
		return b.st.fail()
	}
	dst, ok := b.st.extend(len(enc))
	if !ok {
		return false
	}
	copy(dst, enc)
	return true
}

func oidFromText(text string) ([]byte, bool) {
	r := Reader(text)
	var a, c uint64
	if !parseDottedDecimal(&r, &a) || !parseDottedDecimal(&r, &c) {
		return nil, false
	}
	// The first two arcs share one component: 40*a + c.
	if a > 2 || (a < 2 && c >= 40) || c > math.MaxUint64-80 {
		return nil, false
	}
	enc := appendBase128(nil, 40*a+c)
	for !r.Empty() {
		var v uint64
		if !parseDottedDecimal(&r, &v) {
			return nil, false
		}
		enc = appendBase128(enc, v)
	}
	return enc, true
}

// parseDottedDecimal reads one decimal component and the dot after it, if
// any. A trailing dot is rejected.
func parseDottedDecimal(r *Reader, out *uint64) bool {
	var v uint64
	digits := 0
	for !r.Empty() && (*r)[0] >= '0' && (*r)[0] <= '9' {
		d := uint64((*r)[0] - '0')
		if digits > 0 && v == 0 {
			return false
		}
		if v > (math.MaxUint64-d)/10 {
			return false
		}
		v = v*10 + d
		digits++
		r.Skip(1)
	}
	if digits == 0 {
		return false
	}
	*out = v
	var dot uint8
	return !r.ReadUint8(&dot) || (dot == '.' && !r.Empty())
}

// FlushASN1SetOf flushes b and sorts the DER elements it contains into
// ascending order of their encodings, as DER requires for SET OF. It is only
// needed when the elements were written out of order.
func (b *Builder) FlushASN1SetOf() bool {
	if !b.prepare() {
		return false
	}
	content := b.st.buf[b.contentStart():]
	r := Reader(content)
	var elems [][]byte
	for !r.Empty() {
		var el Reader
		if !r.ReadAnyASN1Element(&el, nil, nil) {
			return b.st.fail()
		}
		elems = append(elems, el)
	}
	if len(elems) < 2 {
		return true
	}
	slices.SortFunc(elems, bytes.Compare)
	sorted := make([]byte, 0, len(content))
	for _, el := range elems {
		sorted = append(sorted, el...)
	}
	copy(content, sorted)
	return true
}
