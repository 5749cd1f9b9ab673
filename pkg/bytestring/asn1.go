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

// parseBase128 reads a base-128 integer as used by high tag numbers and OID
// components. Leading 0x80 bytes and values past 64 bits are rejected.
func parseBase128(r *Reader, out *uint64) bool {
	var v uint64
	for {
		var b uint8
		if !r.ReadUint8(&b) {
			return false
		}
		if v>>(64-7) != 0 {
			return false
		}
		if v == 0 && b == 0x80 {
			return false
		}
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			break
		}
	}
	*out = v
	return true
}

func parseTag(r *Reader, out *Tag) bool {
	var b uint8
	if !r.ReadUint8(&b) {
		return false
	}
	tag := Tag(b&0xe0) << tagShift
	number := uint64(b & 0x1f)
	if number == 0x1f {
		if !parseBase128(r, &number) ||
			// Numbers below 31 must use the short form.
			number < 0x1f ||
			number > uint64(TagNumberMask) {
			return false
		}
	}
	tag |= Tag(number)
	// [UNIVERSAL 0] is the end-of-contents marker and never an element.
	if tag&^ClassConstructed == 0 {
		return false
	}
	*out = tag
	return true
}

func (r *Reader) readAnyASN1Element(out *Reader, outTag *Tag, outHeaderLen *int, outBERFound, outIndefinite *bool, berOK bool) bool {
	in := *r
	var tag Tag
	if !parseTag(&in, &tag) {
		return false
	}
	var lengthByte uint8
	if !in.ReadUint8(&lengthByte) {
		return false
	}

	var berFound, indefinite bool
	var length uint64
	if lengthByte&0x80 == 0 {
		length = uint64(lengthByte)
	} else {
		numBytes := int(lengthByte & 0x7f)
		switch {
		case berOK && numBytes == 0 && tag.Constructed():
			berFound, indefinite = true, true
		case numBytes == 0 || numBytes > 4:
			return false
		default:
			var l uint64
			for i := 0; i < numBytes; i++ {
				var b uint8
				if !in.ReadUint8(&b) {
					return false
				}
				l = l<<8 | uint64(b)
			}
			// DER requires the short form below 128 and no leading zero octets.
			if l < 0x80 || l>>((numBytes-1)*8) == 0 {
				if !berOK {
					return false
				}
				berFound = true
			}
			length = l
		}
	}

	headerLen := len(*r) - len(in)
	if length > uint64(len(in)) {
		return false
	}
	total := headerLen + int(length)

	if out != nil {
		*out = (*r)[:total]
	}
	if outTag != nil {
		*outTag = tag
	}
	if outHeaderLen != nil {
		*outHeaderLen = headerLen
	}
	if outBERFound != nil {
		*outBERFound = berFound
	}
	if outIndefinite != nil {
		*outIndefinite = indefinite
	}
	*r = (*r)[total:]
	return true
}

// ReadAnyASN1Element reads the next DER element, including its header, and
// reports its tag and header length. Either output may be nil.
func (r *Reader) ReadAnyASN1Element(out *Reader, outTag *Tag, outHeaderLen *int) bool {
	return r.readAnyASN1Element(out, outTag, outHeaderLen, nil, nil, false)
}

// ReadAnyBERASN1Element is like ReadAnyASN1Element but also accepts BER
// lengths. outBERFound is set when the element is valid BER but not DER;
// outIndefinite is set for an indefinite-length constructed element, in which
// case out holds only the header and the caller must parse the contents and
// the end-of-contents marker itself.
func (r *Reader) ReadAnyBERASN1Element(out *Reader, outTag *Tag, outHeaderLen *int, outBERFound, outIndefinite *bool) bool {
	return r.readAnyASN1Element(out, outTag, outHeaderLen, outBERFound, outIndefinite, true)
}

// ReadAnyASN1 reads the next DER element and sets out to its contents.
func (r *Reader) ReadAnyASN1(out *Reader, outTag *Tag) bool {
	var el Reader
	var headerLen int
	if !r.ReadAnyASN1Element(&el, outTag, &headerLen) {
		return false
	}
	if out != nil {
		*out = el[headerLen:]
	}
	return true
}

func (r *Reader) readASN1(out *Reader, tag Tag, skipHeader bool) bool {
	in := *r
	var el Reader
	var got Tag
	var headerLen int
	if !in.ReadAnyASN1Element(&el, &got, &headerLen) || got != tag {
		return false
	}
	if skipHeader {
		el = el[headerLen:]
	}
	if out != nil {
		*out = el
	}
	*r = in
	return true
}

// ReadASN1 reads a DER element with the given tag and sets out to its
// contents.
func (r *Reader) ReadASN1(out *Reader, tag Tag) bool {
	return r.readASN1(out, tag, true)
}

// ReadASN1Element reads a DER element with the given tag and sets out to the
// whole element, header included.
func (r *Reader) ReadASN1Element(out *Reader, tag Tag) bool {
	return r.readASN1(out, tag, false)
}

// PeekASN1Tag reports whether the next element carries tag, without
// consuming anything.
func (r Reader) PeekASN1Tag(tag Tag) bool {
	var got Tag
	return parseTag(&r, &got) && got == tag
}

// IsValidASN1Integer reports whether r holds the contents of a minimally
// encoded INTEGER and, if outNegative is non-nil, its sign.
func (r Reader) IsValidASN1Integer(outNegative *bool) bool {
	if len(r) == 0 {
		return false
	}
	if len(r) > 1 {
		if (r[0] == 0x00 && r[1]&0x80 == 0) || (r[0] == 0xff && r[1]&0x80 != 0) {
			return false
		}
	}
	if outNegative != nil {
		*outNegative = r[0]&0x80 != 0
	}
	return true
}

// IsUnsignedASN1Integer reports whether r holds a valid non-negative INTEGER.
func (r Reader) IsUnsignedASN1Integer() bool {
	var negative bool
	return r.IsValidASN1Integer(&negative) && !negative
}

// ReadASN1Uint64 reads a DER INTEGER that must be non-negative and fit in 64
// bits.
func (r *Reader) ReadASN1Uint64(out *uint64) bool {
	in := *r
	var body Reader
	if !in.ReadASN1(&body, Integer) || !body.IsUnsignedASN1Integer() {
		return false
	}
	if len(body) > 1 && body[0] == 0 {
		body = body[1:]
	}
	if len(body) > 8 {
		return false
	}
	var v uint64
	for _, b := range body {
		v = v<<8 | uint64(b)
	}
	*out = v
	*r = in
	return true
}

// ReadASN1Int64 reads a DER INTEGER that must fit in a signed 64-bit value.
func (r *Reader) ReadASN1Int64(out *int64) bool {
	in := *r
	var body Reader
	if !in.ReadASN1(&body, Integer) || !body.IsValidASN1Integer(nil) || len(body) > 8 {
		return false
	}
	v := int64(int8(body[0]))
	for _, b := range body[1:] {
		v = v<<8 | int64(b)
	}
	*out = v
	*r = in
	return true
}

// ReadASN1Bool reads a BOOLEAN. The contents must be a single byte; any
// non-zero value is true.
func (r *Reader) ReadASN1Bool(out *bool) bool {
	in := *r
	var body Reader
	if !in.ReadASN1(&body, Boolean) || len(body) != 1 {
		return false
	}
	*out = body[0] != 0
	*r = in
	return true
}

// ReadOptionalASN1 reads an element with the given tag if one is next. When
// it is absent, out is cleared, nothing is consumed and the call succeeds.
func (r *Reader) ReadOptionalASN1(out *Reader, outPresent *bool, tag Tag) bool {
	present := r.PeekASN1Tag(tag)
	if present {
		if !r.ReadASN1(out, tag) {
			return false
		}
	} else if out != nil {
		*out = nil
	}
	if outPresent != nil {
		*outPresent = present
	}
	return true
}

// ReadOptionalASN1OctetString reads an explicitly tagged OCTET STRING if the
// tag is next. When absent, out is set to nil.
func (r *Reader) ReadOptionalASN1OctetString(out *[]byte, outPresent *bool, tag Tag) bool {
	var child Reader
	var present bool
	if !r.ReadOptionalASN1(&child, &present, tag) {
		return false
	}
	if present {
		var octets Reader
		if !child.ReadASN1(&octets, OctetString) || !child.Empty() {
			return false
		}
		*out = octets
	} else {
		*out = nil
	}
	if outPresent != nil {
		*outPresent = present
	}
	return true
}

// ReadOptionalASN1Uint64 reads an explicitly tagged INTEGER if the tag is
// next, otherwise sets out to defaultValue.
func (r *Reader) ReadOptionalASN1Uint64(out *uint64, tag Tag, defaultValue uint64) bool {
	var child Reader
	var present bool
	if !r.ReadOptionalASN1(&child, &present, tag) {
		return false
	}
	if !present {
		*out = defaultValue
		return true
	}
	return child.ReadASN1Uint64(out) && child.Empty()
}

// ReadOptionalASN1Bool reads an explicitly tagged BOOLEAN if the tag is
// next, otherwise sets out to defaultValue.
func (r *Reader) ReadOptionalASN1Bool(out *bool, tag Tag, defaultValue bool) bool {
	var child Reader
	var present bool
	if !r.ReadOptionalASN1(&child, &present, tag) {
		return false
	}
	if !present {
		*out = defaultValue
		return true
	}
	return child.ReadASN1Bool(out) && child.Empty()
}

// IsValidASN1BitString reports whether r holds the contents of a BIT STRING
// whose unused-bits count is consistent and whose padding bits are zero.
func (r Reader) IsValidASN1BitString() bool {
	if len(r) == 0 {
		return false
	}
	unused := r[0]
	if unused > 7 || (len(r) == 1 && unused > 0) {
		return false
	}
	last := r[len(r)-1]
	return last&(1<<unused-1) == 0
}

// ASN1BitStringHasBit reports whether bit is set in the BIT STRING contents
// r. Bit 0 is the most significant bit of the first content byte. Bits past
// the end read as unset.
func (r Reader) ASN1BitStringHasBit(bit uint) bool {
	if !r.IsValidASN1BitString() {
		return false
	}
	byteNum := bit/8 + 1
	bitNum := 7 - bit%8
	return byteNum < uint(len(r)) && (r[byteNum]>>bitNum)&1 != 0
}
