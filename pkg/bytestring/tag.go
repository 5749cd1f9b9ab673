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

// Tag is an ASN.1 tag. The class and constructed bits are stored in the top
// byte, shifted left by tagShift, and the tag number in the low 29 bits, so
// high tag numbers fit alongside the class bits.
//
// The constructed bit is never derived from the tag number. Callers building
// context-specific tags must set it themselves, e.g.
// ClassContextSpecific | ClassConstructed | 3 for an explicit [3].
type Tag uint32

const tagShift = 24

const (
	ClassConstructed     Tag = 0x20 << tagShift
	ClassUniversal       Tag = 0x00 << tagShift
	ClassApplication     Tag = 0x40 << tagShift
	ClassContextSpecific Tag = 0x80 << tagShift
	ClassPrivate         Tag = 0xc0 << tagShift
	ClassMask            Tag = 0xc0 << tagShift

	// TagNumberMask selects the tag number. It is wide enough for any number
	// that fits in 29 bits.
	TagNumberMask Tag = (1 << (5 + tagShift)) - 1
)

const (
	Boolean          Tag = 0x01
	Integer          Tag = 0x02
	BitString        Tag = 0x03
	OctetString      Tag = 0x04
	Null             Tag = 0x05
	ObjectIdentifier Tag = 0x06
	Enumerated       Tag = 0x0a
	UTF8String       Tag = 0x0c
	Sequence         Tag = 0x10 | ClassConstructed
	Set              Tag = 0x11 | ClassConstructed
	NumericString    Tag = 0x12
	PrintableString  Tag = 0x13
	T61String        Tag = 0x14
	VideotexString   Tag = 0x15
	IA5String        Tag = 0x16
	UTCTime          Tag = 0x17
	GeneralizedTime  Tag = 0x18
	GraphicString    Tag = 0x19
	VisibleString    Tag = 0x1a
	GeneralString    Tag = 0x1b
	UniversalString  Tag = 0x1c
	BMPString        Tag = 0x1e
)

// Class returns the class bits of t.
func (t Tag) Class() Tag {
	return t & ClassMask
}

// Constructed reports whether the constructed bit is set.
func (t Tag) Constructed() bool {
	return t&ClassConstructed != 0
}

// Number returns the tag number with class and constructed bits removed.
func (t Tag) Number() uint32 {
	return uint32(t & TagNumberMask)
}
