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

package bytestring_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/sigstore/ctverify/pkg/bytestring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderFixedWidth(t *testing.T) {
	b := bytestring.NewBuilder(0)
	require.True(t, b.AddUint8(1))
	require.True(t, b.AddUint16(0x0203))
	require.True(t, b.AddUint24(0x040506))
	require.True(t, b.AddUint32(0x0708090a))
	require.True(t, b.AddUint64(0x0b0c0d0e0f101112))
	require.True(t, b.AddUint16LE(0x1413))
	require.True(t, b.AddUint32LE(0x18171615))
	require.True(t, b.AddUint64LE(0x201f1e1d1c1b1a19))
	require.True(t, b.AddBytes([]byte{0x21}))
	require.True(t, b.AddZeros(2))

	out, err := b.Finish()
	require.NoError(t, err)

	want := make([]byte, 0, 35)
	for i := 1; i <= 0x21; i++ {
		want = append(want, byte(i))
	}
	want = append(want, 0, 0)
	assert.Equal(t, want, out)
}

func TestBuilderUint24Overflow(t *testing.T) {
	b := bytestring.NewBuilder(0)
	assert.False(t, b.AddUint24(1<<24))
	assert.False(t, b.AddUint8(0), "builder stays failed")
	_, err := b.Finish()
	assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
}

func TestBuilderFixed(t *testing.T) {
	t.Run("exact fit", func(t *testing.T) {
		buf := make([]byte, 4)
		b := bytestring.NewFixedBuilder(buf)
		require.True(t, b.AddUint16(0x0102))
		require.True(t, b.AddUint16(0x0304))
		out, err := b.Finish()
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4}, out)
		assert.Same(t, &buf[0], &out[0], "fixed builder writes in place")
	})
	t.Run("overflow", func(t *testing.T) {
		b := bytestring.NewFixedBuilder(make([]byte, 3))
		require.True(t, b.AddUint16(1))
		assert.False(t, b.AddUint16(2))
		_, err := b.Finish()
		assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
	})
	t.Run("asn1 long form needs room", func(t *testing.T) {
		b := bytestring.NewFixedBuilder(make([]byte, 0x82))
		child, ok := b.AddASN1(bytestring.OctetString)
		require.True(t, ok)
		require.True(t, child.AddZeros(0x80))
		_, err := b.Finish()
		assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
	})
}

func TestBuilderLengthPrefixed(t *testing.T) {
	b := bytestring.NewBuilder(0)

	_, ok := b.AddUint8LengthPrefixed()
	require.True(t, ok)

	c, ok := b.AddUint8LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddUint8(1))

	c, ok = b.AddUint16LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddBytes([]byte{2, 3}))

	c, ok = b.AddUint24LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddBytes([]byte{4, 5, 6}))

	c, ok = b.AddUint8LengthPrefixed()
	require.True(t, ok)
	d, ok := c.AddUint16LengthPrefixed()
	require.True(t, ok)
	require.True(t, d.AddUint8(7))

	out, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0,
		1, 1,
		0, 2, 2, 3,
		0, 0, 3, 4, 5, 6,
		3, 0, 1, 7,
	}, out)
}

func TestBuilderPrefixOverflow(t *testing.T) {
	b := bytestring.NewBuilder(0)
	c, ok := b.AddUint8LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddZeros(256))
	_, err := b.Finish()
	assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)

	b = bytestring.NewBuilder(0)
	c, ok = b.AddUint8LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddZeros(255))
	out, err := b.Finish()
	require.NoError(t, err)
	assert.Len(t, out, 256)
	assert.Equal(t, byte(255), out[0])
}

func TestBuilderStaleChild(t *testing.T) {
	b := bytestring.NewBuilder(0)
	c, ok := b.AddUint8LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddUint8(1))

	// Writing to the parent flushes c.
	require.True(t, b.AddUint8(9))
	assert.Equal(t, []byte{1, 1, 9}, b.Bytes())

	assert.False(t, c.AddUint8(2))
	_, err := b.Finish()
	assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
}

func TestBuilderDiscardChild(t *testing.T) {
	b := bytestring.NewBuilder(0)
	require.True(t, b.AddUint8(0xaa))

	c, ok := b.AddUint16LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddUint8(1))
	grandchild, ok := c.AddASN1(bytestring.Sequence)
	require.True(t, ok)
	require.True(t, grandchild.AddUint8(2))
	b.DiscardChild()

	seq, ok := b.AddASN1(bytestring.Sequence)
	require.True(t, ok)
	require.True(t, seq.AddUint8(4))
	b.DiscardChild()

	require.True(t, b.AddUint8(0xbb))
	out, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa, 0xbb}, out)
}

func TestBuilderFinishOnChild(t *testing.T) {
	b := bytestring.NewBuilder(0)
	c, ok := b.AddUint8LengthPrefixed()
	require.True(t, ok)
	_, err := c.Finish()
	assert.ErrorIs(t, err, bytestring.ErrNotRoot)
}

func TestBuilderFinishTwice(t *testing.T) {
	b := bytestring.NewBuilder(0)
	require.True(t, b.AddUint8(1))
	_, err := b.Finish()
	require.NoError(t, err)
	assert.False(t, b.AddUint8(2))
	_, err = b.Finish()
	assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
}

func TestBuilderLenAndBytes(t *testing.T) {
	b := bytestring.NewBuilder(0)
	require.True(t, b.AddUint8(1))
	c, ok := b.AddUint16LengthPrefixed()
	require.True(t, ok)
	require.True(t, c.AddBytes([]byte{2, 3, 4}))
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, []byte{2, 3, 4}, c.Bytes())

	assert.Panics(t, func() { b.Len() })

	require.True(t, b.Flush())
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, []byte{1, 0, 3, 2, 3, 4}, b.Bytes())
}

func TestBuilderReserve(t *testing.T) {
	b := bytestring.NewBuilder(0)
	buf, ok := b.Reserve(4)
	require.True(t, ok)
	require.Len(t, buf, 4)
	copy(buf, "abcd")
	require.True(t, b.DidWrite(2))
	assert.Equal(t, []byte("ab"), b.Bytes())

	space, ok := b.AddSpace(2)
	require.True(t, ok)
	copy(space, "xy")

	out, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte("abxy"), out)

	fixed := bytestring.NewFixedBuilder(make([]byte, 2))
	_, ok = fixed.Reserve(3)
	assert.False(t, ok)
}

func TestBuilderASN1Lengths(t *testing.T) {
	tests := []struct {
		name   string
		length int
		header []byte
	}{
		{"short", 0x7f, []byte{0x30, 0x7f}},
		{"one length octet", 0x80, []byte{0x30, 0x81, 0x80}},
		{"two length octets", 0x100, []byte{0x30, 0x82, 0x01, 0x00}},
		{"three length octets", 0x10000, []byte{0x30, 0x83, 0x01, 0x00, 0x00}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			content := make([]byte, test.length)
			for i := range content {
				content[i] = byte(i)
			}
			b := bytestring.NewBuilder(0)
			seq, ok := b.AddASN1(bytestring.Sequence)
			require.True(t, ok)
			require.True(t, seq.AddBytes(content))
			out, err := b.Finish()
			require.NoError(t, err)
			assert.Equal(t, test.header, out[:len(test.header)])
			assert.Equal(t, content, out[len(test.header):])

			r := bytestring.Reader(out)
			var body bytestring.Reader
			require.True(t, r.ReadASN1(&body, bytestring.Sequence))
			assert.Equal(t, content, body.Bytes())
		})
	}
}

func TestBuilderNestedASN1(t *testing.T) {
	b := bytestring.NewBuilder(0)
	seq, ok := b.AddASN1(bytestring.Sequence)
	require.True(t, ok)
	require.True(t, seq.AddASN1OctetString(bytes.Repeat([]byte{0xee}, 200)))
	require.True(t, seq.AddASN1Bool(true))
	out, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, []byte{0x30, 0x81, 0xce, 0x04, 0x81, 0xc8}, out[:6])
	assert.Equal(t, []byte{0x01, 0x01, 0xff}, out[len(out)-3:])
}

func TestBuilderHighTagNumber(t *testing.T) {
	for _, test := range []struct {
		tag  bytestring.Tag
		want []byte
	}{
		{bytestring.ClassContextSpecific | bytestring.ClassConstructed | 0x1e, []byte{0xbe, 0x00}},
		{bytestring.ClassContextSpecific | bytestring.ClassConstructed | 0x1f, []byte{0xbf, 0x1f, 0x00}},
		{bytestring.ClassContextSpecific | bytestring.ClassConstructed | 0x80, []byte{0xbf, 0x81, 0x00, 0x00}},
		{bytestring.ClassApplication | 0x4000, []byte{0x5f, 0x81, 0x80, 0x00, 0x00}},
	} {
		b := bytestring.NewBuilder(0)
		_, ok := b.AddASN1(test.tag)
		require.True(t, ok)
		out, err := b.Finish()
		require.NoError(t, err)
		assert.Equal(t, test.want, out)

		r := bytestring.Reader(out)
		assert.True(t, r.ReadASN1(nil, test.tag))
		assert.True(t, r.Empty())
	}

	b := bytestring.NewBuilder(0)
	_, ok := b.AddASN1(bytestring.ClassConstructed)
	assert.False(t, ok, "end-of-contents tag")
}

func TestBuilderASN1Integers(t *testing.T) {
	uints := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0x02, 0x01, 0x00}},
		{1, []byte{0x02, 0x01, 0x01}},
		{127, []byte{0x02, 0x01, 0x7f}},
		{128, []byte{0x02, 0x02, 0x00, 0x80}},
		{0xdeadbeef, []byte{0x02, 0x05, 0x00, 0xde, 0xad, 0xbe, 0xef}},
		{math.MaxUint64, []byte{0x02, 0x09, 0x00, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, test := range uints {
		b := bytestring.NewBuilder(0)
		require.True(t, b.AddASN1Uint64(test.v))
		out, err := b.Finish()
		require.NoError(t, err)
		assert.Equal(t, test.want, out, "%d", test.v)

		var got uint64
		r := bytestring.Reader(out)
		require.True(t, r.ReadASN1Uint64(&got))
		assert.Equal(t, test.v, got)
	}

	ints := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0x02, 0x01, 0x00}},
		{127, []byte{0x02, 0x01, 0x7f}},
		{-1, []byte{0x02, 0x01, 0xff}},
		{-128, []byte{0x02, 0x01, 0x80}},
		{-129, []byte{0x02, 0x02, 0xff, 0x7f}},
		{-256, []byte{0x02, 0x02, 0xff, 0x00}},
		{math.MinInt64, []byte{0x02, 0x08, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
	}
	for _, test := range ints {
		b := bytestring.NewBuilder(0)
		require.True(t, b.AddASN1Int64(test.v))
		out, err := b.Finish()
		require.NoError(t, err)
		assert.Equal(t, test.want, out, "%d", test.v)

		var got int64
		r := bytestring.Reader(out)
		require.True(t, r.ReadASN1Int64(&got))
		assert.Equal(t, test.v, got)
	}
}

func TestBuilderOIDFromText(t *testing.T) {
	valid := []struct {
		text string
		want []byte
	}{
		{"0.0", []byte{0x00}},
		{"1.2", []byte{0x2a}},
		{"2.999.3", []byte{0x88, 0x37, 0x03}},
		{"1.2.840.113554.4.1.72585.2", []byte{0x2a, 0x86, 0x48, 0x86, 0xf7, 0x12, 0x04, 0x01, 0x84, 0xb7, 0x09, 0x02}},
		{"1.3.6.1.4.1.11129.2.4.2", []byte{0x2b, 0x06, 0x01, 0x04, 0x01, 0xd6, 0x79, 0x02, 0x04, 0x02}},
		{"1.2.18446744073709551615", []byte{0x2a, 0x81, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	}
	for _, test := range valid {
		t.Run(test.text, func(t *testing.T) {
			b := bytestring.NewBuilder(0)
			require.True(t, b.AddASN1OIDFromText(test.text))
			out, err := b.Finish()
			require.NoError(t, err)
			assert.Equal(t, test.want, out)
		})
	}

	invalid := []string{
		"",
		"1",
		"1.",
		".1",
		"1..2",
		"1.2.",
		"3.1",
		"1.40",
		"01.2",
		"1.2.03",
		"1.2.a",
		"1.2.-1",
		"1.2.18446744073709551616",
		"1.2 ",
	}
	for _, text := range invalid {
		t.Run("invalid "+text, func(t *testing.T) {
			b := bytestring.NewBuilder(0)
			assert.False(t, b.AddASN1OIDFromText(text))
			_, err := b.Finish()
			assert.ErrorIs(t, err, bytestring.ErrBuilderFailed)
		})
	}
}

func TestBuilderSetOf(t *testing.T) {
	b := bytestring.NewBuilder(0)
	set, ok := b.AddASN1(bytestring.Set)
	require.True(t, ok)
	require.True(t, set.AddASN1OctetString([]byte{2}))
	require.True(t, set.AddASN1OctetString([]byte{1}))
	require.True(t, set.AddASN1OctetString([]byte{0, 0}))
	require.True(t, set.FlushASN1SetOf())
	out, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x31, 0x0a,
		0x04, 0x01, 0x01,
		0x04, 0x01, 0x02,
		0x04, 0x02, 0x00, 0x00,
	}, out)

	b = bytestring.NewBuilder(0)
	set, ok = b.AddASN1(bytestring.Set)
	require.True(t, ok)
	require.True(t, set.AddBytes([]byte{0x04}))
	assert.False(t, set.FlushASN1SetOf())
}
