// Copyright 2023 Michael Stapelberg and contributors
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

package fci

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/stapelberg/img2oled/internal/bitmap"
)

func mustParse(t testing.TB, s string) *bitmap.Image {
	t.Helper()
	m, err := bitmap.Parse(s)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEncode(t *testing.T) {
	for _, test := range []struct {
		num    int
		pixels string
		want   []byte
	}{
		{
			num:    1,
			pixels: strings.Repeat("#", 17),
			want: []byte{
				0xc3, // long run marker
				0x81, // 1|0000001b, 17 lit bits
			},
		},

		{
			num:    2,
			pixels: strings.Repeat("#", 16),
			// One bit short of a long run, and no opposite run follows,
			// so two verbatim bytes win.
			want: []byte{
				0xff, // 11111111b
				0xff, // 11111111b
			},
		},

		{
			num:    3,
			pixels: strings.Repeat(".", 150),
			want: []byte{
				0xc3, // long run marker
				0x7f, // 0|1111111b, 143 unlit bits
				0x00, // 0000000b, the 7 remaining bits, verbatim
			},
		},

		{
			num:    4,
			pixels: "##....##",
			// Packs to 0xc3, which collides with the long run marker:
			// must be escaped.
			want: []byte{
				0xc3,
				0x00,
			},
		},

		{
			num:    5,
			pixels: "..####.#",
			// Packs to 0x3d, the lit-first dual run marker.
			want: []byte{
				0x3d,
				0x00,
			},
		},

		{
			num:    6,
			pixels: ".##..#.#",
			// Packs to 0x65, the unlit-first dual run marker.
			want: []byte{
				0x65,
				0x00,
			},
		},

		{
			num:    7,
			pixels: "#####" + strings.Repeat(".", 12),
			// 5+12 > 16: dual run pays off.
			want: []byte{
				0x3d, // dual run marker, first run lit
				0x4b, // 0100|1011b, 5 lit bits, 12 unlit bits
			},
		},

		{
			num:    8,
			pixels: "#####" + strings.Repeat(".", 8),
			// 5+8 <= 16: dual run does not pay off, fall through to
			// verbatim.
			want: []byte{
				0xf8, // 11111000b
				0x00, // 00000b, 5 trailing bits
			},
		},

		{
			num:    9,
			pixels: ".." + strings.Repeat("#", 15),
			want: []byte{
				0x65, // dual run marker, first run unlit
				0x1e, // 0001|1110b, 2 unlit bits, 15 lit bits
			},
		},

		{
			num:    10,
			pixels: strings.Repeat("#", 16) + ".",
			want: []byte{
				0x3d, // dual run marker, first run lit
				0xf0, // 1111|0000b, 16 lit bits, 1 unlit bit
			},
		},

		{
			num:    11,
			pixels: "#.#.\n.#.#\n#.#.\n.#.#",
			// No runs anywhere: rows pack pairwise into verbatim bytes.
			want: []byte{
				0xa5, // 10100101b
				0xa5, // 10100101b
			},
		},
	} {
		test := test
		t.Run(fmt.Sprintf("%d", test.num), func(t *testing.T) {
			m := mustParse(t, test.pixels)
			var buf bytes.Buffer
			if err := Encode(&buf, m); err != nil {
				t.Fatal(err)
			}
			want := append([]byte{'F', 'C', '0', byte(m.W), byte(m.H)}, test.want...)
			if got := buf.Bytes(); !bytes.Equal(got, want) {
				t.Errorf("unexpected encoding: got %#v, want %#v", got, want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	for _, test := range []struct {
		num    int
		pixels string
		want   []Token
	}{
		{
			num:    1,
			pixels: strings.Repeat(".", 150),
			// The run exceeds what one payload byte can express and is
			// split at 143.
			want: []Token{
				LongRun{Bit: 0, Len: 143},
				Verbatim{Byte: 0x00, N: 7},
			},
		},

		{
			num:    2,
			pixels: strings.Repeat("#", 20) + "..." + strings.Repeat("#", 14),
			want: []Token{
				LongRun{Bit: 1, Len: 20},
				DualRun{Bit: 0, Len: 3, OppLen: 14},
			},
		},

		{
			num:    3,
			pixels: "##....###",
			// The first 8 bits pack to the long run marker value; the
			// escape consumes them and the tail bit goes out verbatim.
			want: []Token{
				Escape{Marker: 0xc3},
				Verbatim{Byte: 0x80, N: 1},
			},
		},
	} {
		test := test
		t.Run(fmt.Sprintf("%d", test.num), func(t *testing.T) {
			m := mustParse(t, test.pixels)
			if got := Tokenize(m); !reflect.DeepEqual(got, test.want) {
				t.Errorf("unexpected tokens: got %v, want %v", got, test.want)
			}
		})
	}
}

// TestBoundarySize pins down the overall framing: a 17x1 all-lit image
// is a 5-byte header plus a single 2-byte long run token.
func TestBoundarySize(t *testing.T) {
	m := mustParse(t, strings.Repeat("#", 17))
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.Len(), 7; got != want {
		t.Fatalf("unexpected encoded size: got %d bytes, want %d", got, want)
	}
	decoded, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := decoded.String(), m.String(); got != want {
		t.Errorf("unexpected pixels:\ngot\n%swant\n%s", got, want)
	}
}

// randomImage fills an image from a seeded source, with enough runs in
// it to exercise all four encoder branches.
func randomImage(w, h int, seed int64) *bitmap.Image {
	rnd := rand.New(rand.NewSource(seed))
	m := bitmap.New(w, h)
	i := 0
	for i < m.Len() {
		v := uint8(rnd.Intn(2))
		l := 1 + rnd.Intn(40)
		for ; l > 0 && i < m.Len(); l-- {
			m.SetBit(i, v)
			i++
		}
	}
	return m
}

func TestRoundTrip(t *testing.T) {
	images := map[string]*bitmap.Image{
		"lit1x1":    mustParse(t, "#"),
		"unlit1x1":  mustParse(t, "."),
		"stripes":   mustParse(t, strings.TrimSuffix(strings.Repeat("####....\n", 12), "\n")),
		"marker8x3": mustParse(t, "##....##\n..####.#\n.##..#.#"),
		"wide":      randomImage(255, 3, 4),
		"tall":      randomImage(3, 255, 5),
		"oled":      randomImage(128, 64, 6),
		"odd":       randomImage(31, 7, 7),
	}
	for name, m := range images {
		m := m
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, m); err != nil {
				t.Fatal(err)
			}
			decoded, err := Decode(bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatal(err)
			}
			if got, want := decoded.W, m.W; got != want {
				t.Fatalf("unexpected width: got %v, want %v", got, want)
			}
			if got, want := decoded.H, m.H; got != want {
				t.Fatalf("unexpected height: got %v, want %v", got, want)
			}
			if got, want := decoded.String(), m.String(); got != want {
				t.Errorf("pixels corrupted in round trip:\ngot\n%swant\n%s", got, want)
			}
		})
	}
}

func TestDeterminism(t *testing.T) {
	m := randomImage(128, 64, 8)
	var first, second bytes.Buffer
	if err := Encode(&first, m); err != nil {
		t.Fatal(err)
	}
	if err := Encode(&second, m); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Errorf("two encodings of the same image differ")
	}
}

func TestEncodeUnsupportedDimensions(t *testing.T) {
	for _, test := range []struct {
		w, h int
	}{
		{0, 1},
		{1, 0},
		{256, 1},
		{1, 256},
	} {
		m := bitmap.New(test.w, test.h)
		err := Encode(&bytes.Buffer{}, m)
		var dimErr *UnsupportedDimensionsError
		if !errors.As(err, &dimErr) {
			t.Errorf("Encode(%dx%d): got %v, want UnsupportedDimensionsError", test.w, test.h, err)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	var (
		format    FormatError
		truncated *TruncatedStreamError
		dims      *UnsupportedDimensionsError
	)
	for _, test := range []struct {
		num   int
		input []byte
		as    interface{}
	}{
		{num: 1, input: nil, as: &format},
		{num: 2, input: []byte("FC"), as: &format},
		{num: 3, input: []byte("FC1\x08\x01\xff"), as: &format},
		{num: 4, input: []byte("FC0\x00\x08"), as: &dims},
		{num: 5, input: []byte("FC0\x08\x00"), as: &dims},
		// Header only, 8 pixel bits missing.
		{num: 6, input: []byte("FC0\x08\x01"), as: &truncated},
		// Run token produces 17 of 34 bits, then the stream ends.
		{num: 7, input: []byte("FC0\x11\x02\xc3\x81"), as: &truncated},
		// A marker with no payload byte is half a token.
		{num: 8, input: []byte("FC0\x11\x01\xc3"), as: &truncated},
	} {
		test := test
		t.Run(fmt.Sprintf("%d", test.num), func(t *testing.T) {
			_, err := Decode(bytes.NewReader(test.input))
			if err == nil {
				t.Fatalf("Decode(%#v): got nil, want error", test.input)
			}
			if !errors.As(err, test.as) {
				t.Errorf("Decode(%#v): got %v (%T), want %T", test.input, err, err, test.as)
			}
		})
	}
}

func TestDecodeClamping(t *testing.T) {
	for _, test := range []struct {
		num   int
		input []byte
		want  string
	}{
		{
			// A 20 bit run into an 8 pixel image stops at capacity.
			num:   1,
			input: []byte("FC0\x08\x01\xc3\x84"),
			want:  "########\n",
		},
		{
			// 5+12 dual run bits into 5 pixels: the second run is
			// clamped away entirely.
			num:   2,
			input: []byte("FC0\x05\x01\x3d\x4b"),
			want:  "#####\n",
		},
		{
			// Trailing bytes after the final token are ignored.
			num:   3,
			input: []byte("FC0\x08\x01\xff\xaa\xbb"),
			want:  "########\n",
		},
		{
			// An escape right before the end of the image is cut short.
			num:   4,
			input: []byte("FC0\x04\x01\xc3\x00"),
			want:  "##..\n",
		},
	} {
		test := test
		t.Run(fmt.Sprintf("%d", test.num), func(t *testing.T) {
			m, err := Decode(bytes.NewReader(test.input))
			if err != nil {
				t.Fatal(err)
			}
			want := strings.ReplaceAll(test.want, ".", " ")
			if got := m.String(); got != want {
				t.Errorf("unexpected pixels: got %q, want %q", got, want)
			}
		})
	}
}

// TestEscapeRoundTrip spells out the disambiguation property: the bit
// pattern of each marker byte survives a round trip as literal bits,
// not as a run.
func TestEscapeRoundTrip(t *testing.T) {
	for _, pixels := range []string{
		"##....##", // 0xc3
		"..####.#", // 0x3d
		".##..#.#", // 0x65
	} {
		m := mustParse(t, pixels)
		var buf bytes.Buffer
		if err := Encode(&buf, m); err != nil {
			t.Fatal(err)
		}
		if got, want := buf.Bytes()[6], byte(0); got != want {
			t.Errorf("%s: payload byte: got %#x, want %#x (escape)", pixels, got, want)
		}
		decoded, err := Decode(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := decoded.String(), m.String(); got != want {
			t.Errorf("%s: got %q, want %q", pixels, got, want)
		}
	}
}

func BenchmarkEncode(b *testing.B) {
	m := randomImage(128, 64, 9)
	b.SetBytes(int64(m.Len() / 8))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := Encode(&buf, m); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	m := randomImage(128, 64, 9)
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(buf.Len()))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(bytes.NewReader(buf.Bytes())); err != nil {
			b.Fatal(err)
		}
	}
}
