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

// Package fci implements the FreakWAN Compressed Image (FCI) format: a
// run-length encoding for small 1-bpp bitmaps, compact enough to send
// over a LoRa link and trivial to decode on a microcontroller.
//
// It follows the format used by the FreakWAN project:
// https://github.com/antirez/freakwan
//
// An encoded image starts with a 5-byte header: the ASCII tag "FC0",
// one width byte and one height byte. The pixel data follows as a
// token stream over the image's bits in row-major order, rows not
// byte-aligned. Each token is identified by its first byte:
//
//	0xC3 B (B != 0): a run of B>>7 bits, (B & 0x7f) + 16 long
//	0x3D B (B != 0): (B>>4)+1 lit bits, then (B & 0x0f)+1 unlit bits
//	0x65 B (B != 0): (B>>4)+1 unlit bits, then (B & 0x0f)+1 lit bits
//	0xC3/0x3D/0x65 0x00: the marker's own 8 bits, literally (escape)
//	any other byte: 8 literal bits, most significant bit first
//
// The stream ends as soon as width*height bits have been produced,
// cutting the final token short if necessary; trailing bytes are
// ignored.
package fci

import (
	"bufio"
	"fmt"
	"io"

	"github.com/stapelberg/img2oled/internal/bitmap"
)

// magic is the header tag; the trailing 0 is the format version.
const magic = "FC0"

const headerLen = 5

// MaxDim is the largest width or height the single-byte header fields
// can express.
const MaxDim = 255

// A FormatError reports that the input does not begin with a valid FCI
// header.
type FormatError string

func (e FormatError) Error() string { return "fci: " + string(e) }

// A TruncatedStreamError reports that the token stream ended before the
// declared number of pixel bits was reconstructed.
type TruncatedStreamError struct {
	Got  int // pixel bits reconstructed
	Want int // pixel bits declared by the header
}

func (e *TruncatedStreamError) Error() string {
	return fmt.Sprintf("fci: truncated stream: got %d of %d pixel bits", e.Got, e.Want)
}

// An UnsupportedDimensionsError reports image dimensions outside the
// 1..MaxDim domain.
type UnsupportedDimensionsError struct {
	Width  int
	Height int
}

func (e *UnsupportedDimensionsError) Error() string {
	return fmt.Sprintf("fci: unsupported dimensions %dx%d, want 1..%d", e.Width, e.Height, MaxDim)
}

// runLen returns the length of the run of value v starting at bit i,
// capped at max and at the end of the bit sequence.
func runLen(m *bitmap.Image, i int, v uint8, max int) int {
	if rem := m.Len() - i; max > rem {
		max = rem
	}
	j := 0
	for j < max && m.Bit(i+j) == v {
		j++
	}
	return j
}

// pack packs up to 8 bits starting at bit i into one byte, most
// significant bit first, leaving bits past the end of the sequence
// zero. It returns the packed byte and the number of bits consumed.
func pack(m *bitmap.Image, i int) (byte, int) {
	k := 8
	if rem := m.Len() - i; rem < 8 {
		k = rem
	}
	var b byte
	for off := 0; off < k; off++ {
		b |= m.Bit(i+off) << (7 - off)
	}
	return b, k
}

// Tokenize converts the bit sequence of m into tokens. Per cursor
// position the first applicable of four branches wins: long run, dual
// run, escape, verbatim. The order matters twice over: it yields the
// cheapest encoding, and it guarantees that no verbatim token ever
// carries a marker value, which is what makes decoding unambiguous.
func Tokenize(m *bitmap.Image) []Token {
	var tokens []Token
	n := m.Len()
	for i := 0; i < n; {
		v := m.Bit(i)
		j := runLen(m, i, v, longRunMax)
		if j >= longRunMin {
			tokens = append(tokens, LongRun{Bit: v, Len: j})
			i += j
			continue
		}
		if j >= 2 {
			// j < longRunMin, so the cap did not cut the run short and
			// the next bit (if any) really is the opposite value.
			j2 := runLen(m, i+j, 1-v, dualRunMax)
			if j+j2 > dualRunMax {
				tokens = append(tokens, DualRun{Bit: v, Len: j, OppLen: j2})
				i += j + j2
				continue
			}
		}
		p, k := pack(m, i)
		if k == 8 && isMarker(p) {
			tokens = append(tokens, Escape{Marker: p})
		} else {
			// A short tail cannot collide with a marker: all three
			// marker values are odd, zero padding clears bit 0.
			tokens = append(tokens, Verbatim{Byte: p, N: k})
		}
		i += k
	}
	return tokens
}

// Encode writes m to w in FCI encoding.
//
// Encoding is deterministic: identical input produces identical bytes.
func Encode(w io.Writer, m *bitmap.Image) error {
	if m.W < 1 || m.W > MaxDim || m.H < 1 || m.H > MaxDim {
		return &UnsupportedDimensionsError{Width: m.W, Height: m.H}
	}
	buf := make([]byte, 0, headerLen+m.Len()/8+1)
	buf = append(buf, magic...)
	buf = append(buf, byte(m.W), byte(m.H))
	for _, t := range Tokenize(m) {
		buf = t.appendWire(buf)
	}
	_, err := w.Write(buf)
	return err
}

// paintRun writes k copies of v at bit cursor cur, clamped to the
// capacity of m, and returns the advanced cursor.
func paintRun(m *bitmap.Image, cur int, v uint8, k int) int {
	n := m.Len()
	for ; k > 0 && cur < n; k-- {
		m.SetBit(cur, v)
		cur++
	}
	return cur
}

// paintByte writes the 8 bits of b, most significant first, clamped to
// the capacity of m, and returns the advanced cursor.
func paintByte(m *bitmap.Image, cur int, b byte) int {
	n := m.Len()
	for bit := 7; bit >= 0 && cur < n; bit-- {
		m.SetBit(cur, (b>>bit)&1)
		cur++
	}
	return cur
}

// Decode reads one FCI-encoded image from r.
//
// It returns a FormatError if the input is shorter than the header or
// does not carry the expected tag, an UnsupportedDimensionsError if a
// dimension byte is zero, and a TruncatedStreamError if the input ends
// before width*height pixel bits were reconstructed. Bytes following
// the final token are left unread.
func Decode(r io.Reader) (*bitmap.Image, error) {
	br := bufio.NewReader(r)
	var hdr [headerLen]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, FormatError("input shorter than the 5-byte header")
		}
		return nil, err
	}
	if string(hdr[:3]) != magic {
		return nil, FormatError(fmt.Sprintf("unexpected tag: got %q, want %q", hdr[:3], magic))
	}
	w, h := int(hdr[3]), int(hdr[4])
	if w == 0 || h == 0 {
		return nil, &UnsupportedDimensionsError{Width: w, Height: h}
	}

	m := bitmap.New(w, h)
	n := m.Len()
	cur := 0
	for cur < n {
		a, err := br.ReadByte()
		if err == io.EOF {
			return nil, &TruncatedStreamError{Got: cur, Want: n}
		}
		if err != nil {
			return nil, err
		}
		if !isMarker(a) {
			cur = paintByte(m, cur, a)
			continue
		}
		// A marker byte with no payload byte is half a token.
		b, err := br.ReadByte()
		if err == io.EOF {
			return nil, &TruncatedStreamError{Got: cur, Want: n}
		}
		if err != nil {
			return nil, err
		}
		switch {
		case b == 0:
			cur = paintByte(m, cur, a)
		case a == markerLongRun:
			cur = paintRun(m, cur, b>>7, int(b&0x7f)+16)
		default:
			v := uint8(0)
			if a == markerDualLit {
				v = 1
			}
			cur = paintRun(m, cur, v, int(b>>4)+1)
			cur = paintRun(m, cur, 1-v, int(b&0x0f)+1)
		}
	}
	return m, nil
}
