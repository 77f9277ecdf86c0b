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

// Package bitmap implements the 1-bit-per-pixel images which the fci codec
// consumes and produces.
package bitmap

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

var (
	lit   = color.Gray{0xff}
	unlit = color.Gray{0x00}
)

// Image is a packed 1-bpp image. Pixels are stored row-major as a flat bit
// sequence, most significant bit first, with no padding between rows: bit
// y*W+x of the sequence is pixel (x, y). A set bit is a lit pixel.
type Image struct {
	W, H int
	bits []byte
}

// New returns a fully unlit image of the specified dimensions.
func New(w, h int) *Image {
	return &Image{
		W:    w,
		H:    h,
		bits: make([]byte, (w*h+7)/8),
	}
}

// Len returns the number of pixels, i.e. the length of the bit sequence.
func (m *Image) Len() int {
	return m.W * m.H
}

// Bit returns bit i of the pixel sequence (0 or 1).
func (m *Image) Bit(i int) uint8 {
	if m.bits[i/8]&(0x80>>(i%8)) != 0 {
		return 1
	}
	return 0
}

// SetBit sets bit i of the pixel sequence to v (0 or 1).
func (m *Image) SetBit(i int, v uint8) {
	if v == 0 {
		m.bits[i/8] &^= 0x80 >> (i % 8)
	} else {
		m.bits[i/8] |= 0x80 >> (i % 8)
	}
}

// LitRatio returns the fraction of lit pixels, e.g. for detecting blank
// frames before pushing them to a display.
func (m *Image) LitRatio() float64 {
	n := m.Len()
	if n == 0 {
		return 0
	}
	var litPixels int
	for i := 0; i < n; i++ {
		if m.Bit(i) == 1 {
			litPixels++
		}
	}
	return float64(litPixels) / float64(n)
}

func (m *Image) ColorModel() color.Model { return color.GrayModel }

func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.W, m.H) }

func (m *Image) At(x, y int) color.Color {
	if x < 0 || x >= m.W || y < 0 || y >= m.H {
		return unlit
	}
	if m.Bit(y*m.W+x) == 1 {
		return lit
	}
	return unlit
}

// String renders the image as one line of '#' (lit) and ' ' (unlit)
// characters per pixel row, like the FreakWAN terminal viewer does.
func (m *Image) String() string {
	var sb strings.Builder
	sb.Grow((m.W + 1) * m.H)
	for y := 0; y < m.H; y++ {
		for x := 0; x < m.W; x++ {
			if m.Bit(y*m.W+x) == 1 {
				sb.WriteByte('#')
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Parse is the inverse of String. It accepts '#', 'X', 'x' and '1' as lit,
// '.', '_', '0' and ' ' as unlit. All rows must have the same width.
func Parse(s string) (*Image, error) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil, fmt.Errorf("bitmap: empty input")
	}
	rows := strings.Split(s, "\n")
	w := len(rows[0])
	m := New(w, len(rows))
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("bitmap: row %d is %d pixels wide, want %d", y, len(row), w)
		}
		for x := 0; x < w; x++ {
			switch row[x] {
			case '#', 'X', 'x', '1':
				m.SetBit(y*w+x, 1)
			case '.', '_', '0', ' ':
				// unlit
			default:
				return nil, fmt.Errorf("bitmap: unexpected character %q at (%d, %d)", row[x], x, y)
			}
		}
	}
	return m, nil
}
