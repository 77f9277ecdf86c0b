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

package convert_test

import (
	"errors"
	"image"
	"testing"

	"github.com/stapelberg/img2oled/internal/convert"
	"github.com/stapelberg/img2oled/internal/fci"
)

func uniformGray(w, h int, y uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = y
	}
	return img
}

func TestThreshold(t *testing.T) {
	for _, test := range []struct {
		num      int
		luma     uint8
		invert   bool
		wantBit  uint8
		wantDesc string
	}{
		{num: 1, luma: 0x00, wantBit: 0, wantDesc: "black stays unlit"},
		{num: 2, luma: 0x7f, wantBit: 0, wantDesc: "127 is not above the threshold"},
		{num: 3, luma: 0x80, wantBit: 1, wantDesc: "128 is above the threshold"},
		{num: 4, luma: 0xff, wantBit: 1, wantDesc: "white is lit"},
		{num: 5, luma: 0xff, invert: true, wantBit: 0, wantDesc: "white inverts to unlit"},
	} {
		m, err := convert.ToBitmap(uniformGray(8, 8, test.luma), convert.Options{
			Width:  8,
			Height: 8,
			Invert: test.invert,
		})
		if err != nil {
			t.Fatalf("test %d: %v", test.num, err)
		}
		for i := 0; i < m.Len(); i++ {
			if got, want := m.Bit(i), test.wantBit; got != want {
				t.Fatalf("test %d (%s): bit %d: got %d, want %d", test.num, test.wantDesc, i, got, want)
			}
		}
	}
}

func TestUnsupportedDimensions(t *testing.T) {
	src := uniformGray(8, 8, 0xff)
	for _, test := range []struct {
		num  int
		w, h int
	}{
		{num: 1, w: 0, h: 8},
		{num: 2, w: 8, h: 0},
		{num: 3, w: 256, h: 8},
		{num: 4, w: 8, h: 256},
	} {
		_, err := convert.ToBitmap(src, convert.Options{Width: test.w, Height: test.h})
		var dimErr *fci.UnsupportedDimensionsError
		if !errors.As(err, &dimErr) {
			t.Fatalf("test %d: got err %v, want an UnsupportedDimensionsError", test.num, err)
		}
	}
}

func TestLetterbox(t *testing.T) {
	// A wide all-white source into a square target: the top and bottom rows
	// must remain unlit, the middle rows lit.
	src := uniformGray(64, 16, 0xff)
	m, err := convert.ToBitmap(src, convert.Options{
		Width:  32,
		Height: 32,
		Fit:    convert.Letterbox,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m.Bit(0*32+0), uint8(0); got != want {
		t.Errorf("top-left pixel: got %d, want %d (letterbox bar)", got, want)
	}
	if got, want := m.Bit(16*32+16), uint8(1); got != want {
		t.Errorf("center pixel: got %d, want %d (scaled content)", got, want)
	}
	if got, want := m.Bit(31*32+31), uint8(0); got != want {
		t.Errorf("bottom-right pixel: got %d, want %d (letterbox bar)", got, want)
	}
}

func TestDither(t *testing.T) {
	// Mid-gray must dither to a mix of lit and unlit pixels, whereas plain
	// thresholding collapses it to a single value.
	src := uniformGray(32, 32, 0x80)
	m, err := convert.ToBitmap(src, convert.Options{
		Width:  32,
		Height: 32,
		Dither: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	ratio := m.LitRatio()
	if ratio < 0.25 || ratio > 0.75 {
		t.Errorf("lit ratio of dithered mid-gray: got %f, want within [0.25, 0.75]", ratio)
	}
}

func TestCaption(t *testing.T) {
	src := uniformGray(64, 64, 0x00)
	m, err := convert.ToBitmap(src, convert.Options{
		Width:   64,
		Height:  64,
		Caption: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := m.LitRatio(); got == 0 {
		t.Errorf("lit ratio with caption on black frame: got %f, want > 0", got)
	}

	// Determinism: converting again yields the identical bitmap.
	m2, err := convert.ToBitmap(src, convert.Options{
		Width:   64,
		Height:  64,
		Caption: "hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := m2.String(), m.String(); got != want {
		t.Errorf("conversion is not deterministic:\ngot:\n%s\nwant:\n%s", got, want)
	}
}
