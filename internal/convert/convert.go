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

// Package convert turns arbitrary images into the packed 1-bpp bitmaps which
// the fci codec consumes: scale to the display's dimensions, optionally
// overlay a caption, then binarize by thresholding or dithering.
package convert

import (
	"bytes"
	"image"
	"image/color"
	stddraw "image/draw"

	"github.com/stapelberg/img2oled/internal/bitmap"
	"github.com/stapelberg/img2oled/internal/fci"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

type Fit int

const (
	// Stretch scales the source to the target dimensions, ignoring its
	// aspect ratio.
	Stretch Fit = iota

	// Letterbox preserves the aspect ratio, centering the scaled source and
	// leaving the remainder of the target unlit.
	Letterbox
)

type Options struct {
	Width  int
	Height int

	// Fit selects how source and target aspect ratios are reconciled.
	Fit Fit

	// Dither selects Floyd-Steinberg dithering. The default is a fixed
	// threshold (luma > 127), like FreakWAN's png-to-fci tool.
	Dither bool

	// Invert swaps lit and unlit pixels after binarization.
	Invert bool

	// Caption, if non-empty, is drawn into a band at the bottom of the
	// frame before binarization.
	Caption string
}

// ToBitmap converts src according to o. Target dimensions outside the domain
// of the FCI header are rejected with an UnsupportedDimensionsError.
func ToBitmap(src image.Image, o Options) (*bitmap.Image, error) {
	if o.Width < 1 || o.Width > fci.MaxDim || o.Height < 1 || o.Height > fci.MaxDim {
		return nil, &fci.UnsupportedDimensionsError{Width: o.Width, Height: o.Height}
	}

	gray := image.NewGray(image.Rect(0, 0, o.Width, o.Height))
	dst := gray.Bounds()
	if o.Fit == Letterbox {
		dst = letterbox(src.Bounds(), dst)
	}
	draw.ApproxBiLinear.Scale(gray, dst, src, src.Bounds(), draw.Src, nil)

	if o.Caption != "" {
		drawCaption(gray, o.Caption)
	}

	m := bitmap.New(o.Width, o.Height)
	if o.Dither {
		dither(m, gray)
	} else {
		threshold(m, gray)
	}
	if o.Invert {
		for i := 0; i < m.Len(); i++ {
			m.SetBit(i, 1-m.Bit(i))
		}
	}
	return m, nil
}

// FromBytes decodes b (PNG, JPEG or GIF) and converts it according to o.
func FromBytes(b []byte, o Options) (*bitmap.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return ToBitmap(img, o)
}

// letterbox returns the largest rectangle with src's aspect ratio that fits
// into dst, centered within dst.
func letterbox(src, dst image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	dw, dh := dst.Dx(), dst.Dy()
	if sw == 0 || sh == 0 {
		return dst
	}
	w, h := dw, sh*dw/sw
	if h > dh {
		w, h = sw*dh/sh, dh
	}
	x := dst.Min.X + (dw-w)/2
	y := dst.Min.Y + (dh-h)/2
	return image.Rect(x, y, x+w, y+h)
}

func drawCaption(gray *image.Gray, caption string) {
	face := basicfont.Face7x13
	bounds := gray.Bounds()
	band := image.Rect(bounds.Min.X, bounds.Max.Y-face.Height, bounds.Max.X, bounds.Max.Y)
	stddraw.Draw(gray, band, image.Black, image.Point{}, stddraw.Src)

	width := font.MeasureString(face, caption).Ceil()
	x := bounds.Min.X
	if width < bounds.Dx() {
		x += (bounds.Dx() - width) / 2
	}
	d := &font.Drawer{
		Dst:  gray,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(x, bounds.Max.Y-(face.Height-face.Ascent)),
	}
	d.DrawString(caption)
}

func threshold(m *bitmap.Image, gray *image.Gray) {
	w := m.W
	for y := 0; y < m.H; y++ {
		for x := 0; x < w; x++ {
			if gray.GrayAt(x, y).Y > 127 {
				m.SetBit(y*w+x, 1)
			}
		}
	}
}

var bilevel = color.Palette{
	color.Gray{0x00},
	color.Gray{0xff},
}

func dither(m *bitmap.Image, gray *image.Gray) {
	pal := image.NewPaletted(gray.Bounds(), bilevel)
	stddraw.FloydSteinberg.Draw(pal, gray.Bounds(), gray, image.Point{})
	w := m.W
	for y := 0; y < m.H; y++ {
		for x := 0; x < w; x++ {
			if pal.ColorIndexAt(x, y) == 1 {
				m.SetBit(y*w+x, 1)
			}
		}
	}
}
