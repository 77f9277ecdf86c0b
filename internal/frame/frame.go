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

// Package frame implements ingested frames: original image bytes, decoded
// and measured lazily, only if a later processing stage needs them.
package frame

import (
	"bytes"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

type Frame struct {
	raw      []byte
	img      image.Image
	litRatio float64
	measured bool
}

func FromBytes(b []byte) *Frame {
	return &Frame{raw: b}
}

// Bytes returns the original (still encoded) image bytes.
func (f *Frame) Bytes() []byte {
	return f.raw
}

// Image decodes the original image bytes, caching the result.
func (f *Frame) Image() (image.Image, error) {
	if f.img != nil {
		return f.img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(f.raw))
	if err != nil {
		return nil, err
	}
	f.img = img
	return f.img, nil
}

// LitRatio returns the fraction of pixels which threshold to lit at the
// frame's native size, caching the result.
func (f *Frame) LitRatio() (float64, error) {
	if f.measured {
		return f.litRatio, nil
	}
	img, err := f.Image()
	if err != nil {
		return 0, err
	}
	f.litRatio = litRatio(img)
	f.measured = true
	return f.litRatio, nil
}

// Blank reports whether the frame thresholds to (nearly) all-lit or all-unlit
// pixels, i.e. would show up as an empty display.
func (f *Frame) Blank() (bool, error) {
	ratio, err := f.LitRatio()
	if err != nil {
		return false, err
	}
	return ratio > 0.99 || ratio < 0.01, nil
}

func litRatio(img image.Image) float64 {
	bounds := img.Bounds()
	var lit int
	// Y outer, X inner: faster on the line-oriented image types the stdlib
	// decoders return.
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.At(x, y)
			a := color.GrayModel.Convert(c).(color.Gray).Y
			if a > 127 {
				lit++
			}
		}
	}
	total := (bounds.Max.Y - bounds.Min.Y) * (bounds.Max.X - bounds.Min.X)
	if total == 0 {
		return 0
	}
	return float64(lit) / float64(total)
}
