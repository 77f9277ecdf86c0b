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

// Package turbojpeg encodes JPEG thumbnails, using the cgo libturbojpeg
// encoder on arm64 builds (gokrazy deployments on a Raspberry Pi) and the
// stdlib image/jpeg encoder elsewhere.
package turbojpeg

import (
	"image"
	"image/draw"
	"io"
)

// EncodeImage encodes img as JPEG with the platform encoder, feeding it row
// by row in the packed RGB layout both encoder variants expect.
func EncodeImage(w io.Writer, img image.Image, quality int) error {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	enc, err := NewEncoder(w, quality, width, height)
	if err != nil {
		return err
	}
	rgb := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := rgba.PixOffset(rgba.Rect.Min.X+x, rgba.Rect.Min.Y+y)
			rgb[(y*width+x)*3+0] = rgba.Pix[o+0]
			rgb[(y*width+x)*3+1] = rgba.Pix[o+1]
			rgb[(y*width+x)*3+2] = rgba.Pix[o+2]
		}
	}
	enc.EncodePixels(rgb, height)
	return enc.Flush()
}
