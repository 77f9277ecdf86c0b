package turbojpeg

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

// gradient returns a synthetic thumbnail-sized test image.
func gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / width),
				G: uint8(y * 255 / height),
				B: uint8((x + y) * 255 / (width + height)),
				A: 0xff,
			})
		}
	}
	return img
}

func TestEncodeImage(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeImage(&buf, gradient(64, 48), 75); err != nil {
		t.Fatal(err)
	}
	// JPEG SOI marker
	if got := buf.Bytes(); len(got) < 2 || got[0] != 0xff || got[1] != 0xd8 {
		t.Fatalf("output does not start with a JPEG SOI marker: % x", got[:2])
	}
}

func BenchmarkEncodeImage(b *testing.B) {
	img := gradient(512, 384)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		const quality = 75 // like scanimage(1)
		if err := EncodeImage(&buf, img, quality); err != nil {
			b.Fatal(err)
		}
	}
}
