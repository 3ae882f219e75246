// Package testimg builds small encoded images for tests.
package testimg

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
)

// Solid returns a w×h image filled with c.
func Solid(c color.Color, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// Split returns a w×h image whose left half is a and right half is b.
func Split(a, b color.Color, w, h int) *image.NRGBA {
	img := Solid(a, w, h)
	for y := range h {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, b)
		}
	}
	return img
}

// PNG encodes img as PNG.
func PNG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// JPEG encodes img as JPEG at maximum quality.
func JPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Common test colours.
var (
	Red   = color.NRGBA{R: 255, A: 255}
	Green = color.NRGBA{G: 255, A: 255}
	Blue  = color.NRGBA{B: 255, A: 255}
	Grey  = color.NRGBA{R: 128, G: 128, B: 128, A: 255}
)
