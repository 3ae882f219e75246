// Package imagefeat turns encoded images into colour descriptors.
//
// A descriptor is a 2-D hue/saturation histogram flattened hue-major and
// L1-normalized, so it sums to 1 and ignores brightness. Hue and saturation
// follow the 8-bit HSV convention (hue in [0,180), saturation in [0,256))
// so that descriptors are comparable with ones produced by common vision
// toolkits.
package imagefeat

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	xdraw "golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Histogram defaults.
const (
	DefaultHueBins = 50
	DefaultSatBins = 60
	DefaultMaxSide = 1024
)

// Descriptor is a fixed-length, L1-normalized colour histogram.
type Descriptor []float32

// DecodeError is returned when bytes cannot be turned into a descriptor.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "imagefeat: decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Extractor computes descriptors. The zero value uses the defaults with no
// downscaling. Extractor is stateless and safe for concurrent use.
type Extractor struct {
	HueBins int
	SatBins int

	// MaxSide, when positive, downscales images whose longer side exceeds
	// it before counting pixels.
	MaxSide int
}

// Default returns the extractor used by ingestion and matching.
func Default() Extractor {
	return Extractor{HueBins: DefaultHueBins, SatBins: DefaultSatBins, MaxSide: DefaultMaxSide}
}

func (x Extractor) bins() (int, int) {
	h, s := x.HueBins, x.SatBins
	if h <= 0 {
		h = DefaultHueBins
	}
	if s <= 0 {
		s = DefaultSatBins
	}
	return h, s
}

// Dim returns the descriptor length.
func (x Extractor) Dim() int {
	h, s := x.bins()
	return h * s
}

// Signature identifies the descriptor layout. Descriptors with different
// signatures must not be compared.
func (x Extractor) Signature() string {
	h, s := x.bins()
	return fmt.Sprintf("hs%dx%dm%d", h, s, max(x.MaxSide, 0))
}

// Extract decodes data and returns its descriptor.
func (x Extractor) Extract(data []byte) (Descriptor, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty image data")}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return x.Describe(img)
}

// Describe computes the descriptor of an already decoded image.
func (x Extractor) Describe(img image.Image) (Descriptor, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, &DecodeError{Err: errors.New("image has no pixels")}
	}
	px := x.pixels(img)

	hb, sb := x.bins()
	hist := make([]float64, hb*sb)
	p := px.Pix
	for y := range px.Rect.Dy() {
		row := p[y*px.Stride : y*px.Stride+px.Rect.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			h, s := hueSat(row[i], row[i+1], row[i+2])
			hist[h*hb/180*sb+s*sb/256]++
		}
	}

	total := float64(px.Rect.Dx() * px.Rect.Dy())
	out := make(Descriptor, len(hist))
	for i, c := range hist {
		out[i] = float32(c / total)
	}
	return out, nil
}

// pixels returns img as straight-alpha RGBA, downscaled when it exceeds
// MaxSide.
func (x Extractor) pixels(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if x.MaxSide > 0 && max(w, h) > x.MaxSide {
		scale := float64(x.MaxSide) / float64(max(w, h))
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
		dst := image.NewNRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return dst
	}
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// hueSat converts one 8-bit RGB pixel to hue in [0,180) and saturation in
// [0,256).
func hueSat(r, g, b uint8) (int, int) {
	v := max(r, g, b)
	lo := min(r, g, b)
	if v == lo {
		return 0, 0 // grey, black or white
	}
	diff := float64(v) - float64(lo)
	s := int(math.Round(diff * 255 / float64(v)))

	var h float64
	switch v {
	case r:
		h = 60 * (float64(g) - float64(b)) / diff
	case g:
		h = 120 + 60*(float64(b)-float64(r))/diff
	default:
		h = 240 + 60*(float64(r)-float64(g))/diff
	}
	if h < 0 {
		h += 360
	}
	hue := int(math.Round(h / 2))
	if hue >= 180 {
		hue -= 180
	}
	return hue, s
}
