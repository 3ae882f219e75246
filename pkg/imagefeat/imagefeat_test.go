package imagefeat

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/haivivi/designmatch/internal/testimg"
)

func sum(d Descriptor) float64 {
	var s float64
	for _, v := range d {
		s += float64(v)
	}
	return s
}

func TestSolidColourBins(t *testing.T) {
	ex := Default()
	tests := []struct {
		name string
		c    color.Color
		bin  int
	}{
		// hue 0, saturation 255
		{"red", testimg.Red, 0*60 + 59},
		// hue 60 -> 60*50/180 = 16
		{"green", testimg.Green, 16*60 + 59},
		// hue 120 -> 33
		{"blue", testimg.Blue, 33*60 + 59},
		{"grey", testimg.Grey, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ex.Extract(testimg.PNG(testimg.Solid(tt.c, 16, 8)))
			if err != nil {
				t.Fatal(err)
			}
			if len(d) != 3000 {
				t.Fatalf("len = %d, want 3000", len(d))
			}
			if d[tt.bin] != 1 {
				t.Fatalf("d[%d] = %v, want 1 (argmax %d)", tt.bin, d[tt.bin], argmax(d))
			}
		})
	}
}

func argmax(d Descriptor) int {
	best := 0
	for i, v := range d {
		if v > d[best] {
			best = i
		}
	}
	return best
}

func TestDescriptorSumsToOne(t *testing.T) {
	img := testimg.Split(testimg.Red, testimg.Blue, 31, 17)
	for _, data := range [][]byte{testimg.PNG(img), testimg.JPEG(img)} {
		d, err := Default().Extract(data)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(sum(d)-1) > 1e-4 {
			t.Fatalf("sum = %v, want 1", sum(d))
		}
	}
}

func TestSplitImageHalves(t *testing.T) {
	d, err := Default().Extract(testimg.PNG(testimg.Split(testimg.Red, testimg.Blue, 20, 10)))
	if err != nil {
		t.Fatal(err)
	}
	if d[59] != 0.5 || d[33*60+59] != 0.5 {
		t.Fatalf("red=%v blue=%v, want 0.5 each", d[59], d[33*60+59])
	}
}

func TestDeterministic(t *testing.T) {
	data := testimg.JPEG(testimg.Split(testimg.Green, testimg.Grey, 40, 40))
	a, _ := Default().Extract(data)
	b, _ := Default().Extract(data)
	if !slices.Equal(a, b) {
		t.Fatal("same bytes produced different descriptors")
	}
}

func TestDownscaleKeepsDistribution(t *testing.T) {
	img := testimg.Solid(testimg.Green, 300, 40)
	ex := Extractor{MaxSide: 64}
	d, err := ex.Describe(img)
	if err != nil {
		t.Fatal(err)
	}
	if d[16*60+59] != 1 {
		t.Fatalf("downscaled solid green lost its bin: argmax %d", argmax(d))
	}
}

func TestGIFAndOffsetBounds(t *testing.T) {
	pal := image.NewPaletted(image.Rect(5, 5, 15, 15), color.Palette{testimg.Red, testimg.Blue})
	var buf bytes.Buffer
	if err := gif.Encode(&buf, pal, nil); err != nil {
		t.Fatal(err)
	}
	d, err := Default().Extract(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if d[59] != 1 {
		t.Fatalf("gif: d[59] = %v, want 1", d[59])
	}

	sub := testimg.Split(testimg.Red, testimg.Blue, 20, 10).SubImage(image.Rect(10, 0, 20, 10))
	d, err = Default().Describe(sub)
	if err != nil {
		t.Fatal(err)
	}
	if d[33*60+59] != 1 {
		t.Fatalf("sub-image: argmax %d, want blue bin", argmax(d))
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", testimg.PNG(testimg.Solid(testimg.Red, 8, 8))[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Default().Extract(tt.data)
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DecodeError", err)
			}
		})
	}

	_, err := Default().Describe(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("zero-pixel image: err = %v, want *DecodeError", err)
	}
}

func TestSignatureAndDim(t *testing.T) {
	if got := Default().Signature(); got != "hs50x60m1024" {
		t.Fatalf("Signature = %q", got)
	}
	if got := (Extractor{}).Signature(); got != "hs50x60m0" {
		t.Fatalf("zero Signature = %q", got)
	}
	if got := (Extractor{HueBins: 8, SatBins: 4}).Dim(); got != 32 {
		t.Fatalf("Dim = %d, want 32", got)
	}
}

func TestHueSat(t *testing.T) {
	tests := []struct {
		r, g, b uint8
		h, s    int
	}{
		{255, 0, 0, 0, 255},
		{255, 255, 0, 30, 255},
		{0, 255, 255, 90, 255},
		{255, 0, 255, 150, 255},
		{255, 0, 1, 0, 255}, // wraps just below 360 degrees
		{200, 100, 100, 0, 128},
		{0, 0, 0, 0, 0},
		{255, 255, 255, 0, 0},
	}
	for _, tt := range tests {
		h, s := hueSat(tt.r, tt.g, tt.b)
		if h != tt.h || s != tt.s {
			t.Errorf("hueSat(%d,%d,%d) = %d,%d want %d,%d", tt.r, tt.g, tt.b, h, s, tt.h, tt.s)
		}
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(Default(), 1)
	data := testimg.PNG(testimg.Solid(testimg.Red, 4, 4))

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Extract(ctx, data); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Extract with full pool = %v, want deadline exceeded", err)
	}
	p.sem.Release(1)

	d, err := p.Extract(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if d[59] != 1 {
		t.Fatal("pool returned wrong descriptor")
	}
}
