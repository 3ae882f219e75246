// Package vecstore holds the exact nearest-neighbour index used for design
// matching.
//
// [Flat] is built once from a batch of descriptors and never mutated. Rows
// are L2-normalized on the way in, so the inner product of two rows is their
// cosine similarity. A catalog refresh builds a fresh Flat and swaps it in.
//
// The package also carries the little-endian float32 matrix codec
// ([WriteMatrix], [ReadMatrix]) used by the descriptor cache.
package vecstore

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when vectors of different lengths meet.
var ErrDimensionMismatch = errors.New("vecstore: dimension mismatch")

// Match is one search hit.
type Match struct {
	// Row is the position of the matched vector in the slice given to Build.
	Row int

	// Similarity is the cosine similarity to the query, in [-1, 1].
	Similarity float32
}

func dimError(got, want int) error {
	return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, got, want)
}

// Dot returns the inner product of a and b, which must have equal length.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Normalize returns a unit-length copy of v. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	normalizeInto(out, v)
	return out
}

func normalizeInto(dst, v []float32) {
	n := Norm(v)
	if n == 0 {
		clear(dst)
		return
	}
	inv := 1 / n
	for i, x := range v {
		dst[i] = x * inv
	}
}

// Cosine returns the cosine similarity of a and b. It is 0 when either
// vector is zero.
func Cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, dimError(len(b), len(a))
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return Dot(a, b) / (na * nb), nil
}
