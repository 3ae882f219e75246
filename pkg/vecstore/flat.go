package vecstore

import (
	"container/heap"
	"slices"
)

// Flat is an immutable exact inner-product index over L2-normalized rows.
// It is safe for concurrent searches.
type Flat struct {
	dim  int
	rows int
	data []float32 // rows*dim, row-major
}

// Build normalizes vectors into a new index. All vectors must share one
// dimension. An empty input yields an empty index.
func Build(vectors [][]float32) (*Flat, error) {
	f := &Flat{rows: len(vectors)}
	if len(vectors) == 0 {
		return f, nil
	}
	f.dim = len(vectors[0])
	f.data = make([]float32, f.rows*f.dim)
	for i, v := range vectors {
		if len(v) != f.dim {
			return nil, dimError(len(v), f.dim)
		}
		normalizeInto(f.data[i*f.dim:(i+1)*f.dim], v)
	}
	return f, nil
}

// Len returns the number of rows.
func (f *Flat) Len() int { return f.rows }

// Dim returns the row dimension, or 0 for an empty index.
func (f *Flat) Dim() int { return f.dim }

// Row returns the normalized vector at position i. The slice aliases the
// index and must not be modified.
func (f *Flat) Row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search returns up to k rows with the highest cosine similarity to query,
// best first. Equal similarities keep the lower row first.
func (f *Flat) Search(query []float32, k int) ([]Match, error) {
	if k <= 0 || f.rows == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, dimError(len(query), f.dim)
	}
	q := Normalize(query)
	k = min(k, f.rows)

	h := make(worstFirst, 0, k)
	for i := range f.rows {
		m := Match{Row: i, Similarity: Dot(q, f.Row(i))}
		if len(h) < k {
			heap.Push(&h, m)
			continue
		}
		if better(m, h[0]) {
			h[0] = m
			heap.Fix(&h, 0)
		}
	}

	out := []Match(h)
	slices.SortFunc(out, func(a, b Match) int {
		switch {
		case better(a, b):
			return -1
		case better(b, a):
			return 1
		}
		return 0
	})
	return out, nil
}

// better reports whether a ranks ahead of b.
func better(a, b Match) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	return a.Row < b.Row
}

// worstFirst is a heap whose root is the weakest kept match.
type worstFirst []Match

func (h worstFirst) Len() int           { return len(h) }
func (h worstFirst) Less(i, j int) bool { return better(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *worstFirst) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
