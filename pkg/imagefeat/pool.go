package imagefeat

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many extractions run at once. Histogramming is CPU bound,
// so callers fetching many images share one Pool instead of spawning an
// extraction per download.
type Pool struct {
	ex  Extractor
	sem *semaphore.Weighted
}

// NewPool returns a Pool running at most slots extractions concurrently.
// slots <= 0 means runtime.NumCPU().
func NewPool(ex Extractor, slots int) *Pool {
	if slots <= 0 {
		slots = runtime.NumCPU()
	}
	return &Pool{ex: ex, sem: semaphore.NewWeighted(int64(slots))}
}

// Extractor returns the extractor the pool runs.
func (p *Pool) Extractor() Extractor { return p.ex }

// Extract waits for a free slot and extracts data. It returns ctx.Err() if
// ctx ends while waiting.
func (p *Pool) Extract(ctx context.Context, data []byte) (Descriptor, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.ex.Extract(data)
}
