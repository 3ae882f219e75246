// Package catalog holds the reference designs a photo is matched against.
//
// An [Entry] keeps one design's descriptor and display metadata together.
// Ingestion fills a [Staging] buffer privately; the engine then freezes the
// buffer into an immutable [Catalog] whose order is also the row order of
// the vector index built from it. [Cache] persists a catalog as two aligned
// files so a restart does not re-download every image.
package catalog

import (
	"cmp"
	"slices"
	"sync"

	"github.com/haivivi/designmatch/pkg/vecstore"
)

// Provenance records where an entry came from. It decides how result links
// are produced and which slice a refresh replaces.
type Provenance string

const (
	// Internal entries come from the private design bucket.
	Internal Provenance = "internal"

	// External entries come from a storefront product feed.
	External Provenance = "external"
)

// Entry is one catalog design.
type Entry struct {
	ID    string
	Name  string
	Price float64

	// Descriptor is the raw colour histogram. Norm is its L2 norm.
	Descriptor []float32
	Norm       float32

	Provenance Provenance

	// ImageRef is the bucket key for internal entries and the full-size
	// image URL for external ones.
	ImageRef string

	// ThumbnailRef is set for external entries whose thumbnail was verified.
	ThumbnailRef string
}

// WithNorm returns e with Norm computed from Descriptor.
func (e Entry) WithNorm() Entry {
	e.Norm = vecstore.Norm(e.Descriptor)
	return e
}

// Staging collects entries during an ingestion pass. It is safe for
// concurrent Add.
type Staging struct {
	mu      sync.Mutex
	entries []Entry
}

// Add appends e, filling in its norm.
func (s *Staging) Add(e Entry) {
	e = e.WithNorm()
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

// Len returns the number of staged entries.
func (s *Staging) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a copy of the staged entries ordered by ID. Workers
// finish in arbitrary order, so sorting keeps rebuilds reproducible.
func (s *Staging) Entries() []Entry {
	s.mu.Lock()
	out := slices.Clone(s.entries)
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Catalog is an immutable ordered list of entries.
type Catalog struct {
	entries []Entry
}

// New freezes entries into a Catalog.
func New(entries []Entry) *Catalog {
	return &Catalog{entries: slices.Clone(entries)}
}

// Merge builds a catalog with internal entries first, then external ones,
// each in its given order.
func Merge(internal, external []Entry) *Catalog {
	all := make([]Entry, 0, len(internal)+len(external))
	all = append(all, internal...)
	all = append(all, external...)
	return &Catalog{entries: all}
}

// Len returns the number of entries. A nil Catalog is empty.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// At returns entry i.
func (c *Catalog) At(i int) Entry { return c.entries[i] }

// Entries returns a copy of all entries.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	return slices.Clone(c.entries)
}

// ByProvenance returns the entries with provenance p, in catalog order.
func (c *Catalog) ByProvenance(p Provenance) []Entry {
	if c == nil {
		return nil
	}
	var out []Entry
	for _, e := range c.entries {
		if e.Provenance == p {
			out = append(out, e)
		}
	}
	return out
}

// Replace returns a new catalog where the entries of provenance p are
// swapped for entries. The other slice is kept as is.
func (c *Catalog) Replace(p Provenance, entries []Entry) *Catalog {
	if p == Internal {
		return Merge(entries, c.ByProvenance(External))
	}
	return Merge(c.ByProvenance(Internal), entries)
}

// Dim returns the descriptor dimension, or 0 for an empty catalog.
func (c *Catalog) Dim() int {
	if c.Len() == 0 {
		return 0
	}
	return len(c.entries[0].Descriptor)
}

// Descriptors projects the descriptor matrix in catalog order. The rows
// alias the entries.
func (c *Catalog) Descriptors() [][]float32 {
	out := make([][]float32, c.Len())
	for i := range out {
		out[i] = c.entries[i].Descriptor
	}
	return out
}
