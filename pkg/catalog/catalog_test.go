package catalog

import (
	"math"
	"sync"
	"testing"
)

func entry(id string, p Provenance, d ...float32) Entry {
	return Entry{ID: id, Name: id, Price: 15000, Descriptor: d, Provenance: p, ImageRef: id + ".jpeg"}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStagingConcurrentAdd(t *testing.T) {
	var s Staging
	var wg sync.WaitGroup
	for _, id := range []string{"d", "b", "a", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(entry(id, Internal, 3, 4))
		}()
	}
	wg.Wait()

	got := s.Entries()
	if !equalStrings(ids(got), []string{"a", "b", "c", "d"}) {
		t.Fatalf("Entries = %v, want sorted by ID", ids(got))
	}
	if got[0].Norm != 5 {
		t.Fatalf("Norm = %v, want 5", got[0].Norm)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestMergeAndReplace(t *testing.T) {
	in := []Entry{entry("i1", Internal, 1, 0), entry("i2", Internal, 0, 1)}
	ex := []Entry{entry("e1", External, 1, 1)}

	c := Merge(in, ex)
	if !equalStrings(ids(c.Entries()), []string{"i1", "i2", "e1"}) {
		t.Fatalf("Merge order = %v", ids(c.Entries()))
	}
	if c.Dim() != 2 || c.Len() != 3 {
		t.Fatalf("Dim, Len = %d, %d", c.Dim(), c.Len())
	}
	if got := ids(c.ByProvenance(External)); !equalStrings(got, []string{"e1"}) {
		t.Fatalf("ByProvenance(External) = %v", got)
	}

	c2 := c.Replace(External, []Entry{entry("e2", External, 0, 1), entry("e3", External, 1, 0)})
	if !equalStrings(ids(c2.Entries()), []string{"i1", "i2", "e2", "e3"}) {
		t.Fatalf("Replace(External) = %v", ids(c2.Entries()))
	}
	c3 := c2.Replace(Internal, nil)
	if !equalStrings(ids(c3.Entries()), []string{"e2", "e3"}) {
		t.Fatalf("Replace(Internal, nil) = %v", ids(c3.Entries()))
	}
	if !equalStrings(ids(c.Entries()), []string{"i1", "i2", "e1"}) {
		t.Fatal("Replace mutated the original catalog")
	}
}

func TestDescriptorsAlignWithEntries(t *testing.T) {
	c := New([]Entry{entry("a", Internal, 1, 2), entry("b", External, 3, 4)})
	rows := c.Descriptors()
	for i := range rows {
		if rows[i][0] != c.At(i).Descriptor[0] {
			t.Fatalf("row %d misaligned", i)
		}
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if c.Len() != 0 || c.Dim() != 0 || c.Entries() != nil || c.ByProvenance(Internal) != nil {
		t.Fatal("nil catalog should behave as empty")
	}
}

func TestWithNorm(t *testing.T) {
	e := Entry{Descriptor: []float32{1, 1, 1, 1}}.WithNorm()
	if math.Abs(float64(e.Norm-2)) > 1e-6 {
		t.Fatalf("Norm = %v, want 2", e.Norm)
	}
}
