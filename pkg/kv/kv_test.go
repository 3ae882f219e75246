package kv_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/haivivi/designmatch/pkg/kv"
)

type storeFactory func(t *testing.T, opts *kv.Options) kv.Store

func newMemory(t *testing.T, opts *kv.Options) kv.Store {
	return kv.NewMemory(opts)
}

func newBadger(t *testing.T, opts *kv.Options) kv.Store {
	t.Helper()
	s, err := kv.NewBadger(kv.BadgerOptions{Options: opts, InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, mk storeFactory)) {
	for _, tc := range []struct {
		name string
		mk   storeFactory
	}{
		{"memory", newMemory},
		{"badger", newBadger},
	} {
		t.Run(tc.name, func(t *testing.T) { fn(t, tc.mk) })
	}
}

func TestGetSetDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, mk storeFactory) {
		ctx := context.Background()
		s := mk(t, nil)
		key := kv.Key{"desc", "hs50x60m1024", "abc"}

		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
		if err := s.Set(ctx, key, []byte("v1")); err != nil {
			t.Fatal(err)
		}
		if err := s.Set(ctx, key, []byte("v2")); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "v2" {
			t.Fatalf("Get = %q, want %q", got, "v2")
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, key); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("Get after delete = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, kv.Key{"never", "set"}); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
	})
}

func TestListPrefixBoundary(t *testing.T) {
	forEachStore(t, func(t *testing.T, mk storeFactory) {
		ctx := context.Background()
		s := mk(t, nil)
		for _, k := range []kv.Key{
			{"desc", "a", "2"},
			{"desc", "a", "1"},
			{"desc", "ab", "1"},
			{"other", "x"},
		} {
			if err := s.Set(ctx, k, []byte(k.String())); err != nil {
				t.Fatal(err)
			}
		}

		var got []string
		for e, err := range s.List(ctx, kv.Key{"desc", "a"}) {
			if err != nil {
				t.Fatal(err)
			}
			got = append(got, e.Key.String())
			if string(e.Value) != e.Key.String() {
				t.Errorf("value for %s = %q", e.Key, e.Value)
			}
		}
		want := []string{"desc:a:1", "desc:a:2"}
		if !slices.Equal(got, want) {
			t.Fatalf("List = %v, want %v", got, want)
		}

		n := 0
		for _, err := range s.List(ctx, nil) {
			if err != nil {
				t.Fatal(err)
			}
			n++
		}
		if n != 4 {
			t.Fatalf("List(nil) yielded %d, want 4", n)
		}
	})
}

func TestListEarlyStop(t *testing.T) {
	forEachStore(t, func(t *testing.T, mk storeFactory) {
		ctx := context.Background()
		s := mk(t, nil)
		for _, id := range []string{"1", "2", "3"} {
			s.Set(ctx, kv.Key{"desc", id}, []byte(id))
		}
		n := 0
		for range s.List(ctx, kv.Key{"desc"}) {
			n++
			break
		}
		if n != 1 {
			t.Fatalf("iterated %d, want 1", n)
		}
	})
}

func TestCustomSeparator(t *testing.T) {
	forEachStore(t, func(t *testing.T, mk storeFactory) {
		ctx := context.Background()
		s := mk(t, &kv.Options{Separator: '/'})
		key := kv.Key{"desc", "has:colon"}
		if err := s.Set(ctx, key, []byte("x")); err != nil {
			t.Fatal(err)
		}
		for e, err := range s.List(ctx, kv.Key{"desc"}) {
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(e.Key, key) {
				t.Fatalf("key = %v, want %v", e.Key, key)
			}
		}
	})
}

func TestValueHelpersAndPurge(t *testing.T) {
	forEachStore(t, func(t *testing.T, mk storeFactory) {
		ctx := context.Background()
		s := mk(t, nil)

		type memo struct {
			Signature  string    `msgpack:"sig"`
			Descriptor []float32 `msgpack:"d"`
		}
		in := memo{Signature: "hs2x2m0", Descriptor: []float32{0.25, 0.75, 0, 0}}
		key := kv.Key{"desc", "hs2x2m0", "k1"}
		if err := kv.SetValue(ctx, s, key, in); err != nil {
			t.Fatal(err)
		}
		var out memo
		if err := kv.GetValue(ctx, s, key, &out); err != nil {
			t.Fatal(err)
		}
		if out.Signature != in.Signature || !slices.Equal(out.Descriptor, in.Descriptor) {
			t.Fatalf("GetValue = %+v, want %+v", out, in)
		}

		s.Set(ctx, kv.Key{"desc", "hs2x2m0", "k2"}, []byte{0xc0})
		s.Set(ctx, kv.Key{"keep"}, []byte("x"))

		var bad memo
		if err := kv.GetValue(ctx, s, kv.Key{"keep"}, &bad); err == nil {
			t.Fatal("expected decode error for non-msgpack value")
		}

		n, err := kv.Purge(ctx, s, kv.Key{"desc"})
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Fatalf("Purge = %d, want 2", n)
		}
		if _, err := s.Get(ctx, kv.Key{"keep"}); err != nil {
			t.Fatalf("unrelated key removed: %v", err)
		}
	})
}

func TestMemoryValueIsolation(t *testing.T) {
	ctx := context.Background()
	s := kv.NewMemory(nil)
	val := []byte("abc")
	s.Set(ctx, kv.Key{"k"}, val)
	val[0] = 'X'
	got, _ := s.Get(ctx, kv.Key{"k"})
	got[1] = 'Y'
	again, _ := s.Get(ctx, kv.Key{"k"})
	if string(again) != "abc" {
		t.Fatalf("stored value mutated: %q", again)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestBadgerDirRequired(t *testing.T) {
	if _, err := kv.NewBadger(kv.BadgerOptions{}); err == nil {
		t.Fatal("expected error without Dir")
	}
}

func TestBadgerOnDiskReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := kv.NewBadger(kv.BadgerOptions{Dir: dir, TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, kv.Key{"desc", "x"}, []byte("persisted")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = kv.NewBadger(kv.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Get(ctx, kv.Key{"desc", "x"})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "persisted" {
		t.Fatalf("Get = %q", got)
	}
}
