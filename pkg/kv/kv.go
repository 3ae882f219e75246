// Package kv is the small key-value layer behind the descriptor memo.
//
// Keys are hierarchical string paths such as {"desc", "hs50x60m1024", "<hash>"}
// joined with a separator byte (':' by default). Two stores are provided:
// [Badger] persists to disk (or memory) and is what the CLI opens, [Memory]
// is a map used by tests and one-shot runs. Values are opaque bytes; the
// msgpack helpers [GetValue] and [SetValue] cover the common typed case.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Key is a hierarchical path. Segments must not contain the separator.
type Key []string

// String joins the segments with ':' for logs.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Entry is a key-value pair yielded by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is implemented by [Badger] and [Memory]. Implementations are safe
// for concurrent use.
type Store interface {
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in lexicographic key order. An empty
	// prefix walks the whole store.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	BatchDelete(ctx context.Context, keys []Key) error
	Close() error
}

// DefaultSeparator joins key segments.
const DefaultSeparator byte = ':'

// Options configures key encoding. A nil *Options is valid.
type Options struct {
	Separator byte
}

func (o *Options) sep() byte {
	if o != nil && o.Separator != 0 {
		return o.Separator
	}
	return DefaultSeparator
}

func (o *Options) encode(k Key) []byte {
	return []byte(strings.Join(k, string(o.sep())))
}

func (o *Options) decode(b []byte) Key {
	return Key(strings.Split(string(b), string(o.sep())))
}

// scanPrefix is the encoded prefix plus a trailing separator, so that
// {"desc","a"} never matches {"desc","ab"}. Nil means everything.
func (o *Options) scanPrefix(prefix Key) []byte {
	if len(prefix) == 0 {
		return nil
	}
	return append(o.encode(prefix), o.sep())
}

// GetValue decodes the msgpack value stored at key into v.
func GetValue(ctx context.Context, s Store, key Key, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// SetValue stores v at key as msgpack.
func SetValue(ctx context.Context, s Store, key Key, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// Purge deletes every key under prefix and reports how many were removed.
func Purge(ctx context.Context, s Store, prefix Key) (int, error) {
	var keys []Key
	for e, err := range s.List(ctx, prefix) {
		if err != nil {
			return 0, err
		}
		keys = append(keys, e.Key)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.BatchDelete(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}
