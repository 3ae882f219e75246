package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/haivivi/designmatch/pkg/storage"
	"github.com/haivivi/designmatch/pkg/vecstore"
)

// Cache file names under Cache.Prefix.
const (
	FeaturesFile = "features.bin"
	MetadataFile = "metadata.msgpack"
	lockName     = "catalog"
)

const metadataVersion = 1

var (
	// ErrCacheMiss means one or both cache files are absent.
	ErrCacheMiss = errors.New("catalog: cache miss")

	// ErrCacheCorrupt means the files exist but cannot be trusted: a bad
	// header, misaligned counts, a dimension disagreement, an undecodable
	// record, or descriptors from a different extractor.
	ErrCacheCorrupt = errors.New("catalog: cache corrupt")
)

// header opens metadata.msgpack and describes the records that follow.
type header struct {
	Version   int       `msgpack:"v"`
	Count     int       `msgpack:"n"`
	Dim       int       `msgpack:"dim"`
	Signature string    `msgpack:"sig"`
	WrittenAt time.Time `msgpack:"at"`
}

// record is the persisted metadata of one entry. Row i of features.bin
// belongs to record i.
type record struct {
	ID           string     `msgpack:"id"`
	Name         string     `msgpack:"name"`
	Price        float64    `msgpack:"price"`
	Provenance   Provenance `msgpack:"prov"`
	ImageRef     string     `msgpack:"image"`
	ThumbnailRef string     `msgpack:"thumb,omitempty"`
}

// Info summarizes a persisted cache without materializing the catalog.
type Info struct {
	Count     int
	Dim       int
	Signature string
	WrittenAt time.Time
}

// Cache persists catalogs to a FileStore as features.bin plus
// metadata.msgpack.
type Cache struct {
	Store  storage.FileStore
	Prefix string

	// Signature is the extractor signature expected on load. A cache
	// written by another extractor layout is reported corrupt.
	Signature string

	Logger *slog.Logger
}

func (c *Cache) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Cache) file(name string) string {
	if c.Prefix == "" {
		return name
	}
	return path.Join(c.Prefix, name)
}

// lock takes the store's exclusive lock when it offers one.
func (c *Cache) lock(ctx context.Context) (func() error, error) {
	l, ok := c.Store.(storage.Locker)
	if !ok {
		return func() error { return nil }, nil
	}
	return l.Lock(ctx, c.file(lockName))
}

// Persist writes cat. Both files are rewritten; concurrent writers sharing a
// lockable store are serialized.
func (c *Cache) Persist(ctx context.Context, cat *Catalog) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var features bytes.Buffer
	if err := vecstore.WriteMatrix(&features, cat.Descriptors()); err != nil {
		return fmt.Errorf("catalog: encode features: %w", err)
	}

	var meta bytes.Buffer
	enc := msgpack.NewEncoder(&meta)
	h := header{
		Version:   metadataVersion,
		Count:     cat.Len(),
		Dim:       cat.Dim(),
		Signature: c.Signature,
		WrittenAt: time.Now().UTC(),
	}
	if err := enc.Encode(&h); err != nil {
		return fmt.Errorf("catalog: encode header: %w", err)
	}
	for _, e := range cat.entries {
		r := record{
			ID:           e.ID,
			Name:         e.Name,
			Price:        e.Price,
			Provenance:   e.Provenance,
			ImageRef:     e.ImageRef,
			ThumbnailRef: e.ThumbnailRef,
		}
		if err := enc.Encode(&r); err != nil {
			return fmt.Errorf("catalog: encode %s: %w", e.ID, err)
		}
	}

	if err := c.put(ctx, FeaturesFile, features.Bytes()); err != nil {
		return err
	}
	if err := c.put(ctx, MetadataFile, meta.Bytes()); err != nil {
		return err
	}
	c.logger().InfoContext(ctx, "catalog: cache persisted", "entries", cat.Len(), "dim", cat.Dim())
	return nil
}

func (c *Cache) put(ctx context.Context, name string, data []byte) error {
	w, err := c.Store.Write(ctx, c.file(name))
	if err != nil {
		return fmt.Errorf("catalog: write %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("catalog: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("catalog: write %s: %w", name, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, name string) ([]byte, error) {
	data, err := storage.ReadAll(ctx, c.Store, c.file(name), 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCacheMiss, name)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", name, err)
	}
	return data, nil
}

func (c *Cache) readHeader(dec *msgpack.Decoder) (header, error) {
	var h header
	if err := dec.Decode(&h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrCacheCorrupt, err)
	}
	if h.Version != metadataVersion {
		return h, fmt.Errorf("%w: metadata version %d", ErrCacheCorrupt, h.Version)
	}
	if c.Signature != "" && h.Signature != c.Signature {
		return h, fmt.Errorf("%w: extractor %q, want %q", ErrCacheCorrupt, h.Signature, c.Signature)
	}
	return h, nil
}

// Load reads a persisted catalog. It returns ErrCacheMiss when either file
// is missing and ErrCacheCorrupt when they disagree.
func (c *Cache) Load(ctx context.Context) (*Catalog, error) {
	featData, err := c.get(ctx, FeaturesFile)
	if err != nil {
		return nil, err
	}
	metaData, err := c.get(ctx, MetadataFile)
	if err != nil {
		return nil, err
	}

	rows, err := vecstore.ReadMatrix(bytes.NewReader(featData))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(metaData))
	h, err := c.readHeader(dec)
	if err != nil {
		return nil, err
	}
	if h.Count != len(rows) {
		return nil, fmt.Errorf("%w: %d records, %d feature rows", ErrCacheCorrupt, h.Count, len(rows))
	}
	if len(rows) > 0 && len(rows[0]) != h.Dim {
		return nil, fmt.Errorf("%w: dim %d, header says %d", ErrCacheCorrupt, len(rows[0]), h.Dim)
	}

	entries := make([]Entry, h.Count)
	for i := range entries {
		var r record
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCacheCorrupt, i, err)
		}
		entries[i] = Entry{
			ID:           r.ID,
			Name:         r.Name,
			Price:        r.Price,
			Descriptor:   rows[i],
			Provenance:   r.Provenance,
			ImageRef:     r.ImageRef,
			ThumbnailRef: r.ThumbnailRef,
		}.WithNorm()
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing metadata records", ErrCacheCorrupt)
	}
	return &Catalog{entries: entries}, nil
}

// Stat reads only the metadata header.
func (c *Cache) Stat(ctx context.Context) (Info, error) {
	if ok, err := c.Store.Exists(ctx, c.file(FeaturesFile)); err != nil {
		return Info{}, err
	} else if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrCacheMiss, FeaturesFile)
	}
	metaData, err := c.get(ctx, MetadataFile)
	if err != nil {
		return Info{}, err
	}
	h, err := c.readHeader(msgpack.NewDecoder(bytes.NewReader(metaData)))
	if err != nil {
		return Info{}, err
	}
	return Info{Count: h.Count, Dim: h.Dim, Signature: h.Signature, WrittenAt: h.WrittenAt}, nil
}

// Clear removes both cache files.
func (c *Cache) Clear(ctx context.Context) error {
	unlock, err := c.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	for _, name := range []string{FeaturesFile, MetadataFile} {
		if err := c.Store.Delete(ctx, c.file(name)); err != nil {
			return fmt.Errorf("catalog: delete %s: %w", name, err)
		}
	}
	return nil
}
