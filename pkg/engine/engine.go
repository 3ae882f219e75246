// Package engine owns the published catalog snapshot.
//
// A [Snapshot] pairs an immutable catalog with the index built from it.
// Refreshes rebuild off to the side and publish with one atomic swap, so a
// match in progress keeps using the snapshot it started with and never sees
// a half-built catalog.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/ingest"
	"github.com/haivivi/designmatch/pkg/productfeed"
	"github.com/haivivi/designmatch/pkg/vecstore"
)

var (
	// ErrNotReady means no non-empty snapshot has been published.
	ErrNotReady = errors.New("engine: catalog not ready")

	// ErrNoFeed is returned by RefreshFeed when no feed is configured.
	ErrNoFeed = errors.New("engine: no product feed configured")
)

// Snapshot is one published catalog and its index. Row i of Index is
// entry i of Catalog.
type Snapshot struct {
	ID      uuid.UUID
	Catalog *catalog.Catalog
	Index   *vecstore.Flat
	BuiltAt time.Time
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return s.Catalog.Len()
}

// NewSnapshot builds the index for cat.
func NewSnapshot(cat *catalog.Catalog) (*Snapshot, error) {
	idx, err := vecstore.Build(cat.Descriptors())
	if err != nil {
		return nil, fmt.Errorf("engine: build index: %w", err)
	}
	return &Snapshot{ID: uuid.New(), Catalog: cat, Index: idx, BuiltAt: time.Now()}, nil
}

// Engine loads, refreshes and publishes snapshots.
type Engine struct {
	Pipeline *ingest.Pipeline

	// Cache is optional. When set, Open tries it first and every publish
	// is persisted to it.
	Cache *catalog.Cache

	// Feed is optional and supplies external products.
	Feed productfeed.Source

	Logger *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Snapshot]
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Current returns the published snapshot. ok is false before the first
// publish. A published snapshot may be empty.
func (e *Engine) Current() (*Snapshot, bool) {
	s := e.current.Load()
	return s, s != nil
}

// Ready returns the published snapshot, or ErrNotReady when there is none
// or it is empty.
func (e *Engine) Ready() (*Snapshot, error) {
	s := e.current.Load()
	if s.Len() == 0 {
		return nil, ErrNotReady
	}
	return s, nil
}

// Open publishes the cached catalog when a valid cache exists and otherwise
// ingests every configured source, publishes and persists. Source failures
// are logged and the engine still opens, possibly empty, but a catalog
// missing a failed source is not persisted so the next Open ingests again.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	log := e.logger()

	if ok, err := e.loadCacheLocked(ctx); ok || err != nil {
		return err
	}

	var internal, external []catalog.Entry
	complete := true
	if e.Pipeline.Bucket != nil {
		entries, err := e.Pipeline.LoadBucket(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.WarnContext(ctx, "engine: bucket ingestion failed", "err", err)
			complete = false
		}
		internal = entries
	}
	if e.Feed != nil {
		entries, err := e.loadFeed(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.WarnContext(ctx, "engine: feed ingestion failed", "err", err)
			complete = false
		}
		external = entries
	}
	return e.publishLocked(ctx, catalog.Merge(internal, external), complete)
}

// LoadCache publishes the cached catalog without touching any source. It
// reports false when there is no usable cache.
func (e *Engine) LoadCache(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadCacheLocked(ctx)
}

// loadCacheLocked treats a missing or unusable cache as a miss; only
// context errors are returned.
func (e *Engine) loadCacheLocked(ctx context.Context) (bool, error) {
	if e.Cache == nil {
		return false, nil
	}
	log := e.logger()
	cat, err := e.Cache.Load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		log.InfoContext(ctx, "engine: no usable cache", "reason", err)
		return false, nil
	}
	snap, err := NewSnapshot(cat)
	if err != nil {
		log.WarnContext(ctx, "engine: cached catalog unusable", "err", err)
		return false, nil
	}
	e.current.Store(snap)
	log.InfoContext(ctx, "engine: published cached catalog", "entries", snap.Len(), "snapshot", snap.ID)
	return true, nil
}

func (e *Engine) loadFeed(ctx context.Context) ([]catalog.Entry, error) {
	products, err := e.Feed.Products(ctx)
	if err != nil {
		return nil, err
	}
	return e.Pipeline.LoadExternal(ctx, products)
}

// RefreshBucket re-ingests the design bucket and replaces the internal
// entries. On failure the published snapshot is left untouched.
func (e *Engine) RefreshBucket(ctx context.Context) error {
	entries, err := e.Pipeline.LoadBucket(ctx)
	if err != nil {
		return err
	}
	return e.replace(ctx, catalog.Internal, entries)
}

// RefreshExternal ingests products and replaces the external entries.
func (e *Engine) RefreshExternal(ctx context.Context, products []productfeed.Product) error {
	entries, err := e.Pipeline.LoadExternal(ctx, products)
	if err != nil {
		return err
	}
	return e.replace(ctx, catalog.External, entries)
}

// RefreshFeed pulls the configured feed and replaces the external entries.
func (e *Engine) RefreshFeed(ctx context.Context) error {
	if e.Feed == nil {
		return ErrNoFeed
	}
	products, err := e.Feed.Products(ctx)
	if err != nil {
		return fmt.Errorf("engine: feed: %w", err)
	}
	return e.RefreshExternal(ctx, products)
}

func (e *Engine) replace(ctx context.Context, p catalog.Provenance, entries []catalog.Entry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var base *catalog.Catalog
	if s := e.current.Load(); s != nil {
		base = s.Catalog
	}
	return e.publishLocked(ctx, base.Replace(p, entries), true)
}

// publishLocked builds and swaps in cat, persisting it when persist is set.
// Persistence failures are logged only; the new snapshot is already serving.
func (e *Engine) publishLocked(ctx context.Context, cat *catalog.Catalog, persist bool) error {
	snap, err := NewSnapshot(cat)
	if err != nil {
		return err
	}
	e.current.Store(snap)
	e.logger().InfoContext(ctx, "engine: published snapshot",
		"snapshot", snap.ID,
		"entries", snap.Len(),
		"internal", len(cat.ByProvenance(catalog.Internal)),
		"external", len(cat.ByProvenance(catalog.External)),
	)
	if !persist {
		e.logger().WarnContext(ctx, "engine: catalog incomplete, cache not written", "snapshot", snap.ID)
		return nil
	}
	if e.Cache != nil {
		if err := e.Cache.Persist(ctx, cat); err != nil {
			e.logger().WarnContext(ctx, "engine: persist cache failed", "err", err)
		}
	}
	return nil
}

// Close releases the descriptor memo.
func (e *Engine) Close() error {
	if e.Pipeline != nil && e.Pipeline.Memo != nil {
		return e.Pipeline.Memo.Close()
	}
	return nil
}
