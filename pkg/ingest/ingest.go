// Package ingest builds catalog entries from the design bucket and from
// storefront products.
//
// A pass lists its source, then fetches and describes every image on
// Options.Concurrency workers. A worker keeps its image from download
// through extraction, so at most Concurrency bodies are held at once and
// every fetch runs under its own deadline. Entries land in a
// private catalog.Staging buffer and the pass returns them all at once; the
// caller decides when to publish. Individual failures are logged and
// skipped, rate-limited fetches are retried after a delay.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/fetch"
	"github.com/haivivi/designmatch/pkg/imagefeat"
	"github.com/haivivi/designmatch/pkg/kv"
	"github.com/haivivi/designmatch/pkg/productfeed"
	"github.com/haivivi/designmatch/pkg/storage"
)

// ErrSourceUnavailable means a pass could not enumerate its source at all.
var ErrSourceUnavailable = errors.New("ingest: source unavailable")

// Defaults for Options.
const (
	DefaultConcurrency   = 5
	DefaultMaxRetries    = 3
	DefaultBaseBackoff   = time.Second
	DefaultThumbnailSize = "200x200"
	DefaultPrice         = 15000
)

// DefaultExtensions are the image types picked up from the bucket.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// Bucket is the design bucket: listable and readable by key.
// *storage.S3Store and *storage.Local satisfy it.
type Bucket interface {
	storage.FileStore
	List(ctx context.Context, dir string) iter.Seq2[storage.Object, error]
}

// Options tunes a Pipeline. Zero fields take the defaults above.
type Options struct {
	// Prefix restricts the bucket listing, e.g. "designs/".
	Prefix string

	Concurrency int
	MaxRetries  int
	BaseBackoff time.Duration

	ThumbnailSize string
	DefaultPrice  float64
	Extensions    []string

	// MaxBytes caps bucket object reads. Defaults to fetch.DefaultMaxBytes.
	MaxBytes int64

	// FetchTimeout bounds each bucket read attempt. Defaults to
	// fetch.DefaultTimeout. Product downloads use the Fetcher's timeout.
	FetchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	if o.ThumbnailSize == "" {
		o.ThumbnailSize = DefaultThumbnailSize
	}
	if o.DefaultPrice == 0 {
		o.DefaultPrice = DefaultPrice
	}
	if len(o.Extensions) == 0 {
		o.Extensions = DefaultExtensions
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = fetch.DefaultMaxBytes
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = fetch.DefaultTimeout
	}
	return o
}

// Pipeline runs ingestion passes.
type Pipeline struct {
	Fetcher *fetch.Fetcher
	Pool    *imagefeat.Pool

	// Bucket is optional; without it LoadBucket reports ErrSourceUnavailable.
	Bucket Bucket

	// Memo, when set, remembers descriptors by image identity so unchanged
	// images are not downloaded again.
	Memo kv.Store

	Options Options
	Logger  *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// stats counts the outcome of one pass.
type stats struct {
	ok, skipped, memoHits, retries atomic.Int64
}

// pass carries the shared state of one ingestion run.
type pass struct {
	p       *Pipeline
	opts    Options
	staging catalog.Staging
	stats   stats
	log     *slog.Logger
	start   time.Time
}

func (p *Pipeline) newPass(kind string) *pass {
	opts := p.Options.withDefaults()
	return &pass{
		p:     p,
		opts:  opts,
		log:   p.logger().With("pass", kind, "run", uuid.NewString()),
		start: time.Now(),
	}
}

// each runs fn for every index in [0,n) on at most Concurrency workers and
// waits. Indexes not yet handed out when ctx ends are dropped.
func (ps *pass) each(ctx context.Context, n int, fn func(i int)) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(ps.opts.Concurrency, n) {
		wg.Go(func() {
			for i := range jobs {
				fn(i)
			}
		})
	}
feed:
	for i := range n {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func (ps *pass) skip(ctx context.Context, msg string, args ...any) {
	ps.stats.skipped.Add(1)
	ps.log.WarnContext(ctx, msg, args...)
}

func (ps *pass) finish(ctx context.Context) []catalog.Entry {
	ps.log.InfoContext(ctx, "ingest: pass finished",
		"ok", ps.stats.ok.Load(),
		"skipped", ps.stats.skipped.Load(),
		"memo_hits", ps.stats.memoHits.Load(),
		"retries", ps.stats.retries.Load(),
		"duration", time.Since(ps.start).Round(time.Millisecond),
	)
	return ps.staging.Entries()
}

// download calls fn until it succeeds, fails permanently, or runs out of
// retries. Rate-limited failures wait for Retry-After when the server sent
// one and for BaseBackoff·2^attempt otherwise.
func (ps *pass) download(ctx context.Context, ref string, fn func() ([]byte, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		data, err := fn()
		if err == nil {
			return data, nil
		}
		delay, ok := ps.retryDelay(err, attempt)
		if !ok || attempt >= ps.opts.MaxRetries {
			return nil, err
		}
		ps.stats.retries.Add(1)
		ps.log.WarnContext(ctx, "ingest: throttled, retrying", "ref", ref, "attempt", attempt+1, "wait", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (ps *pass) retryDelay(err error, attempt int) (time.Duration, bool) {
	backoff := ps.opts.BaseBackoff << attempt
	if de, ok := fetch.AsDownloadError(err); ok && de.RateLimited() {
		if de.RetryAfter > 0 {
			return de.RetryAfter, true
		}
		return backoff, true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded", "TooManyRequests":
			return backoff, true
		}
	}
	return 0, false
}

type memoValue struct {
	Signature  string    `msgpack:"sig"`
	Descriptor []float32 `msgpack:"d"`
}

func (ps *pass) memoKey(ref, version string) kv.Key {
	sum := sha256.Sum256([]byte(ref + "|" + version))
	return kv.Key{"desc", ps.p.Pool.Extractor().Signature(), hex.EncodeToString(sum[:])}
}

func (ps *pass) recall(ctx context.Context, key kv.Key) ([]float32, bool) {
	if ps.p.Memo == nil {
		return nil, false
	}
	var v memoValue
	if err := kv.GetValue(ctx, ps.p.Memo, key, &v); err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			ps.log.DebugContext(ctx, "ingest: memo read failed", "key", key.String(), "err", err)
		}
		return nil, false
	}
	ps.stats.memoHits.Add(1)
	return v.Descriptor, true
}

func (ps *pass) remember(ctx context.Context, key kv.Key, d []float32) {
	if ps.p.Memo == nil {
		return
	}
	v := memoValue{Signature: ps.p.Pool.Extractor().Signature(), Descriptor: d}
	if err := kv.SetValue(ctx, ps.p.Memo, key, v); err != nil {
		ps.log.WarnContext(ctx, "ingest: memo write failed", "key", key.String(), "err", err)
	}
}

// describe returns the memoized descriptor for (ref, version) or fetches and
// extracts it.
func (ps *pass) describe(ctx context.Context, ref, version string, get func() ([]byte, error)) ([]float32, error) {
	key := ps.memoKey(ref, version)
	if d, ok := ps.recall(ctx, key); ok {
		return d, nil
	}
	data, err := ps.download(ctx, ref, get)
	if err != nil {
		return nil, err
	}
	d, err := ps.p.Pool.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	ps.remember(ctx, key, d)
	return d, nil
}

// LoadBucket ingests every image under Options.Prefix in the design bucket.
func (p *Pipeline) LoadBucket(ctx context.Context) ([]catalog.Entry, error) {
	if p.Bucket == nil {
		return nil, fmt.Errorf("%w: no bucket configured", ErrSourceUnavailable)
	}
	ps := p.newPass("bucket")

	var objects []storage.Object
	for obj, err := range p.Bucket.List(ctx, ps.opts.Prefix) {
		if err != nil {
			return nil, fmt.Errorf("%w: list bucket: %v", ErrSourceUnavailable, err)
		}
		if hasExtension(obj.Key, ps.opts.Extensions) {
			objects = append(objects, obj)
		}
	}
	ps.log.InfoContext(ctx, "ingest: bucket listed", "prefix", ps.opts.Prefix, "images", len(objects))

	ps.each(ctx, len(objects), func(i int) {
		obj := objects[i]
		d, err := ps.describe(ctx, obj.Key, obj.ETag, func() ([]byte, error) {
			rctx, cancel := context.WithTimeout(ctx, ps.opts.FetchTimeout)
			defer cancel()
			return storage.ReadAll(rctx, p.Bucket, obj.Key, ps.opts.MaxBytes)
		})
		if err != nil {
			ps.skip(ctx, "ingest: skipping bucket image", "key", obj.Key, "err", err)
			return
		}
		stem := Stem(obj.Key)
		ps.staging.Add(catalog.Entry{
			ID:         stem,
			Name:       DesignName(stem),
			Price:      ps.opts.DefaultPrice,
			Descriptor: d,
			Provenance: catalog.Internal,
			ImageRef:   obj.Key,
		})
		ps.stats.ok.Add(1)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ps.finish(ctx), nil
}

// LoadExternal ingests storefront products. Each product is described from
// its thumbnail when the thumbnail answers 200, else from the full image.
// Memoized descriptors are keyed by the revision (ETag or Last-Modified)
// the probe saw, so an image replaced at the same URL is described again.
func (p *Pipeline) LoadExternal(ctx context.Context, products []productfeed.Product) ([]catalog.Entry, error) {
	ps := p.newPass("external")

	ps.each(ctx, len(products), func(i int) {
		prod := products[i]
		if prod.ImageURL == "" {
			ps.skip(ctx, "ingest: product has no image", "id", prod.ID, "name", prod.Name)
			return
		}

		src, thumb, rev := prod.ImageURL, "", ""
		if t := ThumbnailURL(prod.ImageURL, ps.opts.ThumbnailSize); t != prod.ImageURL {
			if r, ok := p.Fetcher.ThumbnailRevision(ctx, t); ok {
				src, thumb, rev = t, t, r
			}
		}
		if thumb == "" {
			r, err := p.Fetcher.Probe(ctx, prod.ImageURL)
			if err != nil {
				ps.skip(ctx, "ingest: product image unreachable", "id", prod.ID, "url", prod.ImageURL, "err", err)
				return
			}
			rev = r
		}

		d, err := ps.describe(ctx, src, rev, func() ([]byte, error) {
			return p.Fetcher.Download(ctx, src)
		})
		if err != nil {
			ps.skip(ctx, "ingest: skipping product", "id", prod.ID, "url", src, "err", err)
			return
		}
		ps.staging.Add(catalog.Entry{
			ID:           prod.ID,
			Name:         prod.Name,
			Price:        prod.Price,
			Descriptor:   d,
			Provenance:   catalog.External,
			ImageRef:     prod.ImageURL,
			ThumbnailRef: thumb,
		})
		ps.stats.ok.Add(1)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ps.finish(ctx), nil
}

func hasExtension(key string, exts []string) bool {
	ext := strings.ToLower(path.Ext(key))
	return ext != "" && slices.Contains(exts, ext)
}

// Stem returns the file name of key without directory or extension.
func Stem(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// DesignName turns a file stem like "ankara_GOWN" into "Ankara Gown".
func DesignName(stem string) string {
	// Casers are stateful; one per call keeps workers independent.
	return cases.Title(language.Und).String(strings.ReplaceAll(stem, "_", " "))
}

// ThumbnailURL inserts "_<size>" before a .jpg, .jpeg or .png extension,
// keeping the query string. Other URLs are returned unchanged.
func ThumbnailURL(raw, size string) string {
	u, err := url.Parse(raw)
	if err != nil || size == "" {
		return raw
	}
	ext := path.Ext(u.Path)
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
	default:
		return raw
	}
	base := strings.TrimSuffix(u.Path, ext)
	if strings.HasSuffix(base, "_"+size) {
		return raw
	}
	u.Path = base + "_" + size + ext
	u.RawPath = ""
	return u.String()
}
