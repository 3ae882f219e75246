// Package match answers "which catalog designs look like this image?".
//
// [Service.Match] is the conversational entry point: it takes one or more
// image URLs and always returns a single human-readable reply, one fragment
// per image in input order. [Service.Query] is the programmatic variant and
// returns ranked results or typed errors.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/engine"
	"github.com/haivivi/designmatch/pkg/fetch"
	"github.com/haivivi/designmatch/pkg/imagefeat"
)

// Defaults for Options.
const (
	DefaultTopN     = 3
	DefaultCurrency = "₦"
	DefaultLinkTTL  = 30 * time.Minute
)

// Reply texts. Messages never carry internal error text.
const (
	header       = "Here are the closest matches to your design:"
	msgNotReady  = "Sorry, the catalog isn't ready yet. Please try again shortly."
	msgInvalid   = "The image URL %s is invalid or inaccessible. Please try again."
	msgUndecoded = "Sorry, I couldn't process the image %s. Could you send a clearer one?"
	msgNoMatches = "Sorry, I couldn't find any matching designs for %s."
	msgWentWrong = "Sorry, something went wrong while processing %s. Please try again later."
	msgNoImage   = "I didn't receive an image. Could you send a photo of the design?"
	fragmentGlue = "\n\n"
)

// SnapshotSource yields the snapshot to match against. *engine.Engine
// satisfies it.
type SnapshotSource interface {
	Current() (*engine.Snapshot, bool)
}

// Linker produces the link shown next to a match. An empty link is allowed.
type Linker interface {
	Link(ctx context.Context, e catalog.Entry) (string, error)
}

// Presigner signs short-lived download links for bucket keys.
// *storage.S3Store satisfies it.
type Presigner interface {
	Presign(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// DefaultLinker links internal designs through a presigned bucket URL and
// external products through their thumbnail or original image URL.
type DefaultLinker struct {
	Presigner Presigner
	TTL       time.Duration
}

// Link implements Linker.
func (l *DefaultLinker) Link(ctx context.Context, e catalog.Entry) (string, error) {
	if e.Provenance == catalog.External {
		if e.ThumbnailRef != "" {
			return e.ThumbnailRef, nil
		}
		return e.ImageRef, nil
	}
	if l.Presigner == nil || e.ImageRef == "" {
		return "", nil
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return l.Presigner.Presign(ctx, e.ImageRef, ttl)
}

// Options tunes a Service.
type Options struct {
	TopN     int
	Currency string
}

// Result is one ranked neighbour.
type Result struct {
	Entry      catalog.Entry
	Similarity float32
	Rank       int
	Link       string
}

// Service matches query images against the published catalog.
type Service struct {
	Snapshots SnapshotSource
	Fetcher   *fetch.Fetcher
	Pool      *imagefeat.Pool

	// Linker is optional; without it matches are listed without links.
	Linker Linker

	Options Options
	Logger  *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) topN() int {
	if s.Options.TopN > 0 {
		return s.Options.TopN
	}
	return DefaultTopN
}

func (s *Service) currency() string {
	if s.Options.Currency != "" {
		return s.Options.Currency
	}
	return DefaultCurrency
}

func (s *Service) ready() (*engine.Snapshot, error) {
	snap, ok := s.Snapshots.Current()
	if !ok || snap.Len() == 0 {
		return nil, engine.ErrNotReady
	}
	return snap, nil
}

// Match processes every image concurrently and joins the per-image replies
// with a blank line, in input order. It never fails and never returns an
// empty reply; every error becomes a fixed user-facing message.
func (s *Service) Match(ctx context.Context, senderID string, imageURLs ...string) string {
	if len(imageURLs) == 0 {
		s.logger().InfoContext(ctx, "match: no images", "sender", senderID)
		return msgNoImage
	}
	snap, err := s.ready()
	if err != nil {
		s.logger().WarnContext(ctx, "match: catalog not ready", "sender", senderID, "images", len(imageURLs))
		return msgNotReady
	}

	fragments := make([]string, len(imageURLs))
	var wg sync.WaitGroup
	for i, u := range imageURLs {
		wg.Go(func() {
			fragments[i] = s.reply(ctx, snap, senderID, u)
		})
	}
	wg.Wait()
	return strings.Join(fragments, fragmentGlue)
}

func (s *Service) reply(ctx context.Context, snap *engine.Snapshot, senderID, u string) string {
	log := s.logger().With("sender", senderID, "url", u)
	log.InfoContext(ctx, "match: processing image")

	results, err := s.query(ctx, snap, u)
	if err != nil {
		var decodeErr *imagefeat.DecodeError
		switch {
		case isValidation(err):
			log.InfoContext(ctx, "match: image url rejected", "err", err)
			return fmt.Sprintf(msgInvalid, u)
		case errors.As(err, &decodeErr):
			log.InfoContext(ctx, "match: image not decodable", "err", err)
			return fmt.Sprintf(msgUndecoded, u)
		}
		log.ErrorContext(ctx, "match: processing failed", "err", err)
		return fmt.Sprintf(msgWentWrong, u)
	}
	if len(results) == 0 {
		return fmt.Sprintf(msgNoMatches, u)
	}
	return Format(results, s.currency())
}

func isValidation(err error) bool {
	_, ok := fetch.AsValidationError(err)
	return ok
}

// Query returns the ranked neighbours of one image. Errors are
// *fetch.ValidationError, *fetch.DownloadError, *imagefeat.DecodeError or
// engine.ErrNotReady.
func (s *Service) Query(ctx context.Context, imageURL string) ([]Result, error) {
	snap, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.query(ctx, snap, imageURL)
}

func (s *Service) query(ctx context.Context, snap *engine.Snapshot, u string) ([]Result, error) {
	if err := s.Fetcher.Validate(ctx, u); err != nil {
		return nil, err
	}
	data, err := s.Fetcher.Download(ctx, u)
	if err != nil {
		return nil, err
	}
	d, err := s.Pool.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	matches, err := snap.Index.Search(d, s.topN())
	if err != nil {
		return nil, fmt.Errorf("match: search: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Row >= snap.Catalog.Len() {
			s.logger().WarnContext(ctx, "match: index row outside catalog", "row", m.Row, "snapshot", snap.ID)
			continue
		}
		e := snap.Catalog.At(m.Row)
		r := Result{Entry: e, Similarity: m.Similarity, Rank: len(results) + 1}
		if s.Linker != nil {
			link, err := s.Linker.Link(ctx, e)
			if err != nil {
				s.logger().WarnContext(ctx, "match: link failed", "id", e.ID, "err", err)
			}
			r.Link = link
		}
		results = append(results, r)
	}
	return results, nil
}

// Format renders results as the header followed by one line per match.
func Format(results []Result, currency string) string {
	var b strings.Builder
	b.WriteString(header)
	for _, r := range results {
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s (Price: %s%s, Similarity: %.2f)",
			r.Entry.Name, currency, FormatPrice(r.Entry.Price), r.Similarity)
		if r.Link != "" {
			b.WriteString(": ")
			b.WriteString(r.Link)
		}
	}
	return b.String()
}

// FormatPrice prints p with no trailing zeros: 15000, 12500.5.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
