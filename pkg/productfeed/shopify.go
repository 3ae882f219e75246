package productfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Shopify defaults.
const (
	DefaultShopifyAPIVersion = "2025-04"
	DefaultShopifyPageSize   = 50
	DefaultShopifyTTL        = 5 * time.Minute

	// DefaultShopifyPageDelay keeps paging under two requests per second.
	DefaultShopifyPageDelay = 600 * time.Millisecond

	defaultShopifyRetries = 5
)

// StatusError is a non-success answer from a feed API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("productfeed: status %d: %s", e.Status, e.Body)
}

var nextLinkRE = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// ShopifySource pages through the Shopify Admin products endpoint and caches
// the result for TTL.
type ShopifySource struct {
	// Store is the shop domain, e.g. "tiwa-couture.myshopify.com".
	Store string
	Token string

	APIVersion string
	PageSize   int
	TTL        time.Duration
	PageDelay  time.Duration
	MaxRetries int

	// BaseURL overrides https://<Store>; used by tests and proxies.
	BaseURL string

	Client  *http.Client
	Mapping *Mapping
	Logger  *slog.Logger

	mu        sync.Mutex
	cached    []Product
	fetchedAt time.Time
}

var defaultShopifyMapping = MustParseMapping(ShopifyMapping)

func (s *ShopifySource) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *ShopifySource) endpoint() string {
	base := s.BaseURL
	if base == "" {
		base = "https://" + s.Store
	}
	ver := s.APIVersion
	if ver == "" {
		ver = DefaultShopifyAPIVersion
	}
	return strings.TrimRight(base, "/") + "/admin/api/" + ver + "/products.json"
}

// Products returns the cached product list while it is fresher than TTL and
// refetches otherwise.
func (s *ShopifySource) Products(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl := s.TTL
	if ttl == 0 {
		ttl = DefaultShopifyTTL
	}
	if s.cached != nil && time.Since(s.fetchedAt) < ttl {
		return slices.Clone(s.cached), nil
	}
	return s.refreshLocked(ctx)
}

// Refresh bypasses the cache.
func (s *ShopifySource) Refresh(ctx context.Context) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *ShopifySource) refreshLocked(ctx context.Context) ([]Product, error) {
	mapping := s.Mapping
	if mapping == nil {
		mapping = defaultShopifyMapping
	}
	delay := s.PageDelay
	if delay == 0 {
		delay = DefaultShopifyPageDelay
	}

	all := []Product{}
	pageInfo := ""
	for page := 1; ; page++ {
		doc, next, err := s.fetchPage(ctx, pageInfo)
		if err != nil {
			return nil, err
		}
		products, err := mapping.Apply(ctx, doc)
		if err != nil {
			return nil, err
		}
		all = append(all, products...)
		s.logger().DebugContext(ctx, "productfeed: shopify page", "page", page, "products", len(products))
		if next == "" {
			break
		}
		pageInfo = next
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	s.cached, s.fetchedAt = all, time.Now()
	s.logger().InfoContext(ctx, "productfeed: shopify products fetched", "count", len(all))
	return slices.Clone(all), nil
}

// fetchPage returns one decoded page and the next page_info cursor.
func (s *ShopifySource) fetchPage(ctx context.Context, pageInfo string) (any, string, error) {
	limit := s.PageSize
	if limit <= 0 {
		limit = DefaultShopifyPageSize
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if pageInfo != "" {
		q.Set("page_info", pageInfo)
	}
	u := s.endpoint() + "?" + q.Encode()

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	retries := s.MaxRetries
	if retries == 0 {
		retries = defaultShopifyRetries
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("X-Shopify-Access-Token", s.Token)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("productfeed: shopify: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, "", fmt.Errorf("productfeed: shopify: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < retries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			s.logger().WarnContext(ctx, "productfeed: rate limited by shopify", "wait", wait, "attempt", attempt+1)
			if err := sleep(ctx, wait); err != nil {
				return nil, "", err
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, "", &StatusError{Status: resp.StatusCode, Body: snippet(body)}
		}

		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, "", fmt.Errorf("productfeed: shopify: decode: %w", err)
		}
		return doc, nextPageInfo(resp.Header.Get("Link")), nil
	}
}

// nextPageInfo extracts page_info from the rel="next" entry of a Link header.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		m := nextLinkRE.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		u, err := url.Parse(m[1])
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}
	return ""
}

// retryAfter parses Shopify's Retry-After, which may carry a fraction
// ("2.0"). It defaults to one second.
func retryAfter(h string) time.Duration {
	if secs, err := strconv.ParseFloat(strings.TrimSpace(h), 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}

func snippet(b []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
