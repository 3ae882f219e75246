// Package fetch retrieves images named by URL from the places customers and
// the catalog keep them: the private catalog bucket, messaging-provider media
// hosts that need account credentials, and the open web.
//
// A [Fetcher] owns an ordered list of [Resolver]s and picks the first one
// that recognizes a URL. Every call runs under its own timeout, so one slow
// host never stalls sibling requests.
package fetch

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultTimeout bounds each Validate, Download and CheckThumbnail call.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxBytes caps downloaded bodies.
	DefaultMaxBytes = 10 << 20
)

var timeNow = time.Now

// Fetcher validates and downloads image URLs.
type Fetcher struct {
	resolvers []Resolver
	timeout   time.Duration
	logger    *slog.Logger
}

type config struct {
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	resolvers []Resolver
	provider  *providerConfig
	logger    *slog.Logger
}

type providerConfig struct {
	hostSuffix, username, password string
}

// Option configures a Fetcher.
type Option func(*config)

// WithHTTPClient replaces the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.client = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.timeout = d }
}

// WithMaxBytes sets the download size cap.
func WithMaxBytes(n int64) Option {
	return func(cfg *config) { cfg.maxBytes = n }
}

// WithResolver adds a resolver ahead of the built-in ones. Resolvers added
// first are tried first.
func WithResolver(r Resolver) Option {
	return func(cfg *config) { cfg.resolvers = append(cfg.resolvers, r) }
}

// WithProvider adds a basic-auth resolver for media under hostSuffix.
func WithProvider(hostSuffix, username, password string) Option {
	return func(cfg *config) {
		cfg.provider = &providerConfig{hostSuffix, username, password}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cfg *config) { cfg.logger = l }
}

// NewHTTPClient returns the client shared by all HTTP resolvers. It has no
// overall timeout; each call's context bounds it instead.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		},
	}
}

// New creates a Fetcher. Without options it handles plain http(s) URLs
// only; bucket and provider resolvers are added with WithResolver and
// WithProvider.
func New(opts ...Option) *Fetcher {
	cfg := &config{timeout: DefaultTimeout, maxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.client == nil {
		cfg.client = NewHTTPClient()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	rs := append([]Resolver(nil), cfg.resolvers...)
	if p := cfg.provider; p != nil {
		rs = append(rs, NewProviderResolver(p.hostSuffix, p.username, p.password, cfg.client, cfg.maxBytes))
	}
	rs = append(rs, NewHTTPResolver(cfg.client, cfg.maxBytes))

	return &Fetcher{resolvers: rs, timeout: cfg.timeout, logger: cfg.logger}
}

func (f *Fetcher) resolve(raw string) (*url.URL, Resolver, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	if u.Host == "" {
		return nil, nil, ErrMalformedURL
	}
	for _, r := range f.resolvers {
		if r.CanHandle(u) {
			return u, r, nil
		}
	}
	return nil, nil, ErrMalformedURL
}

func (f *Fetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

// Validate checks that raw is well formed and reachable. It returns a
// *ValidationError otherwise.
func (f *Fetcher) Validate(ctx context.Context, raw string) error {
	_, err := f.Probe(ctx, raw)
	return err
}

// Probe is Validate that also returns the revision the server reported for
// raw (its ETag, else Last-Modified). The revision is empty when the server
// sent neither or the resolver does not probe over HTTP.
func (f *Fetcher) Probe(ctx context.Context, raw string) (string, error) {
	u, r, err := f.resolve(raw)
	if err != nil {
		return "", &ValidationError{URL: raw, Err: ErrMalformedURL}
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	rev, err := r.Probe(ctx, u)
	if err != nil {
		f.logger.DebugContext(ctx, "fetch: probe failed", "url", raw, "err", err)
		if ve, ok := AsValidationError(err); ok {
			ve.URL = raw
			return "", ve
		}
		return "", &ValidationError{URL: raw, Err: err}
	}
	return rev, nil
}

// Download retrieves the body of raw. Failures are *DownloadError.
func (f *Fetcher) Download(ctx context.Context, raw string) ([]byte, error) {
	u, r, err := f.resolve(raw)
	if err != nil {
		return nil, &DownloadError{URL: raw, Err: ErrMalformedURL}
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	data, err := r.Fetch(ctx, u)
	if err != nil {
		if de, ok := AsDownloadError(err); ok {
			de.URL = raw
			return nil, de
		}
		return nil, &DownloadError{URL: raw, Err: err}
	}
	return data, nil
}

// CheckThumbnail reports whether raw answers HEAD with exactly 200.
func (f *Fetcher) CheckThumbnail(ctx context.Context, raw string) bool {
	_, ok := f.ThumbnailRevision(ctx, raw)
	return ok
}

// ThumbnailRevision is CheckThumbnail that also returns the revision from
// the HEAD response.
func (f *Fetcher) ThumbnailRevision(ctx context.Context, raw string) (string, bool) {
	u, r, err := f.resolve(raw)
	if err != nil {
		return "", false
	}
	h, ok := r.(Header)
	if !ok {
		return "", false
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()
	status, rev, err := h.Head(ctx, u)
	if err != nil {
		f.logger.DebugContext(ctx, "fetch: thumbnail check failed", "url", raw, "err", err)
		return "", false
	}
	if status != http.StatusOK {
		return "", false
	}
	return rev, true
}
