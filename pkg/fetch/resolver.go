package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/haivivi/designmatch/pkg/storage"
)

// Resolver handles one family of image URLs.
type Resolver interface {
	// CanHandle reports whether u belongs to this resolver.
	CanHandle(u *url.URL) bool

	// Probe checks that u looks retrievable without downloading it and
	// returns the revision the server reported, if any.
	Probe(ctx context.Context, u *url.URL) (string, error)

	// Fetch retrieves the full body of u.
	Fetch(ctx context.Context, u *url.URL) ([]byte, error)
}

// Header is implemented by resolvers that can report the plain HEAD status
// and revision of a URL. CheckThumbnail uses it.
type Header interface {
	Head(ctx context.Context, u *url.URL) (status int, revision string, err error)
}

// revision picks the strongest validator a response carries: the ETag,
// else Last-Modified.
func revision(h http.Header) string {
	if etag := h.Get("ETag"); etag != "" {
		return etag
	}
	return h.Get("Last-Modified")
}

// probeOK lists the HEAD statuses treated as reachable. 403 is included
// because some CDNs refuse HEAD but serve GET.
func probeOK(status int) bool {
	switch status {
	case http.StatusOK, http.StatusFound, http.StatusForbidden:
		return true
	}
	return false
}

// errSnippet bounds DownloadError.Body.
const errSnippet = 256

// HTTPResolver fetches any http(s) URL, optionally with basic auth.
type HTTPResolver struct {
	// Client performs downloads and follows redirects.
	Client *http.Client

	// ProbeClient performs HEAD probes without following redirects so that
	// a 302 is observed as such.
	ProbeClient *http.Client

	MaxBytes int64

	username, password string
}

// NewHTTPResolver returns an anonymous resolver sharing client.
func NewHTTPResolver(client *http.Client, maxBytes int64) *HTTPResolver {
	probe := *client
	probe.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &HTTPResolver{Client: client, ProbeClient: &probe, MaxBytes: maxBytes}
}

// CanHandle accepts every http and https URL.
func (r *HTTPResolver) CanHandle(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func (r *HTTPResolver) newRequest(ctx context.Context, method string, u *url.URL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if r.username != "" || r.password != "" {
		req.SetBasicAuth(r.username, r.password)
	}
	return req, nil
}

// Head returns the status and revision of a HEAD request without following
// redirects.
func (r *HTTPResolver) Head(ctx context.Context, u *url.URL) (int, string, error) {
	req, err := r.newRequest(ctx, http.MethodHead, u)
	if err != nil {
		return 0, "", err
	}
	resp, err := r.ProbeClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	resp.Body.Close()
	return resp.StatusCode, revision(resp.Header), nil
}

func (r *HTTPResolver) Probe(ctx context.Context, u *url.URL) (string, error) {
	status, rev, err := r.Head(ctx, u)
	if err != nil {
		return "", &ValidationError{URL: u.String(), Err: err}
	}
	if !probeOK(status) {
		return "", &ValidationError{URL: u.String(), Status: status, Err: ErrUnreachable}
	}
	return rev, nil
}

func (r *HTTPResolver) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := r.newRequest(ctx, http.MethodGet, u)
	if err != nil {
		return nil, &DownloadError{URL: u.String(), Err: err}
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, &DownloadError{URL: u.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errSnippet))
		return nil, &DownloadError{
			URL:        u.String(),
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), timeNow()),
			Err:        ErrUnreachable,
		}
	}

	body := io.Reader(resp.Body)
	if r.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, r.MaxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &DownloadError{URL: u.String(), Err: err}
	}
	if r.MaxBytes > 0 && int64(len(data)) > r.MaxBytes {
		return nil, &DownloadError{URL: u.String(), Err: ErrTooLarge}
	}
	return data, nil
}

// ProviderResolver fetches media hosted by a messaging provider, which
// requires the account's basic-auth credentials on every request.
type ProviderResolver struct {
	// HostSuffix matches the host exactly or as a parent domain,
	// e.g. "twilio.com".
	HostSuffix string

	http *HTTPResolver
}

// NewProviderResolver returns a resolver for hosts under hostSuffix.
func NewProviderResolver(hostSuffix, username, password string, client *http.Client, maxBytes int64) *ProviderResolver {
	h := NewHTTPResolver(client, maxBytes)
	h.username, h.password = username, password
	return &ProviderResolver{HostSuffix: strings.ToLower(hostSuffix), http: h}
}

func (r *ProviderResolver) CanHandle(u *url.URL) bool {
	if !r.http.CanHandle(u) || r.HostSuffix == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == r.HostSuffix || strings.HasSuffix(host, "."+r.HostSuffix)
}

func (r *ProviderResolver) Head(ctx context.Context, u *url.URL) (int, string, error) {
	return r.http.Head(ctx, u)
}

func (r *ProviderResolver) Probe(ctx context.Context, u *url.URL) (string, error) {
	return r.http.Probe(ctx, u)
}

func (r *ProviderResolver) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	return r.http.Fetch(ctx, u)
}

// BucketResolver reads objects of the private catalog bucket through the
// object-store API instead of anonymous HTTP. It recognizes
//
//	https://<bucket>.s3.<region>.amazonaws.com/<key>
//	https://s3.<region>.amazonaws.com/<bucket>/<key>
//	https://<endpoint>/<bucket>/<key>
//	s3://<bucket>/<key>
type BucketResolver struct {
	Bucket string

	// Endpoint is the host of a custom S3-compatible endpoint, if any.
	Endpoint string

	// Store reads keys relative to the bucket root.
	Store storage.FileStore

	MaxBytes int64
}

// Key returns the object key addressed by u, or "" if u is not a URL of
// this bucket.
func (r *BucketResolver) Key(u *url.URL) string {
	if r.Bucket == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	path := strings.TrimPrefix(u.Path, "/")
	bucketPath := func() string {
		if k, ok := strings.CutPrefix(path, r.Bucket+"/"); ok {
			return k
		}
		return ""
	}

	switch u.Scheme {
	case "s3":
		if host == strings.ToLower(r.Bucket) {
			return path
		}
		return ""
	case "http", "https":
	default:
		return ""
	}
	switch {
	case strings.HasPrefix(host, strings.ToLower(r.Bucket)+".s3"):
		return path
	case strings.HasSuffix(host, ".amazonaws.com"):
		return bucketPath()
	case r.Endpoint != "" && (strings.EqualFold(u.Host, r.Endpoint) || host == strings.ToLower(r.Endpoint)):
		return bucketPath()
	}
	return ""
}

func (r *BucketResolver) CanHandle(u *url.URL) bool {
	return r.Key(u) != ""
}

// Probe trusts bucket URLs; the bucket is private so an anonymous HEAD
// would only ever see 403.
func (r *BucketResolver) Probe(context.Context, *url.URL) (string, error) {
	return "", nil
}

func (r *BucketResolver) Head(ctx context.Context, u *url.URL) (int, string, error) {
	ok, err := r.Store.Exists(ctx, r.Key(u))
	if err != nil {
		return 0, "", err
	}
	if !ok {
		return http.StatusNotFound, "", nil
	}
	return http.StatusOK, "", nil
}

func (r *BucketResolver) Fetch(ctx context.Context, u *url.URL) ([]byte, error) {
	data, err := storage.ReadAll(ctx, r.Store, r.Key(u), r.MaxBytes)
	if err != nil {
		derr := &DownloadError{URL: u.String(), Err: err}
		var tooLarge *storage.TooLargeError
		switch {
		case errors.As(err, &tooLarge):
			derr.Err = ErrTooLarge
		case errors.Is(err, os.ErrNotExist):
			derr.Status = http.StatusNotFound
		}
		return nil, derr
	}
	return data, nil
}

var (
	_ Resolver = (*HTTPResolver)(nil)
	_ Resolver = (*ProviderResolver)(nil)
	_ Resolver = (*BucketResolver)(nil)
	_ Header   = (*HTTPResolver)(nil)
	_ Header   = (*ProviderResolver)(nil)
	_ Header   = (*BucketResolver)(nil)
)
