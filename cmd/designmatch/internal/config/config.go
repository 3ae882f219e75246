// Package config loads the designmatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/designmatch/pkg/fetch"
	"github.com/haivivi/designmatch/pkg/imagefeat"
	"github.com/haivivi/designmatch/pkg/ingest"
	"github.com/haivivi/designmatch/pkg/match"
	"github.com/haivivi/designmatch/pkg/productfeed"
)

// Config is the root of config.yaml.
type Config struct {
	Bucket   Bucket   `yaml:"bucket"`
	Provider Provider `yaml:"provider,omitempty"`
	Fetch    Fetch    `yaml:"fetch"`
	Extract  Extract  `yaml:"extract"`
	Ingest   Ingest   `yaml:"ingest"`
	Cache    Cache    `yaml:"cache"`
	Feed     Feed     `yaml:"feed,omitempty"`
	Match    Match    `yaml:"match"`
}

// Bucket selects the design bucket. Dir switches to a local directory
// instead of S3.
type Bucket struct {
	Name   string `yaml:"name,omitempty"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region,omitempty"`

	// Endpoint points at an S3-compatible store (MinIO, R2).
	Endpoint  string `yaml:"endpoint,omitempty"`
	PathStyle bool   `yaml:"path_style,omitempty"`

	Dir string `yaml:"dir,omitempty"`

	// Static credentials; empty means the default AWS chain.
	AccessKeyID     string `yaml:"access_key_id,omitempty"`     // Can be env var like "$AWS_ACCESS_KEY_ID"
	SecretAccessKey string `yaml:"secret_access_key,omitempty"` // Can be env var like "$AWS_SECRET_ACCESS_KEY"
}

// Provider is the messaging media host that needs basic auth.
type Provider struct {
	HostSuffix string `yaml:"host_suffix,omitempty"`
	Username   string `yaml:"username,omitempty"` // Can be env var like "$TWILIO_ACCOUNT_SID"
	Password   string `yaml:"password,omitempty"` // Can be env var like "$TWILIO_AUTH_TOKEN"
}

type Fetch struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

type Extract struct {
	HueBins int `yaml:"hue_bins"`
	SatBins int `yaml:"sat_bins"`
	MaxSide int `yaml:"max_side"`
	Workers int `yaml:"workers,omitempty"` // 0 means one per CPU
}

type Ingest struct {
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	ThumbnailSize string        `yaml:"thumbnail_size"`
	DefaultPrice  float64       `yaml:"default_price"`
	Extensions    []string      `yaml:"extensions,omitempty"`
}

// Cache places the descriptor cache and memo. With S3Prefix set the cache
// is written to the design bucket instead of Dir.
type Cache struct {
	Dir      string        `yaml:"dir,omitempty"`
	S3Prefix string        `yaml:"s3_prefix,omitempty"`
	MemoDir  string        `yaml:"memo_dir,omitempty"`
	MemoTTL  time.Duration `yaml:"memo_ttl,omitempty"`
	NoMemo   bool          `yaml:"no_memo,omitempty"`
}

// Feed configures the external product source: "shopify", "file" or empty.
type Feed struct {
	Kind    string               `yaml:"kind,omitempty"`
	File    string               `yaml:"file,omitempty"`
	Mapping *productfeed.Mapping `yaml:"mapping,omitempty"`
	Shopify Shopify              `yaml:"shopify,omitempty"`
}

type Shopify struct {
	Store      string        `yaml:"store,omitempty"`
	Token      string        `yaml:"token,omitempty"` // Can be env var like "$SHOPIFY_TOKEN"
	APIVersion string        `yaml:"api_version,omitempty"`
	PageSize   int           `yaml:"page_size,omitempty"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
}

type Match struct {
	TopN     int           `yaml:"top_n"`
	Currency string        `yaml:"currency"`
	LinkTTL  time.Duration `yaml:"link_ttl"`
}

// Default returns the configuration used for unset fields.
func Default() Config {
	ex := imagefeat.Default()
	return Config{
		Bucket:  Bucket{Prefix: "designs/"},
		Fetch:   Fetch{Timeout: fetch.DefaultTimeout, MaxBytes: fetch.DefaultMaxBytes},
		Extract: Extract{HueBins: ex.HueBins, SatBins: ex.SatBins, MaxSide: ex.MaxSide},
		Ingest: Ingest{
			Concurrency:   ingest.DefaultConcurrency,
			MaxRetries:    ingest.DefaultMaxRetries,
			BaseBackoff:   ingest.DefaultBaseBackoff,
			ThumbnailSize: ingest.DefaultThumbnailSize,
			DefaultPrice:  ingest.DefaultPrice,
		},
		Cache: Cache{MemoTTL: 30 * 24 * time.Hour},
		Match: Match{TopN: match.DefaultTopN, Currency: match.DefaultCurrency, LinkTTL: match.DefaultLinkTTL},
	}
}

// Load reads path over Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Parse decodes data into cfg and expands environment references in
// credential fields.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	for _, s := range []*string{
		&cfg.Bucket.AccessKeyID,
		&cfg.Bucket.SecretAccessKey,
		&cfg.Provider.Username,
		&cfg.Provider.Password,
		&cfg.Feed.Shopify.Store,
		&cfg.Feed.Shopify.Token,
	} {
		*s = expandEnv(*s)
	}
	return nil
}

// expandEnv expands a value that starts with $ ($VAR or ${VAR}). Other
// values are returned unchanged.
func expandEnv(s string) string {
	if strings.HasPrefix(s, "$") {
		return os.ExpandEnv(s)
	}
	return s
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", field, fmt.Sprintf(format, args...)))
	}

	if c.Bucket.Name == "" && c.Bucket.Dir == "" {
		fail("bucket", "either name or dir is required")
	}
	if c.Bucket.Name != "" && c.Bucket.Dir != "" {
		fail("bucket", "name and dir are mutually exclusive")
	}
	if (c.Bucket.AccessKeyID == "") != (c.Bucket.SecretAccessKey == "") {
		fail("bucket.secret_access_key", "access_key_id and secret_access_key must be set together")
	}
	if c.Provider.HostSuffix != "" && c.Provider.Username == "" {
		fail("provider.username", "required when host_suffix is set")
	}
	if c.Fetch.Timeout <= 0 {
		fail("fetch.timeout", "must be positive, got %s", c.Fetch.Timeout)
	}
	if c.Fetch.MaxBytes <= 0 {
		fail("fetch.max_bytes", "must be positive, got %d", c.Fetch.MaxBytes)
	}
	if c.Extract.HueBins <= 0 || c.Extract.HueBins > 180 {
		fail("extract.hue_bins", "must be in [1, 180], got %d", c.Extract.HueBins)
	}
	if c.Extract.SatBins <= 0 || c.Extract.SatBins > 256 {
		fail("extract.sat_bins", "must be in [1, 256], got %d", c.Extract.SatBins)
	}
	if c.Extract.MaxSide < 0 {
		fail("extract.max_side", "must not be negative")
	}
	if c.Ingest.Concurrency <= 0 {
		fail("ingest.concurrency", "must be positive, got %d", c.Ingest.Concurrency)
	}
	if c.Ingest.MaxRetries < 0 {
		fail("ingest.max_retries", "must not be negative")
	}
	if c.Ingest.DefaultPrice < 0 {
		fail("ingest.default_price", "must not be negative")
	}
	if c.Cache.S3Prefix != "" && c.Bucket.Name == "" {
		fail("cache.s3_prefix", "requires bucket.name")
	}
	switch c.Feed.Kind {
	case "":
	case "file":
		if c.Feed.File == "" {
			fail("feed.file", "required for kind file")
		}
	case "shopify":
		if c.Feed.Shopify.Store == "" {
			fail("feed.shopify.store", "required for kind shopify")
		}
		if c.Feed.Shopify.Token == "" {
			fail("feed.shopify.token", "required for kind shopify")
		}
	default:
		fail("feed.kind", "unknown kind %q (want shopify or file)", c.Feed.Kind)
	}
	if c.Match.TopN <= 0 {
		fail("match.top_n", "must be positive, got %d", c.Match.TopN)
	}
	if c.Match.LinkTTL <= 0 || c.Match.LinkTTL > 7*24*time.Hour {
		fail("match.link_ttl", "must be in (0, 168h], got %s", c.Match.LinkTTL)
	}
	return errors.Join(errs...)
}

// Extractor returns the configured descriptor layout.
func (c *Config) Extractor() imagefeat.Extractor {
	return imagefeat.Extractor{HueBins: c.Extract.HueBins, SatBins: c.Extract.SatBins, MaxSide: c.Extract.MaxSide}
}

// IngestOptions maps the ingest section onto pipeline options.
func (c *Config) IngestOptions() ingest.Options {
	return ingest.Options{
		Prefix:        c.Bucket.Prefix,
		Concurrency:   c.Ingest.Concurrency,
		MaxRetries:    c.Ingest.MaxRetries,
		BaseBackoff:   c.Ingest.BaseBackoff,
		ThumbnailSize: c.Ingest.ThumbnailSize,
		DefaultPrice:  c.Ingest.DefaultPrice,
		Extensions:    c.Ingest.Extensions,
		MaxBytes:      c.Fetch.MaxBytes,
		FetchTimeout:  c.Fetch.Timeout,
	}
}
