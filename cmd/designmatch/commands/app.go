package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/haivivi/designmatch/cmd/designmatch/internal/config"
	"github.com/haivivi/designmatch/pkg/catalog"
	"github.com/haivivi/designmatch/pkg/cli"
	"github.com/haivivi/designmatch/pkg/engine"
	"github.com/haivivi/designmatch/pkg/fetch"
	"github.com/haivivi/designmatch/pkg/imagefeat"
	"github.com/haivivi/designmatch/pkg/ingest"
	"github.com/haivivi/designmatch/pkg/kv"
	"github.com/haivivi/designmatch/pkg/match"
	"github.com/haivivi/designmatch/pkg/productfeed"
	"github.com/haivivi/designmatch/pkg/storage"
)

// app is the object graph behind every command that touches the catalog.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	service *match.Service
	cache   *catalog.Cache
	memo    kv.Store // nil when disabled
	feed    productfeed.Source
	where   string // human-readable cache location
}

func (a *app) Close() error {
	return a.engine.Close()
}

// openApp wires storage, fetcher, pool, memo, cache, feed, engine and match
// service from the loaded configuration. Nothing is ingested yet.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	log := slog.Default()
	paths, err := cli.NewPaths(appName)
	if err != nil {
		return nil, err
	}

	fetchOpts := []fetch.Option{
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithMaxBytes(cfg.Fetch.MaxBytes),
		fetch.WithLogger(log),
	}
	if p := cfg.Provider; p.HostSuffix != "" {
		fetchOpts = append(fetchOpts, fetch.WithProvider(p.HostSuffix, p.Username, p.Password))
	}

	var (
		bucket    ingest.Bucket
		s3store   *storage.S3Store
		presigner match.Presigner
	)
	if cfg.Bucket.Dir != "" {
		local, err := storage.NewLocal(cfg.Bucket.Dir)
		if err != nil {
			return nil, fmt.Errorf("open bucket dir: %w", err)
		}
		bucket = local
	} else {
		client, err := newS3Client(ctx, cfg.Bucket)
		if err != nil {
			return nil, err
		}
		s3store = storage.NewS3(client, cfg.Bucket.Name, "").WithPresigner(s3.NewPresignClient(client))
		bucket, presigner = s3store, s3store
		fetchOpts = append(fetchOpts, fetch.WithResolver(&fetch.BucketResolver{
			Bucket:   cfg.Bucket.Name,
			Endpoint: cfg.Bucket.Endpoint,
			Store:    s3store,
			MaxBytes: cfg.Fetch.MaxBytes,
		}))
	}

	cache := &catalog.Cache{Signature: cfg.Extractor().Signature(), Logger: log}
	var where string
	if cfg.Cache.S3Prefix != "" {
		cache.Store, cache.Prefix = s3store, cfg.Cache.S3Prefix
		where = "s3://" + cfg.Bucket.Name + "/" + cfg.Cache.S3Prefix
	} else {
		dir := cfg.Cache.Dir
		if dir == "" {
			dir = paths.CatalogDir()
		}
		local, err := storage.NewLocal(dir)
		if err != nil {
			return nil, fmt.Errorf("open cache dir: %w", err)
		}
		cache.Store, where = local, local.Root()
	}

	var memo kv.Store
	if !cfg.Cache.NoMemo {
		dir := cfg.Cache.MemoDir
		if dir == "" {
			dir = paths.MemoDir()
		}
		memo, err = kv.NewBadger(kv.BadgerOptions{Dir: dir, TTL: cfg.Cache.MemoTTL, Logger: log})
		if err != nil {
			return nil, err
		}
	}

	feed, err := newFeed(cfg.Feed, log)
	if err != nil {
		if memo != nil {
			memo.Close()
		}
		return nil, err
	}

	fetcher := fetch.New(fetchOpts...)
	pool := imagefeat.NewPool(cfg.Extractor(), cfg.Extract.Workers)
	eng := &engine.Engine{
		Pipeline: &ingest.Pipeline{
			Fetcher: fetcher,
			Pool:    pool,
			Bucket:  bucket,
			Memo:    memo,
			Options: cfg.IngestOptions(),
			Logger:  log,
		},
		Cache:  cache,
		Feed:   feed,
		Logger: log,
	}
	svc := &match.Service{
		Snapshots: eng,
		Fetcher:   fetcher,
		Pool:      pool,
		Linker:    &match.DefaultLinker{Presigner: presigner, TTL: cfg.Match.LinkTTL},
		Options:   match.Options{TopN: cfg.Match.TopN, Currency: cfg.Match.Currency},
		Logger:    log,
	}
	return &app{cfg: cfg, engine: eng, service: svc, cache: cache, memo: memo, feed: feed, where: where}, nil
}

func newS3Client(ctx context.Context, b config.Bucket) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.Region))
	}
	if b.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(b.AccessKeyID, b.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if b.Endpoint != "" {
			o.BaseEndpoint = aws.String(b.Endpoint)
		}
		o.UsePathStyle = b.PathStyle
	}), nil
}

func newFeed(f config.Feed, log *slog.Logger) (productfeed.Source, error) {
	switch f.Kind {
	case "file":
		return &productfeed.FileSource{Path: f.File, Mapping: f.Mapping}, nil
	case "shopify":
		return &productfeed.ShopifySource{
			Store:      f.Shopify.Store,
			Token:      f.Shopify.Token,
			APIVersion: f.Shopify.APIVersion,
			PageSize:   f.Shopify.PageSize,
			TTL:        f.Shopify.TTL,
			Client:     fetch.NewHTTPClient(),
			Mapping:    f.Mapping,
			Logger:     log,
		}, nil
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown feed kind %q", f.Kind)
}
