package cmd

import (
	"context"
	"fmt"
	"net/http"

	"vidgrab/internal/cache"
	"vidgrab/internal/cookies"
	"vidgrab/internal/download"
	"vidgrab/internal/extract"
	"vidgrab/internal/httputil"
	"vidgrab/internal/progress"
	"vidgrab/internal/ratelimit"
	"vidgrab/internal/resolve"
	"vidgrab/internal/service"
)

// app is the wired object graph for one command invocation.
type app struct {
	client     *http.Client
	creds      *cookies.Store
	svc        *service.Service
	tracker    *progress.Tracker
	strategies []string
}

func (a *app) Close() error { return a.svc.Close() }

// newCookieStore builds the credential store from cfg.
func newCookieStore(client *http.Client) (*cookies.Store, error) {
	var h cookies.Harvester = &cookies.HTTPHarvester{Client: client}
	if path, ok := cfg.ImportPath(); ok {
		h = &cookies.ImportHarvester{Path: path, Domain: cfg.CookieDomain}
	}
	path, err := cfg.CookiePath()
	if err != nil {
		return nil, fmt.Errorf("resolving cookie path: %w", err)
	}
	return cookies.NewStore(path, cfg.CookieTTL, h, cookies.WithLogger(logger)), nil
}

// newApp wires every component from cfg.
func newApp(ctx context.Context) (*app, error) {
	client, err := httputil.NewClient(httputil.ClientOptions{Proxy: cfg.Proxy})
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}
	// Downloads can run far longer than any request timeout.
	streamClient, err := httputil.NewClient(httputil.ClientOptions{Timeout: -1, Proxy: cfg.Proxy})
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client: %w", err)
	}

	creds, err := newCookieStore(client)
	if err != nil {
		return nil, err
	}

	var engine extract.Engine
	switch cfg.Engine {
	case "native":
		engine = extract.NewNative(client)
	default:
		engine = extract.NewYtDlp(cfg.YtDlpPath)
	}

	orch := resolve.New(engine, creds,
		ratelimit.New(cfg.RateInterval, cfg.JitterMin, cfg.JitterMax),
		cfg.StrategyList(),
		resolve.WithLogger(logger),
		resolve.WithProxy(cfg.Proxy),
		resolve.WithPlaylistPreview(cfg.PlaylistPreview),
		resolve.WithCeiling(cfg.QualityCeiling),
	)

	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if cfg.CacheBackend != "none" {
		dsn, err := cfg.CacheDSNOrDefault()
		if err != nil {
			return nil, fmt.Errorf("resolving cache location: %w", err)
		}
		backend, err := cache.OpenBackend(ctx, cfg.CacheBackend, dsn)
		if err != nil {
			return nil, fmt.Errorf("opening %s cache: %w", cfg.CacheBackend, err)
		}
		if backend != nil {
			cacheOpts = append(cacheOpts, cache.WithBackend(backend))
		}
	}
	mc, err := cache.New(cfg.CacheCapacity, cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		mc.Close()
		return nil, fmt.Errorf("resolving download dir: %w", err)
	}

	tracker := progress.New(cfg.ProgressRetention)
	fetcher := &download.Downloader{Client: streamClient, Reporter: tracker}
	svc := service.New(orch, mc, tracker, fetcher,
		service.WithLogger(logger),
		service.WithDownloadDir(dir),
	)
	return &app{client: client, creds: creds, svc: svc, tracker: tracker, strategies: orch.Strategies()}, nil
}
