// Package service is the request-level API shared by the CLI and the HTTP
// server. Metadata reads go through the cache; misses and direct URLs go
// through the resolver; downloads run in the background and report through
// the progress tracker.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"vidgrab/internal/cache"
	"vidgrab/internal/contentref"
	"vidgrab/internal/download"
	"vidgrab/internal/format"
	"vidgrab/internal/media"
	"vidgrab/internal/progress"
	"vidgrab/internal/resolve"
)

// DefaultMaxDownloads bounds concurrently running downloads.
const DefaultMaxDownloads = 2

// Resolver runs the strategy list for one request.
type Resolver interface {
	Resolve(ctx context.Context, req resolve.Request) (*resolve.Result, error)
}

// Fetcher saves a resolved stream.
type Fetcher interface {
	Download(ctx context.Context, job download.Job) (string, error)
}

var (
	// ErrNotReady is returned by File for operations that have not completed.
	ErrNotReady = errors.New("download not completed")
	// ErrInvalidFormat is returned for selectors that do not parse.
	ErrInvalidFormat = errors.New("invalid format selector")
	// ErrClosed is returned for downloads started after Close.
	ErrClosed = errors.New("service is shutting down")
)

// Service is safe for concurrent use.
type Service struct {
	resolver Resolver
	cache    *cache.Cache
	tracker  *progress.Tracker
	fetcher  Fetcher

	downloadDir string
	sem         chan struct{}
	log         *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // guards closed and wg.Add against Close
	closed  bool
	wg      sync.WaitGroup
	cancels sync.Map // id -> context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithDownloadDir sets where downloads are written.
func WithDownloadDir(dir string) Option { return func(s *Service) { s.downloadDir = dir } }

// WithMaxDownloads bounds concurrent downloads.
func WithMaxDownloads(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// New wires a service. fetcher may be nil when downloads are not offered.
func New(r Resolver, c *cache.Cache, t *progress.Tracker, f Fetcher, opts ...Option) *Service {
	s := &Service{
		resolver:    r,
		cache:       c,
		tracker:     t,
		fetcher:     f,
		downloadDir: ".",
		sem:         make(chan struct{}, DefaultMaxDownloads),
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Tracker exposes the progress tracker for pollers.
func (s *Service) Tracker() *progress.Tracker { return s.tracker }

// Info returns metadata for raw, from the cache unless force is set.
func (s *Service) Info(ctx context.Context, raw string, force bool) (*media.VideoMetadata, error) {
	ref, err := contentref.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.info(ctx, ref, force)
}

func (s *Service) info(ctx context.Context, ref media.ContentRef, force bool) (*media.VideoMetadata, error) {
	if force {
		s.cache.Invalidate(ctx, ref)
	} else if md, ok := s.cache.Get(ctx, ref); ok {
		s.log.Debug("cache hit", slog.String("ref", ref.Key()))
		return md, nil
	}

	res, err := s.resolver.Resolve(ctx, resolve.Request{Ref: ref, Mode: resolve.ModeMetadata})
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, ref, res.Metadata)
	return res.Metadata, nil
}

// DirectURL resolves a fetchable URL for raw. Stream URLs expire, so they
// are never served from the cache.
func (s *Service) DirectURL(ctx context.Context, raw, selector string, ceiling int) (*media.ResolvedURL, error) {
	ref, err := contentref.Parse(raw)
	if err != nil {
		return nil, err
	}
	return s.directURL(ctx, ref, selector, ceiling)
}

func (s *Service) directURL(ctx context.Context, ref media.ContentRef, selector string, ceiling int) (*media.ResolvedURL, error) {
	if selector != "" {
		if _, err := format.Parse(selector); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	res, err := s.resolver.Resolve(ctx, resolve.Request{
		Ref:     ref,
		Format:  selector,
		Mode:    resolve.ModeDirectURL,
		Ceiling: ceiling,
	})
	if err != nil {
		return nil, err
	}
	return res.URL, nil
}

// DownloadRequest describes a background download.
type DownloadRequest struct {
	URL     string
	Format  string
	Audio   bool
	Ceiling int
}

// StartDownload validates req, records a queued operation and returns its
// ID. The download runs in the background until done or cancelled.
func (s *Service) StartDownload(req DownloadRequest) (string, error) {
	if s.fetcher == nil {
		return "", errors.New("downloads are not enabled")
	}
	ref, err := contentref.Parse(req.URL)
	if err != nil {
		return "", err
	}
	if ref.Playlist {
		return "", fmt.Errorf("%w: downloads need a single video", contentref.ErrInvalidReference)
	}
	if req.Format != "" {
		if _, err := format.Parse(req.Format); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}
	if req.Audio {
		req.Format = format.Join(req.Format, format.BestAudio)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	id := progress.NewID()
	s.tracker.Start(id)

	ctx, cancel := context.WithCancel(s.ctx)
	s.cancels.Store(id, cancel)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.cancels.Delete(id)
		defer cancel()

		path, err := s.runDownload(ctx, id, ref, req)
		if err != nil {
			s.log.Warn("download failed", slog.String("id", id), slog.String("ref", ref.Key()), slog.Any("error", err))
		} else {
			s.log.Info("download finished", slog.String("id", id), slog.String("path", path))
		}
		_ = s.tracker.Finish(id, path, err)
	}()
	return id, nil
}

func (s *Service) runDownload(ctx context.Context, id string, ref media.ContentRef, req DownloadRequest) (string, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	md, err := s.info(ctx, ref, false)
	if err != nil {
		return "", err
	}
	_ = s.tracker.Update(id, progress.Delta{})

	ru, err := s.directURL(ctx, ref, req.Format, req.Ceiling)
	if err != nil {
		return "", err
	}

	return s.fetcher.Download(ctx, download.Job{
		ID:       id,
		Source:   *ru,
		Title:    md.Title,
		Dir:      s.downloadDir,
		Audio:    req.Audio,
		Duration: md.Duration,
	})
}

// Cancel stops a running download. It reports false for unknown or
// finished operations.
func (s *Service) Cancel(id string) bool {
	v, ok := s.cancels.Load(id)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// File returns the saved path of a completed download. The path is checked
// to be inside the download directory.
func (s *Service) File(id string) (string, error) {
	rec, ok := s.tracker.Get(id)
	if !ok {
		return "", progress.ErrUnknown
	}
	if rec.Status != progress.Completed {
		return "", ErrNotReady
	}
	dir, err := filepath.Abs(s.downloadDir)
	if err != nil {
		return "", err
	}
	loc, err := filepath.Abs(rec.Location)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(dir, loc)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("download location %q is outside %s", rec.Location, dir)
	}
	return rec.Location, nil
}

// Close cancels running downloads, waits for them and releases the cache.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.cache.Close()
}
