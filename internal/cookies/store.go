// Package cookies manages the session credentials attached to extraction
// attempts: a Netscape cookie jar on disk, refreshed when older than its TTL.
//
// Writes use a temp file plus rename under an advisory file lock, so readers
// in this or another process never observe a partially written jar.
package cookies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a harvested credential set is considered fresh.
const DefaultTTL = time.Hour

const defaultRefreshTimeout = 45 * time.Second

// ErrNoCredentials is returned by harvesters that produced nothing usable.
var ErrNoCredentials = errors.New("no credentials harvested")

// Harvester produces a new credential set.
type Harvester interface {
	Harvest(ctx context.Context) ([]Cookie, error)
}

// HarvesterFunc adapts a function to Harvester.
type HarvesterFunc func(ctx context.Context) ([]Cookie, error)

func (f HarvesterFunc) Harvest(ctx context.Context) ([]Cookie, error) { return f(ctx) }

// Record is the current credential set and when it was created.
type Record struct {
	Cookies   []Cookie
	CreatedAt time.Time
	TTL       time.Duration
}

// Fresh reports whether the record is younger than its TTL.
func (r *Record) Fresh(now time.Time) bool {
	return r != nil && len(r.Cookies) > 0 && now.Sub(r.CreatedAt) < r.TTL
}

// Store owns the credential record and its persisted jar file.
type Store struct {
	path           string
	ttl            time.Duration
	harvester      Harvester
	refreshTimeout time.Duration
	log            *slog.Logger
	now            func() time.Time

	group singleflight.Group
	lock  *flock.Flock

	mu     sync.RWMutex
	record *Record
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithRefreshTimeout bounds a single harvest.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Store) { s.refreshTimeout = d }
}

// NewStore creates a store persisting to path. A zero ttl uses DefaultTTL.
func NewStore(path string, ttl time.Duration, h Harvester, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Store{
		path:           path,
		ttl:            ttl,
		harvester:      h,
		refreshTimeout: defaultRefreshTimeout,
		log:            slog.Default(),
		now:            time.Now,
		lock:           flock.New(path + ".lock"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the jar file location.
func (s *Store) Path() string { return s.path }

// EnsureFresh makes sure a credential set younger than the TTL is available,
// adopting the persisted jar when it is still fresh and refreshing otherwise.
func (s *Store) EnsureFresh(ctx context.Context) error {
	if s.current().Fresh(s.now()) {
		return nil
	}

	rec, err := s.load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("cookies: ignoring unreadable jar", slog.String("path", s.path), slog.Any("error", err))
	}
	if rec.Fresh(s.now()) {
		s.set(rec)
		s.log.Debug("cookies: adopted persisted jar", slog.Int("cookies", len(rec.Cookies)))
		return nil
	}

	return s.Refresh(ctx)
}

// Refresh harvests a new credential set and replaces the persisted jar.
// Concurrent calls share one harvest. A caller whose ctx ends stops waiting
// while the shared harvest carries on under its own timeout.
func (s *Store) Refresh(ctx context.Context) error {
	ch := s.group.DoChan("refresh", func() (any, error) {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return nil, s.refresh(hctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) refresh(ctx context.Context) error {
	start := s.now()
	cookies, err := s.harvester.Harvest(ctx)
	if err != nil {
		return fmt.Errorf("harvesting cookies: %w", err)
	}
	if len(cookies) == 0 {
		return ErrNoCredentials
	}

	if err := s.persist(cookies); err != nil {
		return err
	}

	s.set(&Record{Cookies: cookies, CreatedAt: s.now(), TTL: s.ttl})
	s.log.Info("cookies: refreshed",
		slog.Int("cookies", len(cookies)),
		slog.Duration("elapsed", s.now().Sub(start)),
	)
	return nil
}

// persist atomically replaces the jar file.
func (s *Store) persist(cookies []Cookie) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating cookie dir: %w", err)
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking cookie jar: %w", err)
	}
	defer s.lock.Unlock()

	tmpFile, err := os.CreateTemp(dir, "cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if err := Write(tmpFile, cookies); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing cookie jar: %w", err)
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod cookie jar: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming cookie jar: %w", err)
	}
	return nil
}

// load reads the persisted jar. The file's mtime is its creation time.
func (s *Store) load() (*Record, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking cookie jar: %w", err)
	}
	defer s.lock.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	cookies, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return &Record{Cookies: cookies, CreatedAt: info.ModTime(), TTL: s.ttl}, nil
}

func (s *Store) current() *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

func (s *Store) set(r *Record) {
	s.mu.Lock()
	s.record = r
	s.mu.Unlock()
}

// Invalidate drops the in-memory record so the next EnsureFresh refreshes.
func (s *Store) Invalidate() {
	s.set(nil)
}

// CookieFile returns the jar path when a fresh record is available, or ""
// when extraction must proceed without credentials.
func (s *Store) CookieFile() string {
	if s.current().Fresh(s.now()) {
		return s.path
	}
	return ""
}

// CookieHeader renders the fresh cookies that apply to host, or "".
func (s *Store) CookieHeader(host string) string {
	rec := s.current()
	now := s.now()
	if !rec.Fresh(now) {
		return ""
	}
	return HeaderValue(rec.Cookies, host, now)
}

// Snapshot returns a copy of the current record, if any.
func (s *Store) Snapshot() (Record, bool) {
	rec := s.current()
	if rec == nil {
		return Record{}, false
	}
	cp := *rec
	cp.Cookies = append([]Cookie(nil), rec.Cookies...)
	return cp, true
}

// Persisted reads the jar on disk without refreshing or adopting it.
func (s *Store) Persisted() (Record, error) {
	rec, err := s.load()
	if err != nil {
		return Record{}, err
	}
	return *rec, nil
}
