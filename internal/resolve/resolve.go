// Package resolve tries an ordered list of extraction strategies until one
// yields metadata or a direct URL.
//
// Per attempt the decision is:
//
//	success            return
//	Restricted         stop, *RestrictedError
//	NotFound           stop, *NotFoundError
//	BotDetected        refresh credentials (once per call), next strategy
//	anything else      record the cause, next strategy
//
// Strategies never run concurrently for one request.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vidgrab/internal/contentref"
	"vidgrab/internal/extract"
	"vidgrab/internal/media"
)

// Mode selects what Resolve produces.
type Mode int

const (
	ModeMetadata Mode = iota
	ModeDirectURL
)

func (m Mode) String() string {
	if m == ModeDirectURL {
		return "direct_url"
	}
	return "metadata"
}

// ParseMode accepts "metadata" and "direct_url" (or "url").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "metadata":
		return ModeMetadata, nil
	case "direct_url", "url":
		return ModeDirectURL, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// Credentials is the part of the cookie store the resolver uses.
type Credentials interface {
	EnsureFresh(ctx context.Context) error
	Refresh(ctx context.Context) error
	CookieFile() string
	CookieHeader(host string) string
}

// Limiter spaces upstream calls.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Request is one resolution.
type Request struct {
	Ref     media.ContentRef
	Format  string // requested format selector, "best" when empty
	Mode    Mode
	Ceiling int // max video height for the fallback, 0 for the default
}

// Result is a successful resolution.
type Result struct {
	Metadata *media.VideoMetadata
	URL      *media.ResolvedURL
	Strategy string
	Attempts int
}

// Orchestrator runs strategies against an engine.
type Orchestrator struct {
	engine     extract.Engine
	creds      Credentials
	limiter    Limiter
	strategies []Strategy

	proxy   string
	preview int
	ceiling int
	log     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// WithProxy routes every attempt through proxy.
func WithProxy(proxy string) Option { return func(o *Orchestrator) { o.proxy = proxy } }

// WithPlaylistPreview bounds listed playlist entries.
func WithPlaylistPreview(n int) Option { return func(o *Orchestrator) { o.preview = n } }

// WithCeiling sets the default resolution ceiling.
func WithCeiling(height int) Option { return func(o *Orchestrator) { o.ceiling = height } }

// DefaultCeiling is the resolution ceiling used when none is configured.
const DefaultCeiling = 720

// New creates an orchestrator. creds and limiter may be nil. An empty
// strategy list uses DefaultStrategies.
func New(engine extract.Engine, creds Credentials, limiter Limiter, strategies []Strategy, opts ...Option) *Orchestrator {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	o := &Orchestrator{
		engine:     engine,
		creds:      creds,
		limiter:    limiter,
		strategies: strategies,
		ceiling:    DefaultCeiling,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Strategies returns the configured strategy names in order.
func (o *Orchestrator) Strategies() []string {
	names := make([]string, len(o.strategies))
	for i, s := range o.strategies {
		names[i] = s.Name
	}
	return names
}

// Resolve runs the strategies in order and returns the first success.
func (o *Orchestrator) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.Mode == ModeDirectURL && req.Ref.Playlist {
		return nil, fmt.Errorf("%w: a direct URL needs a single video, got playlist %s", contentref.ErrInvalidReference, req.Ref.ID)
	}
	ceiling := req.Ceiling
	if ceiling <= 0 {
		ceiling = o.ceiling
	}

	log := o.log.With(slog.String("ref", req.Ref.Key()), slog.String("mode", req.Mode.String()))

	if o.creds != nil {
		if err := o.creds.EnsureFresh(ctx); err != nil {
			log.Warn("credentials unavailable, continuing", slog.Any("error", err))
		}
	}

	exhausted := &ExhaustedError{Format: req.Format}
	refreshed := false

	for i, s := range o.strategies {
		if o.limiter != nil {
			if err := o.limiter.Acquire(ctx); err != nil {
				exhausted.Err = err
				return nil, exhausted
			}
		}

		start := time.Now()
		res, err := o.attempt(ctx, s, req, ceiling)
		if err == nil {
			res.Strategy = s.Name
			res.Attempts = i + 1
			log.Info("resolved", slog.String("strategy", s.Name), slog.Duration("elapsed", time.Since(start)))
			return res, nil
		}

		kind := extract.KindOf(err)
		log.Warn("strategy failed",
			slog.String("strategy", s.Name),
			slog.String("kind", kind.String()),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)

		switch kind {
		case extract.Restricted:
			return nil, &RestrictedError{Strategy: s.Name, Err: err}
		case extract.NotFound:
			return nil, &NotFoundError{Strategy: s.Name, Err: err}
		case extract.BotDetected:
			if !refreshed && o.creds != nil {
				refreshed = true
				if rerr := o.creds.Refresh(ctx); rerr != nil {
					log.Warn("credential refresh failed", slog.Any("error", rerr))
				}
			}
		}
		exhausted.Causes = append(exhausted.Causes, StrategyError{Strategy: s.Name, Err: err})

		if ctxErr := ctx.Err(); ctxErr != nil {
			exhausted.Err = ctxErr
			return nil, exhausted
		}
	}

	return nil, exhausted
}

func (o *Orchestrator) attempt(ctx context.Context, s Strategy, req Request, ceiling int) (*Result, error) {
	opts := s.options(o.creds, o.proxy, o.preview)
	url := req.Ref.URL()

	if req.Mode == ModeMetadata {
		md, err := o.engine.FetchMetadata(ctx, url, opts)
		if err != nil {
			return nil, err
		}
		return &Result{Metadata: md}, nil
	}

	ru, err := o.engine.ResolveFormatURL(ctx, url, s.Selector(req.Format, ceiling), opts)
	if err != nil {
		return nil, err
	}
	return &Result{URL: ru}, nil
}
