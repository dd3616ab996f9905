// Package extract defines the extraction engine contract used by the
// resolver, its error taxonomy, and two engines: one driving the yt-dlp
// binary and one built on the kkdai/youtube library.
package extract

import (
	"context"
	"errors"
	"strings"

	"vidgrab/internal/media"
)

// Engine obtains metadata and direct URLs from the upstream.
type Engine interface {
	Name() string
	FetchMetadata(ctx context.Context, url string, opts Options) (*media.VideoMetadata, error)
	ResolveFormatURL(ctx context.Context, url, selector string, opts Options) (*media.ResolvedURL, error)
}

// Options carry one attempt's credentials and client identity.
type Options struct {
	CookieFile         string // Netscape jar path, empty for anonymous
	CookieHeader       string // pre-rendered Cookie header, for engines without jar support
	UserAgent          string
	Referer            string
	Headers            map[string]string
	GeoBypass          bool
	NoCheckCertificate bool
	Proxy              string
	PlaylistPreview    int // max entries listed for a playlist, 0 for the default
}

// DefaultPlaylistPreview bounds playlist entry listings.
const DefaultPlaylistPreview = 10

func (o Options) playlistPreview() int {
	if o.PlaylistPreview > 0 {
		return o.PlaylistPreview
	}
	return DefaultPlaylistPreview
}

// RequestHeaders returns the headers a client must send to reuse a URL
// obtained under these options.
func (o Options) RequestHeaders() map[string]string {
	h := make(map[string]string, len(o.Headers)+2)
	for k, v := range o.Headers {
		h[k] = v
	}
	if o.UserAgent != "" {
		h["User-Agent"] = o.UserAgent
	}
	if o.Referer != "" {
		h["Referer"] = o.Referer
	}
	return h
}

// Kind classifies an extraction failure.
type Kind int

const (
	Transient Kind = iota // network, timeout, cancellation, unknown
	Restricted
	BotDetected
	RateLimited
	FormatUnavailable
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Restricted:
		return "restricted"
	case BotDetected:
		return "bot_detected"
	case RateLimited:
		return "rate_limited"
	case FormatUnavailable:
		return "format_unavailable"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified engine failure.
type Error struct {
	Kind Kind
	Op   string // "metadata" or "url"
	Msg  string // short upstream message, if any
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil && e.Msg == "" {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf classifies any error. Context errors and unclassified failures are
// Transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

// ErrNoFormat is wrapped by FormatUnavailable errors raised locally.
var ErrNoFormat = errors.New("no format matches selector")
