package extract

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"vidgrab/internal/format"
	"vidgrab/internal/httputil"
	"vidgrab/internal/media"
)

// Native extracts in-process with the kkdai/youtube library. It has no cookie
// jar support, so credentials travel as a Cookie header.
type Native struct {
	// Base is the client requests are layered on. Defaults to a hardened client.
	Base *http.Client
}

// NewNative creates a library-backed engine.
func NewNative(base *http.Client) *Native {
	return &Native{Base: base}
}

func (n *Native) Name() string { return "native" }

func (n *Native) client(opts Options) (*youtube.Client, error) {
	base := n.Base
	if base == nil || opts.Proxy != "" {
		c, err := httputil.NewClient(httputil.ClientOptions{Proxy: opts.Proxy})
		if err != nil {
			return nil, err
		}
		base = c
	}
	if tr, ok := base.Transport.(*http.Transport); ok && opts.NoCheckCertificate {
		tr = tr.Clone()
		if tr.TLSClientConfig == nil {
			tr.TLSClientConfig = &tls.Config{}
		}
		tr.TLSClientConfig.InsecureSkipVerify = true
		cp := *base
		cp.Transport = tr
		base = &cp
	}

	headers := opts.RequestHeaders()
	if opts.CookieHeader != "" {
		headers["Cookie"] = opts.CookieHeader
	}
	return &youtube.Client{HTTPClient: httputil.WithHeaders(base, headers)}, nil
}

// FetchMetadata implements Engine.
func (n *Native) FetchMetadata(ctx context.Context, url string, opts Options) (*media.VideoMetadata, error) {
	client, err := n.client(opts)
	if err != nil {
		return nil, newError(Transient, "metadata", "", err)
	}

	if isPlaylist(url) {
		pl, err := client.GetPlaylistContext(ctx, url)
		if err != nil {
			return nil, classifyLibraryError(ctx, "metadata", err)
		}
		return nativePlaylist(pl, opts.playlistPreview()), nil
	}

	v, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyLibraryError(ctx, "metadata", err)
	}
	return nativeVideo(v), nil
}

// ResolveFormatURL implements Engine.
func (n *Native) ResolveFormatURL(ctx context.Context, url, selector string, opts Options) (*media.ResolvedURL, error) {
	chain, err := format.Parse(selector)
	if err != nil {
		return nil, newError(FormatUnavailable, "url", err.Error(), ErrNoFormat)
	}

	client, err := n.client(opts)
	if err != nil {
		return nil, newError(Transient, "url", "", err)
	}
	v, err := client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyLibraryError(ctx, "url", err)
	}

	md := nativeVideo(v)
	chosen, ok := chain.Select(md.Formats(), format.Options{})
	if !ok {
		return nil, newError(FormatUnavailable, "url", "no format matches "+selector, ErrNoFormat)
	}

	var yf *youtube.Format
	for i := range v.Formats {
		if strconv.Itoa(v.Formats[i].ItagNo) == chosen.ID {
			yf = &v.Formats[i]
			break
		}
	}
	if yf == nil {
		return nil, newError(FormatUnavailable, "url", "format "+chosen.ID+" vanished", ErrNoFormat)
	}

	streamURL, err := client.GetStreamURLContext(ctx, v, yf)
	if err != nil {
		return nil, classifyLibraryError(ctx, "url", err)
	}

	ext, mime := media.InferType(streamURL, "", yf.MimeType)
	return &media.ResolvedURL{
		URL:      streamURL,
		FormatID: chosen.ID,
		Ext:      ext,
		MimeType: mime,
		Headers:  opts.RequestHeaders(),
	}, nil
}

// classifyLibraryError maps the library's sentinel errors to Kinds.
func classifyLibraryError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(Transient, op, "", ctxErr)
	}

	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return newError(Restricted, op, err.Error(), err)
	case errors.Is(err, youtube.ErrInvalidPlaylist),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return newError(NotFound, op, err.Error(), err)
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		reason := strings.ToLower(statusErr.Reason)
		switch {
		case strings.Contains(reason, "not a bot"):
			return newError(BotDetected, op, statusErr.Reason, err)
		case statusErr.Status == "ERROR" || strings.Contains(reason, "unavailable"):
			return newError(NotFound, op, statusErr.Reason, err)
		default:
			return newError(Restricted, op, statusErr.Reason, err)
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"):
		return newError(RateLimited, op, "", err)
	case strings.Contains(msg, "404"):
		return newError(NotFound, op, "", err)
	}
	return newError(Transient, op, "", fmt.Errorf("youtube client: %w", err))
}

func nativeVideo(v *youtube.Video) *media.VideoMetadata {
	md := &media.VideoMetadata{
		ID:        v.ID,
		Title:     v.Title,
		Uploader:  v.Author,
		Duration:  int(v.Duration.Seconds()),
		ViewCount: int64(v.Views),
	}

	// Thumbnails are listed smallest first.
	if n := len(v.Thumbnails); n > 0 {
		md.Thumbnail = v.Thumbnails[n-1].URL
	}
	if md.Thumbnail == "" {
		md.Thumbnail = media.ThumbnailFor(v.ID)
	}

	var video, audio []media.FormatDescriptor
	for _, f := range v.Formats {
		fd := media.FormatDescriptor{
			ID:      strconv.Itoa(f.ItagNo),
			Size:    f.ContentLength,
			Bitrate: f.Bitrate / 1000,
			URL:     f.URL,
		}
		fd.Ext, _ = media.InferType("", "", f.MimeType)

		if f.Height > 0 || strings.HasPrefix(f.MimeType, "video/") {
			fd.Kind = media.Video
			fd.Height = f.Height
			fd.Label = f.QualityLabel
			if fd.Label == "" {
				fd.Label = fmt.Sprintf("%dp", f.Height)
			}
			if f.AudioChannels == 0 {
				fd.Label += " (video only)"
			}
			video = append(video, fd)
			continue
		}

		fd.Kind = media.Audio
		if f.AverageBitrate > 0 {
			fd.Bitrate = f.AverageBitrate / 1000
		}
		fd.Label = fmt.Sprintf("%dkbps %s", fd.Bitrate, fd.Ext)
		audio = append(audio, fd)
	}
	md.VideoFormats = format.Rank(video)
	md.AudioFormats = format.Rank(audio)

	for _, ct := range v.CaptionTracks {
		if ct.BaseURL == "" {
			continue
		}
		sub := media.Subtitle{
			Language: ct.LanguageCode,
			Label:    ct.LanguageCode,
			Ext:      "vtt",
			Auto:     ct.Kind == "asr",
			URL:      ct.BaseURL + "&fmt=vtt",
		}
		if sub.Auto {
			sub.Label += " (auto-generated)"
		}
		md.Subtitles = append(md.Subtitles, sub)
	}
	return md
}

func nativePlaylist(pl *youtube.Playlist, limit int) *media.VideoMetadata {
	md := &media.VideoMetadata{
		ID:         pl.ID,
		Title:      pl.Title,
		Uploader:   pl.Author,
		IsPlaylist: true,
	}
	for _, e := range pl.Videos {
		if len(md.Entries) >= limit {
			break
		}
		secs := int(e.Duration.Seconds())
		md.Entries = append(md.Entries, media.PlaylistEntry{ID: e.ID, Title: e.Title, Duration: secs})
		md.Duration += secs
	}
	if len(md.Entries) > 0 {
		md.Thumbnail = media.ThumbnailFor(md.Entries[0].ID)
	}
	return md
}
