// Package contentref normalizes arbitrary video URLs into media.ContentRef values.
package contentref

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"vidgrab/internal/media"
)

// ErrInvalidReference is returned when no content identifier can be found.
var ErrInvalidReference = errors.New("invalid content reference")

var (
	videoIDPattern    = regexp.MustCompile(`^[0-9A-Za-z_-]{11}$`)
	playlistIDPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{10,64}$`)
)

// Path prefixes that carry the video ID as the next segment.
var idPathPrefixes = []string{"embed", "v", "e", "shorts", "live"}

// Parse extracts the content reference from a URL or a bare video ID.
//
// A watch URL that also carries list= resolves to the video, matching the
// upstream's own behaviour. A URL whose only identifier is list= is a playlist.
func Parse(raw string) (media.ContentRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return media.ContentRef{}, fmt.Errorf("%w: empty input", ErrInvalidReference)
	}
	if videoIDPattern.MatchString(raw) {
		return media.ContentRef{ID: raw}, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return media.ContentRef{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "m.")
	host = strings.TrimPrefix(host, "music.")

	q := u.Query()
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch host {
	case "youtu.be":
		if len(segments) > 0 && videoIDPattern.MatchString(segments[0]) {
			return media.ContentRef{ID: segments[0]}, nil
		}
	case "youtube.com", "youtube-nocookie.com":
		if v := q.Get("v"); videoIDPattern.MatchString(v) {
			return media.ContentRef{ID: v}, nil
		}
		if len(segments) >= 2 && contains(idPathPrefixes, segments[0]) && videoIDPattern.MatchString(segments[1]) {
			return media.ContentRef{ID: segments[1]}, nil
		}
		if list := q.Get("list"); playlistIDPattern.MatchString(list) {
			return media.ContentRef{ID: list, Playlist: true}, nil
		}
	default:
		return media.ContentRef{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidReference, u.Hostname())
	}

	return media.ContentRef{}, fmt.Errorf("%w: no content ID in %q", ErrInvalidReference, raw)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
