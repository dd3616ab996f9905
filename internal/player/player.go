// Package player launches external media players on a resolved stream.
// All player invocations use exec.Command with explicit argument slices,
// so titles and URLs are never interpreted by a shell.
package player

import (
	"context"
	"net/textproto"
	"sort"

	"vidgrab/internal/media"
)

// Player is the interface for media player implementations.
type Player interface {
	// Play starts playback and returns the last known position in seconds.
	// subFile is a local subtitle file, or "".
	Play(ctx context.Context, src media.ResolvedURL, title string, startPos float64, subFile string) (float64, error)

	// Name returns the player name.
	Name() string

	// Available checks if the player binary exists in PATH.
	Available() bool
}

// New creates a player by name.
func New(name string) Player {
	switch name {
	case "mpv":
		return &MPV{}
	case "vlc":
		return &VLC{}
	case "iina", "celluloid":
		return &Generic{name: name}
	default:
		return &MPV{} // Default to mpv
	}
}

// splitHeaders separates the headers players take as dedicated flags from
// the rest, which are returned sorted by name.
func splitHeaders(h map[string]string) (ua, referer string, rest [][2]string) {
	for k, v := range h {
		switch textproto.CanonicalMIMEHeaderKey(k) {
		case "User-Agent":
			ua = v
		case "Referer":
			referer = v
		default:
			rest = append(rest, [2]string{k, v})
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i][0] < rest[j][0] })
	return ua, referer, rest
}
