// Package media defines the shared model for the vidgrab application.
package media

import (
	"fmt"
	"mime"
	"path"
	"strings"
)

// Kind distinguishes video formats from audio-only formats.
type Kind int

const (
	Video Kind = iota
	Audio
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind appear as "video"/"audio" in JSON.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "video" or "audio".
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "video":
		*k = Video
	case "audio":
		*k = Audio
	default:
		return fmt.Errorf("unknown format kind %q", string(b))
	}
	return nil
}

// ContentRef is the normalized identifier of a piece of remote content.
// Different URL spellings of the same content produce equal ContentRefs.
type ContentRef struct {
	ID       string `json:"id"`
	Playlist bool   `json:"playlist"`
}

// Key returns the cache key for the reference.
func (r ContentRef) Key() string {
	if r.Playlist {
		return "pl:" + r.ID
	}
	return "v:" + r.ID
}

// URL returns the canonical upstream URL for the reference.
func (r ContentRef) URL() string {
	if r.Playlist {
		return "https://www.youtube.com/playlist?list=" + r.ID
	}
	return "https://www.youtube.com/watch?v=" + r.ID
}

func (r ContentRef) String() string { return r.Key() }

// FormatDescriptor is one selectable quality option.
type FormatDescriptor struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"format_id"`
	Label   string `json:"label"`
	Ext     string `json:"ext"`
	Size    int64  `json:"size,omitempty"`    // approximate, bytes
	Height  int    `json:"height,omitempty"`  // video only
	Bitrate int    `json:"bitrate,omitempty"` // kbps
	URL     string `json:"-"`                 // set when the engine exposes it
}

// RankKey is the primary ordering key: height for video, bitrate for audio.
func (f FormatDescriptor) RankKey() int {
	if f.Kind == Video {
		return f.Height
	}
	return f.Bitrate
}

// Subtitle is one caption track. Like format URLs, track URLs expire and
// are not persisted.
type Subtitle struct {
	Language string `json:"language"` // BCP 47 code, e.g. "en" or "pt-BR"
	Label    string `json:"label"`
	Ext      string `json:"ext"`
	Auto     bool   `json:"auto,omitempty"` // machine generated
	URL      string `json:"-"`
}

// PlaylistEntry is a preview item of a playlist.
type PlaylistEntry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration int    `json:"duration"`
}

// VideoMetadata is the result of a successful metadata extraction.
// Values are shared between goroutines once cached and must not be mutated.
type VideoMetadata struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Uploader     string             `json:"uploader,omitempty"`
	Duration     int                `json:"duration"` // seconds
	Thumbnail    string             `json:"thumbnail,omitempty"`
	ViewCount    int64              `json:"view_count,omitempty"`
	VideoFormats []FormatDescriptor `json:"video_formats"`
	AudioFormats []FormatDescriptor `json:"audio_formats"`
	Subtitles    []Subtitle         `json:"subtitles,omitempty"`
	IsPlaylist   bool               `json:"is_playlist"`
	Entries      []PlaylistEntry    `json:"entries,omitempty"`
}

// Formats returns video formats followed by audio formats.
func (m *VideoMetadata) Formats() []FormatDescriptor {
	all := make([]FormatDescriptor, 0, len(m.VideoFormats)+len(m.AudioFormats))
	all = append(all, m.VideoFormats...)
	return append(all, m.AudioFormats...)
}

// ResolvedURL is a direct, fetchable resource URL for one format.
type ResolvedURL struct {
	URL      string            `json:"url"`
	FormatID string            `json:"format_id,omitempty"`
	Ext      string            `json:"ext"`
	MimeType string            `json:"mime_type"`
	Headers  map[string]string `json:"headers,omitempty"` // needed to fetch URL
}

// IsManifest reports whether the URL points at an HLS/DASH manifest
// rather than a single progressive file.
func (r *ResolvedURL) IsManifest() bool {
	switch r.Ext {
	case "m3u8", "mpd":
		return true
	}
	p := strings.ToLower(r.URL)
	return strings.Contains(p, ".m3u8") || strings.Contains(p, "/manifest/")
}

// The system mime table is not guaranteed to know media extensions.
var mimeTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"opus": "audio/ogg",
	"m3u8": "application/vnd.apple.mpegurl",
	"mpd":  "application/dash+xml",
}

// InferType fills in Ext and MimeType from whatever hints are available.
func InferType(rawURL, ext, mimeType string) (string, string) {
	if ext == "" && mimeType != "" {
		base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
		if i := strings.Index(base, "/"); i >= 0 {
			ext = base[i+1:]
		}
	}
	if ext == "" {
		u := rawURL
		if i := strings.IndexAny(u, "?#"); i >= 0 {
			u = u[:i]
		}
		ext = strings.TrimPrefix(path.Ext(u), ".")
	}
	if ext == "" {
		ext = "mp4"
	}
	if mimeType == "" {
		if known, ok := mimeTypes[ext]; ok {
			mimeType = known
		} else if mimeType = mime.TypeByExtension("." + ext); mimeType == "" {
			mimeType = "application/octet-stream"
		}
	} else {
		mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	return ext, mimeType
}

// ThumbnailFor returns the upstream's default thumbnail for a video ID.
func ThumbnailFor(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}
