package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"vidgrab/internal/format"
	"vidgrab/internal/media"
)

// waitDelay bounds how long a killed process may hold its output pipes open.
const waitDelay = 2 * time.Second

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	// BinaryPath is the path to the yt-dlp executable. Defaults to "yt-dlp".
	BinaryPath string
}

// NewYtDlp creates an engine for the given binary.
func NewYtDlp(bin string) *YtDlp {
	return &YtDlp{BinaryPath: bin}
}

func (y *YtDlp) Name() string { return "ytdlp" }

// ytdlpFormat is one entry of the "formats" array in -J output.
type ytdlpFormat struct {
	FormatID       string            `json:"format_id"`
	Ext            string            `json:"ext"`
	URL            string            `json:"url"`
	VCodec         string            `json:"vcodec"`
	ACodec         string            `json:"acodec"`
	Height         int               `json:"height"`
	TBR            float64           `json:"tbr"`
	ABR            float64           `json:"abr"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	FormatNote     string            `json:"format_note"`
	Protocol       string            `json:"protocol"`
	HTTPHeaders    map[string]string `json:"http_headers"`
}

// ytdlpSubtitle is one rendition of a caption track.
type ytdlpSubtitle struct {
	Ext  string `json:"ext"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// ytdlpInfo matches the subset of yt-dlp's -J output that is consumed.
type ytdlpInfo struct {
	Type             string        `json:"_type"`
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Uploader         string        `json:"uploader"`
	Channel          string        `json:"channel"`
	Duration         float64       `json:"duration"`
	Thumbnail        string        `json:"thumbnail"`
	ViewCount        int64         `json:"view_count"`
	Formats          []ytdlpFormat `json:"formats"`
	Entries          []ytdlpInfo   `json:"entries"`
	RequestedFormats []ytdlpFormat `json:"requested_formats"`

	Subtitles map[string][]ytdlpSubtitle `json:"subtitles"`

	// Set when a single format was selected with -f.
	ytdlpFormat
}

// FetchMetadata implements Engine.
func (y *YtDlp) FetchMetadata(ctx context.Context, url string, opts Options) (*media.VideoMetadata, error) {
	args := []string{"-J", "--no-warnings"}
	if isPlaylist(url) {
		args = append(args, "--flat-playlist", "--playlist-end", strconv.Itoa(opts.playlistPreview()))
	} else {
		args = append(args, "--no-playlist")
	}
	args = append(args, optionArgs(opts)...)
	args = append(args, "--", url)

	out, err := y.run(ctx, "metadata", args)
	if err != nil {
		return nil, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, newError(Transient, "metadata", "unparseable yt-dlp output", err)
	}
	if info.Type == "playlist" {
		return playlistMetadata(&info, opts.playlistPreview()), nil
	}
	return videoMetadata(&info), nil
}

// ResolveFormatURL implements Engine.
func (y *YtDlp) ResolveFormatURL(ctx context.Context, url, selector string, opts Options) (*media.ResolvedURL, error) {
	if _, err := format.Parse(selector); err != nil {
		return nil, newError(FormatUnavailable, "url", err.Error(), ErrNoFormat)
	}

	args := []string{"-J", "--no-warnings", "--no-playlist", "-f", selector}
	args = append(args, optionArgs(opts)...)
	args = append(args, "--", url)

	out, err := y.run(ctx, "url", args)
	if err != nil {
		return nil, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, newError(Transient, "url", "unparseable yt-dlp output", err)
	}

	chosen := info.ytdlpFormat
	if chosen.URL == "" && len(info.RequestedFormats) > 0 {
		chosen = info.RequestedFormats[0]
	}
	if chosen.URL == "" {
		return nil, newError(FormatUnavailable, "url", "no direct URL for "+selector, ErrNoFormat)
	}

	ext, mime := media.InferType(chosen.URL, chosen.Ext, "")
	headers := chosen.HTTPHeaders
	if len(headers) == 0 {
		headers = opts.RequestHeaders()
	}
	return &media.ResolvedURL{
		URL:      chosen.URL,
		FormatID: chosen.FormatID,
		Ext:      ext,
		MimeType: mime,
		Headers:  headers,
	}, nil
}

func (y *YtDlp) run(ctx context.Context, op string, args []string) ([]byte, error) {
	bin := y.BinaryPath
	if bin == "" {
		bin = "yt-dlp"
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(Transient, op, "", ctxErr)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, newError(Transient, op, "yt-dlp not found", err)
		}
		kind, msg := classifyStderr(stderr.String())
		return nil, newError(kind, op, msg, fmt.Errorf("yt-dlp failed: %w", err))
	}
	return stdout.Bytes(), nil
}

// optionArgs maps per-attempt options to yt-dlp flags.
func optionArgs(opts Options) []string {
	var args []string
	if opts.CookieFile != "" {
		args = append(args, "--cookies", opts.CookieFile)
	}
	if opts.UserAgent != "" {
		args = append(args, "--user-agent", opts.UserAgent)
	}
	if opts.Referer != "" {
		args = append(args, "--referer", opts.Referer)
	}
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--add-header", k+":"+opts.Headers[k])
	}
	if opts.GeoBypass {
		args = append(args, "--geo-bypass")
	}
	if opts.NoCheckCertificate {
		args = append(args, "--no-check-certificate")
	}
	if opts.Proxy != "" {
		args = append(args, "--proxy", opts.Proxy)
	}
	return args
}

// stderr fragments, checked in order. Restrictions come before rate limits:
// a private video answered with 429 is still private.
var stderrRules = []struct {
	kind      Kind
	fragments []string
}{
	{BotDetected, []string{"confirm you’re not a bot", "confirm you're not a bot", "confirm that you're not a bot"}},
	{Restricted, []string{
		"Sign in to confirm your age", "age-restricted", "Private video",
		"members-only", "Join this channel", "available in your country",
		"geo restriction", "This video requires payment", "login required",
		"Login required", "account associated with this video has been terminated",
	}},
	{RateLimited, []string{"HTTP Error 429", "Too Many Requests", "rate-limited"}},
	{FormatUnavailable, []string{"Requested format is not available", "No video formats found"}},
	{NotFound, []string{
		"Video unavailable", "does not exist", "Unsupported URL", "HTTP Error 404",
		"Incomplete YouTube ID", "is not a valid URL", "This video has been removed",
	}},
}

// classifyStderr maps yt-dlp's error output to a Kind and a one-line message.
func classifyStderr(stderr string) (Kind, string) {
	msg := lastErrorLine(stderr)
	for _, rule := range stderrRules {
		for _, frag := range rule.fragments {
			if strings.Contains(stderr, frag) {
				return rule.kind, msg
			}
		}
	}
	return Transient, msg
}

func lastErrorLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	if len(lines) > 0 {
		return strings.TrimSpace(lines[len(lines)-1])
	}
	return ""
}

func isPlaylist(url string) bool {
	return strings.Contains(url, "/playlist?") && strings.Contains(url, "list=")
}

func videoMetadata(info *ytdlpInfo) *media.VideoMetadata {
	md := &media.VideoMetadata{
		ID:        info.ID,
		Title:     info.Title,
		Uploader:  firstNonEmpty(info.Uploader, info.Channel),
		Duration:  int(info.Duration),
		Thumbnail: info.Thumbnail,
		ViewCount: info.ViewCount,
	}
	if md.Thumbnail == "" && md.ID != "" {
		md.Thumbnail = media.ThumbnailFor(md.ID)
	}

	var video, audio []media.FormatDescriptor
	for _, f := range info.Formats {
		fd, ok := descriptor(f)
		if !ok {
			continue
		}
		if fd.Kind == media.Video {
			video = append(video, fd)
		} else {
			audio = append(audio, fd)
		}
	}
	md.VideoFormats = format.Rank(video)
	md.AudioFormats = format.Rank(audio)
	md.Subtitles = subtitles(info.Subtitles)
	return md
}

// subtitles picks one rendition per language, preferring WebVTT. The
// "live_chat" pseudo-track is not a caption.
func subtitles(tracks map[string][]ytdlpSubtitle) []media.Subtitle {
	langs := make([]string, 0, len(tracks))
	for lang := range tracks {
		if lang != "live_chat" {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)

	var subs []media.Subtitle
	for _, lang := range langs {
		renditions := tracks[lang]
		if len(renditions) == 0 {
			continue
		}
		pick := renditions[0]
		for _, r := range renditions {
			if r.Ext == "vtt" {
				pick = r
				break
			}
		}
		if pick.URL == "" {
			continue
		}
		subs = append(subs, media.Subtitle{
			Language: lang,
			Label:    firstNonEmpty(pick.Name, lang),
			Ext:      pick.Ext,
			URL:      pick.URL,
		})
	}
	return subs
}

func playlistMetadata(info *ytdlpInfo, limit int) *media.VideoMetadata {
	md := &media.VideoMetadata{
		ID:         info.ID,
		Title:      info.Title,
		Uploader:   firstNonEmpty(info.Uploader, info.Channel),
		IsPlaylist: true,
	}
	for _, e := range info.Entries {
		if len(md.Entries) >= limit {
			break
		}
		md.Entries = append(md.Entries, media.PlaylistEntry{
			ID:       e.ID,
			Title:    e.Title,
			Duration: int(e.Duration),
		})
		md.Duration += int(e.Duration)
	}
	if len(md.Entries) > 0 {
		md.Thumbnail = media.ThumbnailFor(md.Entries[0].ID)
	}
	return md
}

// descriptor converts a yt-dlp format. Storyboards and other formats with
// neither video nor audio are dropped.
func descriptor(f ytdlpFormat) (media.FormatDescriptor, bool) {
	hasVideo := f.VCodec != "" && f.VCodec != "none"
	hasAudio := f.ACodec != "" && f.ACodec != "none"
	if !hasVideo && !hasAudio {
		return media.FormatDescriptor{}, false
	}

	fd := media.FormatDescriptor{
		ID:      f.FormatID,
		Ext:     f.Ext,
		Size:    f.Filesize,
		Height:  f.Height,
		Bitrate: int(f.TBR),
		URL:     f.URL,
	}
	if fd.Size == 0 {
		fd.Size = f.FilesizeApprox
	}

	if hasVideo {
		fd.Kind = media.Video
		fd.Label = fmt.Sprintf("%dp", f.Height)
		if f.FormatNote != "" && f.FormatNote != fd.Label {
			fd.Label += " " + f.FormatNote
		}
		if !hasAudio {
			fd.Label += " (video only)"
		}
	} else {
		fd.Kind = media.Audio
		fd.Height = 0
		if f.ABR > 0 {
			fd.Bitrate = int(f.ABR)
		}
		fd.Label = fmt.Sprintf("%dkbps %s", fd.Bitrate, f.Ext)
	}
	return fd, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
