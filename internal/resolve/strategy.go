package resolve

import (
	"strconv"
	"strings"

	"vidgrab/internal/extract"
	"vidgrab/internal/format"
)

// Placeholders in strategy format templates.
const (
	RequestedPlaceholder = "{requested}"
	CeilingPlaceholder   = "{ceiling}"
)

// DefaultFormats is the fallback list used by the built-in strategies:
// the requested format, else the best under the ceiling, else the best.
var DefaultFormats = []string{RequestedPlaceholder, "best[height<=" + CeilingPlaceholder + "]", "best"}

// Strategy is one combination of credential mode and client identity.
type Strategy struct {
	Name               string            `toml:"name"`
	UseCookies         bool              `toml:"use_cookies"`
	UserAgent          string            `toml:"user_agent"`
	Referer            string            `toml:"referer"`
	Headers            map[string]string `toml:"headers"`
	GeoBypass          bool              `toml:"geo_bypass"`
	NoCheckCertificate bool              `toml:"no_check_certificate"`
	Formats            []string          `toml:"formats"`
}

const (
	desktopUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	alternateUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
)

// DefaultStrategies returns the built-in order: credentialed desktop client,
// credentialed alternate client from a search referer, then anonymous.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name:       "desktop",
			UseCookies: true,
			UserAgent:  desktopUA,
			Referer:    "https://www.youtube.com/",
			Headers:    map[string]string{"Accept-Language": "en-US,en;q=0.9"},
			Formats:    DefaultFormats,
		},
		{
			Name:       "alternate",
			UseCookies: true,
			UserAgent:  alternateUA,
			Referer:    "https://www.google.com/",
			Headers:    map[string]string{"Accept-Language": "en-GB,en;q=0.8"},
			Formats:    DefaultFormats,
		},
		{
			Name:               "anonymous",
			UserAgent:          desktopUA,
			GeoBypass:          true,
			NoCheckCertificate: true,
			Formats:            DefaultFormats,
		},
	}
}

// Selector renders the strategy's format list for one request. The requested
// term is capped at the ceiling; template alternatives that mention the
// ceiling lose their filter when there is none.
func (s Strategy) Selector(requested string, ceiling int) string {
	if requested == "" {
		requested = format.Best
	}
	// Audio requests never fall back to video.
	if strings.Contains(requested, format.BestAudio) {
		return format.Join(append(strings.Split(requested, "/"), format.BestAudio)...)
	}

	if chain, err := format.Parse(requested); err == nil {
		requested = chain.Cap(ceiling).String()
	}

	templates := s.Formats
	if len(templates) == 0 {
		templates = DefaultFormats
	}
	alts := make([]string, 0, len(templates))
	for _, t := range templates {
		if ceiling <= 0 {
			t = strings.ReplaceAll(t, "[height<="+CeilingPlaceholder+"]", "")
		}
		t = strings.ReplaceAll(t, CeilingPlaceholder, strconv.Itoa(ceiling))
		t = strings.ReplaceAll(t, RequestedPlaceholder, requested)
		alts = append(alts, strings.Split(t, "/")...)
	}
	return format.Join(alts...)
}

func (s Strategy) options(creds Credentials, proxy string, preview int) extract.Options {
	opts := extract.Options{
		UserAgent:          s.UserAgent,
		Referer:            s.Referer,
		Headers:            s.Headers,
		GeoBypass:          s.GeoBypass,
		NoCheckCertificate: s.NoCheckCertificate,
		Proxy:              proxy,
		PlaylistPreview:    preview,
	}
	if s.UseCookies && creds != nil {
		opts.CookieFile = creds.CookieFile()
		opts.CookieHeader = creds.CookieHeader(upstreamHost)
	}
	return opts
}

const upstreamHost = "www.youtube.com"
