// Package format parses format fallback expressions and selects the best
// matching format from a list of descriptors.
//
// An expression is a list of alternatives separated by "/", tried left to
// right, e.g. "22/best[height<=720]/best". Each alternative is an exact format
// ID or one of best, bestvideo, bestaudio, worst, optionally followed by a
// [height<=N] filter.
package format

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"vidgrab/internal/media"
)

// Selector kinds.
const (
	Best      = "best"
	BestVideo = "bestvideo"
	BestAudio = "bestaudio"
	Worst     = "worst"
)

var (
	filterPattern = regexp.MustCompile(`^\[height<=(\d+)\]$`)
	idPattern     = regexp.MustCompile(`^[0-9A-Za-z_.+-]+$`)
)

// Alternative is one term of a fallback expression.
type Alternative struct {
	ID        string // exact format ID, empty for ranked selectors
	Selector  string // best, bestvideo, bestaudio, worst
	MaxHeight int    // 0 means unbounded
}

func (a Alternative) String() string {
	if a.ID != "" {
		return a.ID
	}
	if a.MaxHeight > 0 {
		return fmt.Sprintf("%s[height<=%d]", a.Selector, a.MaxHeight)
	}
	return a.Selector
}

// Chain is a parsed fallback expression.
type Chain []Alternative

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, a := range c {
		parts[i] = a.String()
	}
	return strings.Join(parts, "/")
}

// Parse parses a fallback expression.
func Parse(expr string) (Chain, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty format expression")
	}

	var chain Chain
	for _, term := range strings.Split(expr, "/") {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, fmt.Errorf("empty alternative in %q", expr)
		}
		alt, err := parseAlternative(term)
		if err != nil {
			return nil, err
		}
		chain = append(chain, alt)
	}
	return chain, nil
}

func parseAlternative(term string) (Alternative, error) {
	name, filter := term, ""
	if i := strings.Index(term, "["); i >= 0 {
		name, filter = term[:i], term[i:]
	}

	switch name {
	case Best, BestVideo, BestAudio, Worst:
		alt := Alternative{Selector: name}
		if filter != "" {
			m := filterPattern.FindStringSubmatch(filter)
			if m == nil {
				return Alternative{}, fmt.Errorf("unsupported filter %q", filter)
			}
			h, _ := strconv.Atoi(m[1])
			alt.MaxHeight = h
		}
		return alt, nil
	}

	if filter != "" || !idPattern.MatchString(name) {
		return Alternative{}, fmt.Errorf("invalid format %q", term)
	}
	return Alternative{ID: name}, nil
}

// Cap bounds every ranked video alternative by ceiling, keeping any
// stricter filter already present. Exact IDs and bestaudio are unchanged.
func (c Chain) Cap(ceiling int) Chain {
	out := make(Chain, len(c))
	copy(out, c)
	if ceiling <= 0 {
		return out
	}
	for i, a := range out {
		if a.ID != "" || a.Selector == BestAudio {
			continue
		}
		if a.MaxHeight == 0 || a.MaxHeight > ceiling {
			out[i].MaxHeight = ceiling
		}
	}
	return out
}

// Join builds an expression from alternatives, dropping empty ones and
// duplicates while keeping order.
func Join(alts ...string) string {
	seen := make(map[string]bool, len(alts))
	var out []string
	for _, a := range alts {
		a = strings.TrimSpace(a)
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return strings.Join(out, "/")
}

// Options tune Select.
type Options struct {
	// RequireURL restricts candidates to formats with a known URL.
	RequireURL bool
}

// Select returns the first alternative that matches any format.
func (c Chain) Select(formats []media.FormatDescriptor, opts Options) (media.FormatDescriptor, bool) {
	pool := formats
	if opts.RequireURL {
		pool = make([]media.FormatDescriptor, 0, len(formats))
		for _, f := range formats {
			if f.URL != "" {
				pool = append(pool, f)
			}
		}
	}

	for _, alt := range c {
		if f, ok := alt.pick(pool); ok {
			return f, true
		}
	}
	return media.FormatDescriptor{}, false
}

func (a Alternative) pick(pool []media.FormatDescriptor) (media.FormatDescriptor, bool) {
	if a.ID != "" {
		for _, f := range pool {
			if f.ID == a.ID {
				return f, true
			}
		}
		return media.FormatDescriptor{}, false
	}

	switch a.Selector {
	case BestAudio:
		return first(Rank(Filter(pool, media.Audio, 0)))
	case BestVideo:
		return first(Rank(Filter(pool, media.Video, a.MaxHeight)))
	case Worst:
		ranked := Rank(Filter(pool, media.Video, a.MaxHeight))
		if len(ranked) == 0 {
			ranked = Rank(Filter(pool, media.Audio, 0))
		}
		if len(ranked) == 0 {
			return media.FormatDescriptor{}, false
		}
		return ranked[len(ranked)-1], true
	default:
		if f, ok := first(Rank(Filter(pool, media.Video, a.MaxHeight))); ok {
			return f, true
		}
		// A height ceiling cannot be satisfied by audio; fall back only when unbounded.
		if a.MaxHeight > 0 {
			return media.FormatDescriptor{}, false
		}
		return first(Rank(Filter(pool, media.Audio, 0)))
	}
}

// Filter keeps formats of the given kind. For video a positive ceiling drops
// every format taller than it.
func Filter(formats []media.FormatDescriptor, kind media.Kind, ceiling int) []media.FormatDescriptor {
	out := make([]media.FormatDescriptor, 0, len(formats))
	for _, f := range formats {
		if f.Kind != kind {
			continue
		}
		if kind == media.Video && ceiling > 0 && f.Height > ceiling {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Rank returns a copy of formats ordered best first. Video sorts by height
// then bitrate, audio by bitrate. Equal formats keep their input order.
func Rank(formats []media.FormatDescriptor) []media.FormatDescriptor {
	out := make([]media.FormatDescriptor, len(formats))
	copy(out, formats)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind == media.Video
		}
		if a.RankKey() != b.RankKey() {
			return a.RankKey() > b.RankKey()
		}
		return a.Bitrate > b.Bitrate
	})
	return out
}

func first(fs []media.FormatDescriptor) (media.FormatDescriptor, bool) {
	if len(fs) == 0 {
		return media.FormatDescriptor{}, false
	}
	return fs[0], true
}
