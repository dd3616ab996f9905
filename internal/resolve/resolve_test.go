package resolve

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"vidgrab/internal/contentref"
	"vidgrab/internal/extract"
	"vidgrab/internal/format"
	"vidgrab/internal/media"
)

// scriptedEngine returns the next scripted error per call, or success once
// the script runs out.
type scriptedEngine struct {
	mu        sync.Mutex
	script    []error
	calls     int
	opts      []extract.Options
	selectors []string
	onCall    func(n int)
}

func (e *scriptedEngine) Name() string { return "fake" }

func (e *scriptedEngine) next(opts extract.Options, selector string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.opts = append(e.opts, opts)
	e.selectors = append(e.selectors, selector)
	if e.onCall != nil {
		e.onCall(e.calls)
	}
	if e.calls <= len(e.script) {
		return e.script[e.calls-1]
	}
	return nil
}

func (e *scriptedEngine) FetchMetadata(ctx context.Context, url string, opts extract.Options) (*media.VideoMetadata, error) {
	if err := e.next(opts, ""); err != nil {
		return nil, err
	}
	return &media.VideoMetadata{ID: "abc12345678", Title: "ok"}, nil
}

func (e *scriptedEngine) ResolveFormatURL(ctx context.Context, url, selector string, opts extract.Options) (*media.ResolvedURL, error) {
	if err := e.next(opts, selector); err != nil {
		return nil, err
	}
	return &media.ResolvedURL{URL: "https://cdn/x", Ext: "mp4"}, nil
}

type fakeCreds struct {
	mu         sync.Mutex
	ensures    int
	refreshes  int
	ensureErr  error
	refreshErr error
	file       string
}

func (c *fakeCreds) EnsureFresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensures++
	return c.ensureErr
}

func (c *fakeCreds) Refresh(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	return c.refreshErr
}

func (c *fakeCreds) CookieFile() string { return c.file }
func (c *fakeCreds) CookieHeader(host string) string { return "" }

type countingLimiter struct{ n int }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.n++
	return ctx.Err()
}

func kindErr(k extract.Kind) error { return &extract.Error{Kind: k, Op: "metadata", Msg: k.String()} }

func quiet() Option { return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))) }

var videoRef = media.ContentRef{ID: "abc12345678"}

func TestResolveBotDetectedRefreshesOnceThenSucceeds(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.BotDetected)}}
	creds := &fakeCreds{file: "/tmp/c.txt"}
	lim := &countingLimiter{}

	var refreshesBeforeSecond int
	engine.onCall = func(n int) {
		if n == 2 {
			refreshesBeforeSecond = creds.refreshes
		}
	}

	o := New(engine, creds, lim, nil, quiet())
	res, err := o.Resolve(context.Background(), Request{Ref: videoRef})
	if err != nil {
		t.Fatal(err)
	}
	if res.Strategy != "alternate" || res.Attempts != 2 {
		t.Errorf("result from %q after %d attempts", res.Strategy, res.Attempts)
	}
	if creds.refreshes != 1 || refreshesBeforeSecond != 1 {
		t.Errorf("refreshes = %d (before 2nd attempt %d), want 1", creds.refreshes, refreshesBeforeSecond)
	}
	if creds.ensures != 1 {
		t.Errorf("EnsureFresh calls = %d", creds.ensures)
	}
	if lim.n != 2 {
		t.Errorf("limiter acquired %d times, want 2", lim.n)
	}
}

func TestResolveBotDetectedRefreshesAtMostOnce(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.BotDetected), kindErr(extract.BotDetected), kindErr(extract.BotDetected)}}
	creds := &fakeCreds{}
	_, err := New(engine, creds, nil, nil, quiet()).Resolve(context.Background(), Request{Ref: videoRef})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if creds.refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", creds.refreshes)
	}
}

func TestResolveRestrictedStopsImmediately(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.Transient), kindErr(extract.Restricted)}}
	_, err := New(engine, &fakeCreds{}, nil, nil, quiet()).Resolve(context.Background(), Request{Ref: videoRef})

	var re *RestrictedError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RestrictedError", err)
	}
	if re.Strategy != "alternate" {
		t.Errorf("restricted by %q", re.Strategy)
	}
	if engine.calls != 2 {
		t.Errorf("engine called %d times, want 2", engine.calls)
	}
}

func TestResolveNotFoundFailsFast(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.NotFound)}}
	_, err := New(engine, nil, nil, nil, quiet()).Resolve(context.Background(), Request{Ref: videoRef})

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if engine.calls != 1 {
		t.Errorf("engine called %d times, want 1", engine.calls)
	}
}

func TestResolveAllTransientExhausts(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.Transient), kindErr(extract.Transient), kindErr(extract.Transient)}}
	creds := &fakeCreds{ensureErr: errors.New("harvest failed")}
	_, err := New(engine, creds, nil, nil, quiet()).Resolve(context.Background(), Request{Ref: videoRef, Format: "22"})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(ex.Causes) != 3 {
		t.Fatalf("causes = %d, want 3", len(ex.Causes))
	}
	for i, want := range []string{"desktop", "alternate", "anonymous"} {
		if ex.Causes[i].Strategy != want {
			t.Errorf("cause %d from %q, want %q", i, ex.Causes[i].Strategy, want)
		}
	}
	if ex.Reason() != ReasonUpstreamUnavailable {
		t.Errorf("Reason() = %q", ex.Reason())
	}
	if ex.Format != "22" {
		t.Errorf("Format = %q", ex.Format)
	}
}

func TestExhaustedReason(t *testing.T) {
	tests := []struct {
		name  string
		kinds []extract.Kind
		want  Reason
	}{
		{"rate limited wins", []extract.Kind{extract.Transient, extract.RateLimited, extract.FormatUnavailable}, ReasonRateLimited},
		{"all transient", []extract.Kind{extract.Transient, extract.Transient}, ReasonUpstreamUnavailable},
		{"format missing", []extract.Kind{extract.FormatUnavailable, extract.Transient}, ReasonFormatUnavailable},
		{"bot then transient", []extract.Kind{extract.BotDetected, extract.Transient}, ReasonUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &ExhaustedError{}
			for _, k := range tt.kinds {
				ex.Causes = append(ex.Causes, StrategyError{Strategy: "s", Err: kindErr(k)})
			}
			if got := ex.Reason(); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	engine := &scriptedEngine{script: []error{kindErr(extract.Transient), kindErr(extract.Transient), kindErr(extract.Transient)}}
	engine.onCall = func(n int) {
		if n == 1 {
			cancel()
		}
	}

	_, err := New(engine, nil, nil, nil, quiet()).Resolve(ctx, Request{Ref: videoRef})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if engine.calls != 1 {
		t.Errorf("engine called %d times after cancel, want 1", engine.calls)
	}
}

func TestResolveCredentialModes(t *testing.T) {
	engine := &scriptedEngine{script: []error{kindErr(extract.Transient), kindErr(extract.Transient)}}
	creds := &fakeCreds{file: "/tmp/c.txt"}
	o := New(engine, creds, nil, nil, quiet(), WithProxy("http://proxy:8080"))

	if _, err := o.Resolve(context.Background(), Request{Ref: videoRef, Mode: ModeDirectURL, Format: "22", Ceiling: 480}); err != nil {
		t.Fatal(err)
	}
	if engine.opts[0].CookieFile != "/tmp/c.txt" || engine.opts[1].CookieFile != "/tmp/c.txt" {
		t.Error("credentialed strategies must pass the cookie file")
	}
	anon := engine.opts[2]
	if anon.CookieFile != "" || !anon.GeoBypass || !anon.NoCheckCertificate {
		t.Errorf("anonymous options = %+v", anon)
	}
	if anon.Proxy != "http://proxy:8080" {
		t.Errorf("proxy = %q", anon.Proxy)
	}
	if engine.selectors[0] != "22/best[height<=480]/best" {
		t.Errorf("selector = %q", engine.selectors[0])
	}
}

func TestResolveDirectURLRejectsPlaylist(t *testing.T) {
	engine := &scriptedEngine{}
	_, err := New(engine, nil, nil, nil, quiet()).Resolve(context.Background(), Request{
		Ref:  media.ContentRef{ID: "PLx", Playlist: true},
		Mode: ModeDirectURL,
	})
	if !errors.Is(err, contentref.ErrInvalidReference) {
		t.Errorf("err = %v, want ErrInvalidReference", err)
	}
	if engine.calls != 0 {
		t.Error("engine must not be called")
	}
}

func TestStrategySelector(t *testing.T) {
	s := Strategy{Formats: DefaultFormats}
	tests := []struct {
		requested string
		ceiling   int
		want      string
	}{
		{"22", 720, "22/best[height<=720]/best"},
		{"", 720, "best[height<=720]/best"},
		{"", 0, "best"},
		{"bestvideo/worst", 480, "bestvideo[height<=480]/worst[height<=480]/best[height<=480]/best"},
		{"best[height<=1080]", 720, "best[height<=720]/best"},
		{"best[height<=360]", 720, "best[height<=360]/best[height<=720]/best"},
		{"22", 0, "22/best"},
		{"bestaudio", 720, "bestaudio"},
		{"140/bestaudio", 720, "140/bestaudio"},
	}
	for _, tt := range tests {
		if got := s.Selector(tt.requested, tt.ceiling); got != tt.want {
			t.Errorf("Selector(%q, %d) = %q, want %q", tt.requested, tt.ceiling, got, tt.want)
		}
	}
}

func TestStrategySelectorHonoursCeiling(t *testing.T) {
	formats := []media.FormatDescriptor{
		{ID: "18", Kind: media.Video, Height: 360},
		{ID: "22", Kind: media.Video, Height: 720},
		{ID: "137", Kind: media.Video, Height: 1080},
	}
	for _, requested := range []string{"", "best", "bestvideo"} {
		sel := DefaultStrategies()[0].Selector(requested, 720)
		chain, err := format.Parse(sel)
		if err != nil {
			t.Fatalf("Parse(%q): %v", sel, err)
		}
		got, ok := chain.Select(formats, format.Options{})
		if !ok || got.ID != "22" {
			t.Errorf("requested %q: selector %q picked %+v, want 720p", requested, sel, got)
		}
	}

	// Without anything under the ceiling the unbounded fallback still answers.
	sel := DefaultStrategies()[0].Selector("", 240)
	chain, err := format.Parse(sel)
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := chain.Select(formats, format.Options{}); !ok || got.ID != "137" {
		t.Errorf("selector %q picked %+v, want fallback to the best", sel, got)
	}
}

func TestStrategiesKeepsOrder(t *testing.T) {
	got := New(&scriptedEngine{}, nil, nil, nil, quiet()).Strategies()
	want := []string{"desktop", "alternate", "anonymous"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Strategies() = %v, want %v", got, want)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeMetadata, "metadata": ModeMetadata, "url": ModeDirectURL, "direct_url": ModeDirectURL} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("stream"); err == nil {
		t.Error("expected error")
	}
}
