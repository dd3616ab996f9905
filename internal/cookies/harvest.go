package cookies

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vidgrab/internal/httputil"
)

// DefaultStartURL is the page visited to obtain a session.
const DefaultStartURL = "https://www.youtube.com/"

// HTTPHarvester obtains a session by visiting the upstream home page as a
// browser would, accepting the consent interstitial when one is served.
type HTTPHarvester struct {
	Client   *http.Client
	StartURL string
}

// Harvest implements Harvester.
func (h *HTTPHarvester) Harvest(ctx context.Context) ([]Cookie, error) {
	start := h.StartURL
	if start == "" {
		start = DefaultStartURL
	}

	jar, err := newRecordingJar()
	if err != nil {
		return nil, err
	}
	client := &http.Client{Jar: jar, Timeout: 30 * time.Second}
	if h.Client != nil {
		cp := *h.Client
		cp.Jar = jar
		client = &cp
	}

	resp, err := send(ctx, client, http.MethodGet, start, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 5*1024*1024))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", start, err)
	}

	if action, values, ok := consentForm(doc, resp.Request.URL); ok {
		resp, err := send(ctx, client, http.MethodPost, action, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, fmt.Errorf("submitting consent: %w", err)
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 5*1024*1024))
		resp.Body.Close()
	}

	cookies := jar.cookies()
	if len(cookies) == 0 {
		return nil, ErrNoCredentials
	}
	return cookies, nil
}

func send(ctx context.Context, client *http.Client, method, rawURL string, body io.Reader) (*http.Response, error) {
	req, err := httputil.NewRequest(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, rawURL)
	}
	return resp, nil
}

// consentForm finds the "accept" form of a consent interstitial. Pages carry
// one form per choice; the accepting one submits set_eom=false.
func consentForm(doc *goquery.Document, base *url.URL) (string, url.Values, bool) {
	var (
		action string
		values url.Values
		found  bool
	)
	doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		act, _ := form.Attr("action")
		if !strings.Contains(act, "consent") && !strings.HasSuffix(act, "/save") {
			return true
		}
		target, err := base.Parse(act)
		if err != nil {
			return true
		}

		vals := url.Values{}
		form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			val, _ := in.Attr("value")
			vals.Add(name, val)
		})

		action, values, found = target.String(), vals, true
		// Keep looking unless this is the accepting form.
		return vals.Get("set_eom") != "false"
	})
	return action, values, found
}

// recordingJar stores cookies like a browser and remembers every cookie set,
// since http.CookieJar offers no way to enumerate its contents.
type recordingJar struct {
	*cookiejar.Jar

	mu   sync.Mutex
	seen map[string]Cookie
	keys []string
}

func newRecordingJar() (*recordingJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &recordingJar{Jar: jar, seen: make(map[string]Cookie)}, nil
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.Jar.SetCookies(u, cookies)

	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, hc := range cookies {
		c := FromHTTP(u.Hostname(), hc, now)
		key := c.Domain + "\t" + c.Path + "\t" + c.Name
		if hc.MaxAge < 0 || c.Expired(now) {
			delete(j.seen, key)
			continue
		}
		if _, ok := j.seen[key]; !ok {
			j.keys = append(j.keys, key)
		}
		j.seen[key] = c
	}
}

func (j *recordingJar) cookies() []Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Cookie, 0, len(j.seen))
	for _, k := range j.keys {
		if c, ok := j.seen[k]; ok {
			out = append(out, c)
		}
	}
	return out
}

// ImportHarvester loads cookies exported from a browser session.
type ImportHarvester struct {
	Path   string
	Domain string // keep only cookies for this domain, e.g. "youtube.com"
}

// Harvest implements Harvester.
func (h *ImportHarvester) Harvest(ctx context.Context) ([]Cookie, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cookie export: %w", err)
	}
	defer f.Close()

	all, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", h.Path, err)
	}

	now := time.Now()
	var out []Cookie
	for _, c := range all {
		if c.Expired(now) {
			continue
		}
		if !inDomain(c.Domain, h.Domain) {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, ErrNoCredentials
	}
	return out, nil
}

// inDomain reports whether cookieDomain is domain or one of its subdomains.
func inDomain(cookieDomain, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" {
		return true
	}
	cd := strings.ToLower(strings.TrimPrefix(cookieDomain, "."))
	return cd == domain || strings.HasSuffix(cd, "."+domain)
}
