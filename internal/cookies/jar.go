package cookies

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header is written at the top of every jar file. Extraction engines look
// for it before accepting the file.
const Header = "# Netscape HTTP Cookie File"

const httpOnlyPrefix = "#HttpOnly_"

// Netscape columns: domain, subdomains flag, path, secure, expiry, name, value
const numColumns = 7

// Cookie is one record of a Netscape cookie jar.
type Cookie struct {
	Domain            string
	IncludeSubdomains bool // second column; TRUE lets subdomains see the cookie
	Path              string
	Secure            bool
	Expires           int64 // Unix seconds, 0 for session cookies
	Name              string
	Value             string
	HttpOnly          bool // encoded as a #HttpOnly_ domain prefix
}

// Expired reports whether the cookie has a past expiry.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires < now.Unix()
}

// Matches reports whether the cookie would be sent to host.
func (c Cookie) Matches(host string) bool {
	domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	host = strings.ToLower(host)
	if host == domain {
		return true
	}
	return c.IncludeSubdomains && strings.HasSuffix(host, "."+domain)
}

// Parse reads a Netscape cookie jar. Comment and blank lines are skipped;
// malformed lines are an error so that a corrupt jar is never half-used.
func Parse(r io.Reader) ([]Cookie, error) {
	var out []Cookie
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "#") && !strings.HasPrefix(line, httpOnlyPrefix) {
			continue
		}

		c, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		out = append(out, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading cookie jar: %w", err)
	}
	return out, nil
}

// Write emits the header followed by one line per cookie.
func Write(w io.Writer, cookies []Cookie) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Header + "\n\n"); err != nil {
		return err
	}
	for _, c := range cookies {
		if _, err := bw.WriteString(formatLine(c) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func parseLine(line string) (Cookie, error) {
	fields := strings.Split(line, "\t")
	// Some exporters drop the trailing tab of an empty value.
	if len(fields) == numColumns-1 {
		fields = append(fields, "")
	}
	if len(fields) != numColumns {
		return Cookie{}, fmt.Errorf("expected %d columns, got %d", numColumns, len(fields))
	}

	c := Cookie{
		Domain: fields[0],
		Path:   fields[2],
		Name:   fields[5],
		Value:  fields[6],
	}
	if strings.HasPrefix(c.Domain, httpOnlyPrefix) {
		c.HttpOnly = true
		c.Domain = strings.TrimPrefix(c.Domain, httpOnlyPrefix)
	}
	if c.Domain == "" {
		return Cookie{}, fmt.Errorf("empty domain")
	}

	var err error
	if c.IncludeSubdomains, err = parseFlag(fields[1]); err != nil {
		return Cookie{}, fmt.Errorf("subdomains flag: %w", err)
	}
	if c.Secure, err = parseFlag(fields[3]); err != nil {
		return Cookie{}, fmt.Errorf("secure flag: %w", err)
	}
	if c.Expires, err = strconv.ParseInt(fields[4], 10, 64); err != nil {
		return Cookie{}, fmt.Errorf("expiry %q: %w", fields[4], err)
	}
	return c, nil
}

func formatLine(c Cookie) string {
	domain := c.Domain
	if c.HttpOnly {
		domain = httpOnlyPrefix + domain
	}
	return strings.Join([]string{
		domain,
		formatFlag(c.IncludeSubdomains),
		c.Path,
		formatFlag(c.Secure),
		strconv.FormatInt(c.Expires, 10),
		c.Name,
		c.Value,
	}, "\t")
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("want TRUE or FALSE, got %q", s)
}

func formatFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// FromHTTP converts a Set-Cookie observed on a response from host.
func FromHTTP(host string, hc *http.Cookie, now time.Time) Cookie {
	c := Cookie{
		Domain:   hc.Domain,
		Path:     hc.Path,
		Secure:   hc.Secure,
		Name:     hc.Name,
		Value:    hc.Value,
		HttpOnly: hc.HttpOnly,
	}
	if c.Domain == "" {
		c.Domain = host
	} else {
		// A Domain attribute always covers subdomains.
		c.IncludeSubdomains = true
		if !strings.HasPrefix(c.Domain, ".") {
			c.Domain = "." + c.Domain
		}
	}
	if c.Path == "" {
		c.Path = "/"
	}
	switch {
	case hc.MaxAge > 0:
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second).Unix()
	case !hc.Expires.IsZero():
		c.Expires = hc.Expires.Unix()
	}
	return c
}

// HeaderValue renders cookies matching host as a Cookie request header.
func HeaderValue(cookies []Cookie, host string, now time.Time) string {
	var parts []string
	for _, c := range cookies {
		if c.Matches(host) && !c.Expired(now) {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; ")
}
