// Package urlnorm turns navigation URLs into the canonical key used both as the
// classification request and as the per-tab dedup key.
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrExcluded marks a URL that never reaches classification: a non-web scheme,
// an unparsable string, or a URL without a host.
var ErrExcluded = errors.New("url excluded")

const upperhex = "0123456789ABCDEF"

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
}

// Normalize returns the canonical key for raw or an error wrapping ErrExcluded.
//
// The fragment is dropped, scheme and host are case-folded (IDN hosts become
// punycode), default ports are removed and percent-escapes in path and query
// are rewritten into a single stable form. The result is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty url", ErrExcluded)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExcluded, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[scheme]; !ok {
		return "", fmt.Errorf("%w: scheme %q", ErrExcluded, u.Scheme)
	}
	if u.Opaque != "" {
		return "", fmt.Errorf("%w: opaque url", ErrExcluded)
	}

	host := canonicalHost(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrExcluded)
	}

	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	if strings.Contains(host, ":") {
		b.WriteByte('[')
		b.WriteString(host)
		b.WriteByte(']')
	} else {
		b.WriteString(host)
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		b.WriteByte(':')
		b.WriteString(port)
	}

	path := normalizeEscapes(u.EscapedPath())
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if q := normalizeEscapes(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

func canonicalHost(h string) string {
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	if h == "" {
		return ""
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.String()
	}
	// Hosts idna refuses (underscores, odd labels) keep their lower-cased form.
	if ascii, err := idna.Lookup.ToASCII(h); err == nil && ascii != "" {
		return ascii
	}
	return h
}

// normalizeEscapes decodes escapes of unreserved characters, upper-cases the
// hex of every other escape and escapes bytes that may not appear raw.
func normalizeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]):
			v := unhex(s[i+1])<<4 | unhex(s[i+2])
			if unreserved(v) {
				b.WriteByte(v)
			} else {
				writeEscape(&b, v)
			}
			i += 2
		case c == '%' || c <= 0x20 || c >= 0x7f:
			writeEscape(&b, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func writeEscape(b *strings.Builder, c byte) {
	b.WriteByte('%')
	b.WriteByte(upperhex[c>>4])
	b.WriteByte(upperhex[c&15])
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
