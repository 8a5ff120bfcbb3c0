package processing

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"golang.org/x/net/publicsuffix"
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

// NormalizeWhitespace collapses whitespace runs to a single space and trims the result.
func NormalizeWhitespace(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// StripHTML removes markup tags. Tags that only appear once an enclosing tag is
// removed (e.g. "<<b>i>") are stripped as well.
func StripHTML(input string) string {
	for {
		out := htmlTag.ReplaceAllString(input, "")
		if out == input {
			return out
		}
		input = out
	}
}

// NormalizeTitle strips markup and squeezes whitespace.
func NormalizeTitle(input string) string {
	return NormalizeWhitespace(StripHTML(input))
}

// CanonicalizeURL returns a stable identity form of raw: lower-cased host,
// https when the scheme is missing, no trailing slash, no fragment and a
// sorted query without blank values. Unparsable input is returned trimmed.
func CanonicalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme == "" && u.Host == "" && !strings.HasPrefix(raw, "/")) {
		reparsed, rerr := url.Parse("https://" + raw)
		if rerr != nil {
			return raw
		}
		u = reparsed
	}
	if u.Opaque != "" {
		return u.String()
	}

	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	path := strings.TrimRight(u.Path, "/")
	if path == "" {
		path = "/"
	}
	if path != u.Path {
		u.Path = path
		if u.RawPath != "" {
			u.RawPath = strings.TrimRight(u.RawPath, "/")
		}
	}

	u.RawQuery = canonicalQuery(u.RawQuery)
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, _ := url.ParseQuery(raw)

	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(values))
	for key, vals := range values {
		for _, v := range vals {
			if v == "" {
				continue
			}
			pairs = append(pairs, pair{key: key, value: v})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key == pairs[j].key {
			return pairs[i].value < pairs[j].value
		}
		return pairs[i].key < pairs[j].key
	})

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, url.QueryEscape(p.key)+"="+url.QueryEscape(p.value))
	}
	return strings.Join(parts, "&")
}

// DeterministicHash joins the trimmed, non-empty parts with "|" and returns the
// SHA-256 hex digest.
func DeterministicHash(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	s := sha256.Sum256([]byte(strings.Join(kept, "|")))
	return hex.EncodeToString(s[:])
}

// ParseTimestamp parses feed and page dates in any common layout and returns
// them in UTC. Zone-less values are taken as UTC. A nil result means unknown.
func ParseTimestamp(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}

	ts, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return nil
	}
	ts = ts.UTC()
	return &ts
}

// DomainFromURL returns the registered domain (eTLD+1) of raw, falling back to
// the bare host when the public suffix list has no answer.
func DomainFromURL(raw string) string {
	u, err := url.Parse(CanonicalizeURL(raw))
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// Truncate returns at most n runes of input.
func Truncate(input string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range input {
		if count == n {
			return input[:i]
		}
		count++
	}
	return input
}
