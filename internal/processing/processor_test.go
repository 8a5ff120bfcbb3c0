package processing_test

import (
	"testing"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "lower host keeps path case", input: "https://WWW.CoinDesk.com/Markets/BTC", want: "https://www.coindesk.com/Markets/BTC"},
		{name: "trailing slash", input: "https://example.com/news/", want: "https://example.com/news"},
		{name: "empty path", input: "https://example.com", want: "https://example.com/"},
		{name: "root path", input: "https://example.com///", want: "https://example.com/"},
		{name: "missing scheme", input: "example.com/a/", want: "https://example.com/a"},
		{name: "drops fragment", input: "https://example.com/a#section", want: "https://example.com/a"},
		{name: "sorts query", input: "https://example.com/a?b=2&a=3&a=1", want: "https://example.com/a?a=1&a=3&b=2"},
		{name: "drops blank params", input: "https://example.com/a?utm=&x=1&flag", want: "https://example.com/a?x=1"},
		{name: "keeps http scheme", input: "http://Example.com/a", want: "http://example.com/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := processing.CanonicalizeURL(tt.input)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, processing.CanonicalizeURL(got))
		})
	}
}

func TestCanonicalizeURLIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM/Path/To/?q=a+b&z=1#frag",
		"example.com",
		"https://example.com/a%2Fb/",
		"https://example.com/?",
		"/relative/path/",
		"https://user@Example.com:8443/x/?b=&a=2",
	}
	for _, in := range inputs {
		once := processing.CanonicalizeURL(in)
		require.Equal(t, once, processing.CanonicalizeURL(once), in)
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "tags", input: "<b>Bitcoin</b> <i>surges</i>", want: "Bitcoin surges"},
		{name: "whitespace", input: "  SEC \n\t approves   ETF ", want: "SEC approves ETF"},
		{name: "nested tag remnants", input: "a <<b>i> b", want: "a b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := processing.NormalizeTitle(tt.input)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, processing.NormalizeTitle(got))
		})
	}
}

func TestDeterministicHash(t *testing.T) {
	a := processing.DeterministicHash("coindesk", "https://example.com/a", "Title")
	b := processing.DeterministicHash(" coindesk ", "https://example.com/a", "Title ")
	require.Len(t, a, 64)
	require.Equal(t, a, b)

	require.Equal(t,
		processing.DeterministicHash("x", "y"),
		processing.DeterministicHash("x", "", "  ", "y"),
	)
	require.NotEqual(t,
		processing.DeterministicHash("x", "y"),
		processing.DeterministicHash("y", "x"),
	)
}

func TestParseTimestamp(t *testing.T) {
	ts := processing.ParseTimestamp("2024-02-03T04:05:06Z")
	require.NotNil(t, ts)
	require.Equal(t, time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC), *ts)

	rss := processing.ParseTimestamp("Sat, 03 Feb 2024 04:05:06 +0100")
	require.NotNil(t, rss)
	require.Equal(t, time.Date(2024, 2, 3, 3, 5, 6, 0, time.UTC), *rss)
	require.Equal(t, time.UTC, rss.Location())

	legacy := processing.ParseTimestamp("2024-02-03 04:05:06")
	require.NotNil(t, legacy)
	require.Equal(t, 4, legacy.Hour())

	require.Nil(t, processing.ParseTimestamp(""))
	require.Nil(t, processing.ParseTimestamp("not a date"))
}

func TestDomainFromURL(t *testing.T) {
	require.Equal(t, "coindesk.com", processing.DomainFromURL("https://www.CoinDesk.com/markets"))
	require.Equal(t, "bbc.co.uk", processing.DomainFromURL("https://news.bbc.co.uk/a"))
	require.Equal(t, "", processing.DomainFromURL(""))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "héll", processing.Truncate("héllo", 4))
	require.Equal(t, "hi", processing.Truncate("hi", 10))
	require.Equal(t, "", processing.Truncate("hi", 0))
}
