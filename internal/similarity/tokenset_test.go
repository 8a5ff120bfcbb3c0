package similarity_test

import (
	"testing"

	"github.com/DeafMist/crypto-news-radar/internal/similarity"
	"github.com/stretchr/testify/require"
)

func TestTokenSetRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "SEC approves BTC ETF", b: "SEC approves BTC ETF", want: 100},
		{name: "reordered", a: "BTC ETF approved", b: "approved ETF BTC", want: 100},
		{name: "subset", a: "BTC ETF", b: "SEC approves BTC ETF today", want: 100},
		{name: "empty side", a: "", b: "BTC", want: 0},
		{name: "both empty", a: "", b: "", want: 0},
		{name: "disjoint", a: "abc", b: "xyz", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, similarity.TokenSetRatio(tt.a, tt.b), 0.001)
		})
	}
}

func TestTokenSetRatioPartialOverlap(t *testing.T) {
	// intersection "BTC ETF SEC", remainders "approves" / "approved by"
	got := similarity.TokenSetRatio("SEC approves BTC ETF", "BTC ETF approved by SEC")
	require.InDelta(t, 100-100*5.0/43.0, got, 0.001)
	require.Equal(t, got, similarity.TokenSetRatio("BTC ETF approved by SEC", "SEC approves BTC ETF"))
}

func TestTokenSetRatioIsCaseSensitive(t *testing.T) {
	require.Less(t, similarity.TokenSetRatio("btc etf", "BTC ETF"), 100.0)
}

func TestRatio(t *testing.T) {
	require.InDelta(t, 100, similarity.Ratio("abc", "abc"), 0.001)
	require.InDelta(t, 100, similarity.Ratio("", ""), 0.001)
	// lcs("abcd","abxd") = 3 -> distance 2 over 8
	require.InDelta(t, 75, similarity.Ratio("abcd", "abxd"), 0.001)
}
