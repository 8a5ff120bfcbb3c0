package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/processing"
)

const (
	DefaultBinanceURL = "https://api.binance.com"
	DefaultBybitURL   = "https://api.bybit.com"
	DefaultCMCURL     = "https://pro-api.coinmarketcap.com"
)

var (
	binanceIntervals = map[string]string{"1m": "1m", "5m": "5m", "15m": "15m", "1h": "1h", "4h": "4h", "1d": "1d"}
	bybitIntervals   = map[string]string{"1m": "1", "5m": "5", "15m": "15", "1h": "60", "4h": "240", "1d": "D"}
)

// Fetcher pulls one snapshot for symbol from a single exchange.
type Fetcher interface {
	Fetch(ctx context.Context, symbol, granularity string, limit int) (models.MarketSnapshot, error)
}

type Binance struct {
	http    *httpclient.Client
	baseURL string
	now     func() time.Time
}

func NewBinance(client *httpclient.Client, baseURL string) *Binance {
	return &Binance{http: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// Fetch reads spot klines plus the 24h ticker.
func (b *Binance) Fetch(ctx context.Context, symbol, granularity string, limit int) (models.MarketSnapshot, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", binanceIntervals[granularity])
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := b.http.GetJSON(ctx, b.baseURL+"/api/v3/klines?"+q.Encode(), nil, &rows); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("binance klines: %w", err)
	}
	candles, err := parseCandles(rows)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("binance klines: %w", err)
	}

	var ticker struct {
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	tq := url.Values{}
	tq.Set("symbol", symbol)
	if err := b.http.GetJSON(ctx, b.baseURL+"/api/v3/ticker/24hr?"+tq.Encode(), nil, &ticker); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("binance ticker: %w", err)
	}

	snap := newSnapshot(string(ExchangeBinance), symbol, granularity, candles, b.now())
	snap.LastPrice = parseOptional(ticker.LastPrice)
	snap.Change24h = parseOptional(ticker.PriceChangePercent)
	return snap, nil
}

type Bybit struct {
	http    *httpclient.Client
	baseURL string
	now     func() time.Time
}

func NewBybit(client *httpclient.Client, baseURL string) *Bybit {
	return &Bybit{http: client, baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []T `json:"list"`
	} `json:"result"`
}

// Fetch reads v5 spot klines plus the ticker.
func (b *Bybit) Fetch(ctx context.Context, symbol, granularity string, limit int) (models.MarketSnapshot, error) {
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", symbol)
	q.Set("interval", bybitIntervals[granularity])
	q.Set("limit", strconv.Itoa(limit))

	var klines bybitEnvelope[[]any]
	if err := b.http.GetJSON(ctx, b.baseURL+"/v5/market/kline?"+q.Encode(), nil, &klines); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("bybit kline: %w", err)
	}
	if klines.RetCode != 0 {
		return models.MarketSnapshot{}, fmt.Errorf("bybit kline: %s (code %d)", klines.RetMsg, klines.RetCode)
	}
	candles, err := parseCandles(klines.Result.List)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("bybit kline: %w", err)
	}

	tq := url.Values{}
	tq.Set("category", "spot")
	tq.Set("symbol", symbol)
	var tickers bybitEnvelope[struct {
		LastPrice    string `json:"lastPrice"`
		Price24hPcnt string `json:"price24hPcnt"`
	}]
	if err := b.http.GetJSON(ctx, b.baseURL+"/v5/market/tickers?"+tq.Encode(), nil, &tickers); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("bybit tickers: %w", err)
	}

	snap := newSnapshot(string(ExchangeBybit), symbol, granularity, candles, b.now())
	if len(tickers.Result.List) > 0 {
		t := tickers.Result.List[0]
		snap.LastPrice = parseOptional(t.LastPrice)
		if pct := parseOptional(t.Price24hPcnt); pct != nil {
			change := *pct * 100
			snap.Change24h = &change
		}
	}
	return snap, nil
}

type CoinMarketCap struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func NewCoinMarketCap(client *httpclient.Client, baseURL, apiKey string) *CoinMarketCap {
	return &CoinMarketCap{http: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, now: time.Now}
}

type cmcQuote struct {
	Price            float64 `json:"price"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
	LastUpdated      string  `json:"last_updated"`
}

// Fetch returns a single-candle snapshot built from the latest USD quote. A
// trailing USDT is dropped from symbol.
func (c *CoinMarketCap) Fetch(ctx context.Context, symbol, granularity string, _ int) (models.MarketSnapshot, error) {
	if c.apiKey == "" {
		return models.MarketSnapshot{}, ErrMissingAPIKey
	}

	base := strings.ReplaceAll(symbol, "USDT", "")
	q := url.Values{}
	q.Set("symbol", base)
	header := http.Header{}
	header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	var resp struct {
		Data map[string]struct {
			Quote map[string]cmcQuote `json:"quote"`
		} `json:"data"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL+"/v1/cryptocurrency/quotes/latest?"+q.Encode(), header, &resp); err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("cmc quotes: %w", err)
	}

	var quote cmcQuote
	if entry, ok := resp.Data[base]; ok {
		quote = entry.Quote["USD"]
	} else {
		for _, entry := range resp.Data {
			quote = entry.Quote["USD"]
			break
		}
	}

	fetched := c.now().UTC()
	openTime := fetched
	if ts := processing.ParseTimestamp(quote.LastUpdated); ts != nil {
		openTime = *ts
	}

	price := quote.Price
	change := quote.PercentChange24h
	return models.MarketSnapshot{
		Origin:    Origin,
		Source:    string(ExchangeCMC),
		Symbol:    symbol,
		Timeframe: granularity,
		FetchedAt: fetched,
		FromTime:  openTime,
		ToTime:    openTime,
		Candles: []models.Candle{{
			OpenTime: openTime,
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   quote.Volume24h,
		}},
		LastPrice: &price,
		Change24h: &change,
	}, nil
}

func newSnapshot(source, symbol, granularity string, candles []models.Candle, now time.Time) models.MarketSnapshot {
	fetched := now.UTC()
	snap := models.MarketSnapshot{
		Origin:    Origin,
		Source:    source,
		Symbol:    symbol,
		Timeframe: granularity,
		FetchedAt: fetched,
		FromTime:  fetched,
		ToTime:    fetched,
		Candles:   candles,
	}
	if len(candles) > 0 {
		snap.FromTime = candles[0].OpenTime
		snap.ToTime = candles[len(candles)-1].OpenTime
	}
	return snap
}

// parseCandles reads [openTimeMs, open, high, low, close, volume, ...] rows in
// either numeric or string form and returns them oldest first.
func parseCandles(rows [][]any) ([]models.Candle, error) {
	candles := make([]models.Candle, 0, len(rows))
	for n, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("row %d: want at least 6 fields, got %d", n, len(row))
		}
		var vals [6]float64
		for i := range vals {
			v, err := toFloat(row[i])
			if err != nil {
				return nil, fmt.Errorf("row %d field %d: %w", n, i, err)
			}
			vals[i] = v
		}
		candles = append(candles, models.Candle{
			OpenTime: time.UnixMilli(int64(vals[0])).UTC(),
			Open:     vals[1],
			High:     vals[2],
			Low:      vals[3],
			Close:    vals[4],
			Volume:   vals[5],
		})
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
	return candles, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	case json.Number:
		return x.Float64()
	}
	return 0, fmt.Errorf("unexpected %T", v)
}

func parseOptional(raw string) *float64 {
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}
