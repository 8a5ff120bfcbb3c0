package models

import "time"

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// MarketSnapshot is the stored result of one exchange/symbol fetch.
type MarketSnapshot struct {
	Origin    string    `json:"origin"`
	Source    string    `json:"source"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	FetchedAt time.Time `json:"fetched_at"`
	FromTime  time.Time `json:"from_time"`
	ToTime    time.Time `json:"to_time"`
	Candles   []Candle  `json:"candles"`
	LastPrice *float64  `json:"last_price,omitempty"`
	Change24h *float64  `json:"change_24h,omitempty"`
}
