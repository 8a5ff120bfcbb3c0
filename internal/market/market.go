// Package market fetches candle and ticker snapshots from crypto exchanges
// and stores them for later analysis.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DeafMist/crypto-news-radar/internal/httpclient"
	"github.com/DeafMist/crypto-news-radar/internal/models"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

const Origin = "crypto-news-radar"

// Exchange names a supported market data provider.
type Exchange string

const (
	ExchangeBinance Exchange = "binance"
	ExchangeBybit   Exchange = "bybit"
	ExchangeCMC     Exchange = "cmc"
)

const (
	DefaultLimit    = 200
	MaxLimit        = 1000
	minSymbolLength = 3
)

var (
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrInvalidRequest      = errors.New("invalid market request")
	ErrMissingAPIKey       = errors.New("CMC_API_KEY must be configured")
)

var granularities = map[string]struct{}{"1m": {}, "5m": {}, "15m": {}, "1h": {}, "4h": {}, "1d": {}}

type Request struct {
	Exchanges   []string `json:"exchanges"`
	Symbols     []string `json:"symbols"`
	Granularity string   `json:"granularity"`
	Limit       int      `json:"limit,omitempty"`
}

type Response struct {
	Origin    string                  `json:"origin"`
	Snapshots []models.MarketSnapshot `json:"snapshots"`
}

// Service fans a request out over exchanges and symbols.
type Service struct {
	fetchers map[Exchange]Fetcher
	store    storage.Store
	log      *slog.Logger
}

func NewService(store storage.Store, logger *slog.Logger, fetchers map[Exchange]Fetcher) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{fetchers: fetchers, store: store, log: logger}
}

// Fetch returns one snapshot per exchange and symbol, in request order. Any
// fetch error fails the request; storage errors are only logged.
func (s *Service) Fetch(ctx context.Context, req Request) (Response, error) {
	exchanges, limit, err := s.validate(req)
	if err != nil {
		return Response{}, err
	}

	snapshots := make([]models.MarketSnapshot, 0, len(exchanges)*len(req.Symbols))
	for _, ex := range exchanges {
		for _, symbol := range req.Symbols {
			snap, err := s.fetchers[ex].Fetch(ctx, symbol, req.Granularity, limit)
			if err != nil {
				return Response{}, err
			}
			snapshots = append(snapshots, snap)
			s.persist(ctx, ex, symbol, snap)
		}
	}
	return Response{Origin: Origin, Snapshots: snapshots}, nil
}

func (s *Service) validate(req Request) ([]Exchange, int, error) {
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, 0, fmt.Errorf("%w: limit must be within 1..%d", ErrInvalidRequest, MaxLimit)
	}
	if _, ok := granularities[req.Granularity]; !ok {
		return nil, 0, fmt.Errorf("%w: granularity must be one of 1m,5m,15m,1h,4h,1d", ErrInvalidRequest)
	}
	for _, symbol := range req.Symbols {
		if len(strings.TrimSpace(symbol)) < minSymbolLength {
			return nil, 0, fmt.Errorf("%w: symbol %q is too short", ErrInvalidRequest, symbol)
		}
	}

	exchanges := make([]Exchange, 0, len(req.Exchanges))
	for _, name := range req.Exchanges {
		ex := Exchange(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := s.fetchers[ex]; !ok {
			return nil, 0, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, limit, nil
}

func (s *Service) persist(ctx context.Context, ex Exchange, symbol string, snap models.MarketSnapshot) {
	key := storage.MarketKey(string(ex), symbol, snap.FetchedAt)
	if err := storage.PutJSON(ctx, s.store, key, snap, snap.FetchedAt, storage.DefaultTTLDays); err != nil {
		s.log.Warn("store snapshot failed",
			slog.String("exchange", string(ex)),
			slog.String("symbol", symbol),
			slog.String("key", key),
			slog.Any("err", err),
		)
	}
}

// DefaultFetchers wires every exchange against its public API.
func DefaultFetchers(client *httpclient.Client, cmcAPIKey string) map[Exchange]Fetcher {
	return map[Exchange]Fetcher{
		ExchangeBinance: NewBinance(client, DefaultBinanceURL),
		ExchangeBybit:   NewBybit(client, DefaultBybitURL),
		ExchangeCMC:     NewCoinMarketCap(client, DefaultCMCURL, cmcAPIKey),
	}
}
