package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/utils/request"
)

// DefaultQuote is appended to bare token symbols to form a trading pair.
const DefaultQuote = "USDT"

type BinanceDataSource struct {
	baseURL    string
	quote      string
	httpClient *resty.Client
}

func NewBinanceDataSource() *BinanceDataSource {
	return &BinanceDataSource{
		baseURL:    "https://api.binance.com",
		quote:      DefaultQuote,
		httpClient: request.Request,
	}
}

func (b *BinanceDataSource) Name() string {
	return "binance"
}

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (t ticker24h) toTokenPrice(symbol string, now time.Time) (models.TokenPrice, error) {
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return models.TokenPrice{}, fmt.Errorf("failed to parse price: %w", err)
	}
	change, err := strconv.ParseFloat(t.PriceChange, 64)
	if err != nil {
		return models.TokenPrice{}, fmt.Errorf("failed to parse price change: %w", err)
	}
	changePct, err := strconv.ParseFloat(t.PriceChangePercent, 64)
	if err != nil {
		return models.TokenPrice{}, fmt.Errorf("failed to parse price change percent: %w", err)
	}
	volume, err := strconv.ParseFloat(t.QuoteVolume, 64)
	if err != nil {
		return models.TokenPrice{}, fmt.Errorf("failed to parse volume: %w", err)
	}
	return models.TokenPrice{
		Symbol:            symbol,
		Price:             price,
		PriceChange24h:    change,
		PriceChange24hPct: changePct / 100,
		Volume24h:         volume,
		UpdatedAt:         now,
	}, nil
}

func (b *BinanceDataSource) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := b.httpClient.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(b.baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Tickers returns 24h statistics for the given token symbols (BTC, ETH...).
func (b *BinanceDataSource) Tickers(ctx context.Context, symbols []string) ([]models.TokenPrice, error) {
	if len(symbols) == 0 {
		return []models.TokenPrice{}, nil
	}

	pairs := make([]string, 0, len(symbols))
	byPair := make(map[string]string, len(symbols))
	for _, s := range symbols {
		pair := strings.ToUpper(s) + b.quote
		pairs = append(pairs, pair)
		byPair[pair] = strings.ToUpper(s)
	}
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode symbols: %w", err)
	}

	var tickers []ticker24h
	if err := b.get(ctx, "/api/v3/ticker/24hr", map[string]string{"symbols": string(encoded)}, &tickers); err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]models.TokenPrice, 0, len(tickers))
	for _, t := range tickers {
		tp, err := t.toTokenPrice(byPair[t.Symbol], now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Symbol, err)
		}
		out = append(out, tp)
	}
	return out, nil
}

// TopMovers returns the limit quote-denominated pairs with the largest absolute 24h change,
// ignoring pairs traded below minVolume.
func (b *BinanceDataSource) TopMovers(ctx context.Context, limit int, minVolume float64) ([]models.TokenPrice, error) {
	var tickers []ticker24h
	if err := b.get(ctx, "/api/v3/ticker/24hr", nil, &tickers); err != nil {
		return nil, err
	}

	now := time.Now()
	movers := make([]models.TokenPrice, 0, limit)
	for _, t := range tickers {
		base, ok := strings.CutSuffix(t.Symbol, b.quote)
		if !ok || base == "" {
			continue
		}
		tp, err := t.toTokenPrice(base, now)
		if err != nil || tp.Volume24h < minVolume {
			continue
		}
		movers = append(movers, tp)
	}
	sort.Slice(movers, func(i, j int) bool {
		return math.Abs(movers[i].PriceChange24hPct) > math.Abs(movers[j].PriceChange24hPct)
	})
	if len(movers) > limit {
		movers = movers[:limit]
	}
	return movers, nil
}
