package models

import "time"

// TokenPrice 单个交易对的行情
type TokenPrice struct {
	Symbol            string    `json:"symbol"`
	Price             float64   `json:"price"`
	PriceChange24h    float64   `json:"price_change_24h"`
	PriceChange24hPct float64   `json:"price_change_24h_pct"` // fraction, 0.05 = +5%
	Volume24h         float64   `json:"volume_24h"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MarketOverview 市场概览
type MarketOverview struct {
	Prices    []TokenPrice `json:"prices"`
	TopMovers []TokenPrice `json:"top_movers"`
	Timestamp time.Time    `json:"timestamp"`
}

// PriceOf returns the watched price of symbol, or 0 when it is not tracked.
func (m MarketOverview) PriceOf(symbol string) float64 {
	for _, p := range m.Prices {
		if p.Symbol == symbol {
			return p.Price
		}
	}
	return 0
}

// EmptyMarketOverview is substituted whenever the market provider has nothing to offer.
func EmptyMarketOverview(now time.Time) MarketOverview {
	return MarketOverview{
		Prices:    []TokenPrice{},
		TopMovers: []TokenPrice{},
		Timestamp: now,
	}
}

type Sentiment string

const (
	SentimentVeryBearish Sentiment = "very_bearish"
	SentimentBearish     Sentiment = "bearish"
	SentimentNeutral     Sentiment = "neutral"
	SentimentBullish     Sentiment = "bullish"
	SentimentVeryBullish Sentiment = "very_bullish"
)

// Opportunity 分析给出的交易机会
type Opportunity struct {
	Token      string  `json:"token"`
	Action     string  `json:"action"` // buy, sell, long, short, provide_liquidity
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Timeframe  string  `json:"timeframe"`
}

// MarketAnalysis 市场分析结果
type MarketAnalysis struct {
	Summary       string        `json:"summary"`
	Sentiment     Sentiment     `json:"sentiment"`
	KeyInsights   []string      `json:"keyInsights"`
	Opportunities []Opportunity `json:"opportunities"`
	Risks         []string      `json:"risks"`
	Timestamp     time.Time     `json:"timestamp"`
}

// DefaultMarketAnalysis is the neutral analysis used when none can be produced.
func DefaultMarketAnalysis(now time.Time, reason string) MarketAnalysis {
	return MarketAnalysis{
		Summary:       "Analysis unavailable",
		Sentiment:     SentimentNeutral,
		KeyInsights:   []string{},
		Opportunities: []Opportunity{},
		Risks:         []string{reason},
		Timestamp:     now,
	}
}
