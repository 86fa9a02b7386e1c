package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/ai"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/utils/cache"
)

const (
	DefaultOverviewTTL = 60 * time.Second
	DefaultAnalysisTTL = 5 * time.Minute

	topMoverLimit     = 10
	topMoverMinVolume = 1_000_000
)

// Feed is the price source behind the provider.
type Feed interface {
	Tickers(ctx context.Context, symbols []string) ([]models.TokenPrice, error)
	TopMovers(ctx context.Context, limit int, minVolume float64) ([]models.TokenPrice, error)
}

type Config struct {
	Watchlist   []string
	OverviewTTL time.Duration
	AnalysisTTL time.Duration
}

// Provider implements data.MarketProvider. Results are cached; on failure the last
// value is served, or a default when there has never been one.
type Provider struct {
	feed      Feed
	completer ai.Completer // optional
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	overview *cache.InMemoryCache[string, models.MarketOverview]
	analysis *cache.InMemoryCache[string, models.MarketAnalysis]
}

const cacheKey = "market"

func NewProvider(feed Feed, completer ai.Completer, cfg Config, logger *zap.Logger) *Provider {
	if cfg.OverviewTTL <= 0 {
		cfg.OverviewTTL = DefaultOverviewTTL
	}
	if cfg.AnalysisTTL <= 0 {
		cfg.AnalysisTTL = DefaultAnalysisTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		feed:      feed,
		completer: completer,
		cfg:       cfg,
		logger:    logger.Named("market"),
		now:       time.Now,
		overview:  cache.NewInMemoryCache[string, models.MarketOverview](cfg.OverviewTTL),
		analysis:  cache.NewInMemoryCache[string, models.MarketAnalysis](cfg.AnalysisTTL),
	}
}

// MarketOverview implements data.MarketProvider
func (p *Provider) MarketOverview(ctx context.Context) (models.MarketOverview, error) {
	if v, ok := p.overview.Get(cacheKey); ok {
		return v, nil
	}

	prices, err := p.feed.Tickers(ctx, p.cfg.Watchlist)
	if err != nil {
		p.logger.Warn("failed to fetch prices", zap.Error(err))
		if stale, ok := p.overview.GetStale(cacheKey); ok {
			return stale, fmt.Errorf("serving stale overview: %w", err)
		}
		return models.EmptyMarketOverview(p.now()), fmt.Errorf("failed to fetch prices: %w", err)
	}

	movers, err := p.feed.TopMovers(ctx, topMoverLimit, topMoverMinVolume)
	if err != nil {
		p.logger.Warn("failed to fetch top movers", zap.Error(err))
		movers = []models.TokenPrice{}
	}

	overview := models.MarketOverview{Prices: prices, TopMovers: movers, Timestamp: p.now()}
	p.overview.Set(cacheKey, overview)
	return overview, nil
}

// MarketAnalysis implements data.MarketProvider
func (p *Provider) MarketAnalysis(ctx context.Context) (models.MarketAnalysis, error) {
	if v, ok := p.analysis.Get(cacheKey); ok {
		return v, nil
	}
	if p.completer == nil {
		return models.DefaultMarketAnalysis(p.now(), "No analysis model configured"), nil
	}

	a, err := p.analyze(ctx)
	if err != nil {
		p.logger.Warn("market analysis failed", zap.Error(err))
		if stale, ok := p.analysis.GetStale(cacheKey); ok {
			return stale, fmt.Errorf("serving stale analysis: %w", err)
		}
		return models.DefaultMarketAnalysis(p.now(), "Market analysis unavailable"), err
	}
	p.analysis.Set(cacheKey, a)
	return a, nil
}

func (p *Provider) analyze(ctx context.Context) (models.MarketAnalysis, error) {
	overview, err := p.MarketOverview(ctx)
	if err != nil && len(overview.Prices) == 0 {
		return models.MarketAnalysis{}, err
	}

	resp, err := p.completer.Complete(ctx, ai.SystemPrompt, ai.BuildAnalysisPrompt(overview))
	if err != nil {
		return models.MarketAnalysis{}, fmt.Errorf("failed to get analysis: %w", err)
	}
	a, err := ai.ParseAnalysis(resp)
	if err != nil {
		return models.MarketAnalysis{}, err
	}
	a.Timestamp = p.now()
	return a, nil
}
