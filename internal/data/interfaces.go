package data

import (
	"context"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// PortfolioProvider 提供组合快照。
// The returned state is always usable: on failure it is the last cached state or an
// empty portfolio, and err reports the degradation.
type PortfolioProvider interface {
	PortfolioState(ctx context.Context) (models.PortfolioState, error)
}

// MarketProvider supplies cached market data with the same fallback contract.
type MarketProvider interface {
	// MarketOverview returns watched prices and the day's top movers
	MarketOverview(ctx context.Context) (models.MarketOverview, error)

	// MarketAnalysis returns a sentiment summary derived from the overview
	MarketAnalysis(ctx context.Context) (models.MarketAnalysis, error)
}
