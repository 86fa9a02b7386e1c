package cycle

import (
	"context"

	"github.com/songzhibin97/quantaguard/internal/distribution"
	"github.com/songzhibin97/quantaguard/internal/models"
)

// Store is the persistence the cycle writes to. *storage.Storage implements it.
type Store interface {
	InsertDecision(ctx context.Context, rec *models.DecisionRecord) error
	RecentDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error)

	InsertTrade(ctx context.Context, rec *models.TradeRecord) error
	TradesAfter(ctx context.Context, cursor int64) ([]models.TradeRecord, error)
	LatestTradeID(ctx context.Context) (int64, error)

	InsertPerpPosition(ctx context.Context, rec *models.PerpPositionRecord) error
	ClosePerpPosition(ctx context.Context, positionID string, c models.PositionClose) error
	UpdateStopLoss(ctx context.Context, positionID string, price float64) error

	InsertRiskEvent(ctx context.Context, ev *models.RiskEvent) error
	InsertFeeClaim(ctx context.Context, fc *models.FeeClaim) error
	InsertDistribution(ctx context.Context, run *models.DistributionRun, recipients []models.DistributionRecipient) error
}

// Distributor pays out to token holders. *distribution.Distributor implements it.
type Distributor interface {
	Configured() bool
	Run(ctx context.Context) (*distribution.Result, error)
}
