package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/data"
	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
)

type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error
}

// Snapshotter periodically stores the portfolio value. The first row of a day
// is the baseline for daily P&L.
type Snapshotter struct {
	portfolio data.PortfolioProvider
	store     SnapshotStore
	logger    *zap.Logger
	now       func() time.Time
}

func NewSnapshotter(portfolio data.PortfolioProvider, store SnapshotStore, logger *zap.Logger) *Snapshotter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshotter{
		portfolio: portfolio,
		store:     store,
		logger:    logger.Named("snapshot"),
		now:       time.Now,
	}
}

// Run stores one snapshot. A degraded portfolio read is not stored, a stale
// value would skew the day's baseline.
func (s *Snapshotter) Run(ctx context.Context) error {
	if s.portfolio == nil || s.store == nil {
		return errors.New("snapshot needs a portfolio provider and a store")
	}
	state, err := s.portfolio.PortfolioState(ctx)
	if err != nil {
		return fmt.Errorf("failed to read portfolio: %w", err)
	}

	snap := &models.PortfolioSnapshot{
		TotalValueUSD:  state.TotalValueUSD,
		WalletValueUSD: state.WalletValueUSD,
		PerpValueUSD:   state.PerpValueUSD,
		LPValueUSD:     state.LPValueUSD,
		BaseBalance:    state.BaseBalance,
		DailyPnl:       state.DailyPnl,
		DailyPnlPct:    state.DailyPnlPct,
		State:          marshal(state),
		CreatedAt:      s.now(),
	}
	if err := s.store.InsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	metrics.UpdatePortfolioValue(state.TotalValueUSD)

	s.logger.Info("portfolio snapshot stored",
		zap.Int64("id", snap.ID),
		zap.Float64("total_value_usd", snap.TotalValueUSD),
		zap.Float64("daily_pnl_pct", snap.DailyPnlPct),
	)
	return nil
}
