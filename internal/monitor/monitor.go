package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/data/storage"
	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading"
)

const (
	TriggerOperatorStop = "operator_stop"
	TriggerDefaultPct   = "default_pct"
)

// PositionStore is the persisted side of leveraged positions.
type PositionStore interface {
	OpenPerpPosition(ctx context.Context, positionID string) (*models.PerpPositionRecord, error)
	ClosePerpPosition(ctx context.Context, positionID string, c models.PositionClose) error
	InsertTrade(ctx context.Context, rec *models.TradeRecord) error
	InsertRiskEvent(ctx context.Context, ev *models.RiskEvent) error
}

// ConfigSource supplies the active risk thresholds.
type ConfigSource interface {
	Config() risk.Config
}

// PositionMonitor force-closes leveraged positions that breach their stop.
// It never runs trades of its own beyond those closes.
type PositionMonitor struct {
	trader trading.LeveragedTrader
	store  PositionStore // optional
	risk   ConfigSource
	logger *zap.Logger
	now    func() time.Time
}

func NewPositionMonitor(trader trading.LeveragedTrader, store PositionStore, cfg ConfigSource, logger *zap.Logger) *PositionMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionMonitor{
		trader: trader,
		store:  store,
		risk:   cfg,
		logger: logger.Named("position-monitor"),
		now:    time.Now,
	}
}

// Trigger describes why a position must be closed.
type Trigger struct {
	Kind      string
	Current   float64
	Threshold float64
	Reason    string
}

// Evaluate decides whether pos breaches its stop. An operator stop price takes
// precedence over the default percentage stop.
func Evaluate(pos models.PerpPosition, stopPrice *float64, stopLossPct float64) (Trigger, bool) {
	if stopPrice != nil && *stopPrice > 0 {
		stop := *stopPrice
		hit := (pos.Side == models.SideLong && pos.CurrentPrice <= stop) ||
			(pos.Side == models.SideShort && pos.CurrentPrice >= stop)
		if !hit {
			return Trigger{}, false
		}
		return Trigger{
			Kind:      TriggerOperatorStop,
			Current:   pos.CurrentPrice,
			Threshold: stop,
			Reason:    fmt.Sprintf("%s %s price %.4f crossed stop-loss %.4f", pos.Market, pos.Side, pos.CurrentPrice, stop),
		}, true
	}

	pnlPct := pos.PnlPct()
	if stopLossPct <= 0 || pnlPct > -stopLossPct {
		return Trigger{}, false
	}
	return Trigger{
		Kind:      TriggerDefaultPct,
		Current:   pnlPct,
		Threshold: -stopLossPct,
		Reason:    fmt.Sprintf("%s %s P&L %.2f%% breached stop-loss -%.2f%%", pos.Market, pos.Side, pnlPct*100, stopLossPct*100),
	}, true
}

// Tick scans every open position once and returns how many were closed.
// An unavailable backend makes the tick a no-op.
func (m *PositionMonitor) Tick(ctx context.Context) int {
	if m.trader == nil {
		return 0
	}
	positions, err := m.trader.OpenPositions(ctx)
	if err != nil {
		m.logger.Warn("position list unavailable, skipping tick", zap.Error(err))
		return 0
	}

	stopLossPct := m.risk.Config().PerpStopLossPct
	closed := 0
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("tick cancelled", zap.Error(err))
			break
		}
		ok, err := m.check(ctx, pos, stopLossPct)
		if err != nil {
			m.logger.Error("position check failed",
				zap.String("position_id", pos.PositionID),
				zap.Error(err),
			)
			continue
		}
		if ok {
			closed++
		}
	}
	return closed
}

func (m *PositionMonitor) operatorStop(ctx context.Context, positionID string) *float64 {
	if m.store == nil {
		return nil
	}
	rec, err := m.store.OpenPerpPosition(ctx, positionID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("failed to load position record", zap.String("position_id", positionID), zap.Error(err))
		}
		return nil
	}
	return rec.StopLossPrice
}

func (m *PositionMonitor) check(ctx context.Context, pos models.PerpPosition, stopLossPct float64) (bool, error) {
	trigger, hit := Evaluate(pos, m.operatorStop(ctx, pos.PositionID), stopLossPct)
	if !hit {
		return false, nil
	}

	m.logger.Warn("stop-loss triggered",
		zap.String("position_id", pos.PositionID),
		zap.String("trigger", trigger.Kind),
		zap.Float64("current", trigger.Current),
		zap.Float64("threshold", trigger.Threshold),
	)

	res, err := m.trader.ClosePosition(ctx, models.CloseLeveragedParams{PositionID: pos.PositionID, Market: pos.Market})
	if err == nil && (res == nil || !res.Success) {
		err = errors.New("close rejected")
		if res != nil && res.Error != "" {
			err = errors.New(res.Error)
		}
	}
	if err != nil {
		metrics.RecordStopLoss(trigger.Kind, "close_failed")
		m.recordEvent(ctx, trigger, "CLOSE_FAILED", fmt.Sprintf("%s: %v", trigger.Reason, err))
		return false, fmt.Errorf("failed to close position: %w", err)
	}

	if res.DryRun {
		metrics.RecordStopLoss(trigger.Kind, "dry_run")
		m.logger.Info("dry run close, position records unchanged", zap.String("position_id", pos.PositionID))
		return true, nil
	}

	metrics.RecordStopLoss(trigger.Kind, "closed")
	m.persistClose(ctx, pos, trigger, res)
	return true, nil
}

func (m *PositionMonitor) persistClose(ctx context.Context, pos models.PerpPosition, trigger Trigger, res *models.TradeResult) {
	if m.store == nil {
		return
	}

	exit := res.ExecutedPrice
	if exit <= 0 {
		exit = pos.CurrentPrice
	}
	pnl := pos.UnrealizedPnl
	if res.RealizedPnl != nil {
		pnl = *res.RealizedPnl
	}
	now := m.now()

	err := m.store.ClosePerpPosition(ctx, pos.PositionID, models.PositionClose{
		Status:      models.PositionClosed,
		ExitPrice:   exit,
		RealizedPnl: pnl,
		TxRef:       res.TxRef,
		ClosedAt:    now,
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error("failed to close position record", zap.String("position_id", pos.PositionID), zap.Error(err))
	}

	trade := &models.TradeRecord{
		Source:    models.SourceStopLoss,
		Action:    models.ActionCloseLeveraged,
		Market:    pos.Market,
		Side:      string(pos.Side),
		Amount:    pos.Size,
		Price:     exit,
		Pnl:       &pnl,
		TxRef:     res.TxRef,
		Success:   true,
		CreatedAt: now,
	}
	if err := m.store.InsertTrade(ctx, trade); err != nil {
		m.logger.Error("failed to record stop-loss trade", zap.String("position_id", pos.PositionID), zap.Error(err))
	}

	m.recordEvent(ctx, trigger, string(models.ActionCloseLeveraged), trigger.Reason)
}

func (m *PositionMonitor) recordEvent(ctx context.Context, trigger Trigger, action, details string) {
	if m.store == nil {
		return
	}
	current, threshold := trigger.Current, trigger.Threshold
	ev := &models.RiskEvent{
		RuleName:     risk.RuleStopLoss,
		Triggered:    true,
		Details:      details,
		CurrentValue: &current,
		Threshold:    &threshold,
		Action:       action,
		CreatedAt:    m.now(),
	}
	if err := m.store.InsertRiskEvent(ctx, ev); err != nil {
		m.logger.Error("failed to record risk event", zap.Error(err))
	}
}
