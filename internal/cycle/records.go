package cycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/data/storage"
	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

func marshal(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// detach gives a write its own deadline, so a cycle that ran out of time
// still leaves its records.
func (c *DecisionCycle) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.PersistTimeout)
}

// persistDecision writes the one decision record of the cycle. A failed write
// is logged; the cycle still completes.
func (c *DecisionCycle) persistDecision(ctx context.Context, r *run, d models.TradeDecision, a risk.Assessment, res *models.TradeResult) {
	rec := &models.DecisionRecord{
		CycleID:    r.id,
		Action:     d.Action,
		Confidence: d.Confidence,
		Reasoning:  d.Reasoning,
		Portfolio:  marshal(r.portfolio),
		Market:     marshal(r.market),
		Risk:       marshal(a),
		Success:    res.Success,
		TxRef:      res.TxRef,
		Error:      res.Error,
		DryRun:     res.DryRun,
		CreatedAt:  c.now(),
	}
	if d.Params != nil {
		rec.Params = marshal(d.Params)
	}
	metrics.RecordDecision(string(d.Action), rec.Success)

	if c.deps.Store == nil {
		r.logger.Warn("no store configured, decision not persisted")
		return
	}
	ctx, cancel := c.detach(ctx)
	defer cancel()
	if err := c.deps.Store.InsertDecision(ctx, rec); err != nil {
		r.logger.Error("failed to persist decision", zap.Error(err))
		return
	}
	r.logger.Debug("decision persisted", zap.Int64("id", rec.ID))
}

func (c *DecisionCycle) recordRiskEvents(ctx context.Context, r *run, a risk.Assessment, gate, action string) {
	ctx, cancel := c.detach(ctx)
	defer cancel()
	for _, b := range a.Blocked() {
		metrics.RecordRiskBlock(b.RuleName, gate)
		if c.deps.Store == nil {
			continue
		}
		ev := &models.RiskEvent{
			CycleID:      r.id,
			RuleName:     b.RuleName,
			Triggered:    true,
			Details:      b.Reason,
			CurrentValue: b.CurrentValue,
			Threshold:    b.Threshold,
			Action:       action,
			CreatedAt:    c.now(),
		}
		if err := c.deps.Store.InsertRiskEvent(ctx, ev); err != nil {
			r.logger.Error("failed to record risk event", zap.String("rule", b.RuleName), zap.Error(err))
		}
	}
}

// tradeFields extracts market, side and amount for the trade log.
func tradeFields(d models.TradeDecision) (market, side string, amount float64) {
	switch p := d.Params.(type) {
	case models.SpotSwapParams:
		return strings.ToUpper(p.InputToken) + "/" + strings.ToUpper(p.OutputToken), "swap", p.Amount
	case models.OpenLeveragedParams:
		return p.Market, string(p.Side), p.CollateralAmount * p.Leverage
	case models.CloseLeveragedParams:
		return firstNonEmpty(p.Market, p.PositionID), "close", 0
	case models.AdjustLeveragedParams:
		if p.NewSize != nil {
			amount = *p.NewSize
		}
		return firstNonEmpty(p.Market, p.PositionID), "adjust", amount
	case models.AddLiquidityParams:
		return p.PoolAddress, "provide", p.TokenAAmount + p.TokenBAmount
	}
	return "", "", 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// persistExecution writes the trade row and keeps perp position records in step.
func (c *DecisionCycle) persistExecution(ctx context.Context, r *run, d models.TradeDecision, res *models.TradeResult) {
	if c.deps.Store == nil {
		r.keepPnl(res)
		return
	}
	ctx, cancel := c.detach(ctx)
	defer cancel()

	market, side, amount := tradeFields(d)
	if res.ExecutedAmount > 0 {
		amount = res.ExecutedAmount
	}
	trade := &models.TradeRecord{
		CycleID:   r.id,
		Source:    models.SourceDecision,
		Action:    d.Action,
		Market:    market,
		Side:      side,
		Amount:    amount,
		Price:     res.ExecutedPrice,
		Pnl:       res.RealizedPnl,
		TxRef:     res.TxRef,
		Success:   res.Success,
		Error:     res.Error,
		DryRun:    res.DryRun,
		CreatedAt: c.now(),
	}
	if err := c.deps.Store.InsertTrade(ctx, trade); err != nil {
		r.logger.Error("failed to record trade", zap.Error(err))
		// replay cannot see this trade, account for it directly
		r.keepPnl(res)
	}

	if !res.Success || res.DryRun {
		return
	}
	if err := c.syncPerpRecord(ctx, d, res); err != nil {
		r.logger.Error("failed to update position record", zap.String("action", string(d.Action)), zap.Error(err))
	}
}

func (r *run) keepPnl(res *models.TradeResult) {
	if res.Success && !res.DryRun && res.RealizedPnl != nil {
		r.pendingPnl = res.RealizedPnl
	}
}

func (c *DecisionCycle) syncPerpRecord(ctx context.Context, d models.TradeDecision, res *models.TradeResult) error {
	switch p := d.Params.(type) {
	case models.OpenLeveragedParams:
		rec := &models.PerpPositionRecord{
			PositionID:    firstNonEmpty(res.PositionID, p.Market+":"+string(p.Side)),
			Market:        p.Market,
			Side:          p.Side,
			Size:          res.ExecutedAmount,
			Leverage:      p.Leverage,
			EntryPrice:    res.ExecutedPrice,
			StopLossPrice: p.StopLossPrice,
			Status:        models.PositionOpen,
			OpenTxRef:     res.TxRef,
			OpenedAt:      c.now(),
		}
		return c.deps.Store.InsertPerpPosition(ctx, rec)

	case models.AdjustLeveragedParams:
		if p.NewStopLossPrice == nil {
			return nil
		}
		err := c.deps.Store.UpdateStopLoss(ctx, firstNonEmpty(res.PositionID, p.PositionID), *p.NewStopLossPrice)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err

	case models.CloseLeveragedParams:
		var pnl float64
		if res.RealizedPnl != nil {
			pnl = *res.RealizedPnl
		}
		err := c.deps.Store.ClosePerpPosition(ctx, firstNonEmpty(res.PositionID, p.PositionID), models.PositionClose{
			Status:      models.PositionClosed,
			ExitPrice:   res.ExecutedPrice,
			RealizedPnl: pnl,
			TxRef:       res.TxRef,
			ClosedAt:    c.now(),
		})
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// syncTradeResults folds every realized trade persisted since the cursor into
// the risk context, stop-loss closes included. It is the only caller of
// RecordTradeResult, so each trade is counted once.
func (c *DecisionCycle) syncTradeResults(ctx context.Context, r *run) {
	value := r.portfolio.TotalValueUSD

	if r.pendingPnl != nil {
		c.deps.Risk.RecordTradeResult(*r.pendingPnl, value)
	}

	if c.deps.Store != nil {
		c.mu.Lock()
		cursor := c.state.TradeCursor
		c.mu.Unlock()

		ctx, cancel := c.detach(ctx)
		trades, err := c.deps.Store.TradesAfter(ctx, cursor)
		cancel()
		if err != nil {
			r.logger.Warn("failed to load trades for risk accounting", zap.Int64("cursor", cursor), zap.Error(err))
		}
		for _, t := range trades {
			if t.Pnl != nil {
				c.deps.Risk.RecordTradeResult(*t.Pnl, value)
			}
			if t.ID > cursor {
				cursor = t.ID
			}
		}

		c.mu.Lock()
		c.state.TradeCursor = cursor
		c.mu.Unlock()
	}

	snap := c.deps.Risk.Snapshot()
	metrics.UpdateRiskContext(snap.DailyPnlPct, snap.ConsecutiveLosses)
}
