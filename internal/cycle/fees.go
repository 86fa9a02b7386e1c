package cycle

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// claimAndDistribute runs fee claiming and distribution once per FeeClaimInterval.
// Every failure is logged and swallowed.
func (c *DecisionCycle) claimAndDistribute(ctx context.Context, logger *zap.Logger) {
	now := c.now()
	c.mu.Lock()
	due := now.Sub(c.state.LastFeeClaim) >= c.cfg.FeeClaimInterval
	if due {
		c.state.LastFeeClaim = now
	}
	c.mu.Unlock()
	if !due {
		logger.Debug("fee claim not due yet")
		return
	}

	c.claimFees(ctx, logger)
	c.distribute(ctx, logger)
}

func (c *DecisionCycle) claimFees(ctx context.Context, logger *zap.Logger) {
	lm := c.deps.Backends.Liquidity
	if lm == nil {
		logger.Debug("no liquidity backend, skipping fee claim")
		return
	}
	ledger := c.deps.Backends.Ledger

	var before float64
	haveBefore := false
	if ledger != nil {
		b, err := ledger.Balance(ctx)
		if err != nil {
			logger.Warn("failed to read balance before claim", zap.Error(err))
		} else {
			before, haveBefore = b, true
		}
	}

	res, err := lm.ClaimFees(ctx)
	if err == nil && res == nil {
		err = errors.New("claim returned no result")
	}
	if err != nil || !res.Success {
		if err == nil {
			err = errors.New(res.Error)
		}
		logger.Error("fee claim failed, continuing cycle", zap.Error(err))
		c.recordFeeClaim(ctx, logger, &models.FeeClaim{Error: err.Error(), CreatedAt: c.now()})
		return
	}
	if res.DryRun {
		logger.Info("dry run fee claim, nothing recorded", zap.Bool("dry_run", true))
		return
	}
	if res.TxRef == "" {
		logger.Info("no fees owed")
		return
	}

	fc := &models.FeeClaim{
		PositionID:    res.PositionID,
		ClaimedAmount: res.ExecutedAmount,
		TxRef:         res.TxRef,
		Success:       true,
		CreatedAt:     c.now(),
	}
	if haveBefore {
		c.forward(ctx, logger, before, fc)
	}
	c.recordFeeClaim(ctx, logger, fc)
}

// forward sends ForwardFraction of the base-currency gained by the claim to the forward wallet.
func (c *DecisionCycle) forward(ctx context.Context, logger *zap.Logger, before float64, fc *models.FeeClaim) {
	ledger := c.deps.Backends.Ledger
	after, err := ledger.Balance(ctx)
	if err != nil {
		logger.Warn("failed to read balance after claim", zap.Error(err))
		return
	}
	delta := after - before
	if fc.ClaimedAmount == 0 && delta > 0 {
		fc.ClaimedAmount = delta
	}
	if c.cfg.ForwardWallet == "" {
		return
	}
	if delta <= c.cfg.ForwardMin {
		logger.Info("claimed delta too small to forward", zap.Float64("delta", delta))
		return
	}

	amount := delta * c.cfg.ForwardFraction
	res, err := ledger.Transfer(ctx, c.cfg.ForwardWallet, amount)
	switch {
	case err != nil:
		fc.Error = "forward: " + err.Error()
	case res == nil || !res.Success:
		fc.Error = "forward rejected"
		if res != nil && res.Error != "" {
			fc.Error = "forward: " + res.Error
		}
	default:
		fc.ForwardedAmount = amount
		fc.ForwardTxRef = res.TxRef
		logger.Info("forwarded claimed fees",
			zap.String("to", c.cfg.ForwardWallet),
			zap.Float64("delta", delta),
			zap.Float64("amount", amount),
			zap.String("tx_ref", res.TxRef),
		)
		return
	}
	logger.Error("failed to forward claimed fees", zap.String("error", fc.Error))
}

func (c *DecisionCycle) recordFeeClaim(ctx context.Context, logger *zap.Logger, fc *models.FeeClaim) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := c.detach(ctx)
	defer cancel()
	if err := c.deps.Store.InsertFeeClaim(ctx, fc); err != nil {
		logger.Error("failed to record fee claim", zap.Error(err))
	}
}

func (c *DecisionCycle) distribute(ctx context.Context, logger *zap.Logger) {
	if c.deps.Distributor == nil || !c.deps.Distributor.Configured() {
		logger.Debug("distribution not configured, skipping")
		return
	}

	res, err := c.deps.Distributor.Run(ctx)
	if err != nil {
		logger.Error("distribution failed, continuing cycle", zap.Error(err))
		return
	}
	if res == nil {
		logger.Info("no distribution needed")
		return
	}
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.InsertDistribution(ctx, &res.Run, res.Recipients); err != nil {
		logger.Error("failed to record distribution", zap.Error(err))
		return
	}
	logger.Info("distribution recorded",
		zap.Int64("id", res.Run.ID),
		zap.Int("recipients", res.Run.RecipientCount),
		zap.Float64("total", res.Run.TotalAmount),
	)
}
