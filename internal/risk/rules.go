package risk

import (
	"fmt"
	"math"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// DefaultRules returns the six rules in their reporting order.
func DefaultRules() []Rule {
	return []Rule{
		PositionSizeRule{},
		StopLossRule{},
		LeverageCapRule{},
		DailyLossLimitRule{},
		MinReserveBalanceRule{},
		LossCooldownRule{},
	}
}

func pass(name, reason string) CheckResult {
	return CheckResult{Allowed: true, RuleName: name, Reason: reason}
}

func ptr(v float64) *float64 { return &v }

// tradeNotional extracts the quote value a decision would commit.
func tradeNotional(d models.TradeDecision) (float64, bool) {
	switch p := d.Params.(type) {
	case models.SpotSwapParams:
		return p.Amount, true
	case models.OpenLeveragedParams:
		return p.CollateralAmount, true
	case models.AddLiquidityParams:
		return p.TokenAAmount + p.TokenBAmount, true
	}
	return 0, false
}

// requestedLeverage extracts leverage from opens and adjustments.
func requestedLeverage(d models.TradeDecision) (float64, bool) {
	switch p := d.Params.(type) {
	case models.OpenLeveragedParams:
		return p.Leverage, true
	case models.AdjustLeveragedParams:
		if p.NewLeverage != nil {
			return *p.NewLeverage, true
		}
	}
	return 0, false
}

// PositionSizeRule caps a single trade at a fraction of the portfolio.
type PositionSizeRule struct{}

func (PositionSizeRule) Name() string { return RulePositionSize }

func (r PositionSizeRule) Check(p models.PortfolioState, d models.TradeDecision, cfg Config, _ Context) (CheckResult, error) {
	if d.Action == models.ActionHold {
		return pass(r.Name(), ""), nil
	}
	size, ok := tradeNotional(d)
	if !ok {
		return pass(r.Name(), "no extractable trade size"), nil
	}
	// 组合未定价时交给其他规则兜底
	if p.TotalValueUSD <= 0 {
		return pass(r.Name(), "portfolio value unknown, size check skipped"), nil
	}

	pct := size / p.TotalValueUSD
	res := CheckResult{
		Allowed:      pct <= cfg.MaxPositionSizePct,
		RuleName:     r.Name(),
		CurrentValue: ptr(pct),
		Threshold:    ptr(cfg.MaxPositionSizePct),
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("Position size %.2f%% exceeds max %.2f%%", pct*100, cfg.MaxPositionSizePct*100)
	}
	return res, nil
}

// StopLossRule requires every new leveraged position to carry a stop price.
type StopLossRule struct{}

func (StopLossRule) Name() string { return RuleStopLoss }

func (r StopLossRule) Check(_ models.PortfolioState, d models.TradeDecision, _ Config, _ Context) (CheckResult, error) {
	if d.Action != models.ActionOpenLeveraged {
		return pass(r.Name(), ""), nil
	}
	if p, ok := d.Params.(models.OpenLeveragedParams); ok && p.StopLossPrice != nil {
		return pass(r.Name(), ""), nil
	}
	return CheckResult{
		Allowed:  false,
		RuleName: r.Name(),
		Reason:   "Leveraged position requires a stop-loss price",
	}, nil
}

// LeverageCapRule bounds requested leverage.
type LeverageCapRule struct{}

func (LeverageCapRule) Name() string { return RuleLeverageCap }

func (r LeverageCapRule) Check(_ models.PortfolioState, d models.TradeDecision, cfg Config, _ Context) (CheckResult, error) {
	if d.Action != models.ActionOpenLeveraged && d.Action != models.ActionAdjustLeveraged {
		return pass(r.Name(), ""), nil
	}
	lev, ok := requestedLeverage(d)
	if !ok {
		return pass(r.Name(), ""), nil
	}
	res := CheckResult{
		Allowed:      lev <= cfg.MaxLeverage,
		RuleName:     r.Name(),
		CurrentValue: ptr(lev),
		Threshold:    ptr(cfg.MaxLeverage),
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("Leverage %.1fx exceeds max %.1fx", lev, cfg.MaxLeverage)
	}
	return res, nil
}

// DailyLossLimitRule halts trading for the rest of the day once the loss limit is reached.
// It also applies to HOLD so the pre-decision gate can trip on it.
type DailyLossLimitRule struct{}

func (DailyLossLimitRule) Name() string { return RuleDailyLossLimit }

func (r DailyLossLimitRule) Check(_ models.PortfolioState, _ models.TradeDecision, cfg Config, rc Context) (CheckResult, error) {
	loss := math.Abs(math.Min(0, rc.DailyPnlPct))
	res := CheckResult{
		Allowed:      loss < cfg.DailyLossLimitPct,
		RuleName:     r.Name(),
		CurrentValue: ptr(loss),
		Threshold:    ptr(cfg.DailyLossLimitPct),
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("Daily loss %.2f%% reached limit %.2f%%", loss*100, cfg.DailyLossLimitPct*100)
	}
	return res, nil
}

// MinReserveBalanceRule keeps enough base currency around to pay for execution.
type MinReserveBalanceRule struct{}

func (MinReserveBalanceRule) Name() string { return RuleMinReserveBalance }

func (r MinReserveBalanceRule) Check(p models.PortfolioState, d models.TradeDecision, cfg Config, _ Context) (CheckResult, error) {
	if d.Action == models.ActionHold {
		return pass(r.Name(), ""), nil
	}
	res := CheckResult{
		Allowed:      p.BaseBalance >= cfg.MinReserveBalance,
		RuleName:     r.Name(),
		CurrentValue: ptr(p.BaseBalance),
		Threshold:    ptr(cfg.MinReserveBalance),
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("Base balance %.4f below reserve %.4f", p.BaseBalance, cfg.MinReserveBalance)
	}
	return res, nil
}

// LossCooldownRule stops trading after a losing streak.
type LossCooldownRule struct{}

func (LossCooldownRule) Name() string { return RuleLossCooldown }

func (r LossCooldownRule) Check(_ models.PortfolioState, d models.TradeDecision, cfg Config, rc Context) (CheckResult, error) {
	if d.Action == models.ActionHold {
		return pass(r.Name(), ""), nil
	}
	res := CheckResult{
		Allowed:      rc.ConsecutiveLosses < cfg.CooldownAfterLosses,
		RuleName:     r.Name(),
		CurrentValue: ptr(float64(rc.ConsecutiveLosses)),
		Threshold:    ptr(float64(cfg.CooldownAfterLosses)),
	}
	if !res.Allowed {
		res.Reason = fmt.Sprintf("%d consecutive losses, cooldown after %d", rc.ConsecutiveLosses, cfg.CooldownAfterLosses)
	}
	return res, nil
}
