package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
)

// RecentDecisionLimit is how many prior decisions are shown to the generator.
const RecentDecisionLimit = 5

// PromptInput 构建决策提示所需的全部状态
type PromptInput struct {
	Portfolio models.PortfolioState
	Market    models.MarketOverview
	Analysis  models.MarketAnalysis
	Risk      risk.Assessment
	Config    risk.Config
	Recent    []models.DecisionRecord
}

// Truncate cuts s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func pct(v float64) string {
	return fmt.Sprintf("%+.2f%%", v*100)
}

// BuildDecisionPrompt renders the state summary sent to the decision generator.
func BuildDecisionPrompt(in PromptInput) string {
	var b strings.Builder
	p := in.Portfolio

	b.WriteString("## Current Portfolio\n")
	fmt.Fprintf(&b, "- Wallet: %s\n", p.Wallet)
	fmt.Fprintf(&b, "- %s Balance: %.4f\n", p.BaseSymbol, p.BaseBalance)
	fmt.Fprintf(&b, "- Wallet Value: $%.2f\n", p.WalletValueUSD)
	fmt.Fprintf(&b, "- Leveraged Value: $%.2f\n", p.PerpValueUSD)
	fmt.Fprintf(&b, "- Liquidity Value: $%.2f\n", p.LPValueUSD)
	fmt.Fprintf(&b, "- Total Portfolio: $%.2f\n", p.TotalValueUSD)
	fmt.Fprintf(&b, "- Daily P&L: $%.2f (%s)\n", p.DailyPnl, pct(p.DailyPnlPct))

	b.WriteString("\n### Token Balances\n")
	if len(p.Tokens) == 0 {
		b.WriteString("- None\n")
	}
	for _, t := range p.Tokens {
		fmt.Fprintf(&b, "- %s: %.4f ($%.2f)\n", t.Symbol, t.UIAmount, t.USDValue)
	}

	b.WriteString("\n### Open Leveraged Positions\n")
	if len(p.PerpPositions) == 0 {
		b.WriteString("- None\n")
	}
	for _, pos := range p.PerpPositions {
		fmt.Fprintf(&b, "- [%s] %s %s %.1fx | Size: %g | Entry: $%.2f | Current: $%.2f | uPnL: $%.2f (%s) | Liq: $%.2f\n",
			pos.PositionID, pos.Market, strings.ToUpper(string(pos.Side)), pos.Leverage, pos.Size,
			pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnl, pct(pos.UnrealizedPnlPct), pos.LiquidationPrice)
	}

	b.WriteString("\n### Liquidity Positions\n")
	if len(p.LPPositions) == 0 {
		b.WriteString("- None\n")
	}
	for _, lp := range p.LPPositions {
		fmt.Fprintf(&b, "- Pool %s | Value: $%.2f | Unclaimed Fees: $%.2f\n", lp.PoolAddress, lp.USDValue, lp.UnclaimedFeeUSD)
	}

	b.WriteString("\n## Market Overview\n")
	if len(in.Market.Prices) == 0 {
		b.WriteString("- No price data\n")
	}
	for _, t := range in.Market.Prices {
		fmt.Fprintf(&b, "- %s: $%.4f (%s 24h)\n", t.Symbol, t.Price, pct(t.PriceChange24hPct))
	}
	b.WriteString("\n### Top Movers (24h)\n")
	movers := in.Market.TopMovers
	if len(movers) > 5 {
		movers = movers[:5]
	}
	if len(movers) == 0 {
		b.WriteString("- None\n")
	}
	for _, t := range movers {
		fmt.Fprintf(&b, "- %s: $%.4f (%s) | Vol: $%.2fM\n", t.Symbol, t.Price, pct(t.PriceChange24hPct), t.Volume24h/1e6)
	}

	a := in.Analysis
	b.WriteString("\n## Market Analysis\n")
	fmt.Fprintf(&b, "- Sentiment: %s\n", strings.ToUpper(string(a.Sentiment)))
	fmt.Fprintf(&b, "- Summary: %s\n", a.Summary)
	writeList(&b, "Key Insights", a.KeyInsights)
	b.WriteString("\n### Opportunities\n")
	if len(a.Opportunities) == 0 {
		b.WriteString("- None\n")
	}
	for _, o := range a.Opportunities {
		fmt.Fprintf(&b, "- %s %s (confidence %.0f%%, %s term): %s\n",
			strings.ToUpper(o.Action), o.Token, o.Confidence*100, o.Timeframe, o.Reasoning)
	}
	writeList(&b, "Risks", a.Risks)

	b.WriteString("\n## Risk Assessment\n")
	if in.Risk.Allowed {
		b.WriteString("- Trading Allowed: YES\n")
	} else {
		b.WriteString("- Trading Allowed: NO\n")
		fmt.Fprintf(&b, "- Blocked By: %s\n", strings.Join(in.Risk.BlockedBy, ", "))
	}
	fmt.Fprintf(&b, "- Summary: %s\n", in.Risk.Summary)
	b.WriteString("\n### Rule Status\n")
	for _, r := range in.Risk.Results {
		status := "PASS"
		if !r.Allowed {
			status = "BLOCKED"
		}
		if r.Reason != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.RuleName, status, r.Reason)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", r.RuleName, status)
		}
	}
	c := in.Config
	b.WriteString("\n### Limits\n")
	fmt.Fprintf(&b, "- Max position size: %.0f%% of portfolio\n", c.MaxPositionSizePct*100)
	fmt.Fprintf(&b, "- Max leverage: %.1fx\n", c.MaxLeverage)
	fmt.Fprintf(&b, "- Default stop-loss: %.1f%%\n", c.PerpStopLossPct*100)
	fmt.Fprintf(&b, "- Keep at least %.4f %s in reserve\n", c.MinReserveBalance, p.BaseSymbol)

	fmt.Fprintf(&b, "\n## Recent Decisions (last %d)\n", RecentDecisionLimit)
	recent := in.Recent
	if len(recent) > RecentDecisionLimit {
		recent = recent[:RecentDecisionLimit]
	}
	if len(recent) == 0 {
		b.WriteString("- No recent decisions\n")
	}
	for _, d := range recent {
		status := "SUCCESS"
		if !d.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&b, "- [%s] %s | %s | %s\n", d.CreatedAt.UTC().Format(time.RFC3339), d.Action, status, Truncate(d.Reasoning, 100))
	}

	b.WriteString(decisionInstructions)
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "\n### %s\n", title)
	if len(items) == 0 {
		b.WriteString("- None\n")
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
}

const decisionInstructions = `
---

Decide your next action. Respond with ONLY one JSON object, no markdown and no text outside it:

{
  "action": "SPOT_SWAP" | "OPEN_LEVERAGED" | "CLOSE_LEVERAGED" | "ADJUST_LEVERAGED" | "ADD_LIQUIDITY" | "HOLD",
  "confidence": <number between 0.0 and 1.0>,
  "reasoning": "<your analysis>",
  "params": <object for the action, null for HOLD>
}

Params by action:
- SPOT_SWAP: {"inputToken": "USDT", "outputToken": "BTC", "amount": <quote value>, "slippageBps": <optional int>}
- OPEN_LEVERAGED: {"market": "BTCUSDT", "side": "long" | "short", "collateralAmount": <quote value>, "leverage": <number>, "stopLossPrice": <number>}
- CLOSE_LEVERAGED: {"positionId": "<id from the list above>", "market": "BTCUSDT"}
- ADJUST_LEVERAGED: {"positionId": "<id>", "market": "BTCUSDT", "newSize": <optional>, "newLeverage": <optional>, "newStopLossPrice": <optional>}
- ADD_LIQUIDITY: {"poolAddress": "<address>", "tokenAAmount": <number>, "tokenBAmount": <number>}

Rules:
- If trading is NOT allowed, you MUST choose HOLD.
- Every OPEN_LEVERAGED must include stopLossPrice. Stops are enforced by the agent, not the venue.
- Stay within the limits above; anything outside them is rejected before execution.
`

// BuildAnalysisPrompt renders the request for a market analysis.
func BuildAnalysisPrompt(m models.MarketOverview) string {
	var b strings.Builder
	b.WriteString("Analyze current crypto market conditions and give a concise analysis.\n\nPrices:\n")
	for _, t := range m.Prices {
		fmt.Fprintf(&b, "- %s: $%.4f (%s 24h)\n", t.Symbol, t.Price, pct(t.PriceChange24hPct))
	}
	b.WriteString("\nTop Movers (24h):\n")
	for i, t := range m.TopMovers {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "- %s: $%.4f (%s) Vol: $%.2fM\n", t.Symbol, t.Price, pct(t.PriceChange24hPct), t.Volume24h/1e6)
	}
	b.WriteString(`
Respond with ONLY a JSON object:
{
  "summary": "1-2 sentence market summary",
  "sentiment": "very_bearish|bearish|neutral|bullish|very_bullish",
  "keyInsights": ["..."],
  "opportunities": [{"token": "BTC", "action": "buy|sell|long|short|provide_liquidity", "reasoning": "...", "confidence": 0.0, "timeframe": "short|medium|long"}],
  "risks": ["..."]
}
`)
	return b.String()
}
