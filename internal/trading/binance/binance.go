package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// quoteAssets are treated as the cash leg of a spot swap.
var quoteAssets = []string{"USDT", "USDC", "FDUSD"}

// BinanceExecutor implements trading.SpotTrader and trading.LeveragedTrader.
// Orders are never retried here; a failed order surfaces as an unsuccessful result.
type BinanceExecutor struct {
	client  *binance.Client
	futures *futures.Client

	mu        sync.Mutex // serialises order placement
	precision sync.Map   // futures symbol -> quantity precision
}

// NewBinanceExecutor creates a new BinanceExecutor instance
func NewBinanceExecutor(apiKey, secretKey string, debug ...bool) *BinanceExecutor {
	debug = append(debug, false)
	if debug[0] {
		binance.UseTestnet = true
		futures.UseTestnet = true
	}

	return &BinanceExecutor{
		client:  binance.NewClient(apiKey, secretKey),
		futures: binance.NewFuturesClient(apiKey, secretKey),
	}
}

// PositionID identifies a one-way-mode futures position.
func PositionID(symbol string, side models.PositionSide) string {
	return symbol + ":" + string(side)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func isQuote(asset string) bool {
	for _, q := range quoteAssets {
		if strings.EqualFold(q, asset) {
			return true
		}
	}
	return false
}

// spotOrder maps a swap onto a market order. Amount is always the quote value.
func spotOrder(p models.SpotSwapParams) (symbol string, side binance.SideType, err error) {
	in, out := strings.ToUpper(p.InputToken), strings.ToUpper(p.OutputToken)
	switch {
	case isQuote(in) && !isQuote(out):
		return out + in, binance.SideTypeBuy, nil
	case isQuote(out) && !isQuote(in):
		return in + out, binance.SideTypeSell, nil
	}
	return "", "", fmt.Errorf("unsupported swap pair %s -> %s", p.InputToken, p.OutputToken)
}

// Swap implements trading.SpotTrader
func (b *BinanceExecutor) Swap(ctx context.Context, p models.SpotSwapParams) (*models.TradeResult, error) {
	symbol, side, err := spotOrder(p)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	order, err := b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(formatFloat(p.Amount)).
		Do(ctx)
	if err != nil {
		return models.Failed(fmt.Errorf("failed to place order: %w", err)), nil
	}

	qty := parseFloat(order.ExecutedQuantity)
	quote := parseFloat(order.CummulativeQuoteQuantity)
	res := &models.TradeResult{
		Success:        order.Status == binance.OrderStatusTypeFilled || order.Status == binance.OrderStatusTypePartiallyFilled,
		TxRef:          strconv.FormatInt(order.OrderID, 10),
		ExecutedAmount: qty,
	}
	if qty > 0 {
		res.ExecutedPrice = quote / qty
	}
	if !res.Success {
		res.Error = fmt.Sprintf("order status %s", order.Status)
	}
	return res, nil
}

// Balances returns free spot balances keyed by asset.
func (b *BinanceExecutor) Balances(ctx context.Context) (map[string]float64, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account info: %w", err)
	}

	out := make(map[string]float64)
	for _, balance := range account.Balances {
		total := parseFloat(balance.Free) + parseFloat(balance.Locked)
		if total > 0 {
			out[balance.Asset] = total
		}
	}
	return out, nil
}

// SpotPrices returns last prices for all spot symbols.
func (b *BinanceExecutor) SpotPrices(ctx context.Context) (map[string]float64, error) {
	prices, err := b.client.NewListPricesService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list prices: %w", err)
	}
	out := make(map[string]float64, len(prices))
	for _, p := range prices {
		out[p.Symbol] = parseFloat(p.Price)
	}
	return out, nil
}

func (b *BinanceExecutor) quantityPrecision(ctx context.Context, symbol string) (int, error) {
	if v, ok := b.precision.Load(symbol); ok {
		return v.(int), nil
	}
	info, err := b.futures.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		b.precision.Store(s.Symbol, s.QuantityPrecision)
	}
	if v, ok := b.precision.Load(symbol); ok {
		return v.(int), nil
	}
	return 0, fmt.Errorf("unknown futures symbol %s", symbol)
}

func (b *BinanceExecutor) markPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.futures.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get price: %w", err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

// roundDown truncates qty to precision decimals.
func roundDown(qty float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Floor(qty*p) / p
}

func (b *BinanceExecutor) marketOrder(ctx context.Context, symbol string, side futures.SideType, qty float64, reduceOnly bool) (*futures.CreateOrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.futures.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatFloat(qty)).
		ReduceOnly(reduceOnly).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
}

func orderResult(order *futures.CreateOrderResponse) *models.TradeResult {
	return &models.TradeResult{
		Success:        true,
		TxRef:          strconv.FormatInt(order.OrderID, 10),
		ExecutedPrice:  parseFloat(order.AvgPrice),
		ExecutedAmount: parseFloat(order.ExecutedQuantity),
	}
}

func openSide(side models.PositionSide) futures.SideType {
	if side == models.SideShort {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func closeSide(side models.PositionSide) futures.SideType {
	if side == models.SideShort {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

// OpenPosition implements trading.LeveragedTrader
func (b *BinanceExecutor) OpenPosition(ctx context.Context, p models.OpenLeveragedParams) (*models.TradeResult, error) {
	if _, err := b.futures.NewChangeLeverageService().Symbol(p.Market).Leverage(int(p.Leverage)).Do(ctx); err != nil {
		return models.Failed(fmt.Errorf("failed to set leverage: %w", err)), nil
	}

	price, err := b.markPrice(ctx, p.Market)
	if err != nil {
		return nil, err
	}
	precision, err := b.quantityPrecision(ctx, p.Market)
	if err != nil {
		return nil, err
	}
	qty := roundDown(p.CollateralAmount*p.Leverage/price, precision)
	if qty <= 0 {
		return models.Failed(fmt.Errorf("position size rounds to zero for %s", p.Market)), nil
	}

	order, err := b.marketOrder(ctx, p.Market, openSide(p.Side), qty, false)
	if err != nil {
		return models.Failed(fmt.Errorf("failed to open position: %w", err)), nil
	}
	res := orderResult(order)
	res.PositionID = PositionID(p.Market, p.Side)
	return res, nil
}

func (b *BinanceExecutor) findPosition(ctx context.Context, id, market string) (*models.PerpPosition, error) {
	positions, err := b.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if (id != "" && positions[i].PositionID == id) || (id == "" && positions[i].Market == market) {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("no open position for id=%q market=%q", id, market)
}

// ClosePosition implements trading.LeveragedTrader
func (b *BinanceExecutor) ClosePosition(ctx context.Context, p models.CloseLeveragedParams) (*models.TradeResult, error) {
	pos, err := b.findPosition(ctx, p.PositionID, p.Market)
	if err != nil {
		return nil, err
	}

	order, err := b.marketOrder(ctx, pos.Market, closeSide(pos.Side), pos.Size, true)
	if err != nil {
		return models.Failed(fmt.Errorf("failed to close position: %w", err)), nil
	}

	res := orderResult(order)
	exit := res.ExecutedPrice
	if exit <= 0 {
		exit = pos.CurrentPrice
		res.ExecutedPrice = exit
	}
	pnl := realizedPnl(*pos, exit)
	res.RealizedPnl = &pnl
	res.PositionID = pos.PositionID
	return res, nil
}

func realizedPnl(pos models.PerpPosition, exit float64) float64 {
	if pos.Side == models.SideShort {
		return (pos.EntryPrice - exit) * pos.Size
	}
	return (exit - pos.EntryPrice) * pos.Size
}

// AdjustPosition implements trading.LeveragedTrader. A stop-loss change needs no exchange call.
func (b *BinanceExecutor) AdjustPosition(ctx context.Context, p models.AdjustLeveragedParams) (*models.TradeResult, error) {
	pos, err := b.findPosition(ctx, p.PositionID, p.Market)
	if err != nil {
		return nil, err
	}

	res := &models.TradeResult{Success: true}
	if p.NewLeverage != nil {
		if _, err := b.futures.NewChangeLeverageService().Symbol(pos.Market).Leverage(int(*p.NewLeverage)).Do(ctx); err != nil {
			return models.Failed(fmt.Errorf("failed to change leverage: %w", err)), nil
		}
	}

	if p.NewSize != nil && *p.NewSize != pos.Size {
		precision, err := b.quantityPrecision(ctx, pos.Market)
		if err != nil {
			return nil, err
		}
		delta := roundDown(math.Abs(*p.NewSize-pos.Size), precision)
		if delta > 0 {
			side, reduce := openSide(pos.Side), false
			if *p.NewSize < pos.Size {
				side, reduce = closeSide(pos.Side), true
			}
			order, err := b.marketOrder(ctx, pos.Market, side, delta, reduce)
			if err != nil {
				return models.Failed(fmt.Errorf("failed to resize position: %w", err)), nil
			}
			res = orderResult(order)
			if reduce && res.ExecutedPrice > 0 {
				partial := *pos
				partial.Size = delta
				pnl := realizedPnl(partial, res.ExecutedPrice)
				res.RealizedPnl = &pnl
			}
		}
	}
	res.PositionID = pos.PositionID
	return res, nil
}

// OpenPositions implements trading.LeveragedTrader
func (b *BinanceExecutor) OpenPositions(ctx context.Context) ([]models.PerpPosition, error) {
	risks, err := b.futures.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	out := make([]models.PerpPosition, 0, len(risks))
	for _, r := range risks {
		if pos, ok := convertPosition(r); ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

func convertPosition(r *futures.PositionRisk) (models.PerpPosition, bool) {
	amt := parseFloat(r.PositionAmt)
	if amt == 0 {
		return models.PerpPosition{}, false
	}
	side := models.SideLong
	if amt < 0 {
		side = models.SideShort
	}
	pos := models.PerpPosition{
		PositionID:       PositionID(r.Symbol, side),
		Market:           r.Symbol,
		Side:             side,
		Size:             math.Abs(amt),
		Leverage:         parseFloat(r.Leverage),
		EntryPrice:       parseFloat(r.EntryPrice),
		CurrentPrice:     parseFloat(r.MarkPrice),
		UnrealizedPnl:    parseFloat(r.UnRealizedProfit),
		LiquidationPrice: parseFloat(r.LiquidationPrice),
	}
	pos.UnrealizedPnlPct = pos.PnlPct()
	return pos, true
}
