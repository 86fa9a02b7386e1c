package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/trading"
	"github.com/songzhibin97/quantaguard/internal/utils/cache"
)

const (
	DefaultCacheTTL = 60 * time.Second

	// default MaxStale, in multiples of CacheTTL
	staleFactor = 5
)

// BalanceSource returns exchange balances keyed by asset.
type BalanceSource interface {
	Balances(ctx context.Context) (map[string]float64, error)
}

// PriceSource prices a batch of token symbols.
type PriceSource interface {
	Tickers(ctx context.Context, symbols []string) ([]models.TokenPrice, error)
}

// Baseline returns the portfolio value at the start of the day.
type Baseline interface {
	DayOpeningValue(ctx context.Context, since time.Time) (float64, bool, error)
}

type Config struct {
	Wallet     string
	BaseSymbol string // currency of BaseBalance, the native coin when a ledger is set
	CacheTTL   time.Duration
	MaxStale   time.Duration // oldest cached state served when a refresh fails
}

// Sources wires the collaborators. Every field may be nil.
type Sources struct {
	Balances  BalanceSource
	Prices    PriceSource
	Leveraged trading.LeveragedTrader
	Liquidity trading.LiquidityManager
	Ledger    trading.Ledger
	Baseline  Baseline
}

// Provider implements data.PortfolioProvider.
type Provider struct {
	src    Sources
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	cache  *cache.InMemoryCache[string, models.PortfolioState]
}

const cacheKey = "portfolio"

func NewProvider(src Sources, cfg Config, logger *zap.Logger) *Provider {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxStale <= 0 {
		cfg.MaxStale = staleFactor * cfg.CacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Wallet == "" && src.Ledger != nil {
		cfg.Wallet = src.Ledger.Address()
	}
	return &Provider{
		src:    src,
		cfg:    cfg,
		logger: logger.Named("portfolio"),
		now:    time.Now,
		cache:  cache.NewInMemoryCache[string, models.PortfolioState](cfg.CacheTTL),
	}
}

// Invalidate drops the cached state so the next read refetches.
func (p *Provider) Invalidate() {
	p.cache.Delete(cacheKey)
}

// PortfolioState implements data.PortfolioProvider
func (p *Provider) PortfolioState(ctx context.Context) (models.PortfolioState, error) {
	if v, ok := p.cache.Get(cacheKey); ok {
		return v, nil
	}

	state, err := p.build(ctx)
	if err != nil {
		p.logger.Warn("portfolio refresh failed", zap.Error(err))
		if stale, ok := p.cache.GetStale(cacheKey); ok {
			age := p.now().Sub(stale.Timestamp)
			if age <= p.cfg.MaxStale {
				return stale, fmt.Errorf("serving cached portfolio: %w", err)
			}
			p.logger.Warn("cached portfolio too old to serve", zap.Duration("age", age))
		}
		return state, err
	}
	p.cache.Set(cacheKey, state)
	return state, nil
}

func (p *Provider) build(ctx context.Context) (models.PortfolioState, error) {
	now := p.now()
	state := models.EmptyPortfolio(p.cfg.Wallet, p.cfg.BaseSymbol, now)
	var errs []error

	holdings := map[string]float64{}
	if p.src.Balances != nil {
		balances, err := p.src.Balances.Balances(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("balances: %w", err))
		}
		for asset, amount := range balances {
			holdings[strings.ToUpper(asset)] += amount
		}
	}

	if p.src.Ledger != nil {
		native, err := p.src.Ledger.Balance(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		} else {
			state.BaseBalance = native
		}
	} else {
		state.BaseBalance = holdings[strings.ToUpper(p.cfg.BaseSymbol)]
	}

	prices := p.prices(ctx, holdings, &errs)
	state.Tokens = tokenBalances(holdings, prices)
	if p.src.Ledger != nil && state.BaseBalance > 0 {
		sym := strings.ToUpper(p.cfg.BaseSymbol)
		state.Tokens = append(state.Tokens, models.TokenBalance{
			Mint:     p.src.Ledger.Address(),
			Symbol:   sym,
			Amount:   state.BaseBalance,
			UIAmount: state.BaseBalance,
			USDValue: state.BaseBalance * prices[sym],
			Decimals: 18,
		})
	}
	for _, t := range state.Tokens {
		state.WalletValueUSD += t.USDValue
	}

	if p.src.Leveraged != nil {
		positions, err := p.src.Leveraged.OpenPositions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("positions: %w", err))
		}
		for _, pos := range positions {
			state.PerpPositions = append(state.PerpPositions, pos)
			state.PerpValueUSD += positionValue(pos)
		}
	}

	if p.src.Liquidity != nil {
		lps, err := p.src.Liquidity.LPPositions(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("liquidity: %w", err))
		}
		for _, lp := range lps {
			state.LPPositions = append(state.LPPositions, lp)
			state.LPValueUSD += lp.USDValue
		}
	}

	state.TotalValueUSD = state.WalletValueUSD + state.PerpValueUSD + state.LPValueUSD
	p.dailyPnl(ctx, &state)
	return state, errors.Join(errs...)
}

func (p *Provider) prices(ctx context.Context, holdings map[string]float64, errs *[]error) map[string]float64 {
	out := map[string]float64{}
	if p.src.Prices == nil {
		return out
	}
	symbols := make([]string, 0, len(holdings)+1)
	for asset := range holdings {
		symbols = append(symbols, asset)
	}
	if p.src.Ledger != nil && p.cfg.BaseSymbol != "" {
		if _, ok := holdings[strings.ToUpper(p.cfg.BaseSymbol)]; !ok {
			symbols = append(symbols, strings.ToUpper(p.cfg.BaseSymbol))
		}
	}
	if len(symbols) == 0 {
		return out
	}
	sort.Strings(symbols)

	tickers, err := p.src.Prices.Tickers(ctx, symbols)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("prices: %w", err))
		return out
	}
	for _, t := range tickers {
		out[strings.ToUpper(t.Symbol)] = t.Price
	}
	return out
}

func tokenBalances(holdings map[string]float64, prices map[string]float64) []models.TokenBalance {
	out := make([]models.TokenBalance, 0, len(holdings))
	for asset, amount := range holdings {
		out = append(out, models.TokenBalance{
			Mint:     asset,
			Symbol:   asset,
			Amount:   amount,
			UIAmount: amount,
			USDValue: amount * prices[asset],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].USDValue > out[j].USDValue })
	return out
}

// positionValue is the margin posted plus unrealized P&L.
func positionValue(pos models.PerpPosition) float64 {
	margin := pos.Notional()
	if pos.Leverage > 0 {
		margin /= pos.Leverage
	}
	return margin + pos.UnrealizedPnl
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (p *Provider) dailyPnl(ctx context.Context, state *models.PortfolioState) {
	if p.src.Baseline == nil {
		return
	}
	opening, ok, err := p.src.Baseline.DayOpeningValue(ctx, startOfDay(state.Timestamp))
	if err != nil {
		p.logger.Warn("failed to load day opening value", zap.Error(err))
		return
	}
	if !ok || opening <= 0 {
		return
	}
	state.DailyPnl = state.TotalValueUSD - opening
	state.DailyPnlPct = state.DailyPnl / opening
}
