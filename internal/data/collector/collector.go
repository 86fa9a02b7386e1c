package collector

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/utils/retry"
)

// DataSource is one market data venue.
type DataSource interface {
	Name() string
	Tickers(ctx context.Context, symbols []string) ([]models.TokenPrice, error)
	TopMovers(ctx context.Context, limit int, minVolume float64) ([]models.TokenPrice, error)
}

// stablecoins are priced at par without a request.
var stablecoins = map[string]bool{"USDT": true, "USDC": true, "FDUSD": true, "DAI": true}

// MultiSourceCollector queries sources in order and returns the first success.
// Every call is a read, so each source is retried with the default policy.
type MultiSourceCollector struct {
	sources []DataSource
	logger  *zap.Logger
	policy  func(label string) retry.Policy
}

func NewMultiSourceCollector(sources []DataSource, logger *zap.Logger) *MultiSourceCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MultiSourceCollector{
		sources: sources,
		logger:  logger.Named("collector"),
		policy:  retry.DefaultPolicy,
	}
}

func firstSuccess[T any](ctx context.Context, c *MultiSourceCollector, op string, fn func(ctx context.Context, src DataSource) (T, error)) (T, error) {
	var zero T
	for _, source := range c.sources {
		src := source
		result, err := retry.DoValue(ctx, c.policy(src.Name()+" "+op), func(ctx context.Context) (T, error) {
			return fn(ctx, src)
		})
		if err == nil {
			c.logger.Debug("collected", zap.String("op", op), zap.String("source", src.Name()))
			return result, nil
		}
		c.logger.Error("failed to collect", zap.String("op", op), zap.String("source", src.Name()), zap.Error(err))
	}
	return zero, fmt.Errorf("failed to collect %s from all sources", op)
}

// Tickers returns 24h stats for symbols. Stablecoins are answered locally.
func (c *MultiSourceCollector) Tickers(ctx context.Context, symbols []string) ([]models.TokenPrice, error) {
	var remote []string
	var out []models.TokenPrice
	for _, s := range symbols {
		if stablecoins[strings.ToUpper(s)] {
			out = append(out, models.TokenPrice{Symbol: strings.ToUpper(s), Price: 1})
			continue
		}
		remote = append(remote, s)
	}
	if len(remote) == 0 {
		return out, nil
	}

	prices, err := firstSuccess(ctx, c, "tickers", func(ctx context.Context, src DataSource) ([]models.TokenPrice, error) {
		return src.Tickers(ctx, remote)
	})
	if err != nil {
		return nil, err
	}
	return append(out, prices...), nil
}

// TopMovers returns the largest 24h movers from the first responsive source.
func (c *MultiSourceCollector) TopMovers(ctx context.Context, limit int, minVolume float64) ([]models.TokenPrice, error) {
	return firstSuccess(ctx, c, "top movers", func(ctx context.Context, src DataSource) ([]models.TokenPrice, error) {
		return src.TopMovers(ctx, limit, minVolume)
	})
}

// Price returns the last price of one symbol.
func (c *MultiSourceCollector) Price(ctx context.Context, symbol string) (float64, error) {
	prices, err := c.Tickers(ctx, []string{symbol})
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.Price, nil
		}
	}
	return 0, fmt.Errorf("no price for %s", symbol)
}
