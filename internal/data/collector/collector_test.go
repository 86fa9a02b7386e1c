package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/utils/retry"
)

type stubSource struct {
	name   string
	prices []models.TokenPrice
	err    error
	calls  int
	asked  []string
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Tickers(_ context.Context, symbols []string) ([]models.TokenPrice, error) {
	s.calls++
	s.asked = symbols
	return s.prices, s.err
}

func (s *stubSource) TopMovers(context.Context, int, float64) ([]models.TokenPrice, error) {
	s.calls++
	return s.prices, s.err
}

func fastPolicy(label string) retry.Policy {
	return retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Label: label}
}

func TestMultiSourceCollector_Fallback(t *testing.T) {
	broken := &stubSource{name: "broken", err: errors.New("timeout")}
	healthy := &stubSource{name: "healthy", prices: []models.TokenPrice{{Symbol: "BTC", Price: 60000}}}

	c := NewMultiSourceCollector([]DataSource{broken, healthy}, nil)
	c.policy = fastPolicy

	prices, err := c.Tickers(context.Background(), []string{"BTC", "usdc"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, "USDC", prices[0].Symbol)
	assert.Equal(t, 1.0, prices[0].Price)
	assert.Equal(t, 60000.0, prices[1].Price)

	assert.Equal(t, 2, broken.calls)
	assert.Equal(t, 1, healthy.calls)
	assert.Equal(t, []string{"BTC"}, healthy.asked)
}

func TestMultiSourceCollector_AllFail(t *testing.T) {
	c := NewMultiSourceCollector([]DataSource{&stubSource{name: "a", err: errors.New("x")}}, nil)
	c.policy = fastPolicy

	_, err := c.TopMovers(context.Background(), 5, 0)
	assert.Error(t, err)

	_, err = c.Price(context.Background(), "ETH")
	assert.Error(t, err)
}

func TestMultiSourceCollector_Price(t *testing.T) {
	src := &stubSource{name: "s", prices: []models.TokenPrice{{Symbol: "ETH", Price: 2500}}}
	c := NewMultiSourceCollector([]DataSource{src}, nil)
	c.policy = fastPolicy

	p, err := c.Price(context.Background(), "eth")
	require.NoError(t, err)
	assert.Equal(t, 2500.0, p)

	p, err = c.Price(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p)
	assert.Equal(t, 1, src.calls)
}
