package evm

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// positionManagerABI covers the NonfungiblePositionManager calls used here.
const positionManagerABI = `[
	{
		"inputs": [{"name": "tokenId", "type": "uint256"}],
		"name": "positions",
		"outputs": [
			{"name": "nonce", "type": "uint96"},
			{"name": "operator", "type": "address"},
			{"name": "token0", "type": "address"},
			{"name": "token1", "type": "address"},
			{"name": "fee", "type": "uint24"},
			{"name": "tickLower", "type": "int24"},
			{"name": "tickUpper", "type": "int24"},
			{"name": "liquidity", "type": "uint128"},
			{"name": "feeGrowthInside0LastX128", "type": "uint256"},
			{"name": "feeGrowthInside1LastX128", "type": "uint256"},
			{"name": "tokensOwed0", "type": "uint128"},
			{"name": "tokensOwed1", "type": "uint128"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{
			"components": [
				{"name": "tokenId", "type": "uint256"},
				{"name": "recipient", "type": "address"},
				{"name": "amount0Max", "type": "uint128"},
				{"name": "amount1Max", "type": "uint128"}
			],
			"name": "params",
			"type": "tuple"
		}],
		"name": "collect",
		"outputs": [
			{"name": "amount0", "type": "uint256"},
			{"name": "amount1", "type": "uint256"}
		],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [{
			"components": [
				{"name": "tokenId", "type": "uint256"},
				{"name": "amount0Desired", "type": "uint256"},
				{"name": "amount1Desired", "type": "uint256"},
				{"name": "amount0Min", "type": "uint256"},
				{"name": "amount1Min", "type": "uint256"},
				{"name": "deadline", "type": "uint256"}
			],
			"name": "params",
			"type": "tuple"
		}],
		"name": "increaseLiquidity",
		"outputs": [
			{"name": "liquidity", "type": "uint128"},
			{"name": "amount0", "type": "uint256"},
			{"name": "amount1", "type": "uint256"}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// poolABI only declares the slot0 fields that are read.
const poolABI = `[
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"name": "sqrtPriceX96", "type": "uint160"},
			{"name": "tick", "type": "int24"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	managerABI = mustABI(positionManagerABI)
	slot0ABI   = mustABI(poolABI)

	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	q96        = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
)

const addLiquidityDeadline = 10 * time.Minute

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// PoolConfig 一个已铸造的集中流动性仓位
type PoolConfig struct {
	Pool           string `yaml:"pool" json:"pool"`
	TokenID        uint64 `yaml:"token_id" json:"token_id"`
	Token0Symbol   string `yaml:"token0_symbol" json:"token0_symbol"`
	Token1Symbol   string `yaml:"token1_symbol" json:"token1_symbol"`
	Token0Decimals int32  `yaml:"token0_decimals" json:"token0_decimals"`
	Token1Decimals int32  `yaml:"token1_decimals" json:"token1_decimals"`
}

// Pricer returns the USD price of a token symbol.
type Pricer interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

type Option func(*Client)

// WithPositionManager enables liquidity operations on the given positions.
func WithPositionManager(address string, pools []PoolConfig) Option {
	return func(c *Client) {
		c.positionManager = common.HexToAddress(address)
		c.pools = pools
	}
}

// WithPricer sets the price source used to value LP positions.
func WithPricer(p Pricer) Option {
	return func(c *Client) { c.pricer = p }
}

type onchainPosition struct {
	TickLower   int64
	TickUpper   int64
	Liquidity   *big.Int
	TokensOwed0 *big.Int
	TokensOwed1 *big.Int
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Client) position(ctx context.Context, tokenID uint64) (*onchainPosition, error) {
	values, err := c.call(ctx, managerABI, c.positionManager, "positions", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}
	if len(values) != 12 {
		return nil, fmt.Errorf("unexpected positions result length %d", len(values))
	}
	return &onchainPosition{
		TickLower:   values[5].(*big.Int).Int64(),
		TickUpper:   values[6].(*big.Int).Int64(),
		Liquidity:   values[7].(*big.Int),
		TokensOwed0: values[10].(*big.Int),
		TokensOwed1: values[11].(*big.Int),
	}, nil
}

func (c *Client) sqrtPrice(ctx context.Context, pool string) (float64, error) {
	values, err := c.call(ctx, slot0ABI, common.HexToAddress(pool), "slot0")
	if err != nil {
		return 0, err
	}
	sqrtX96 := new(big.Float).SetInt(values[0].(*big.Int))
	v, _ := new(big.Float).Quo(sqrtX96, q96).Float64()
	return v, nil
}

// PositionAmounts returns the raw token amounts held by liquidity L in [tickLower, tickUpper]
// at the given sqrt price.
func PositionAmounts(liquidity, sqrtPrice float64, tickLower, tickUpper int64) (amount0, amount1 float64) {
	sa := math.Pow(1.0001, float64(tickLower)/2)
	sb := math.Pow(1.0001, float64(tickUpper)/2)
	switch {
	case sqrtPrice <= sa:
		amount0 = liquidity * (sb - sa) / (sa * sb)
	case sqrtPrice < sb:
		amount0 = liquidity * (sb - sqrtPrice) / (sqrtPrice * sb)
		amount1 = liquidity * (sqrtPrice - sa)
	default:
		amount1 = liquidity * (sb - sa)
	}
	return amount0, amount1
}

func (c *Client) price(ctx context.Context, symbol string) float64 {
	if c.pricer == nil || symbol == "" {
		return 0
	}
	p, err := c.pricer.Price(ctx, symbol)
	if err != nil {
		c.logger.Warn("failed to price token", zap.String("symbol", symbol), zap.Error(err))
		return 0
	}
	return p
}

// LPPositions implements trading.LiquidityManager
func (c *Client) LPPositions(ctx context.Context) ([]models.LPPosition, error) {
	out := make([]models.LPPosition, 0, len(c.pools))
	for _, pool := range c.pools {
		pos, err := c.position(ctx, pool.TokenID)
		if err != nil {
			return nil, fmt.Errorf("failed to read position %d: %w", pool.TokenID, err)
		}
		sqrtP, err := c.sqrtPrice(ctx, pool.Pool)
		if err != nil {
			return nil, fmt.Errorf("failed to read pool %s: %w", pool.Pool, err)
		}

		liq, _ := new(big.Float).SetInt(pos.Liquidity).Float64()
		raw0, raw1 := PositionAmounts(liq, sqrtP, pos.TickLower, pos.TickUpper)
		amount0 := raw0 / math.Pow10(int(pool.Token0Decimals))
		amount1 := raw1 / math.Pow10(int(pool.Token1Decimals))

		p0, p1 := c.price(ctx, pool.Token0Symbol), c.price(ctx, pool.Token1Symbol)
		fees := FromUnits(pos.TokensOwed0, pool.Token0Decimals)*p0 + FromUnits(pos.TokensOwed1, pool.Token1Decimals)*p1

		out = append(out, models.LPPosition{
			PositionID:      fmt.Sprintf("%d", pool.TokenID),
			PoolAddress:     pool.Pool,
			TokenAAmount:    amount0,
			TokenBAmount:    amount1,
			USDValue:        amount0*p0 + amount1*p1 + fees,
			UnclaimedFeeUSD: fees,
		})
	}
	return out, nil
}

type collectParams struct {
	TokenId    *big.Int
	Recipient  common.Address
	Amount0Max *big.Int
	Amount1Max *big.Int
}

// ClaimFees implements trading.LiquidityManager. Fees of every configured position
// are collected into the wallet; positions without owed fees are skipped.
func (c *Client) ClaimFees(ctx context.Context) (*models.TradeResult, error) {
	var refs []string
	for _, pool := range c.pools {
		pos, err := c.position(ctx, pool.TokenID)
		if err != nil {
			return models.Failed(err), nil
		}
		if pos.TokensOwed0.Sign() == 0 && pos.TokensOwed1.Sign() == 0 {
			continue
		}

		data, err := managerABI.Pack("collect", collectParams{
			TokenId:    new(big.Int).SetUint64(pool.TokenID),
			Recipient:  c.from,
			Amount0Max: maxUint128,
			Amount1Max: maxUint128,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to pack collect: %w", err)
		}
		hash, err := c.send(ctx, c.positionManager, big.NewInt(0), data, 0)
		if err != nil {
			return models.Failed(fmt.Errorf("collect %d: %w", pool.TokenID, err)), nil
		}
		c.logger.Info("fees collected", zap.Uint64("token_id", pool.TokenID), zap.String("tx", hash.Hex()))
		refs = append(refs, hash.Hex())
	}
	return &models.TradeResult{Success: true, TxRef: strings.Join(refs, ",")}, nil
}

type increaseLiquidityParams struct {
	TokenId        *big.Int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Deadline       *big.Int
}

// withSlippage returns amount reduced by bps basis points.
func withSlippage(amount *big.Int, bps int) *big.Int {
	if bps <= 0 {
		return new(big.Int).Set(amount)
	}
	if bps > 10000 {
		bps = 10000
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(10000-bps)))
	return out.Quo(out, big.NewInt(10000))
}

func (c *Client) poolConfig(address string) (PoolConfig, bool) {
	for _, p := range c.pools {
		if strings.EqualFold(p.Pool, address) {
			return p, true
		}
	}
	return PoolConfig{}, false
}

// AddLiquidity implements trading.LiquidityManager. Token approvals must already be in place.
func (c *Client) AddLiquidity(ctx context.Context, p models.AddLiquidityParams) (*models.TradeResult, error) {
	pool, ok := c.poolConfig(p.PoolAddress)
	if !ok {
		return nil, fmt.Errorf("no position configured for pool %s", p.PoolAddress)
	}

	amount0 := ToUnits(p.TokenAAmount, pool.Token0Decimals)
	amount1 := ToUnits(p.TokenBAmount, pool.Token1Decimals)
	data, err := managerABI.Pack("increaseLiquidity", increaseLiquidityParams{
		TokenId:        new(big.Int).SetUint64(pool.TokenID),
		Amount0Desired: amount0,
		Amount1Desired: amount1,
		Amount0Min:     withSlippage(amount0, p.SlippageBps),
		Amount1Min:     withSlippage(amount1, p.SlippageBps),
		Deadline:       big.NewInt(time.Now().Add(addLiquidityDeadline).Unix()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack increaseLiquidity: %w", err)
	}

	hash, err := c.send(ctx, c.positionManager, big.NewInt(0), data, 0)
	if err != nil {
		return models.Failed(err), nil
	}
	c.logger.Info("liquidity added",
		zap.String("pool", pool.Pool),
		zap.Float64("token_a", p.TokenAAmount),
		zap.Float64("token_b", p.TokenBAmount),
		zap.String("tx", hash.Hex()),
	)
	return &models.TradeResult{Success: true, TxRef: hash.Hex(), ExecutedAmount: p.TokenAAmount + p.TokenBAmount}, nil
}
