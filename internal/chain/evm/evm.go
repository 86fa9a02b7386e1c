package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// NativeDecimals is the precision of the chain's native currency.
const NativeDecimals = 18

const transferGas = 21000

var ErrInvalidAddress = errors.New("invalid address")

// Backend is the subset of an RPC client used here. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Client is a single-key wallet on an EVM chain. It implements trading.Ledger
// and, with a position manager configured, trading.LiquidityManager.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
	logger  *zap.Logger

	positionManager common.Address
	pools           []PoolConfig
	pricer          Pricer

	// nonce 串行分配
	mu sync.Mutex
}

// Dial connects to rpcURL and loads the hex encoded private key.
func Dial(ctx context.Context, rpcURL, privateKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return NewClient(ctx, backend, privateKey, logger, opts...)
}

// NewClient builds a Client on an existing backend.
func NewClient(ctx context.Context, backend Backend, privateKey string, logger *zap.Logger, opts ...Option) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		backend: backend,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  logger.Named("evm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger.Info("evm wallet ready",
		zap.String("address", c.from.Hex()),
		zap.String("chain_id", chainID.String()),
		zap.Int("pools", len(c.pools)),
	)
	return c, nil
}

// Address implements trading.Ledger
func (c *Client) Address() string {
	return c.from.Hex()
}

// Balance implements trading.Ledger. The amount is in whole native units.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	wei, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return FromUnits(wei, NativeDecimals), nil
}

// Transfer implements trading.Ledger. It returns once the transaction is accepted by the node.
func (c *Client) Transfer(ctx context.Context, to string, amount float64) (*models.TradeResult, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, to)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %v", amount)
	}

	recipient := common.HexToAddress(to)
	hash, err := c.send(ctx, recipient, ToUnits(amount, NativeDecimals), nil, transferGas)
	if err != nil {
		return models.Failed(err), nil
	}
	c.logger.Info("transfer sent",
		zap.String("to", recipient.Hex()),
		zap.Float64("amount", amount),
		zap.String("tx", hash.Hex()),
	)
	return &models.TradeResult{Success: true, TxRef: hash.Hex(), ExecutedAmount: amount}, nil
}

// send signs and submits a legacy transaction. gas 0 means estimate.
func (c *Client) send(ctx context.Context, to common.Address, value *big.Int, data []byte, gas uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	if gas == 0 {
		gas, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Value: value, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := types.NewTransaction(nonce, to, value, gas, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash(), nil
}

// ToUnits converts a human amount to integer base units, truncating extra precision.
func ToUnits(amount float64, decimals int32) *big.Int {
	return decimal.NewFromFloat(amount).Shift(decimals).Truncate(0).BigInt()
}

// FromUnits converts integer base units to a human amount.
func FromUnits(units *big.Int, decimals int32) float64 {
	if units == nil {
		return 0
	}
	return decimal.NewFromBigInt(units, -decimals).InexactFloat64()
}
