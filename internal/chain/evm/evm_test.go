package evm

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/quantaguard/internal/models"
)

type fakeBackend struct {
	chainID *big.Int
	balance *big.Int
	sent    []*types.Transaction
	sendErr error
	calls   map[string][]byte // method selector hex -> return data
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 150000, nil
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	out, ok := f.calls[hex.EncodeToString(msg.Data[:4])]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return out, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func newTestClient(t *testing.T, backend *fakeBackend, opts ...Option) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c, err := NewClient(context.Background(), backend, "0x"+hex.EncodeToString(crypto.FromECDSA(key)), nil, opts...)
	require.NoError(t, err)
	return c
}

func TestUnits(t *testing.T) {
	assert.Equal(t, "1500000000000000000", ToUnits(1.5, 18).String())
	assert.Equal(t, "1234567", ToUnits(1.2345678, 6).String())
	assert.InDelta(t, 0.25, FromUnits(big.NewInt(250000), 6), 1e-12)
	assert.Zero(t, FromUnits(nil, 18))
}

func TestClient_Balance(t *testing.T) {
	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	c := newTestClient(t, &fakeBackend{chainID: big.NewInt(8453), balance: wei})

	got, err := c.Balance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-12)
	assert.True(t, common.IsHexAddress(c.Address()))
}

func TestClient_Transfer(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(8453)}
	c := newTestClient(t, backend)
	to := "0x00000000000000000000000000000000000000aa"

	res, err := c.Transfer(context.Background(), to, 0.01)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, res.TxRef, tx.Hash().Hex())
	assert.Equal(t, common.HexToAddress(to), *tx.To())
	assert.Equal(t, "10000000000000000", tx.Value().String())
	assert.Equal(t, uint64(transferGas), tx.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Address(), sender.Hex())
}

func TestClient_TransferErrors(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(1), sendErr: errors.New("insufficient funds for gas * price + value")}
	c := newTestClient(t, backend)

	_, err := c.Transfer(context.Background(), "not-an-address", 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = c.Transfer(context.Background(), "0x00000000000000000000000000000000000000aa", 0)
	assert.Error(t, err)

	res, err := c.Transfer(context.Background(), "0x00000000000000000000000000000000000000aa", 1)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "insufficient funds")
}

type staticPricer map[string]float64

func (s staticPricer) Price(_ context.Context, symbol string) (float64, error) {
	p, ok := s[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	return p, nil
}

func packPositions(t *testing.T, liquidity, owed0, owed1 *big.Int, tickLower, tickUpper int64) []byte {
	t.Helper()
	out, err := managerABI.Methods["positions"].Outputs.Pack(
		big.NewInt(0), common.Address{}, common.Address{}, common.Address{},
		big.NewInt(500), big.NewInt(tickLower), big.NewInt(tickUpper), liquidity,
		big.NewInt(0), big.NewInt(0), owed0, owed1,
	)
	require.NoError(t, err)
	return out
}

func selector(contract, method string) string {
	if contract == "pool" {
		return hex.EncodeToString(slot0ABI.Methods[method].ID)
	}
	return hex.EncodeToString(managerABI.Methods[method].ID)
}

func TestClient_LPPositionsAndClaim(t *testing.T) {
	sqrtX96 := new(big.Int).Lsh(big.NewInt(1), 96) // price 1.0
	slot0, err := slot0ABI.Methods["slot0"].Outputs.Pack(sqrtX96, big.NewInt(0))
	require.NoError(t, err)

	owed0 := big.NewInt(2_000_000) // 2 tokens at 6 decimals
	backend := &fakeBackend{
		chainID: big.NewInt(8453),
		calls: map[string][]byte{
			selector("manager", "positions"): packPositions(t, big.NewInt(1_000_000), owed0, big.NewInt(0), -600, 600),
			selector("pool", "slot0"):        slot0,
		},
	}
	pools := []PoolConfig{{
		Pool: "0x00000000000000000000000000000000000000b1", TokenID: 7,
		Token0Symbol: "USDC", Token1Symbol: "USDT", Token0Decimals: 6, Token1Decimals: 6,
	}}
	c := newTestClient(t, backend,
		WithPositionManager("0x00000000000000000000000000000000000000c1", pools),
		WithPricer(staticPricer{"USDC": 1, "USDT": 1}),
	)

	positions, err := c.LPPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "7", positions[0].PositionID)
	assert.InDelta(t, 2.0, positions[0].UnclaimedFeeUSD, 1e-9)
	assert.Greater(t, positions[0].TokenAAmount, 0.0)
	assert.Greater(t, positions[0].TokenBAmount, 0.0)
	assert.InDelta(t, positions[0].TokenAAmount+positions[0].TokenBAmount+2.0, positions[0].USDValue, 1e-9)

	res, err := c.ClaimFees(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, backend.sent, 1)
	assert.True(t, bytes.HasPrefix(backend.sent[0].Data(), managerABI.Methods["collect"].ID))
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000c1"), *backend.sent[0].To())
}

func TestClient_AddLiquidity(t *testing.T) {
	backend := &fakeBackend{chainID: big.NewInt(8453)}
	pools := []PoolConfig{{Pool: "0x00000000000000000000000000000000000000B1", TokenID: 7, Token0Decimals: 6, Token1Decimals: 18}}
	c := newTestClient(t, backend, WithPositionManager("0x00000000000000000000000000000000000000c1", pools))

	_, err := c.AddLiquidity(context.Background(), models.AddLiquidityParams{PoolAddress: "0xdead", TokenAAmount: 1})
	assert.Error(t, err)

	res, err := c.AddLiquidity(context.Background(), models.AddLiquidityParams{
		PoolAddress:  "0x00000000000000000000000000000000000000b1",
		TokenAAmount: 10,
		TokenBAmount: 0.005,
		SlippageBps:  100,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, backend.sent, 1)

	args, err := managerABI.Methods["increaseLiquidity"].Inputs.Unpack(backend.sent[0].Data()[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
}

func TestPositionAmounts(t *testing.T) {
	// below range: all token0
	a0, a1 := PositionAmounts(1000, 0.5, -600, 600)
	assert.Greater(t, a0, 0.0)
	assert.Zero(t, a1)

	// above range: all token1
	a0, a1 = PositionAmounts(1000, 2, -600, 600)
	assert.Zero(t, a0)
	assert.Greater(t, a1, 0.0)

	// symmetric range at price 1 holds equal amounts
	a0, a1 = PositionAmounts(1000, 1, -600, 600)
	assert.InDelta(t, a0, a1, 1e-6)
}

func TestWithSlippage(t *testing.T) {
	assert.Equal(t, "990", withSlippage(big.NewInt(1000), 100).String())
	assert.Equal(t, "1000", withSlippage(big.NewInt(1000), 0).String())
	assert.Equal(t, "0", withSlippage(big.NewInt(1000), 20000).String())
}
