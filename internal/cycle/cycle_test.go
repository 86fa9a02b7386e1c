package cycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/quantaguard/internal/data/storage"
	"github.com/songzhibin97/quantaguard/internal/distribution"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading"
)

const (
	holdResponse  = `{"action":"HOLD","confidence":0.6,"reasoning":"choppy market"}`
	swapResponse  = "```json\n" + `{"action":"SPOT_SWAP","confidence":0.8,"reasoning":"momentum","params":{"inputToken":"USDT","outputToken":"BTC","amount":200}}` + "\n```"
	largeSwap     = `{"action":"SPOT_SWAP","confidence":0.8,"reasoning":"all in","params":{"inputToken":"USDT","outputToken":"BTC","amount":300}}`
	openResponse  = `{"action":"OPEN_LEVERAGED","confidence":0.7,"reasoning":"breakout","params":{"market":"BTCUSDT","side":"long","collateralAmount":100,"leverage":3,"stopLossPrice":58000}}`
	closeResponse = `{"action":"CLOSE_LEVERAGED","confidence":0.9,"reasoning":"invalidated","params":{"positionId":"BTCUSDT:long"}}`
)

// fakeStore mimics the storage semantics the cycle relies on.
type fakeStore struct {
	decisions     []*models.DecisionRecord
	trades        []*models.TradeRecord
	events        []*models.RiskEvent
	feeClaims     []*models.FeeClaim
	distributions []*models.DistributionRun
	perps         map[string]*models.PerpPositionRecord
	closes        map[string]models.PositionClose

	decisionErr error
	tradesErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{perps: map[string]*models.PerpPositionRecord{}, closes: map[string]models.PositionClose{}}
}

func (f *fakeStore) InsertDecision(ctx context.Context, rec *models.DecisionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.decisionErr != nil {
		return f.decisionErr
	}
	rec.ID = int64(len(f.decisions) + 1)
	f.decisions = append(f.decisions, rec)
	return nil
}

func (f *fakeStore) RecentDecisions(context.Context, int) ([]models.DecisionRecord, error) {
	return nil, nil
}

func (f *fakeStore) InsertTrade(ctx context.Context, rec *models.TradeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.ID = int64(len(f.trades) + 1)
	f.trades = append(f.trades, rec)
	return nil
}

func (f *fakeStore) TradesAfter(ctx context.Context, cursor int64) ([]models.TradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.tradesErr != nil {
		return nil, f.tradesErr
	}
	var out []models.TradeRecord
	for _, t := range f.trades {
		if t.ID > cursor && t.Success && !t.DryRun && t.Pnl != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) LatestTradeID(context.Context) (int64, error) {
	return int64(len(f.trades)), nil
}

func (f *fakeStore) InsertPerpPosition(ctx context.Context, rec *models.PerpPositionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.perps[rec.PositionID] = rec
	return nil
}

func (f *fakeStore) ClosePerpPosition(_ context.Context, id string, c models.PositionClose) error {
	if _, ok := f.perps[id]; !ok {
		return fmt.Errorf("perp position %s: %w", id, storage.ErrNotFound)
	}
	f.closes[id] = c
	return nil
}

func (f *fakeStore) UpdateStopLoss(_ context.Context, id string, price float64) error {
	rec, ok := f.perps[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.StopLossPrice = &price
	return nil
}

func (f *fakeStore) InsertRiskEvent(ctx context.Context, ev *models.RiskEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) InsertFeeClaim(_ context.Context, fc *models.FeeClaim) error {
	f.feeClaims = append(f.feeClaims, fc)
	return nil
}

func (f *fakeStore) InsertDistribution(_ context.Context, run *models.DistributionRun, _ []models.DistributionRecipient) error {
	f.distributions = append(f.distributions, run)
	return nil
}

type fakeGenerator struct {
	responses []string
	err       error
	calls     int
}

func (f *fakeGenerator) Complete(context.Context, string, string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return holdResponse, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

type fakePortfolio struct{ state models.PortfolioState }

func (f fakePortfolio) PortfolioState(context.Context) (models.PortfolioState, error) {
	return f.state, nil
}

type fakeSpot struct{ calls int }

func (f *fakeSpot) Swap(context.Context, models.SpotSwapParams) (*models.TradeResult, error) {
	f.calls++
	return &models.TradeResult{Success: true, TxRef: "spot-1", ExecutedPrice: 60000, ExecutedAmount: 200}, nil
}

type fakeLeveraged struct {
	closePnl float64
}

func (f *fakeLeveraged) OpenPosition(_ context.Context, p models.OpenLeveragedParams) (*models.TradeResult, error) {
	return &models.TradeResult{Success: true, TxRef: "7", ExecutedPrice: 60000, ExecutedAmount: 0.005, PositionID: p.Market + ":" + string(p.Side)}, nil
}

func (f *fakeLeveraged) ClosePosition(_ context.Context, p models.CloseLeveragedParams) (*models.TradeResult, error) {
	pnl := f.closePnl
	return &models.TradeResult{Success: true, TxRef: "8", ExecutedPrice: 59000, RealizedPnl: &pnl, PositionID: p.PositionID}, nil
}

func (f *fakeLeveraged) AdjustPosition(context.Context, models.AdjustLeveragedParams) (*models.TradeResult, error) {
	return &models.TradeResult{Success: true}, nil
}

func (f *fakeLeveraged) OpenPositions(context.Context) ([]models.PerpPosition, error) {
	return nil, nil
}

type fakeLiquidity struct {
	claims int
	dryRun bool
	err    error
}

func (f *fakeLiquidity) AddLiquidity(context.Context, models.AddLiquidityParams) (*models.TradeResult, error) {
	return &models.TradeResult{Success: true}, nil
}

func (f *fakeLiquidity) ClaimFees(context.Context) (*models.TradeResult, error) {
	f.claims++
	if f.err != nil {
		return nil, f.err
	}
	if f.dryRun {
		return &models.TradeResult{Success: true, TxRef: "dry-run", DryRun: true}, nil
	}
	return &models.TradeResult{Success: true, TxRef: "0xclaim"}, nil
}

func (f *fakeLiquidity) LPPositions(context.Context) ([]models.LPPosition, error) {
	return nil, nil
}

type fakeLedger struct {
	balances    []float64
	transfers   map[string]float64
	transferErr error
}

func (f *fakeLedger) Address() string { return "0xself" }

func (f *fakeLedger) Balance(context.Context) (float64, error) {
	b := f.balances[0]
	if len(f.balances) > 1 {
		f.balances = f.balances[1:]
	}
	return b, nil
}

func (f *fakeLedger) Transfer(_ context.Context, to string, amount float64) (*models.TradeResult, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	if f.transfers == nil {
		f.transfers = map[string]float64{}
	}
	f.transfers[to] += amount
	return &models.TradeResult{Success: true, TxRef: "0xforward"}, nil
}

type fakeDistributor struct {
	runs int
	err  error
}

func (f *fakeDistributor) Configured() bool { return true }

func (f *fakeDistributor) Run(context.Context) (*distribution.Result, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &distribution.Result{Run: models.DistributionRun{RecipientCount: 2, SuccessCount: 2, TotalAmount: 1}}, nil
}

func newRiskManager() *risk.BasicRiskManager {
	return risk.NewBasicRiskManager(risk.NewEngine(risk.DefaultConfig(), risk.DefaultRules(), nil), nil)
}

func healthyPortfolio() fakePortfolio {
	state := models.EmptyPortfolio("0xself", "ETH", time.Now())
	state.TotalValueUSD = 1000
	state.BaseBalance = 2
	return fakePortfolio{state: state}
}

type fixture struct {
	cycle *DecisionCycle
	store *fakeStore
	gen   *fakeGenerator
	risk  *risk.BasicRiskManager
	spot  *fakeSpot
}

func newFixture(t *testing.T, responses ...string) *fixture {
	f := &fixture{
		store: newFakeStore(),
		gen:   &fakeGenerator{responses: responses},
		risk:  newRiskManager(),
		spot:  &fakeSpot{},
	}
	c, err := New(Deps{
		Portfolio: healthyPortfolio(),
		Generator: f.gen,
		Risk:      f.risk,
		Backends:  trading.Backends{Spot: f.spot, Leveraged: &fakeLeveraged{closePnl: -5}},
		Store:     f.store,
	}, Config{}, nil)
	require.NoError(t, err)
	f.cycle = c
	return f
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{Risk: newRiskManager()}, Config{}, nil)
	assert.Error(t, err)
	_, err = New(Deps{Generator: &fakeGenerator{}}, Config{}, nil)
	assert.Error(t, err)
}

func TestCycle_PreGateBlocked(t *testing.T) {
	f := newFixture(t, swapResponse)
	// 20% down on the day trips the daily loss limit, which also gates HOLD
	f.risk.RecordTradeResult(-200, 1000)

	report, err := f.cycle.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeRiskBlocked, report.Outcome)
	assert.Zero(t, f.gen.calls)
	assert.Zero(t, f.spot.calls)

	require.Len(t, f.store.decisions, 1)
	rec := f.store.decisions[0]
	assert.Equal(t, models.ActionHold, rec.Action)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Reasoning, "Risk blocked")
	assert.NotEmpty(t, rec.Risk)

	require.Len(t, f.store.events, 1)
	assert.Equal(t, risk.RuleDailyLossLimit, f.store.events[0].RuleName)
	assert.Equal(t, "BLOCK_CYCLE", f.store.events[0].Action)
	assert.Equal(t, report.CycleID, f.store.events[0].CycleID)
}

func TestCycle_MalformedResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{name: "not json", response: "I think we should buy"},
		{name: "unknown action", response: `{"action":"YOLO","confidence":0.5,"reasoning":"x"}`},
		{name: "confidence out of range", response: `{"action":"HOLD","confidence":1.5,"reasoning":"x"}`},
		{name: "empty reasoning", response: `{"action":"HOLD","confidence":0.5,"reasoning":"  "}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.response)
			report, err := f.cycle.Run(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidDecision)
			assert.Equal(t, OutcomeParseFailed, report.Outcome)
			assert.Zero(t, f.spot.calls)

			require.Len(t, f.store.decisions, 1)
			assert.Equal(t, models.ActionHold, f.store.decisions[0].Action)
			assert.False(t, f.store.decisions[0].Success)
			assert.Contains(t, f.store.decisions[0].Error, "invalid decision")
		})
	}
}

func TestCycle_GeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("rate limited")

	report, err := f.cycle.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, OutcomeGeneratorFailed, report.Outcome)
	require.Len(t, f.store.decisions, 1)
	assert.False(t, f.store.decisions[0].Success)
}

func TestCycle_Hold(t *testing.T) {
	f := newFixture(t, holdResponse)

	report, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHold, report.Outcome)
	assert.Equal(t, 1, f.gen.calls)

	require.Len(t, f.store.decisions, 1)
	assert.True(t, f.store.decisions[0].Success)
	assert.Equal(t, "choppy market", f.store.decisions[0].Reasoning)
	assert.Empty(t, f.store.trades)
}

func TestCycle_PostGateBlocked(t *testing.T) {
	f := newFixture(t, largeSwap)

	report, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDecisionBlocked, report.Outcome)
	assert.Zero(t, f.spot.calls)

	require.Len(t, f.store.decisions, 1)
	rec := f.store.decisions[0]
	assert.Equal(t, models.ActionSpotSwap, rec.Action)
	assert.False(t, rec.Success)
	assert.Contains(t, rec.Reasoning, "Blocked by risk")
	assert.Contains(t, rec.Reasoning, "Original reasoning: all in")
	assert.NotEmpty(t, rec.Params)

	require.Len(t, f.store.events, 1)
	assert.Equal(t, risk.RulePositionSize, f.store.events[0].RuleName)
	assert.Equal(t, "BLOCK_DECISION", f.store.events[0].Action)
}

func TestCycle_ExecutesSwap(t *testing.T) {
	f := newFixture(t, swapResponse)

	report, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, report.Outcome)
	assert.Equal(t, 1, f.spot.calls)

	require.Len(t, f.store.decisions, 1)
	assert.True(t, f.store.decisions[0].Success)
	assert.Equal(t, "spot-1", f.store.decisions[0].TxRef)

	require.Len(t, f.store.trades, 1)
	trade := f.store.trades[0]
	assert.Equal(t, models.SourceDecision, trade.Source)
	assert.Equal(t, "USDT/BTC", trade.Market)
	assert.Equal(t, 200.0, trade.Amount)
	assert.Nil(t, trade.Pnl)
}

func TestCycle_MissingBackend(t *testing.T) {
	store := newFakeStore()
	c, err := New(Deps{
		Portfolio: healthyPortfolio(),
		Generator: &fakeGenerator{responses: []string{swapResponse}},
		Risk:      newRiskManager(),
		Store:     store,
	}, Config{}, nil)
	require.NoError(t, err)

	report, err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, trading.ErrBackendUnavailable)
	assert.Equal(t, OutcomeFailed, report.Outcome)

	require.Len(t, store.decisions, 1)
	assert.False(t, store.decisions[0].Success)
	assert.Contains(t, store.decisions[0].Error, "execution backend unavailable")
	require.Len(t, store.trades, 1)
	assert.False(t, store.trades[0].Success)
}

func TestCycle_LeveragedLifecycle(t *testing.T) {
	f := newFixture(t, openResponse, closeResponse)

	_, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	rec, ok := f.store.perps["BTCUSDT:long"]
	require.True(t, ok)
	require.NotNil(t, rec.StopLossPrice)
	assert.Equal(t, 58000.0, *rec.StopLossPrice)
	assert.Equal(t, 0.005, rec.Size)

	_, err = f.cycle.Run(context.Background())
	require.NoError(t, err)
	closed, ok := f.store.closes["BTCUSDT:long"]
	require.True(t, ok)
	assert.Equal(t, -5.0, closed.RealizedPnl)
	assert.Equal(t, 59000.0, closed.ExitPrice)

	snap := f.risk.Snapshot()
	assert.Equal(t, -5.0, snap.DailyPnl)
	assert.Equal(t, 1, snap.ConsecutiveLosses)
	assert.Equal(t, int64(2), f.cycle.State().TradeCursor)
}

func TestCycle_ReplaysStopLossTradesOnce(t *testing.T) {
	f := newFixture(t, holdResponse)
	seeded := -1.0
	f.store.trades = append(f.store.trades, &models.TradeRecord{ID: 1, Source: models.SourceStopLoss, Pnl: &seeded, Success: true})
	require.NoError(t, f.cycle.Init(context.Background()))
	assert.Equal(t, int64(1), f.cycle.State().TradeCursor)

	// the monitor closes a position between cycles
	loss := -7.0
	f.store.trades = append(f.store.trades, &models.TradeRecord{ID: 2, Source: models.SourceStopLoss, Pnl: &loss, Success: true})

	_, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -7.0, f.risk.Snapshot().DailyPnl)

	_, err = f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -7.0, f.risk.Snapshot().DailyPnl)
	assert.Equal(t, int64(2), f.cycle.State().TradeCursor)
}

func TestCycle_WithoutStoreRecordsOwnPnl(t *testing.T) {
	rm := newRiskManager()
	c, err := New(Deps{
		Portfolio: healthyPortfolio(),
		Generator: &fakeGenerator{responses: []string{closeResponse}},
		Risk:      rm,
		Backends:  trading.Backends{Leveraged: &fakeLeveraged{closePnl: -3}},
	}, Config{}, nil)
	require.NoError(t, err)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, report.Outcome)
	assert.Equal(t, -3.0, rm.Snapshot().DailyPnl)
	assert.Equal(t, 1, rm.Snapshot().ConsecutiveLosses)
}

func TestCycle_StoreFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t, swapResponse)
	f.store.decisionErr = errors.New("disk full")
	f.store.tradesErr = errors.New("disk full")

	report, err := f.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, report.Outcome)
	assert.Empty(t, f.store.decisions)
}

func TestCycle_DegradedProvidersStillHold(t *testing.T) {
	store := newFakeStore()
	c, err := New(Deps{
		Generator: &fakeGenerator{responses: []string{holdResponse}},
		Risk:      newRiskManager(),
		Store:     store,
	}, Config{Wallet: "0xself", BaseSymbol: "ETH"}, nil)
	require.NoError(t, err)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHold, report.Outcome)
	require.Len(t, store.decisions, 1)
}

func TestCycle_FeeClaimAndForward(t *testing.T) {
	store := newFakeStore()
	lm := &fakeLiquidity{}
	ledger := &fakeLedger{balances: []float64{1.0, 1.1}}
	dist := &fakeDistributor{}
	c, err := New(Deps{
		Portfolio:   healthyPortfolio(),
		Generator:   &fakeGenerator{},
		Risk:        newRiskManager(),
		Backends:    trading.Backends{Liquidity: lm, Ledger: ledger},
		Store:       store,
		Distributor: dist,
	}, Config{ForwardWallet: "0xsecondary"}, nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, lm.claims)
	assert.InDelta(t, 0.05, ledger.transfers["0xsecondary"], 1e-9)
	require.Len(t, store.feeClaims, 1)
	fc := store.feeClaims[0]
	assert.True(t, fc.Success)
	assert.Equal(t, "0xclaim", fc.TxRef)
	assert.InDelta(t, 0.1, fc.ClaimedAmount, 1e-9)
	assert.InDelta(t, 0.05, fc.ForwardedAmount, 1e-9)
	assert.Equal(t, "0xforward", fc.ForwardTxRef)
	assert.Equal(t, 1, dist.runs)
	assert.Len(t, store.distributions, 1)
	assert.False(t, c.State().LastFeeClaim.IsZero())

	// within the claim interval
	_, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, lm.claims)
	assert.Equal(t, 1, dist.runs)
	assert.Len(t, store.decisions, 2)
}

func TestCycle_FeeClaimSmallDeltaAndDryRun(t *testing.T) {
	t.Run("delta below minimum", func(t *testing.T) {
		store := newFakeStore()
		ledger := &fakeLedger{balances: []float64{1.0, 1.0005}}
		c, err := New(Deps{
			Generator: &fakeGenerator{},
			Risk:      newRiskManager(),
			Backends:  trading.Backends{Liquidity: &fakeLiquidity{}, Ledger: ledger},
			Store:     store,
		}, Config{ForwardWallet: "0xsecondary"}, nil)
		require.NoError(t, err)

		_, err = c.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ledger.transfers)
		require.Len(t, store.feeClaims, 1)
		assert.Zero(t, store.feeClaims[0].ForwardedAmount)
	})

	t.Run("dry run", func(t *testing.T) {
		store := newFakeStore()
		ledger := &fakeLedger{balances: []float64{1.0}}
		c, err := New(Deps{
			Generator: &fakeGenerator{},
			Risk:      newRiskManager(),
			Backends:  trading.Backends{Liquidity: &fakeLiquidity{dryRun: true}, Ledger: ledger},
			Store:     store,
		}, Config{ForwardWallet: "0xsecondary"}, nil)
		require.NoError(t, err)

		_, err = c.Run(context.Background())
		require.NoError(t, err)
		assert.Empty(t, ledger.transfers)
		assert.Empty(t, store.feeClaims)
	})
}

func TestCycle_FeeStepFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name        string
		claimErr    error
		transferErr error
		distErr     error
		wantClaim   string
	}{
		{name: "claim fails", claimErr: errors.New("position manager reverted"), wantClaim: "position manager reverted"},
		{name: "forward fails", transferErr: errors.New("nonce too low"), wantClaim: "forward: nonce too low"},
		{name: "distribution fails", distErr: errors.New("holders unavailable")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			gen := &fakeGenerator{responses: []string{holdResponse}}
			dist := &fakeDistributor{err: tt.distErr}
			c, err := New(Deps{
				Portfolio: healthyPortfolio(),
				Generator: gen,
				Risk:      newRiskManager(),
				Backends: trading.Backends{
					Liquidity: &fakeLiquidity{err: tt.claimErr},
					Ledger:    &fakeLedger{balances: []float64{1.0, 1.1}, transferErr: tt.transferErr},
				},
				Store:       store,
				Distributor: dist,
			}, Config{ForwardWallet: "0xsecondary"}, nil)
			require.NoError(t, err)

			report, err := c.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, OutcomeHold, report.Outcome)
			assert.Equal(t, 1, gen.calls)
			assert.Equal(t, 1, dist.runs)
			require.Len(t, store.decisions, 1)
			assert.True(t, store.decisions[0].Success)

			require.Len(t, store.feeClaims, 1)
			assert.Equal(t, tt.wantClaim, store.feeClaims[0].Error)
			assert.Zero(t, store.feeClaims[0].ForwardedAmount)
			if tt.distErr != nil {
				assert.Empty(t, store.distributions)
			}
		})
	}
}

type stallingGenerator struct{ response string }

// Complete answers only once the caller has given up.
func (g stallingGenerator) Complete(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	if g.response == "" {
		return "", ctx.Err()
	}
	return g.response, nil
}

type lateSpot struct{}

func (lateSpot) Swap(ctx context.Context, _ models.SpotSwapParams) (*models.TradeResult, error) {
	<-ctx.Done()
	return &models.TradeResult{Success: true, TxRef: "spot-late", ExecutedPrice: 60000, ExecutedAmount: 200}, nil
}

func TestCycle_PersistsAfterDeadline(t *testing.T) {
	tests := []struct {
		name        string
		gen         stallingGenerator
		wantOutcome Outcome
		wantSuccess bool
		wantTrades  int
	}{
		{name: "generator times out", gen: stallingGenerator{}, wantOutcome: OutcomeGeneratorFailed},
		{name: "execution lands at the deadline", gen: stallingGenerator{response: swapResponse}, wantOutcome: OutcomeExecuted, wantSuccess: true, wantTrades: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			c, err := New(Deps{
				Portfolio: healthyPortfolio(),
				Generator: tt.gen,
				Risk:      newRiskManager(),
				Backends:  trading.Backends{Spot: lateSpot{}},
				Store:     store,
			}, Config{}, nil)
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			report, _ := c.Run(ctx)

			assert.Equal(t, tt.wantOutcome, report.Outcome)
			require.Len(t, store.decisions, 1)
			assert.Equal(t, tt.wantSuccess, store.decisions[0].Success)
			assert.Len(t, store.trades, tt.wantTrades)
		})
	}
}
