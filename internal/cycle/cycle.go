package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/ai"
	"github.com/songzhibin97/quantaguard/internal/data"
	"github.com/songzhibin97/quantaguard/internal/metrics"
	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/risk"
	"github.com/songzhibin97/quantaguard/internal/trading"
	"github.com/songzhibin97/quantaguard/internal/utils/id"
)

// Outcome 一轮决策的结果
type Outcome string

const (
	OutcomeRiskBlocked     Outcome = "risk_blocked"     // pre-decision gate
	OutcomeGeneratorFailed Outcome = "generator_failed" // model call failed
	OutcomeParseFailed     Outcome = "parse_failed"
	OutcomeDecisionBlocked Outcome = "decision_blocked" // post-decision gate
	OutcomeHold            Outcome = "hold"
	OutcomeExecuted        Outcome = "executed"
	OutcomeFailed          Outcome = "execution_failed"
)

const (
	DefaultFeeClaimInterval = time.Hour
	DefaultForwardFraction  = 0.5
	DefaultForwardMin       = 0.001
	DefaultPersistTimeout   = 10 * time.Second
)

type Config struct {
	FeeClaimInterval time.Duration
	ForwardWallet    string  // receives a share of claimed fees, empty disables forwarding
	ForwardFraction  float64 // of the base-currency delta
	ForwardMin       float64 // deltas at or below this are not forwarded

	// bounds each write, independent of the cycle deadline
	PersistTimeout time.Duration

	// used for the empty portfolio when no provider is wired
	Wallet     string
	BaseSymbol string
}

// Deps are the collaborators of a cycle. Generator and Risk are required.
type Deps struct {
	Portfolio   data.PortfolioProvider
	Market      data.MarketProvider
	Generator   ai.Completer
	Risk        risk.RiskManager
	Backends    trading.Backends
	Store       Store
	Distributor Distributor
}

// State is owned by the cycle and survives between runs.
type State struct {
	LastFeeClaim time.Time `json:"last_fee_claim"`
	TradeCursor  int64     `json:"trade_cursor"` // newest trade folded into the risk context
}

// Report summarises one run.
type Report struct {
	CycleID  string
	Outcome  Outcome
	Decision models.TradeDecision
	Result   *models.TradeResult
}

// DecisionCycle 决策主循环：领取手续费、分配、组装状态、风控、决策、执行、记录
type DecisionCycle struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// Run is single-flight under the scheduler; mu guards State for readers.
	mu    sync.Mutex
	state State
}

func New(deps Deps, cfg Config, logger *zap.Logger) (*DecisionCycle, error) {
	if deps.Generator == nil {
		return nil, errors.New("decision generator is required")
	}
	if deps.Risk == nil {
		return nil, errors.New("risk manager is required")
	}
	if cfg.FeeClaimInterval <= 0 {
		cfg.FeeClaimInterval = DefaultFeeClaimInterval
	}
	if cfg.ForwardFraction <= 0 || cfg.ForwardFraction > 1 {
		cfg.ForwardFraction = DefaultForwardFraction
	}
	if cfg.ForwardMin <= 0 {
		cfg.ForwardMin = DefaultForwardMin
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionCycle{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("decision-cycle"),
		now:    time.Now,
	}, nil
}

// Init points the trade cursor at the newest persisted trade, whose P&L the
// risk context was seeded with. Failure leaves the cursor at zero.
func (c *DecisionCycle) Init(ctx context.Context) error {
	if c.deps.Store == nil {
		return nil
	}
	latest, err := c.deps.Store.LatestTradeID(ctx)
	if err != nil {
		return fmt.Errorf("failed to load trade cursor: %w", err)
	}
	c.mu.Lock()
	c.state.TradeCursor = latest
	c.mu.Unlock()
	c.logger.Info("trade cursor initialized", zap.Int64("cursor", latest))
	return nil
}

func (c *DecisionCycle) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// run carries what one cycle has gathered so far.
type run struct {
	id        string
	logger    *zap.Logger
	portfolio models.PortfolioState
	market    models.MarketOverview
	analysis  models.MarketAnalysis
	gate      risk.Assessment

	pendingPnl *float64 // realized P&L the store did not take
}

// Run executes one cycle. Every path that gets past fee claiming persists
// exactly one decision record. The returned error reports a cycle that ended
// without a usable decision or with a failed execution.
func (c *DecisionCycle) Run(ctx context.Context) (*Report, error) {
	r := &run{id: id.New()}
	r.logger = c.logger.With(zap.String("cycle_id", r.id))
	start := c.now()
	r.logger.Info("cycle starting")

	report, err := c.run(ctx, r)
	c.syncTradeResults(ctx, r)
	metrics.RecordCycle(string(report.Outcome))

	r.logger.Info("cycle finished",
		zap.String("outcome", string(report.Outcome)),
		zap.String("action", string(report.Decision.Action)),
		zap.Duration("elapsed", c.now().Sub(start)),
	)
	return report, err
}

func (c *DecisionCycle) run(ctx context.Context, r *run) (*Report, error) {
	report := &Report{CycleID: r.id}

	// 1-2 fee claim and distribution share one interval
	c.claimAndDistribute(ctx, r.logger)

	// 3
	c.compose(ctx, r)

	// 4
	hold := models.Hold("pre-decision risk gate")
	r.gate = c.deps.Risk.Assess(r.portfolio, hold)
	if !r.gate.Allowed {
		r.logger.Warn("risk gate blocked trading", zap.Strings("blocked_by", r.gate.BlockedBy))
		c.recordRiskEvents(ctx, r, r.gate, "pre", "BLOCK_CYCLE")
		report.Outcome = OutcomeRiskBlocked
		report.Decision = models.TradeDecision{Action: models.ActionHold, Reasoning: "Risk blocked: " + r.gate.Summary}
		c.persistDecision(ctx, r, report.Decision, r.gate, &models.TradeResult{Error: r.gate.Summary})
		return report, nil
	}

	// 5
	decision, err := c.decide(ctx, r)
	if err != nil {
		report.Outcome = OutcomeParseFailed
		if !errors.Is(err, models.ErrInvalidDecision) {
			report.Outcome = OutcomeGeneratorFailed
		}
		report.Decision = models.TradeDecision{Action: models.ActionHold, Reasoning: "No decision: " + err.Error()}
		c.persistDecision(ctx, r, report.Decision, r.gate, models.Failed(err))
		return report, err
	}
	report.Decision = decision
	r.logger.Info("decision received",
		zap.String("action", string(decision.Action)),
		zap.Float64("confidence", decision.Confidence),
	)

	// 6
	assessment := r.gate
	if decision.Action != models.ActionHold {
		assessment = c.deps.Risk.Assess(r.portfolio, decision)
		if !assessment.Allowed {
			r.logger.Warn("decision blocked by risk rules", zap.Strings("blocked_by", assessment.BlockedBy))
			c.recordRiskEvents(ctx, r, assessment, "post", "BLOCK_DECISION")
			report.Outcome = OutcomeDecisionBlocked
			blocked := decision
			blocked.Reasoning = fmt.Sprintf("Blocked by risk: %s. Original reasoning: %s", assessment.Summary, decision.Reasoning)
			c.persistDecision(ctx, r, blocked, assessment, &models.TradeResult{Error: assessment.Summary})
			return report, nil
		}
	}

	// 7
	res, err := c.execute(ctx, r, decision)
	report.Result = res

	// 8
	c.persistDecision(ctx, r, decision, assessment, res)
	if decision.Action == models.ActionHold {
		report.Outcome = OutcomeHold
		return report, nil
	}
	c.persistExecution(ctx, r, decision, res)
	if !res.Success {
		report.Outcome = OutcomeFailed
		if err == nil {
			err = errors.New(res.Error)
		}
		return report, fmt.Errorf("failed to execute %s: %w", decision.Action, err)
	}
	report.Outcome = OutcomeExecuted
	return report, nil
}

// compose gathers state. Providers hand back usable values even on error.
func (c *DecisionCycle) compose(ctx context.Context, r *run) {
	now := c.now()
	r.portfolio = models.EmptyPortfolio(c.cfg.Wallet, c.cfg.BaseSymbol, now)
	r.market = models.EmptyMarketOverview(now)
	r.analysis = models.DefaultMarketAnalysis(now, "market provider unavailable")

	if c.deps.Portfolio != nil {
		p, err := c.deps.Portfolio.PortfolioState(ctx)
		if err != nil {
			r.logger.Warn("portfolio degraded", zap.Error(err))
		}
		if !p.Timestamp.IsZero() {
			r.portfolio = p
		}
	}
	if c.deps.Market != nil {
		m, err := c.deps.Market.MarketOverview(ctx)
		if err != nil {
			r.logger.Warn("market overview degraded", zap.Error(err))
		}
		if m.Prices != nil {
			r.market = m
		}
		a, err := c.deps.Market.MarketAnalysis(ctx)
		if err != nil {
			r.logger.Warn("market analysis degraded", zap.Error(err))
		}
		if a.Sentiment != "" {
			r.analysis = a
		}
	}
	r.logger.Info("state composed",
		zap.Float64("total_value_usd", r.portfolio.TotalValueUSD),
		zap.Float64("base_balance", r.portfolio.BaseBalance),
		zap.Int("perp_positions", len(r.portfolio.PerpPositions)),
		zap.String("sentiment", string(r.analysis.Sentiment)),
	)
}

func (c *DecisionCycle) decide(ctx context.Context, r *run) (models.TradeDecision, error) {
	var recent []models.DecisionRecord
	if c.deps.Store != nil {
		var err error
		recent, err = c.deps.Store.RecentDecisions(ctx, ai.RecentDecisionLimit)
		if err != nil {
			r.logger.Warn("failed to load recent decisions", zap.Error(err))
		}
	}

	prompt := ai.BuildDecisionPrompt(ai.PromptInput{
		Portfolio: r.portfolio,
		Market:    r.market,
		Analysis:  r.analysis,
		Risk:      r.gate,
		Config:    c.deps.Risk.Config(),
		Recent:    recent,
	})
	resp, err := c.deps.Generator.Complete(ctx, ai.SystemPrompt, prompt)
	if err != nil {
		r.logger.Error("decision generator failed", zap.Error(err))
		return models.TradeDecision{}, fmt.Errorf("decision generator: %w", err)
	}
	decision, err := ai.ParseDecision(resp)
	if err != nil {
		r.logger.Error("rejected decision response", zap.Error(err), zap.String("response", ai.Truncate(resp, 500)))
		return models.TradeDecision{}, err
	}
	return decision, nil
}

// execute never returns a nil result; failures become unsuccessful results.
func (c *DecisionCycle) execute(ctx context.Context, r *run, decision models.TradeDecision) (*models.TradeResult, error) {
	if decision.Action == models.ActionHold {
		r.logger.Info("holding, no action taken")
		return &models.TradeResult{Success: true}, nil
	}

	res, err := c.deps.Backends.Execute(ctx, decision)
	if err != nil {
		r.logger.Error("execution failed", zap.String("action", string(decision.Action)), zap.Error(err))
		return models.Failed(err), err
	}
	if res == nil {
		err = errors.New("backend returned no result")
		return models.Failed(err), err
	}
	r.logger.Info("execution finished",
		zap.String("action", string(decision.Action)),
		zap.Bool("success", res.Success),
		zap.String("tx_ref", res.TxRef),
		zap.Bool("dry_run", res.DryRun),
		zap.String("error", res.Error),
	)
	return res, nil
}
