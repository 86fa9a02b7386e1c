package risk

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// consecutiveLossLookback bounds how many trades are scanned when seeding the losing streak.
const consecutiveLossLookback = 20

// BasicRiskManager implements RiskManager. It is the only owner of the rolling Context.
type BasicRiskManager struct {
	engine *Engine
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	rc     Context
	last   *Assessment
	lastAt time.Time
}

type Option func(*BasicRiskManager)

// WithClock overrides the wall clock used for day rollover.
func WithClock(now func() time.Time) Option {
	return func(m *BasicRiskManager) { m.now = now }
}

// NewBasicRiskManager creates a manager with zeroed counters for today.
func NewBasicRiskManager(engine *Engine, logger *zap.Logger, opts ...Option) *BasicRiskManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &BasicRiskManager{
		engine: engine,
		logger: logger.Named("risk-manager"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.rc.Day = startOfDay(m.now())
	return m
}

func startOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// rolloverLocked resets daily P&L when the calendar day changed. Caller holds mu.
func (m *BasicRiskManager) rolloverLocked() {
	today := startOfDay(m.now())
	if today.Equal(m.rc.Day) {
		return
	}
	m.logger.Info("new trading day, resetting daily pnl",
		zap.Time("previous_day", m.rc.Day),
		zap.Float64("previous_daily_pnl", m.rc.DailyPnl),
	)
	m.rc.Day = today
	m.rc.DailyPnl = 0
	m.rc.DailyPnlPct = 0
}

// Assess implements RiskManager.
func (m *BasicRiskManager) Assess(portfolio models.PortfolioState, decision models.TradeDecision) Assessment {
	m.mu.Lock()
	m.rolloverLocked()
	rc := m.rc
	m.mu.Unlock()

	a := m.engine.Assess(portfolio, decision, rc)

	m.mu.Lock()
	m.last = &a
	m.lastAt = m.now()
	m.mu.Unlock()

	if !a.Allowed {
		m.logger.Warn("risk check blocked",
			zap.String("action", string(decision.Action)),
			zap.Strings("blocked_by", a.BlockedBy),
			zap.String("summary", a.Summary),
		)
	}
	return a
}

// RecordTradeResult implements RiskManager.
func (m *BasicRiskManager) RecordTradeResult(pnl, portfolioValue float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked()
	m.rc.DailyPnl += pnl
	if portfolioValue > 0 {
		m.rc.DailyPnlPct = m.rc.DailyPnl / portfolioValue
	} else {
		m.rc.DailyPnlPct = 0
	}
	if pnl < 0 {
		m.rc.ConsecutiveLosses++
	} else {
		m.rc.ConsecutiveLosses = 0
	}

	m.logger.Info("trade result recorded",
		zap.Float64("pnl", pnl),
		zap.Float64("daily_pnl", m.rc.DailyPnl),
		zap.Float64("daily_pnl_pct", m.rc.DailyPnlPct),
		zap.Int("consecutive_losses", m.rc.ConsecutiveLosses),
	)
}

// Snapshot implements RiskManager.
func (m *BasicRiskManager) Snapshot() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.rc
}

// LastAssessment returns the most recent assessment, if any.
func (m *BasicRiskManager) LastAssessment() (*Assessment, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, time.Time{}
	}
	a := *m.last
	return &a, m.lastAt
}

func (m *BasicRiskManager) Config() Config {
	return m.engine.Config()
}

func (m *BasicRiskManager) UpdateConfig(cfg Config) error {
	return m.engine.UpdateConfig(cfg)
}

// Seed loads today's realized P&L and the current losing streak from history.
// Failures are logged and leave the corresponding counter at zero.
func (m *BasicRiskManager) Seed(ctx context.Context, history TradeHistory, portfolioValue float64) {
	if history == nil {
		return
	}

	m.mu.Lock()
	m.rolloverLocked()
	day := m.rc.Day
	m.mu.Unlock()

	losses, lossErr := history.ConsecutiveLosses(ctx, consecutiveLossLookback)
	if lossErr != nil {
		m.logger.Warn("failed to seed consecutive losses", zap.Error(lossErr))
	}
	pnl, pnlErr := history.DailyPnl(ctx, day)
	if pnlErr != nil {
		m.logger.Warn("failed to seed daily pnl", zap.Error(pnlErr))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lossErr == nil {
		m.rc.ConsecutiveLosses = losses
	}
	if pnlErr == nil && m.rc.Day.Equal(day) {
		m.rc.DailyPnl = pnl
		if portfolioValue > 0 {
			m.rc.DailyPnlPct = pnl / portfolioValue
		}
	}
	m.logger.Info("risk context seeded",
		zap.Float64("daily_pnl", m.rc.DailyPnl),
		zap.Float64("daily_pnl_pct", m.rc.DailyPnlPct),
		zap.Int("consecutive_losses", m.rc.ConsecutiveLosses),
	)
}
