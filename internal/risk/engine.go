package risk

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
)

const summaryAllPassed = "All risk checks passed"

// Engine runs every rule and aggregates the verdicts. A rule that errors or panics blocks.
type Engine struct {
	rules  []Rule
	logger *zap.Logger

	mu  sync.RWMutex
	cfg Config
}

func NewEngine(cfg Config, rules []Rule, logger *zap.Logger) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:  rules,
		logger: logger.Named("risk-engine"),
		cfg:    cfg,
	}
}

func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

func (e *Engine) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid risk config: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.logger.Info("risk config updated", zap.Any("config", cfg))
	return nil
}

// Assess evaluates all rules against the inputs. The same inputs always give the same Assessment.
func (e *Engine) Assess(portfolio models.PortfolioState, decision models.TradeDecision, rc Context) Assessment {
	cfg := e.Config()

	out := Assessment{
		Allowed: true,
		Results: make([]CheckResult, 0, len(e.rules)),
	}
	var reasons []string
	for _, rule := range e.rules {
		res := e.check(rule, portfolio, decision, cfg, rc)
		out.Results = append(out.Results, res)
		if res.Allowed {
			continue
		}
		out.Allowed = false
		out.BlockedBy = append(out.BlockedBy, res.RuleName)
		if res.Reason != "" {
			reasons = append(reasons, res.Reason)
		}
	}

	if out.Allowed {
		out.Summary = summaryAllPassed
	} else {
		out.Summary = fmt.Sprintf("Blocked by: %s. %s", strings.Join(out.BlockedBy, ", "), strings.Join(reasons, "; "))
	}
	return out
}

func (e *Engine) check(rule Rule, p models.PortfolioState, d models.TradeDecision, cfg Config, rc Context) (res CheckResult) {
	name := rule.Name()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("risk rule panicked", zap.String("rule", name), zap.Any("panic", r))
			res = CheckResult{Allowed: false, RuleName: name, Reason: fmt.Sprintf("Rule check error: %v", r)}
		}
	}()

	res, err := rule.Check(p, d, cfg, rc)
	if err != nil {
		e.logger.Error("risk rule failed", zap.String("rule", name), zap.Error(err))
		return CheckResult{Allowed: false, RuleName: name, Reason: fmt.Sprintf("Rule check error: %v", err)}
	}
	res.RuleName = name
	return res
}
