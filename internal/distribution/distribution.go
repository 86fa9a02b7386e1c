package distribution

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/songzhibin97/quantaguard/internal/models"
	"github.com/songzhibin97/quantaguard/internal/trading"
	"github.com/songzhibin97/quantaguard/internal/utils/retry"
)

const (
	DefaultDust       = 0.001
	DefaultBatchSize  = 18
	DefaultBatchDelay = 500 * time.Millisecond

	// amounts are truncated so the payouts never sum above the distributable balance
	amountPlaces = 8
)

type Config struct {
	Reserve    float64       `yaml:"reserve"` // kept in the wallet, base currency
	Dust       float64       `yaml:"dust"`
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	Blacklist  []string      `yaml:"blacklist"`
}

// Result is one completed distribution.
type Result struct {
	Run           models.DistributionRun
	Recipients    []models.DistributionRecipient
	BalanceBefore float64
}

// Distributor pays the ledger balance above the reserve out to token holders pro rata.
type Distributor struct {
	ledger    trading.Ledger
	holders   HolderSource
	cfg       Config
	blacklist map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDistributor(ledger trading.Ledger, holders HolderSource, cfg Config, logger *zap.Logger) *Distributor {
	if cfg.Dust <= 0 {
		cfg.Dust = DefaultDust
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, w := range cfg.Blacklist {
		if w = strings.TrimSpace(w); w != "" {
			blacklist[strings.ToLower(w)] = struct{}{}
		}
	}
	return &Distributor{
		ledger:    ledger,
		holders:   holders,
		cfg:       cfg,
		blacklist: blacklist,
		logger:    logger.Named("distribution"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Configured reports whether both a paying wallet and a holder source are wired.
func (d *Distributor) Configured() bool {
	return d != nil && d.ledger != nil && d.holders != nil
}

// Run performs one distribution. It returns nil when there is nothing to pay:
// balance at or below the reserve, no eligible holders, or every share below dust.
func (d *Distributor) Run(ctx context.Context) (*Result, error) {
	if !d.Configured() {
		return nil, nil
	}

	balance, err := retry.DoValue(ctx, retry.DefaultPolicy("distribution balance"), d.ledger.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to get distribution balance: %w", err)
	}
	distributable := decimal.NewFromFloat(balance).Sub(decimal.NewFromFloat(d.cfg.Reserve))
	if !distributable.IsPositive() {
		d.logger.Info("balance at or below reserve, nothing to distribute",
			zap.Float64("balance", balance),
			zap.Float64("reserve", d.cfg.Reserve),
		)
		return nil, nil
	}

	holders, err := retry.DoValue(ctx, retry.DefaultPolicy("holders"), d.holders.Holders)
	if err != nil {
		return nil, fmt.Errorf("failed to get holders: %w", err)
	}
	eligible := d.eligible(holders)
	if len(eligible) == 0 {
		d.logger.Warn("no eligible holders")
		return nil, nil
	}

	recipients := Shares(eligible, distributable, d.cfg.Dust)
	if len(recipients) == 0 {
		d.logger.Info("all shares below dust threshold", zap.Int("holders", len(eligible)))
		return nil, nil
	}

	d.logger.Info("starting distribution",
		zap.Float64("balance", balance),
		zap.String("distributable", distributable.String()),
		zap.Int("recipients", len(recipients)),
	)
	dryRun := d.pay(ctx, recipients)

	run := models.DistributionRun{
		RecipientCount: len(recipients),
		DryRun:         dryRun,
		CreatedAt:      d.now(),
	}
	total := decimal.Zero
	for _, r := range recipients {
		if r.Success {
			run.SuccessCount++
			total = total.Add(decimal.NewFromFloat(r.Amount))
		}
	}
	run.TotalAmount = total.InexactFloat64()

	d.logger.Info("distribution complete",
		zap.Float64("distributed", run.TotalAmount),
		zap.Int("sent", run.SuccessCount),
		zap.Int("failed", run.RecipientCount-run.SuccessCount),
		zap.Bool("dry_run", run.DryRun),
	)
	return &Result{Run: run, Recipients: recipients, BalanceBefore: balance}, nil
}

// pay sends transfers in batches and reports whether the ledger only simulated them.
// Transfers are never retried.
func (d *Distributor) pay(ctx context.Context, recipients []models.DistributionRecipient) (dryRun bool) {
	for start := 0; start < len(recipients); start += d.cfg.BatchSize {
		if start > 0 {
			if err := d.sleep(ctx, d.cfg.BatchDelay); err != nil {
				markFailed(recipients[start:], err)
				return dryRun
			}
		}
		end := start + d.cfg.BatchSize
		if end > len(recipients) {
			end = len(recipients)
		}

		for i := start; i < end; i++ {
			r := &recipients[i]
			res, err := d.ledger.Transfer(ctx, r.Wallet, r.Amount)
			switch {
			case err != nil:
				r.Error = err.Error()
			case res == nil || !res.Success:
				r.Error = "transfer rejected"
				if res != nil && res.Error != "" {
					r.Error = res.Error
				}
			default:
				r.Success = true
				r.TxRef = res.TxRef
				dryRun = dryRun || res.DryRun
			}
			if !r.Success {
				d.logger.Error("transfer failed", zap.String("to", r.Wallet), zap.Float64("amount", r.Amount), zap.String("error", r.Error))
			}
		}
		d.logger.Debug("batch sent", zap.Int("from", start), zap.Int("to", end))
	}
	return dryRun
}

func markFailed(rs []models.DistributionRecipient, err error) {
	for i := range rs {
		rs[i].Error = err.Error()
	}
}

// eligible drops blacklisted, malformed and empty holders and merges duplicates.
func (d *Distributor) eligible(holders []Holder) []Holder {
	merged := map[string]float64{}
	for _, h := range holders {
		if h.Balance <= 0 || !common.IsHexAddress(h.Wallet) {
			continue
		}
		addr := common.HexToAddress(h.Wallet)
		if _, banned := d.blacklist[strings.ToLower(addr.Hex())]; banned {
			continue
		}
		if addr == (common.Address{}) || strings.EqualFold(addr.Hex(), d.ledger.Address()) {
			continue
		}
		merged[addr.Hex()] += h.Balance
	}

	out := make([]Holder, 0, len(merged))
	for w, b := range merged {
		out = append(out, Holder{Wallet: w, Balance: b})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Balance != out[j].Balance {
			return out[i].Balance > out[j].Balance
		}
		return out[i].Wallet < out[j].Wallet
	})
	return out
}

// Shares splits distributable pro rata to holder balance and drops payouts below dust.
func Shares(holders []Holder, distributable decimal.Decimal, dust float64) []models.DistributionRecipient {
	total := decimal.Zero
	for _, h := range holders {
		total = total.Add(decimal.NewFromFloat(h.Balance))
	}
	if !total.IsPositive() || !distributable.IsPositive() {
		return nil
	}

	minAmount := decimal.NewFromFloat(dust)
	out := make([]models.DistributionRecipient, 0, len(holders))
	for _, h := range holders {
		share := decimal.NewFromFloat(h.Balance).Div(total)
		amount := distributable.Mul(share).Truncate(amountPlaces)
		if amount.LessThan(minAmount) {
			continue
		}
		out = append(out, models.DistributionRecipient{
			Wallet:  h.Wallet,
			Holding: h.Balance,
			Share:   share.InexactFloat64(),
			Amount:  amount.InexactFloat64(),
		})
	}
	return out
}
