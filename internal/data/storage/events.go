package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// InsertRiskEvent records a triggered rule or a stop-loss.
func (s *Storage) InsertRiskEvent(ctx context.Context, ev *models.RiskEvent) error {
	ev.CreatedAt = s.timestamp(ev.CreatedAt)
	query := `
        INSERT INTO risk_events (
            cycle_id, rule_name, triggered, details, current_value, threshold, action, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		ev.CycleID,
		ev.RuleName,
		ev.Triggered,
		ev.Details,
		ev.CurrentValue,
		ev.Threshold,
		ev.Action,
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save risk event: %w", err)
	}
	ev.ID = id
	return nil
}

// RecentRiskEvents returns up to limit events, newest first.
func (s *Storage) RecentRiskEvents(ctx context.Context, limit int) ([]models.RiskEvent, error) {
	query := `
        SELECT id, COALESCE(cycle_id, ''), rule_name, triggered, COALESCE(details, ''),
               current_value, threshold, COALESCE(action, ''), created_at
        FROM risk_events
        ORDER BY id DESC
        LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk events: %w", err)
	}
	defer rows.Close()

	var result []models.RiskEvent
	for rows.Next() {
		var ev models.RiskEvent
		if err := rows.Scan(
			&ev.ID,
			&ev.CycleID,
			&ev.RuleName,
			&ev.Triggered,
			&ev.Details,
			&ev.CurrentValue,
			&ev.Threshold,
			&ev.Action,
			&ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk event: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk event rows: %w", err)
	}
	return result, nil
}

// InsertFeeClaim 记录手续费领取
func (s *Storage) InsertFeeClaim(ctx context.Context, fc *models.FeeClaim) error {
	fc.CreatedAt = s.timestamp(fc.CreatedAt)
	query := `
        INSERT INTO fee_claims (
            position_id, claimed_amount, forwarded_amount, tx_ref, forward_tx_ref, success, error, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		fc.PositionID,
		fc.ClaimedAmount,
		fc.ForwardedAmount,
		fc.TxRef,
		fc.ForwardTxRef,
		fc.Success,
		fc.Error,
		fc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save fee claim: %w", err)
	}
	fc.ID = id
	return nil
}

// InsertSnapshot stores a periodic portfolio snapshot.
func (s *Storage) InsertSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error {
	snap.CreatedAt = s.timestamp(snap.CreatedAt)
	query := `
        INSERT INTO portfolio_snapshots (
            total_value_usd, wallet_value_usd, perp_value_usd, lp_value_usd,
            base_balance, daily_pnl, daily_pnl_pct, state, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		snap.TotalValueUSD,
		snap.WalletValueUSD,
		snap.PerpValueUSD,
		snap.LPValueUSD,
		snap.BaseBalance,
		snap.DailyPnl,
		snap.DailyPnlPct,
		jsonText(snap.State),
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	snap.ID = id
	return nil
}

// DayOpeningValue returns the total value of the first snapshot taken at or after since.
// ok is false when no such snapshot exists.
func (s *Storage) DayOpeningValue(ctx context.Context, since time.Time) (value float64, ok bool, err error) {
	query := `
        SELECT total_value_usd
        FROM portfolio_snapshots
        WHERE created_at >= ?
        ORDER BY created_at ASC, id ASC
        LIMIT 1`

	err = s.db.QueryRowContext(ctx, s.rebind(query), since.UTC()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get day opening snapshot: %w", err)
	}
	return value, true, nil
}

// InsertDistribution stores a run and its recipients in one transaction and sets run.ID.
func (s *Storage) InsertDistribution(ctx context.Context, run *models.DistributionRun, recipients []models.DistributionRecipient) error {
	run.CreatedAt = s.timestamp(run.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, s.rebind(`
        INSERT INTO distributions (total_amount, recipient_count, success_count, dry_run, created_at)
        VALUES (?, ?, ?, ?, ?) RETURNING id`),
		run.TotalAmount, run.RecipientCount, run.SuccessCount, run.DryRun, run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to save distribution: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
        INSERT INTO distribution_recipients (distribution_id, wallet, holding, share, amount, tx_ref, success, error)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recipients {
		if _, err := stmt.ExecContext(ctx, run.ID, r.Wallet, r.Holding, r.Share, r.Amount, r.TxRef, r.Success, r.Error); err != nil {
			return fmt.Errorf("failed to save recipient %s: %w", r.Wallet, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit distribution: %w", err)
	}
	return nil
}
