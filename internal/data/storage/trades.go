package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/songzhibin97/quantaguard/internal/models"
)

const tradeColumns = `id, COALESCE(cycle_id, ''), source, action, COALESCE(market, ''), COALESCE(side, ''),
               amount, price, pnl, COALESCE(tx_ref, ''), success, COALESCE(error, ''), dry_run, created_at`

// InsertTrade writes one trade row and sets rec.ID.
func (s *Storage) InsertTrade(ctx context.Context, rec *models.TradeRecord) error {
	rec.CreatedAt = s.timestamp(rec.CreatedAt)
	query := `
        INSERT INTO trades (
            cycle_id, source, action, market, side, amount, price, pnl,
            tx_ref, success, error, dry_run, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		rec.CycleID,
		string(rec.Source),
		string(rec.Action),
		rec.Market,
		rec.Side,
		rec.Amount,
		rec.Price,
		rec.Pnl,
		rec.TxRef,
		rec.Success,
		rec.Error,
		rec.DryRun,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	rec.ID = id
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row scanner) (models.TradeRecord, error) {
	var (
		rec            models.TradeRecord
		source, action string
	)
	err := row.Scan(
		&rec.ID,
		&rec.CycleID,
		&source,
		&action,
		&rec.Market,
		&rec.Side,
		&rec.Amount,
		&rec.Price,
		&rec.Pnl,
		&rec.TxRef,
		&rec.Success,
		&rec.Error,
		&rec.DryRun,
		&rec.CreatedAt,
	)
	rec.Source = models.TradeSource(source)
	rec.Action = models.TradeAction(action)
	return rec, err
}

// TradesAfter returns live trades with realized P&L whose id is greater than cursor, oldest first.
func (s *Storage) TradesAfter(ctx context.Context, cursor int64) ([]models.TradeRecord, error) {
	query := `
        SELECT ` + tradeColumns + `
        FROM trades
        WHERE id > ? AND pnl IS NOT NULL AND success = ? AND dry_run = ?
        ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), cursor, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []models.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return result, nil
}

// LatestTradeID returns the highest trade id, 0 when the table is empty.
func (s *Storage) LatestTradeID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM trades`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get latest trade id: %w", err)
	}
	return id, nil
}

// ConsecutiveLosses counts losing trades back from the newest successful live trade,
// stopping at the first trade that did not lose or has no realized P&L.
func (s *Storage) ConsecutiveLosses(ctx context.Context, lookback int) (int, error) {
	query := `
        SELECT pnl
        FROM trades
        WHERE success = ? AND dry_run = ?
        ORDER BY id DESC
        LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), true, false, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var pnl *float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, fmt.Errorf("failed to scan pnl: %w", err)
		}
		if pnl == nil || *pnl >= 0 {
			break
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return count, nil
}

// DailyPnl sums realized P&L of live trades since the given instant.
func (s *Storage) DailyPnl(ctx context.Context, since time.Time) (float64, error) {
	query := `
        SELECT COALESCE(SUM(pnl), 0)
        FROM trades
        WHERE pnl IS NOT NULL AND success = ? AND dry_run = ? AND created_at >= ?`

	var total float64
	if err := s.db.QueryRowContext(ctx, s.rebind(query), true, false, since.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum daily pnl: %w", err)
	}
	return total, nil
}
