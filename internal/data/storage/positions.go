package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/models"
)

const perpColumns = `id, position_id, market, side, size, leverage, entry_price, stop_loss_price,
               status, exit_price, realized_pnl, COALESCE(open_tx_ref, ''), COALESCE(close_tx_ref, ''),
               opened_at, closed_at`

func scanPerp(row scanner) (models.PerpPositionRecord, error) {
	var (
		rec          models.PerpPositionRecord
		side, status string
	)
	err := row.Scan(
		&rec.ID,
		&rec.PositionID,
		&rec.Market,
		&side,
		&rec.Size,
		&rec.Leverage,
		&rec.EntryPrice,
		&rec.StopLossPrice,
		&status,
		&rec.ExitPrice,
		&rec.RealizedPnl,
		&rec.OpenTxRef,
		&rec.CloseTxRef,
		&rec.OpenedAt,
		&rec.ClosedAt,
	)
	rec.Side = models.PositionSide(side)
	rec.Status = models.PositionStatus(status)
	return rec, err
}

// InsertPerpPosition records a newly opened leveraged position and sets rec.ID.
func (s *Storage) InsertPerpPosition(ctx context.Context, rec *models.PerpPositionRecord) error {
	rec.OpenedAt = s.timestamp(rec.OpenedAt)
	if rec.Status == "" {
		rec.Status = models.PositionOpen
	}
	query := `
        INSERT INTO perp_positions (
            position_id, market, side, size, leverage, entry_price,
            stop_loss_price, status, open_tx_ref, opened_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		rec.PositionID,
		rec.Market,
		string(rec.Side),
		rec.Size,
		rec.Leverage,
		rec.EntryPrice,
		rec.StopLossPrice,
		string(rec.Status),
		rec.OpenTxRef,
		rec.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save perp position: %w", err)
	}
	rec.ID = id
	return nil
}

// OpenPerpPosition returns the newest open record for positionID, or ErrNotFound.
func (s *Storage) OpenPerpPosition(ctx context.Context, positionID string) (*models.PerpPositionRecord, error) {
	query := `
        SELECT ` + perpColumns + `
        FROM perp_positions
        WHERE position_id = ? AND status = ?
        ORDER BY id DESC
        LIMIT 1`

	rec, err := scanPerp(s.db.QueryRowContext(ctx, s.rebind(query), positionID, string(models.PositionOpen)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("perp position %s: %w", positionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get perp position: %w", err)
	}
	return &rec, nil
}

// OpenPerpPositions lists every record still marked open.
func (s *Storage) OpenPerpPositions(ctx context.Context) ([]models.PerpPositionRecord, error) {
	query := `
        SELECT ` + perpColumns + `
        FROM perp_positions
        WHERE status = ?
        ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), string(models.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query perp positions: %w", err)
	}
	defer rows.Close()

	var result []models.PerpPositionRecord
	for rows.Next() {
		rec, err := scanPerp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan perp position: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating perp position rows: %w", err)
	}
	return result, nil
}

// ClosePerpPosition marks every open record for positionID as closed.
// It returns ErrNotFound when nothing was open.
func (s *Storage) ClosePerpPosition(ctx context.Context, positionID string, c models.PositionClose) error {
	if c.Status == "" {
		c.Status = models.PositionClosed
	}
	query := `
        UPDATE perp_positions
        SET status = ?, exit_price = ?, realized_pnl = ?, close_tx_ref = ?, closed_at = ?
        WHERE position_id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query),
		string(c.Status),
		c.ExitPrice,
		c.RealizedPnl,
		c.TxRef,
		s.timestamp(c.ClosedAt),
		positionID,
		string(models.PositionOpen),
	)
	if err != nil {
		return fmt.Errorf("failed to close perp position: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close perp position: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("perp position %s: %w", positionID, ErrNotFound)
	}
	return nil
}

// UpdateStopLoss sets the operator stop on the open record for positionID.
func (s *Storage) UpdateStopLoss(ctx context.Context, positionID string, price float64) error {
	query := `
        UPDATE perp_positions
        SET stop_loss_price = ?
        WHERE position_id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, s.rebind(query), price, positionID, string(models.PositionOpen))
	if err != nil {
		return fmt.Errorf("failed to update stop loss: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stop loss: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("perp position %s: %w", positionID, ErrNotFound)
	}
	return nil
}
