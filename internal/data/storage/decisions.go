package storage

import (
	"context"
	"fmt"

	"github.com/songzhibin97/quantaguard/internal/models"
)

// InsertDecision writes the per-cycle audit row and sets rec.ID.
func (s *Storage) InsertDecision(ctx context.Context, rec *models.DecisionRecord) error {
	rec.CreatedAt = s.timestamp(rec.CreatedAt)
	query := `
        INSERT INTO agent_decisions (
            cycle_id, action, confidence, reasoning, params, portfolio_state,
            market_state, risk_assessment, success, tx_ref, error, dry_run, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	id, err := s.insert(ctx, query,
		rec.CycleID,
		string(rec.Action),
		rec.Confidence,
		rec.Reasoning,
		jsonText(rec.Params),
		jsonText(rec.Portfolio),
		jsonText(rec.Market),
		jsonText(rec.Risk),
		rec.Success,
		rec.TxRef,
		rec.Error,
		rec.DryRun,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	rec.ID = id
	return nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *Storage) RecentDecisions(ctx context.Context, limit int) ([]models.DecisionRecord, error) {
	query := `
        SELECT id, cycle_id, action, confidence, COALESCE(reasoning, ''), params,
               success, COALESCE(tx_ref, ''), COALESCE(error, ''), dry_run, created_at
        FROM agent_decisions
        ORDER BY id DESC
        LIMIT ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var result []models.DecisionRecord
	for rows.Next() {
		var (
			rec    models.DecisionRecord
			action string
			params []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.CycleID,
			&action,
			&rec.Confidence,
			&rec.Reasoning,
			&params,
			&rec.Success,
			&rec.TxRef,
			&rec.Error,
			&rec.DryRun,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		rec.Action = models.TradeAction(action)
		rec.Params = params
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decision rows: %w", err)
	}
	return result, nil
}
