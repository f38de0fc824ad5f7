package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/david/opportunity-scout/internal/models"
)

// StartScanRun records the start of an orchestrator invocation.
func (s *Store) StartScanRun(ctx context.Context, agent string) (uuid.UUID, error) {
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO scan_runs (id, agent, status, started_at)
		VALUES ($1, $2, 'running', NOW())`, id, agent); err != nil {
		return uuid.Nil, fmt.Errorf("start scan run: %w", err)
	}
	return id, nil
}

// FinishScanRun closes the ledger row with final counts and the per-source
// breakdown.
func (s *Store) FinishScanRun(ctx context.Context, id uuid.UUID, status string, selected, inserted, failed int, details any) error {
	var detailsJSON []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal scan run details: %w", err)
		}
		detailsJSON = b
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE scan_runs
		SET status = $2, selected_count = $3, inserted = $4, failed = $5,
		    details = $6, completed_at = NOW()
		WHERE id = $1`, id, status, selected, inserted, failed, detailsJSON); err != nil {
		return fmt.Errorf("finish scan run: %w", err)
	}
	return nil
}

// ListScanRuns returns the most recent runs, optionally for one agent.
func (s *Store) ListScanRuns(ctx context.Context, agent string, limit int) ([]models.ScanRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, agent, status, selected_count, inserted, failed, started_at, completed_at, details
		FROM scan_runs`
	args := []any{}
	if agent != "" {
		query += " WHERE agent = $1 ORDER BY started_at DESC LIMIT $2"
		args = append(args, agent, limit)
	} else {
		query += " ORDER BY started_at DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scan runs: %w", err)
	}
	defer rows.Close()

	var runs []models.ScanRun
	for rows.Next() {
		var r models.ScanRun
		var details []byte
		if err := rows.Scan(&r.ID, &r.Agent, &r.Status, &r.SelectedCount, &r.Inserted, &r.Failed, &r.StartedAt, &r.CompletedAt, &details); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &r.Details)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
